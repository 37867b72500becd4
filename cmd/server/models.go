package main

import (
	"encoding/json"

	"github.com/quillmail/triage/rules"
)

// API Request and Response Models

// EvaluateRequest represents the request body for ad-hoc rule evaluation
type EvaluateRequest struct {
	UserID string      `json:"user_id" example:"user-123"`
	Email  rules.Email `json:"email"`
} // @name EvaluateRequest

// EvaluateResponse represents the response for rule evaluation
type EvaluateResponse struct {
	Result         rules.EvaluationResult `json:"result"`
	EvaluationTime string                 `json:"evaluation_time,omitempty" example:"1.2ms"`
} // @name EvaluateResponse

// TestRulesRequest represents the request body for previewing rule
// definitions against an email without saving them
type TestRulesRequest struct {
	Rules []json.RawMessage `json:"rules"`
	Email rules.Email       `json:"email"`
} // @name TestRulesRequest

// RecommendationRequest represents the request body for generating a
// recommendation for one processed email
type RecommendationRequest struct {
	UserID     string      `json:"user_id" example:"user-123"`
	EmailJobID string      `json:"email_job_id" example:"123e4567-e89b-12d3-a456-426614174000"`
	Email      rules.Email `json:"email"`
} // @name RecommendationRequest

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"invalid rule definition"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status" example:"healthy"`
	UsersLoaded int    `json:"usersLoaded" example:"3"`
} // @name HealthResponse
