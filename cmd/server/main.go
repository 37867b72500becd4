package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/quillmail/triage/executor"
	"github.com/quillmail/triage/internal/logger"
	"github.com/quillmail/triage/internal/metrics"
	"github.com/quillmail/triage/rules"
	"github.com/quillmail/triage/triage"
)

type Server struct {
	db      *sql.DB
	manager *triage.Manager
	service *triage.Service
	metrics *metrics.Collector
	router  *chi.Mux
}

type Config struct {
	DatabaseURL    string
	Port           string
	RedisURL       string
	SimulationMode bool
	CacheTTL       time.Duration
}

// ConfigFromEnv reads server configuration from the environment. A .env file
// in the working directory is loaded first if present.
func ConfigFromEnv() Config {
	_ = godotenv.Load()

	cfg := Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Port:           os.Getenv("PORT"),
		RedisURL:       os.Getenv("REDIS_URL"),
		SimulationMode: true,
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	// Simulation stays on unless explicitly disabled; either way no action
	// ever executes, the flag only changes how plans are labelled.
	if v := os.Getenv("SIMULATION_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SimulationMode = b
		}
	}
	if v := os.Getenv("RULES_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	return cfg
}

func NewServer(cfg Config) (*Server, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var manager *triage.Manager
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		manager = triage.NewManagerWithRedis(db, client, rules.CacheConfig{TTL: cfg.CacheTTL})
	} else {
		manager = triage.NewManager(db)
	}
	manager.SetLogger(logger.Logger)

	logger.Info("loading rule engines")
	if err := manager.LoadAllUsers(); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	logger.Info("rule engines loaded", "users", len(manager.ListUsers()))

	collector := metrics.NewCollector(nil)
	exec := executor.NewWithLogger(cfg.SimulationMode, logger.Logger)
	service := triage.NewService(
		manager,
		exec,
		triage.NewPostgresRecommendationStore(db),
		triage.NewPostgresPlanStore(db),
		collector,
		logger.Logger,
	)

	s := &Server{
		db:      db,
		manager: manager,
		service: service,
		metrics: collector,
	}

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Post("/api/v1/rules/test", s.handleTestRules)
	r.Get("/api/v1/actions/allowed", s.handleAllowedActions)

	// Recommendations and plans
	r.Route("/api/v1/recommendations", func(r chi.Router) {
		r.Post("/", s.handleGenerateRecommendation)

		r.Route("/{recommendationId}", func(r chi.Router) {
			r.Get("/", s.handleGetRecommendation)
			r.Post("/plan", s.handleCreatePlan)
			r.Get("/plan", s.handleGetPlan)
		})
	})

	// Per-user rule management
	r.Route("/api/v1/users/{userId}", func(r chi.Router) {
		r.Get("/recommendations", s.handleListRecommendations)

		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)
			r.Get("/{ruleId}", s.handleGetRule)
			r.Put("/{ruleId}", s.handleUpdateRule)
			r.Delete("/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"usersLoaded": len(s.manager.ListUsers()),
	})
}

// Ad-hoc evaluation handler: run a user's rules over an email without
// persisting anything.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required", nil)
		return
	}
	if req.Email.Classification == "" {
		respondError(w, http.StatusBadRequest, "email classification is required", nil)
		return
	}

	startTime := time.Now()
	result, err := s.service.Evaluate(req.UserID, req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Result:         result,
		EvaluationTime: time.Since(startTime).String(),
	})
}

// Rule preview handler: evaluate an email against throwaway rule
// definitions, never touching stored rules.
func (s *Server) handleTestRules(w http.ResponseWriter, r *http.Request) {
	var req TestRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if len(req.Rules) == 0 {
		respondError(w, http.StatusBadRequest, "rules are required", nil)
		return
	}
	if req.Email.Classification == "" {
		respondError(w, http.StatusBadRequest, "email classification is required", nil)
		return
	}

	defs := make([]rules.Rule, 0, len(req.Rules))
	for i, raw := range req.Rules {
		def, err := triage.ValidateRuleDefinition(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid rule at index %d", i), err)
			return
		}
		defs = append(defs, *def)
	}

	result := s.service.TestRules(defs, req.Email)
	respondJSON(w, http.StatusOK, EvaluateResponse{Result: result})
}

// Allowed actions handler: the executor's whitelist with field schemas.
func (s *Server) handleAllowedActions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"allowed_actions": executor.AllowedActionTypes(),
		"schemas":         executor.ActionSchemas(),
	})
}

// Recommendation handler: evaluate and persist, idempotent per email job.
func (s *Server) handleGenerateRecommendation(w http.ResponseWriter, r *http.Request) {
	var req RecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.UserID == "" || req.EmailJobID == "" {
		respondError(w, http.StatusBadRequest, "user_id and email_job_id are required", nil)
		return
	}

	rec, err := s.service.GenerateRecommendation(req.UserID, req.EmailJobID, req.Email)
	if errors.Is(err, triage.ErrUnclassified) {
		respondError(w, http.StatusBadRequest, "email classification is required", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate recommendation", err)
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	recommendationID := chi.URLParam(r, "recommendationId")

	rec, err := s.service.Recommendation(recommendationID)
	if errors.Is(err, triage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "recommendation not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get recommendation", err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	recs, err := s.service.RecommendationsForUser(userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list recommendations", err)
		return
	}
	if recs == nil {
		recs = []*triage.Recommendation{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"recommendations": recs,
	})
}

// Plan creation handler: build and persist the execution plan for a stored
// recommendation. The plan records decisions only; nothing is executed.
func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	recommendationID := chi.URLParam(r, "recommendationId")

	plan, err := s.service.PlanRecommendation(recommendationID)
	if errors.Is(err, triage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "recommendation not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create plan", err)
		return
	}

	respondJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	recommendationID := chi.URLParam(r, "recommendationId")

	plan, err := s.service.PlanForRecommendation(recommendationID)
	if errors.Is(err, triage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "plan not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get plan", err)
		return
	}

	respondJSON(w, http.StatusOK, plan)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	def, err := triage.ValidateRuleDefinition(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule definition", err)
		return
	}

	stored := &rules.StoredRule{
		ID:         uuid.New().String(),
		Definition: *def,
	}

	store := s.manager.RuleStoreFor(userID)
	if err := store.Add(stored); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create rule", err)
		return
	}

	if err := s.manager.ReloadUser(userID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload rules", err)
		return
	}

	respondJSON(w, http.StatusCreated, stored)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	store := s.manager.RuleStoreFor(userID)
	rulesList, err := store.ListActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if rulesList == nil {
		rulesList = []*rules.StoredRule{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"rules": rulesList,
	})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	store := s.manager.RuleStoreFor(userID)
	rule, err := store.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	def, err := triage.ValidateRuleDefinition(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid rule definition", err)
		return
	}

	stored := &rules.StoredRule{
		ID:         ruleID,
		Definition: *def,
	}

	store := s.manager.RuleStoreFor(userID)
	if err := store.Update(stored); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	if err := s.manager.ReloadUser(userID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload rules", err)
		return
	}

	respondJSON(w, http.StatusOK, stored)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	ruleID := chi.URLParam(r, "ruleId")

	store := s.manager.RuleStoreFor(userID)
	if err := store.Delete(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	if err := s.manager.ReloadUser(userID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to reload rules", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Helper functions
func readBody(r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	cfg := ConfigFromEnv()
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.db.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "simulation", cfg.SimulationMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("server stopped")
}
