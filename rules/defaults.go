package rules

// DefaultRules returns the built-in rule set used when a user has not
// defined any rules. A fresh slice is returned on every call so callers can
// never mutate a shared default.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "Flag important emails",
			Description: "Flag emails classified as important",
			Conditions: Conditions{
				Categories:    []string{"important"},
				MinConfidence: 0.7,
			},
			Actions: []ActionTemplate{
				{
					Type:     ActionFlag,
					Priority: 9,
					Reason:   "High-priority email flagged for immediate attention",
				},
			},
			Priority: 9,
			Active:   true,
		},
		{
			Name:        "Archive promotional emails",
			Description: "Automatically archive promotional content",
			Conditions: Conditions{
				Categories:    []string{"promotional"},
				MinConfidence: 0.8,
			},
			Actions: []ActionTemplate{
				{
					Type:     ActionArchive,
					Priority: 8,
					Reason:   "Promotional content archived",
				},
				{
					Type:     ActionLabel,
					Label:    "Promotions",
					Priority: 7,
					Reason:   "Tagged for organization",
				},
			},
			Priority: 5,
			Active:   true,
		},
		{
			Name:        "Mark spam as read",
			Description: "Mark detected spam as read to declutter inbox",
			Conditions: Conditions{
				Categories:    []string{"spam"},
				MinConfidence: 0.85,
			},
			Actions: []ActionTemplate{
				{
					Type:     ActionRead,
					Priority: 9,
					Reason:   "Spam marked as read to reduce visual clutter",
				},
				{
					Type:     ActionSpam,
					Priority: 8,
					Reason:   "Report to spam service",
				},
			},
			Priority: 7,
			Active:   true,
		},
		{
			Name:        "Flag follow-up emails",
			Description: "Flag emails needing follow-up",
			Conditions: Conditions{
				Categories:    []string{"followup"},
				MinConfidence: 0.6,
			},
			Actions: []ActionTemplate{
				{
					Type:     ActionFlag,
					Priority: 9,
					Reason:   "Follow-up needed",
				},
				{
					Type:     ActionSnooze,
					Hours:    24,
					Priority: 8,
					Reason:   "Snooze for tomorrow",
				},
			},
			Priority: 8,
			Active:   true,
		},
		{
			Name:        "Draft replies for actionable emails",
			Description: "Suggest reply for actionable items",
			Conditions: Conditions{
				Categories:    []string{"actionable"},
				MinConfidence: 0.75,
			},
			Actions: []ActionTemplate{
				{
					Type:     ActionReplyDraft,
					Template: "Thank you for your email. I will review and respond shortly.",
					Priority: 7,
					Reason:   "Standard acknowledgment template",
				},
			},
			Priority: 6,
			Active:   true,
		},
	}
}
