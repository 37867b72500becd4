package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

// TestCollectorRecordsAndServes verifies counters accumulate and appear on
// the metrics endpoint.
func TestCollectorRecordsAndServes(t *testing.T) {
	c := NewCollector(nil)

	c.RecordEvaluation(2)
	c.RecordEvaluation(0)
	c.RecordRecommendation()
	c.RecordPlan([]string{"approved", "approved", "blocked"})

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"quillmail_triage_evaluations_total 2",
		"quillmail_triage_rules_matched_total 2",
		"quillmail_triage_recommendations_total 1",
		"quillmail_triage_plans_total 1",
		`quillmail_triage_plan_steps_total{decision="approved"} 2`,
		`quillmail_triage_plan_steps_total{decision="blocked"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

// TestCollectorIsolatedRegistries verifies two collectors do not share
// counters.
func TestCollectorIsolatedRegistries(t *testing.T) {
	a := NewCollector(nil)
	b := NewCollector(nil)

	a.RecordRecommendation()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)

	if strings.Contains(rec.Body.String(), "recommendations_total 1") {
		t.Error("collectors should not share a registry")
	}
}
