//go:build integration
// +build integration

package triage_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quillmail/triage/executor"
	"github.com/quillmail/triage/rules"
	"github.com/quillmail/triage/triage"

	_ "github.com/lib/pq"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "triage_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=triage_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	dir := filepath.Join("..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read migrations directory: %v", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if len(name) > 7 && name[len(name)-7:] == ".up.sql" {
			files = append(files, name)
		}
	}
	sort.Strings(files)
	for _, name := range files {
		migrationSQL, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Failed to read migration %s: %v", name, err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			t.Fatalf("Failed to run migration %s: %v", name, err)
		}
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}
	return db, cleanup
}

func testRecommendation(userID, emailJobID string) *triage.Recommendation {
	return &triage.Recommendation{
		ID:         uuid.New().String(),
		UserID:     userID,
		EmailJobID: emailJobID,
		RuleNames:  []string{"Flag important emails", "Flag urgent, internal"},
		Actions: []rules.Action{
			{Type: rules.ActionFlag, Description: "Flag email for follow-up", Priority: 9},
		},
		SafetyFlags:     []string{"bulk_action"},
		ConfidenceScore: 85,
		Reasoning:       "Email classified as 'important' with 85% confidence.",
		Status:          "generated",
		CreatedAt:       time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestPostgresRecommendationStoreRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := triage.NewPostgresRecommendationStore(db)
	rec := testRecommendation("user-1", "job-1")

	if err := store.Save(rec); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := store.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}

	// Names survive the JSONB column intact, commas included.
	if !reflect.DeepEqual(got.RuleNames, rec.RuleNames) {
		t.Errorf("RuleNames = %v, want %v", got.RuleNames, rec.RuleNames)
	}
	if len(got.Actions) != 1 || got.Actions[0].Type != rules.ActionFlag {
		t.Errorf("Actions = %+v", got.Actions)
	}
	if got.ConfidenceScore != 85 || got.Status != "generated" {
		t.Errorf("scalar fields = %d/%q", got.ConfidenceScore, got.Status)
	}

	byJob, err := store.GetByEmailJob("user-1", "job-1")
	if err != nil {
		t.Fatalf("GetByEmailJob() failed: %v", err)
	}
	if byJob.ID != rec.ID {
		t.Error("GetByEmailJob() should find the saved record")
	}

	if _, err := store.Get(uuid.New().String()); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestPostgresRecommendationStoreUniquePerEmailJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := triage.NewPostgresRecommendationStore(db)

	if err := store.Save(testRecommendation("user-1", "job-1")); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	if err := store.Save(testRecommendation("user-1", "job-1")); err == nil {
		t.Error("second Save() for the same email job should violate uniqueness")
	}
	// Same job under a different user is fine.
	if err := store.Save(testRecommendation("user-2", "job-1")); err != nil {
		t.Errorf("Save() for a different user failed: %v", err)
	}
}

func TestPostgresPlanStoreRoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	recStore := triage.NewPostgresRecommendationStore(db)
	planStore := triage.NewPostgresPlanStore(db)

	rec := testRecommendation("user-1", "job-1")
	if err := recStore.Save(rec); err != nil {
		t.Fatalf("Save() recommendation failed: %v", err)
	}

	x := executor.New(true)
	plan := x.PlanExecution(executor.Recommendation{
		ID:              rec.ID,
		UserID:          rec.UserID,
		EmailJobID:      rec.EmailJobID,
		RuleNames:       rec.RuleNames,
		ConfidenceScore: rec.ConfidenceScore,
	}, []rules.Action{
		{Type: rules.ActionFlag, Priority: 9},
		{Type: "delete_forever"},
	})

	if err := planStore.Save(plan); err != nil {
		t.Fatalf("Save() plan failed: %v", err)
	}

	got, err := planStore.GetByRecommendation(rec.ID)
	if err != nil {
		t.Fatalf("GetByRecommendation() failed: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("plan round trip lost steps: %d", len(got.Steps))
	}
	if got.Steps[0].Decision != executor.DecisionApproved ||
		got.Steps[1].Decision != executor.DecisionBlocked {
		t.Errorf("decisions = %s/%s", got.Steps[0].Decision, got.Steps[1].Decision)
	}
	if !got.Simulated || got.Status != executor.StatusSimulated {
		t.Errorf("simulation fields = %v/%s", got.Simulated, got.Status)
	}

	if _, err := planStore.GetByRecommendation(uuid.New().String()); !errors.Is(err, triage.ErrNotFound) {
		t.Errorf("missing plan error = %v, want ErrNotFound", err)
	}
}

func TestServiceAgainstPostgres(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	manager := triage.NewManager(db)
	svc := triage.NewService(
		manager,
		executor.New(true),
		triage.NewPostgresRecommendationStore(db),
		triage.NewPostgresPlanStore(db),
		nil,
		nil,
	)

	email := rules.Email{
		Classification: "important",
		Confidence:     0.9,
		Sender:         "boss@company.com",
		Subject:        "Quarterly review",
	}

	rec, err := svc.GenerateRecommendation("user-1", "job-1", email)
	if err != nil {
		t.Fatalf("GenerateRecommendation() failed: %v", err)
	}

	// Idempotency through the database path.
	again, err := svc.GenerateRecommendation("user-1", "job-1", email)
	if err != nil {
		t.Fatalf("repeat GenerateRecommendation() failed: %v", err)
	}
	if again.ID != rec.ID {
		t.Error("repeat submission should return the stored recommendation")
	}

	plan, err := svc.PlanRecommendation(rec.ID)
	if err != nil {
		t.Fatalf("PlanRecommendation() failed: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Decision != executor.DecisionApproved {
		t.Errorf("plan steps = %+v", plan.Steps)
	}
}
