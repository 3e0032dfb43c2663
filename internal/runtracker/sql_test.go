package runtracker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockTracker(t *testing.T) (*SQLTracker, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return &SQLTracker{db: db, driver: "postgres"}, mock
}

func TestSQLTrackerRecord(t *testing.T) {
	tracker, mock := newMockTracker(t)
	defer tracker.Close()

	run := Run{
		ID:         "run-1",
		SessionID:  "sess-1",
		TurnNumber: 1,
		Intent:     "calendar.create_event",
		Tier:       "fast",
		Status:     StatusCompleted,
		LatencyMs:  42,
		CreatedAt:  time.Now(),
	}

	mock.ExpectExec("INSERT INTO tool_runs").
		WithArgs(run.ID, run.SessionID, run.TurnNumber, run.Intent, run.Tier,
			string(run.Status), run.LatencyMs, sqlmock.AnyArg(), run.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := tracker.Record(context.Background(), run); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLTrackerList(t *testing.T) {
	tracker, mock := newMockTracker(t)
	defer tracker.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "session_id", "turn_number", "intent", "tier", "status", "latency_ms", "error_message", "created_at"}).
		AddRow("run-2", "sess-1", 2, "gmail.send", "quality", "completed", 120, nil, now)

	mock.ExpectQuery("SELECT id, session_id, turn_number, intent, tier, status, latency_ms, error_message, created_at").
		WithArgs("sess-1").
		WillReturnRows(rows)

	runs, err := tracker.List(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-2" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSQLTrackerPrune(t *testing.T) {
	tracker, mock := newMockTracker(t)
	defer tracker.Close()

	mock.ExpectExec("DELETE FROM tool_runs WHERE created_at").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	pruned, err := tracker.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("expected 3 pruned, got %d", pruned)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
