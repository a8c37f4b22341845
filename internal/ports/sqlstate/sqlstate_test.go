package sqlstate

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/AgentsPilot/neuronforge-sub010/internal/ports"
)

func newTestStore(t *testing.T, driver Driver) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{
		db:      db,
		driver:  driver,
		logger:  log.New(os.Stdout, "[TEST] ", log.LstdFlags),
		closeCh: make(chan struct{}),
	}, mock
}

func TestLogStepExecutionPostgres(t *testing.T) {
	s, mock := newTestStore(t, DriverPostgres)
	mock.ExpectExec("INSERT INTO workflow_step_executions").
		WithArgs("exec1", "step1", "Fetch", "action", "running", sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.LogStepExecution(context.Background(), "exec1", "step1", "Fetch", "action", "running", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpdateStepExecutionMySQL(t *testing.T) {
	s, mock := newTestStore(t, DriverMySQL)
	mock.ExpectExec("UPDATE workflow_step_executions").
		WithArgs("completed", sqlmock.AnyArg(), "", sqlmock.AnyArg(), "exec1", "step1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpdateStepExecution(context.Background(), "exec1", "step1", "completed", map[string]interface{}{}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAppendFlushesOnBatchSize(t *testing.T) {
	s, mock := newTestStore(t, DriverPostgres)
	for i := 0; i < defaultBatchSize; i++ {
		mock.ExpectExec("INSERT INTO pilot_audit_trail").WillReturnResult(sqlmock.NewResult(1, 1))
	}

	ctx := context.Background()
	for i := 0; i < defaultBatchSize; i++ {
		if err := s.Append(ctx, ports.AuditEntry{Action: "step.completed", EntityType: "step"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expected batch flush once size threshold hit: %v", err)
	}
}

func TestAppendDoesNotFlushBelowBatchSize(t *testing.T) {
	s, mock := newTestStore(t, DriverPostgres)
	if err := s.Append(context.Background(), ports.AuditEntry{Action: "step.completed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.pending) != 1 {
		t.Errorf("expected 1 pending row before flush, got %d", len(s.pending))
	}
	_ = mock // no exec expectations set; a premature flush would fail ExpectationsWereMet on Close elsewhere
}
