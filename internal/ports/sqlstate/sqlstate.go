// Package sqlstate implements internal/ports' StateManager and AuditTrail
// against a SQL backend (Postgres via lib/pq or MySQL via
// go-sql-driver/mysql), chosen by the driver name passed to Open.
//
// Grounded on connectors/mysql/connector.go's connection-pool construction
// (DefaultMaxOpenConns/DefaultMaxIdleConns/DefaultConnMaxLifetime,
// getaxonflow-axonflow) and orchestrator/audit_logger.go's
// AuditLogger/BatchWriter/createAuditTables (batched queue + periodic
// flush ticker + table bootstrap), adapted from a single Postgres-only
// audit sink to a driver-agnostic StateManager/AuditTrail pair.
package sqlstate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/AgentsPilot/neuronforge-sub010/internal/ports"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultBatchSize       = 100
	defaultFlushInterval   = 10 * time.Second
)

// Driver identifies the SQL backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Store is a StateManager + AuditTrail backed by a SQL database, with
// audit writes batched through a background flush loop.
type Store struct {
	db     *sql.DB
	driver Driver
	logger *log.Logger

	mu      sync.Mutex
	pending []auditRow
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type auditRow struct {
	action, entityType, entityID, userID, resourceName, severity string
	details                                                      map[string]interface{}
	timestamp                                                    time.Time
}

// Open connects to a SQL database with driver and dsn, configures a pooled
// *sql.DB the way connectors/mysql.Connector does, and bootstraps the
// state/audit tables. Callers must call Close when done to flush pending
// audit rows.
func Open(ctx context.Context, driver Driver, dsn string) (*Store, error) {
	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	if err := bootstrapTables(ctx, db, driver); err != nil {
		return nil, fmt.Errorf("failed to bootstrap tables: %w", err)
	}

	s := &Store{
		db:      db,
		driver:  driver,
		logger:  log.New(os.Stdout, "[PILOT_ENGINE_SQLSTATE] ", log.LstdFlags),
		closeCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.periodicFlush()
	return s, nil
}

func bootstrapTables(ctx context.Context, db *sql.DB, driver Driver) error {
	jsonType := "JSONB"
	if driver == DriverMySQL {
		jsonType = "JSON"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflow_step_executions (
			execution_id VARCHAR(255) NOT NULL,
			step_id VARCHAR(255) NOT NULL,
			name VARCHAR(255),
			step_type VARCHAR(100),
			status VARCHAR(50) NOT NULL,
			metadata %s,
			error_message TEXT,
			updated_at TIMESTAMP,
			PRIMARY KEY (execution_id, step_id)
		)`, jsonType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pilot_audit_trail (
			id VARCHAR(255),
			action VARCHAR(255) NOT NULL,
			entity_type VARCHAR(255),
			entity_id VARCHAR(255),
			user_id VARCHAR(255),
			resource_name VARCHAR(255),
			details %s,
			severity VARCHAR(50),
			created_at TIMESTAMP
		)`, jsonType),
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// LogStepExecution implements ports.StateManager.
func (s *Store) LogStepExecution(ctx context.Context, executionID, stepID, name, stepType, status string, metadata map[string]interface{}) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.upsertQuery(), executionID, stepID, name, stepType, status, metaJSON, "", time.Now().UTC())
	return err
}

// UpdateStepExecution implements ports.StateManager.
func (s *Store) UpdateStepExecution(ctx context.Context, executionID, stepID, status string, metadata map[string]interface{}, errorMessage string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.updateQuery(), status, metaJSON, errorMessage, time.Now().UTC(), executionID, stepID)
	return err
}

func (s *Store) upsertQuery() string {
	if s.driver == DriverMySQL {
		return `INSERT INTO workflow_step_executions
			(execution_id, step_id, name, step_type, status, metadata, error_message, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status = VALUES(status), metadata = VALUES(metadata), updated_at = VALUES(updated_at)`
	}
	return `INSERT INTO workflow_step_executions
		(execution_id, step_id, name, step_type, status, metadata, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (execution_id, step_id) DO UPDATE SET
			status = EXCLUDED.status, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`
}

func (s *Store) updateQuery() string {
	if s.driver == DriverMySQL {
		return `UPDATE workflow_step_executions
			SET status = ?, metadata = ?, error_message = ?, updated_at = ?
			WHERE execution_id = ? AND step_id = ?`
	}
	return `UPDATE workflow_step_executions
		SET status = $1, metadata = $2, error_message = $3, updated_at = $4
		WHERE execution_id = $5 AND step_id = $6`
}

func (s *Store) insertAuditQuery() string {
	if s.driver == DriverMySQL {
		return `INSERT INTO pilot_audit_trail (action, entity_type, entity_id, user_id, resource_name, details, severity, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}
	return `INSERT INTO pilot_audit_trail (action, entity_type, entity_id, user_id, resource_name, details, severity, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
}

// Append implements ports.AuditTrail: the entry is queued and written by
// the background flush loop, or immediately if the pending batch is full.
func (s *Store) Append(ctx context.Context, entry ports.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	s.pending = append(s.pending, auditRow{
		action: entry.Action, entityType: entry.EntityType, entityID: entry.EntityID, userID: entry.UserID,
		resourceName: entry.ResourceName, severity: entry.Severity, details: entry.Details, timestamp: ts,
	})
	if len(s.pending) >= defaultBatchSize {
		s.flushLocked()
	}
	return nil
}

func (s *Store) periodicFlush() {
	defer s.wg.Done()
	ticker := time.NewTicker(defaultFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
		case <-s.closeCh:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
			return
		}
	}
}

func (s *Store) flushLocked() {
	if len(s.pending) == 0 {
		return
	}
	rows := s.pending
	s.pending = nil

	for _, r := range rows {
		detailsJSON, err := json.Marshal(r.details)
		if err != nil {
			s.logger.Printf("failed to marshal audit details: %v", err)
			continue
		}
		_, err = s.db.Exec(
			s.insertAuditQuery(),
			r.action, r.entityType, r.entityID, r.userID, r.resourceName, detailsJSON, r.severity, r.timestamp,
		)
		if err != nil {
			s.logger.Printf("failed to write audit row: %v", err)
		}
	}
}

// Close flushes pending audit rows and closes the underlying database
// connection.
func (s *Store) Close() error {
	close(s.closeCh)
	s.wg.Wait()
	return s.db.Close()
}
