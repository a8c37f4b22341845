// Package mongostate implements internal/ports' StateManager and
// AuditTrail against MongoDB, storing each step execution as an
// upserted document and each audit entry as a document appended to an
// ordinary (uncapped) collection.
//
// Grounded on connectors/mongodb/connector.go's client construction
// (mongo.Connect with SetRetryWrites/SetRetryReads/SetAppName,
// getaxonflow-axonflow), adapted from a generic query/execute connector to
// two purpose-built collections.
package mongostate

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AgentsPilot/neuronforge-sub010/internal/ports"
)

const (
	stepExecutionsCollection = "workflow_step_executions"
	auditTrailCollection     = "pilot_audit_trail"
	connectTimeout           = 10 * time.Second
)

// Store is a StateManager + AuditTrail backed by MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB at uri/dbName with retryable writes/reads
// enabled, the way connectors/mongodb.Connector does.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri).
		SetAppName("pilot-workflow-engine").
		SetRetryWrites(true).
		SetRetryReads(true)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{client: client, db: client.Database(dbName)}, nil
}

// LogStepExecution implements ports.StateManager.
func (s *Store) LogStepExecution(ctx context.Context, executionID, stepID, name, stepType, status string, metadata map[string]interface{}) error {
	coll := s.db.Collection(stepExecutionsCollection)
	filter := bson.M{"execution_id": executionID, "step_id": stepID}
	update := bson.M{"$set": bson.M{
		"execution_id": executionID,
		"step_id":      stepID,
		"name":         name,
		"step_type":    stepType,
		"status":       status,
		"metadata":     metadata,
		"updated_at":   time.Now().UTC(),
	}}
	_, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to log step execution: %w", err)
	}
	return nil
}

// UpdateStepExecution implements ports.StateManager.
func (s *Store) UpdateStepExecution(ctx context.Context, executionID, stepID, status string, metadata map[string]interface{}, errorMessage string) error {
	coll := s.db.Collection(stepExecutionsCollection)
	filter := bson.M{"execution_id": executionID, "step_id": stepID}
	update := bson.M{"$set": bson.M{
		"status":        status,
		"metadata":      metadata,
		"error_message": errorMessage,
		"updated_at":    time.Now().UTC(),
	}}
	_, err := coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update step execution: %w", err)
	}
	return nil
}

// Append implements ports.AuditTrail: inserts one immutable document per
// call (audit trails are append-only, so no batching is needed the way the
// SQL backend's flush loop provides).
func (s *Store) Append(ctx context.Context, entry ports.AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	doc := bson.M{
		"action":        entry.Action,
		"entity_type":   entry.EntityType,
		"entity_id":     entry.EntityID,
		"user_id":       entry.UserID,
		"resource_name": entry.ResourceName,
		"details":       entry.Details,
		"severity":      entry.Severity,
		"created_at":    ts,
	}
	_, err := s.db.Collection(auditTrailCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Close disconnects the underlying MongoDB client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
