package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// Status is the lifecycle state of a tracking record. It is monotonic per
// run attempt: a completed record never reverts except through an explicit
// rollback.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Record is the persisted audit row tracking one migration's execution.
// At most one record exists per migration id; all writes are upserts keyed
// on migrationId.
type Record struct {
	MigrationID       string    `bson:"migrationId" json:"migration_id"`
	Description       string    `bson:"description" json:"description"`
	AppliedAt         time.Time `bson:"appliedAt" json:"applied_at"`
	Author            string    `bson:"author" json:"author"`
	Environment       string    `bson:"environment" json:"environment"`
	Status            Status    `bson:"status" json:"status"`
	ExecutionTimeMS   int64     `bson:"executionTime" json:"execution_time_ms"`
	DocumentsAffected int64     `bson:"documentsAffected" json:"documents_affected"`
	RollbackInfo      string    `bson:"rollbackInfo,omitempty" json:"rollback_info,omitempty"`
	Error             string    `bson:"error,omitempty" json:"error,omitempty"`
}

// StatusSummary is the read-only composition of tracker state and the
// discovered migration set.
type StatusSummary struct {
	Total      int     `json:"total"`
	Applied    int     `json:"applied"`
	Pending    int     `json:"pending"`
	Failed     int     `json:"failed"`
	LastRecord *Record `json:"last_record,omitempty"`
}

// Tracker exclusively owns Record persistence in the target database.
type Tracker struct {
	coll        *mongo.Collection
	environment string
	logger      *zap.Logger
}

// NewTracker creates a tracker over the named collection.
func NewTracker(db *mongo.Database, collection, environment string, logger *zap.Logger) *Tracker {
	return &Tracker{
		coll:        db.Collection(collection),
		environment: environment,
		logger:      logger.With(zap.String("component", "tracker")),
	}
}

// EnsureIndexes idempotently creates the tracking collection's indexes:
// unique on migrationId, secondary on appliedAt descending and on status.
func (t *Tracker) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "migrationId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("migrationId_unique"),
		},
		{
			Keys:    bson.D{{Key: "appliedAt", Value: -1}},
			Options: options.Index().SetName("appliedAt_desc"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status_asc"),
		},
	}

	if _, err := t.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to ensure tracker indexes: %w", err)
	}
	return nil
}

// RecordStart upserts a record with status=running and the current
// environment and time.
func (t *Tracker) RecordStart(ctx context.Context, id, description, author string) error {
	update := bson.M{
		"$set": bson.M{
			"description": description,
			"author":      author,
			"environment": t.environment,
			"status":      StatusRunning,
			"appliedAt":   time.Now().UTC(),
		},
		"$unset": bson.M{"error": ""},
	}

	_, err := t.coll.UpdateOne(ctx, bson.M{"migrationId": id}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record start of %s: %w", id, err)
	}

	t.logger.Info("migration started", zap.String("migration_id", id))
	return nil
}

// RecordComplete transitions the record to completed or failed based on the
// result, copying execution time, affected count and error.
func (t *Tracker) RecordComplete(ctx context.Context, id string, res *Result, rollbackInfo string) error {
	status := StatusCompleted
	if res.Failed() {
		status = StatusFailed
	}

	set := bson.M{
		"status":    status,
		"appliedAt": time.Now().UTC(),
	}
	unset := bson.M{}
	if res != nil {
		set["executionTime"] = res.ExecutionTime.Milliseconds()
		set["documentsAffected"] = res.DocumentsAffected
	}
	if msg := res.ErrorMessage(); msg != "" {
		set["error"] = msg
	} else {
		unset["error"] = ""
	}
	if rollbackInfo != "" {
		set["rollbackInfo"] = rollbackInfo
	}

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	_, err := t.coll.UpdateOne(ctx, bson.M{"migrationId": id}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to record completion of %s: %w", id, err)
	}

	t.logger.Info("migration recorded",
		zap.String("migration_id", id),
		zap.String("status", string(status)),
	)
	return nil
}

// RecordRollback transitions the record to rolled_back with a fresh
// timestamp.
func (t *Tracker) RecordRollback(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{
			"status":    StatusRolledBack,
			"appliedAt": time.Now().UTC(),
		},
	}

	res, err := t.coll.UpdateOne(ctx, bson.M{"migrationId": id}, update)
	if err != nil {
		return fmt.Errorf("failed to record rollback of %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("record rollback of %s: %w", id, ErrRecordNotFound)
	}

	t.logger.Info("migration rolled back", zap.String("migration_id", id))
	return nil
}

// AppliedIDs returns ids with status=completed, ascending by appliedAt.
// This defines "what has run" for sequencing purposes.
func (t *Tracker) AppliedIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "appliedAt", Value: 1}}).
		SetProjection(bson.M{"migrationId": 1})

	cursor, err := t.coll.Find(ctx, bson.M{"status": StatusCompleted}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var rec struct {
			MigrationID string `bson:"migrationId"`
		}
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode applied migration: %w", err)
		}
		ids = append(ids, rec.MigrationID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error reading applied migrations: %w", err)
	}

	return ids, nil
}

// PendingIDs returns allIDs minus the applied set, preserving order.
func (t *Tracker) PendingIDs(ctx context.Context, allIDs []string) ([]string, error) {
	applied, err := t.AppliedIDs(ctx)
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]struct{}, len(applied))
	for _, id := range applied {
		appliedSet[id] = struct{}{}
	}

	pending := make([]string, 0, len(allIDs))
	for _, id := range allIDs {
		if _, ok := appliedSet[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// FailedRecords returns records with status=failed.
func (t *Tracker) FailedRecords(ctx context.Context) ([]Record, error) {
	return t.findRecords(ctx, bson.M{"status": StatusFailed})
}

// AllRecords returns every record, most recent first.
func (t *Tracker) AllRecords(ctx context.Context) ([]Record, error) {
	return t.findRecords(ctx, bson.M{})
}

// RunningCount counts records with status=running. Used by the advisory
// concurrent-run safety check.
func (t *Tracker) RunningCount(ctx context.Context) (int64, error) {
	count, err := t.coll.CountDocuments(ctx, bson.M{"status": StatusRunning})
	if err != nil {
		return 0, fmt.Errorf("failed to count running migrations: %w", err)
	}
	return count, nil
}

// Status composes tracker state with the discovered migration ids into a
// summary with the most recent record.
func (t *Tracker) Status(ctx context.Context, allIDs []string) (*StatusSummary, error) {
	applied, err := t.AppliedIDs(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := t.FailedRecords(ctx)
	if err != nil {
		return nil, err
	}

	appliedSet := make(map[string]struct{}, len(applied))
	for _, id := range applied {
		appliedSet[id] = struct{}{}
	}
	pending := 0
	for _, id := range allIDs {
		if _, ok := appliedSet[id]; !ok {
			pending++
		}
	}

	summary := &StatusSummary{
		Total:   len(allIDs),
		Applied: len(applied),
		Pending: pending,
		Failed:  len(failed),
	}

	var last Record
	opts := options.FindOne().SetSort(bson.D{{Key: "appliedAt", Value: -1}})
	err = t.coll.FindOne(ctx, bson.M{}, opts).Decode(&last)
	switch {
	case err == nil:
		summary.LastRecord = &last
	case errors.Is(err, mongo.ErrNoDocuments):
		// Empty tracker is a valid state.
	default:
		return nil, fmt.Errorf("failed to read latest record: %w", err)
	}

	return summary, nil
}

// LastApplied returns the most recently applied (status=completed) record,
// or ErrRecordNotFound when nothing has been applied.
func (t *Tracker) LastApplied(ctx context.Context) (*Record, error) {
	var rec Record
	opts := options.FindOne().SetSort(bson.D{{Key: "appliedAt", Value: -1}})
	err := t.coll.FindOne(ctx, bson.M{"status": StatusCompleted}, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last applied migration: %w", err)
	}
	return &rec, nil
}

// Reset deletes every tracking record. Destructive; the CLI refuses it in
// production and requires explicit confirmation elsewhere.
func (t *Tracker) Reset(ctx context.Context) (int64, error) {
	res, err := t.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to reset migration records: %w", err)
	}

	t.logger.Warn("migration records reset", zap.Int64("deleted", res.DeletedCount))
	return res.DeletedCount, nil
}

func (t *Tracker) findRecords(ctx context.Context, filter bson.M) ([]Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "appliedAt", Value: -1}})

	cursor, err := t.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query migration records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []Record
	for cursor.Next(ctx) {
		var rec Record
		if err := cursor.Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode migration record: %w", err)
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error reading migration records: %w", err)
	}

	return records, nil
}
