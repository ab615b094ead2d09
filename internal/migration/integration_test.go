package migration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// testDatabase connects to the server named by MONGO_TEST_URI and hands back
// a throwaway database that is dropped on cleanup. Tests depending on it are
// skipped when no server is available.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	db := client.Database(fmt.Sprintf("racky_migrate_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	return db
}

func TestTrackerLifecycle(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	tracker := NewTracker(db, "migrations", "development", zap.NewNop())

	require.NoError(t, tracker.EnsureIndexes(ctx))
	// Idempotent.
	require.NoError(t, tracker.EnsureIndexes(ctx))

	require.NoError(t, tracker.RecordStart(ctx, "001_a", "first", "tester"))

	running, err := tracker.RunningCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), running)

	require.NoError(t, tracker.RecordComplete(ctx, "001_a", Ok(5, "", 120*time.Millisecond), ""))

	applied, err := tracker.AppliedIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_a"}, applied)

	// A re-run upserts the same record rather than creating a second one.
	require.NoError(t, tracker.RecordStart(ctx, "001_a", "first", "tester"))
	require.NoError(t, tracker.RecordComplete(ctx, "001_a", Ok(5, "", time.Millisecond), ""))
	records, err := tracker.AllRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// A failed attempt transitions to failed with the error preserved, and a
	// later success clears it.
	require.NoError(t, tracker.RecordStart(ctx, "002_b", "second", "tester"))
	require.NoError(t, tracker.RecordComplete(ctx, "002_b", Fail(errors.New("index build failed"), time.Millisecond), ""))

	failed, err := tracker.FailedRecords(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "002_b", failed[0].MigrationID)
	assert.Equal(t, "index build failed", failed[0].Error)

	require.NoError(t, tracker.RecordStart(ctx, "002_b", "second", "tester"))
	require.NoError(t, tracker.RecordComplete(ctx, "002_b", Ok(1, "", time.Millisecond), ""))
	failed, err = tracker.FailedRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, failed)

	pending, err := tracker.PendingIDs(ctx, []string{"001_a", "002_b", "003_c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"003_c"}, pending)

	last, err := tracker.LastApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, "002_b", last.MigrationID)

	require.NoError(t, tracker.RecordRollback(ctx, "002_b"))
	last, err = tracker.LastApplied(ctx)
	require.NoError(t, err)
	assert.Equal(t, "001_a", last.MigrationID)

	assert.ErrorIs(t, tracker.RecordRollback(ctx, "009_nope"), ErrRecordNotFound)

	summary, err := tracker.Status(ctx, []string{"001_a", "002_b", "003_c"})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 1, summary.Applied)
	assert.Equal(t, 2, summary.Pending)
	require.NotNil(t, summary.LastRecord)

	deleted, err := tracker.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = tracker.LastApplied(ctx)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestOperationsAddFieldIdempotent(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	ops := NewOperations(db, zap.NewNop())

	docs := []any{
		bson.M{"email": "a@racky.app"},
		bson.M{"email": "b@racky.app"},
		bson.M{"email": "c@racky.app", "timezone": "Europe/Madrid"},
	}
	_, err := db.Collection("users").InsertMany(ctx, docs)
	require.NoError(t, err)

	res := ops.AddField(ctx, "users", "timezone", "UTC", nil)
	require.True(t, res.Success)
	assert.Equal(t, int64(2), res.DocumentsAffected)

	// Already-set values are left alone on a re-run.
	res = ops.AddField(ctx, "users", "timezone", "UTC", nil)
	require.True(t, res.Success)
	assert.Equal(t, int64(0), res.DocumentsAffected)

	count, err := ops.CountDocuments(ctx, "users", bson.M{"timezone": "Europe/Madrid"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOperationsTransformFieldBestEffort(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	ops := NewOperations(db, zap.NewNop())

	docs := []any{
		bson.M{"name": "alpha"},
		bson.M{"name": "beta"},
		bson.M{"name": 42},
		bson.M{"name": "gamma"},
		bson.M{"name": "delta"},
	}
	_, err := db.Collection("workspaces").InsertMany(ctx, docs)
	require.NoError(t, err)

	res := ops.TransformField(ctx, "workspaces", "name", func(value any, doc bson.M) (any, error) {
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		return s + "-renamed", nil
	}, nil)

	require.True(t, res.Success)
	assert.Equal(t, int64(4), res.DocumentsAffected)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "expected string")

	count, err := ops.CountDocuments(ctx, "workspaces", bson.M{"name": "alpha-renamed"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOperationsSeedUpsert(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	ops := NewOperations(db, zap.NewNop())

	seed := []any{
		bson.M{"code": "free", "priceCents": 0},
		bson.M{"code": "pro", "priceCents": 2900},
	}

	res := ops.InsertSeedData(ctx, "plans", seed, &SeedOptions{Upsert: true, UpsertKey: "code"})
	require.True(t, res.Success)
	assert.Equal(t, int64(2), res.DocumentsAffected)

	// Re-seeding after an operator edit restores the defaults without
	// duplicating documents.
	_, err := db.Collection("plans").UpdateOne(ctx, bson.M{"code": "pro"}, bson.M{"$set": bson.M{"priceCents": 1}})
	require.NoError(t, err)

	res = ops.InsertSeedData(ctx, "plans", seed, &SeedOptions{Upsert: true, UpsertKey: "code"})
	require.True(t, res.Success)

	count, err := ops.CountDocuments(ctx, "plans", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = ops.CountDocuments(ctx, "plans", bson.M{"code": "pro", "priceCents": 2900})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOperationsIndexes(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()
	ops := NewOperations(db, zap.NewNop())

	res := ops.CreateIndex(ctx, "subscriptions", bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}},
		&IndexOptions{Name: "userId_status"})
	require.True(t, res.Success)
	assert.Contains(t, res.Message, "userId_status")

	res = ops.DropIndex(ctx, "subscriptions", "userId_status")
	assert.True(t, res.Success)
}

func TestExecuteInTransactionAtomicity(t *testing.T) {
	if os.Getenv("MONGO_TEST_TXN") == "" {
		t.Skip("MONGO_TEST_TXN not set (transactions need a replica set)")
	}
	db := testDatabase(t)
	ctx := context.Background()
	ops := NewOperations(db, zap.NewNop())

	_, err := db.Collection("plans").InsertOne(ctx, bson.M{"code": "free"})
	require.NoError(t, err)

	res := ops.ExecuteInTransaction(ctx, []TransactionOp{
		func(txnCtx context.Context) (*Result, error) {
			return ops.RemoveDocuments(txnCtx, "plans", bson.M{"code": "free"}), nil
		},
		func(txnCtx context.Context) (*Result, error) {
			return nil, errors.New("forced failure")
		},
	})
	require.True(t, res.Failed())

	// The first operation's delete must not have committed.
	count, err := ops.CountDocuments(ctx, "plans", bson.M{"code": "free"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunnerEndToEnd(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	tracker := NewTracker(db, "migrations", "development", zap.NewNop())
	lock := NewLockGuard(db, "migration_lock", time.Minute, zap.NewNop())
	mctx := &Context{
		DB:          db,
		Client:      db.Client(),
		Ops:         NewOperations(db, zap.NewNop()),
		Logger:      zap.NewNop(),
		Environment: "development",
	}

	_, err := db.Collection("users").InsertOne(ctx, bson.M{"email": "a@racky.app"})
	require.NoError(t, err)

	addTimezone := unit("001_add_timezone")
	addTimezone.upFn = func(ctx context.Context, mc *Context) (*Result, error) {
		return mc.Ops.AddField(ctx, "users", "timezone", "UTC", nil), nil
	}
	addIndex := unit("002_add_index")
	addIndex.upFn = func(ctx context.Context, mc *Context) (*Result, error) {
		return mc.Ops.CreateIndex(ctx, "users", bson.D{{Key: "email", Value: 1}}, &IndexOptions{Name: "email_asc"}), nil
	}

	r := NewRunner(tracker, &fakeSafety{}, lock, nil, mctx, nil, zap.NewNop())
	r.discover = func() []Migration { return []Migration{addTimezone, addIndex} }

	res := r.Run(ctx, RunOptions{})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, []string{"001_add_timezone", "002_add_index"}, res.Applied)

	summary, err := r.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Applied)
	assert.Equal(t, 0, summary.Pending)
	assert.Equal(t, 0, summary.Failed)

	count, err := mctx.Ops.CountDocuments(ctx, "users", bson.M{"timezone": "UTC"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A second invocation finds nothing pending.
	res = r.Run(ctx, RunOptions{})
	require.True(t, res.Success)
	assert.Empty(t, res.Applied)
}

func TestLockGuardMutualExclusion(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	first := NewLockGuard(db, "migration_lock", time.Minute, zap.NewNop())
	second := NewLockGuard(db, "migration_lock", time.Minute, zap.NewNop())

	require.NoError(t, first.Acquire(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), ErrLockHeld)

	require.NoError(t, first.Refresh(ctx))
	require.NoError(t, first.Release(ctx))

	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestLockGuardTakesOverExpiredLock(t *testing.T) {
	db := testDatabase(t)
	ctx := context.Background()

	stale := NewLockGuard(db, "migration_lock", 10*time.Millisecond, zap.NewNop())
	fresh := NewLockGuard(db, "migration_lock", time.Minute, zap.NewNop())

	require.NoError(t, stale.Acquire(ctx))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, fresh.Acquire(ctx))
	require.NoError(t, fresh.Release(ctx))
}
