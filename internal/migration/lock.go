package migration

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// lockDocID is the _id of the single lock document.
const lockDocID = "migration_runner"

// LockGuard provides real mutual exclusion between runner processes via a
// single lock document acquired with an atomic find-and-modify. The TTL
// guards against a crashed process leaving the lock held forever: an
// expired lock can be taken over.
type LockGuard struct {
	coll   *mongo.Collection
	owner  string
	ttl    time.Duration
	logger *zap.Logger
}

// NewLockGuard creates a lock guard over the named collection. The owner
// identity combines the hostname with a fresh UUID so two runners on one
// host stay distinguishable.
func NewLockGuard(db *mongo.Database, collection string, ttl time.Duration, logger *zap.Logger) *LockGuard {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}

	return &LockGuard{
		coll:   db.Collection(collection),
		owner:  fmt.Sprintf("%s-%s", hostname, uuid.NewString()),
		ttl:    ttl,
		logger: logger.With(zap.String("component", "lock")),
	}
}

// Owner returns this guard's owner identity.
func (l *LockGuard) Owner() string {
	return l.owner
}

// Acquire takes the lock, returning ErrLockHeld when another live process
// holds it. A lock whose expiry has passed is taken over.
func (l *LockGuard) Acquire(ctx context.Context) error {
	now := time.Now().UTC()

	filter := bson.M{
		"_id": lockDocID,
		"$or": bson.A{
			bson.M{"locked": false},
			bson.M{"expiresAt": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"locked":     true,
			"owner":      l.owner,
			"acquiredAt": now,
			"expiresAt":  now.Add(l.ttl),
		},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := l.coll.FindOneAndUpdate(ctx, filter, update, opts).Err()
	if err != nil {
		// The upsert collides on _id when a live lock exists.
		if mongo.IsDuplicateKeyError(err) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	l.logger.Info("migration lock acquired", zap.String("owner", l.owner))
	return nil
}

// Release frees the lock when this guard still owns it.
func (l *LockGuard) Release(ctx context.Context) error {
	res, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": lockDocID, "owner": l.owner},
		bson.M{"$set": bson.M{"locked": false}},
	)
	if err != nil {
		return fmt.Errorf("failed to release migration lock: %w", err)
	}
	if res.MatchedCount == 0 {
		l.logger.Warn("migration lock was not held by this process at release", zap.String("owner", l.owner))
		return nil
	}

	l.logger.Info("migration lock released", zap.String("owner", l.owner))
	return nil
}

// Refresh extends the lock expiry for long runs. Returns ErrLockHeld when
// ownership was lost in the meantime.
func (l *LockGuard) Refresh(ctx context.Context) error {
	res, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": lockDocID, "owner": l.owner, "locked": true},
		bson.M{"$set": bson.M{"expiresAt": time.Now().UTC().Add(l.ttl)}},
	)
	if err != nil {
		return fmt.Errorf("failed to refresh migration lock: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrLockHeld
	}
	return nil
}
