package migrations

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rackoot/racky.app-sub002/internal/migration"
)

func init() {
	migration.Register(addSubscriptionIndexes{})
}

// addSubscriptionIndexes adds the indexes the billing queries depend on:
// one compound index for per-user status lookups and a unique index on the
// external provider subscription id.
type addSubscriptionIndexes struct{}

func (addSubscriptionIndexes) ID() string { return "002_add_subscription_indexes" }
func (addSubscriptionIndexes) Description() string {
	return "Add lookup indexes to the subscriptions collection"
}
func (addSubscriptionIndexes) Author() string    { return "platform@racky.app" }
func (addSubscriptionIndexes) CreatedAt() string { return "2025-11-18" }

func (addSubscriptionIndexes) Up(ctx context.Context, mc *migration.Context) (*migration.Result, error) {
	res := mc.Ops.CreateIndex(ctx, "subscriptions",
		bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}},
		&migration.IndexOptions{Name: "userId_status"},
	)
	if res.Failed() {
		return res, nil
	}

	return mc.Ops.CreateIndex(ctx, "subscriptions",
		bson.D{{Key: "providerSubscriptionId", Value: 1}},
		&migration.IndexOptions{Name: "providerSubscriptionId_unique", Unique: true, Sparse: true},
	), nil
}

func (addSubscriptionIndexes) Down(ctx context.Context, mc *migration.Context) (*migration.Result, error) {
	res := mc.Ops.DropIndex(ctx, "subscriptions", "providerSubscriptionId_unique")
	if res.Failed() {
		return res, nil
	}

	return mc.Ops.DropIndex(ctx, "subscriptions", "userId_status"), nil
}
