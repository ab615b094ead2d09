package migrations

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rackoot/racky.app-sub002/internal/migration"
)

func init() {
	migration.Register(seedDefaultPlans{})
}

// planCodes are the built-in plan identifiers this migration owns.
var planCodes = []string{"free", "pro", "business"}

// seedDefaultPlans installs the built-in plan catalog. Seeding is an upsert
// keyed on the plan code, so re-running after a partial failure is safe and
// operator edits to other fields are overwritten back to the defaults.
type seedDefaultPlans struct{}

func (seedDefaultPlans) ID() string          { return "003_seed_default_plans" }
func (seedDefaultPlans) Description() string { return "Seed the built-in subscription plan catalog" }
func (seedDefaultPlans) Author() string      { return "billing@racky.app" }
func (seedDefaultPlans) CreatedAt() string   { return "2025-12-02" }

func (seedDefaultPlans) Up(ctx context.Context, mc *migration.Context) (*migration.Result, error) {
	plans := []any{
		bson.M{
			"code":           "free",
			"name":           "Free",
			"priceCents":     0,
			"maxWorkspaces":  1,
			"maxConnections": 2,
		},
		bson.M{
			"code":           "pro",
			"name":           "Pro",
			"priceCents":     2900,
			"maxWorkspaces":  5,
			"maxConnections": 25,
		},
		bson.M{
			"code":           "business",
			"name":           "Business",
			"priceCents":     9900,
			"maxWorkspaces":  25,
			"maxConnections": 250,
		},
	}

	return mc.Ops.InsertSeedData(ctx, "plans", plans, &migration.SeedOptions{
		Upsert:    true,
		UpsertKey: "code",
	}), nil
}

// Down removes the seeded catalog and clears dangling references in one
// atomic batch: a workspace must never point at a plan that no longer
// exists.
func (seedDefaultPlans) Down(ctx context.Context, mc *migration.Context) (*migration.Result, error) {
	ops := []migration.TransactionOp{
		func(txnCtx context.Context) (*migration.Result, error) {
			return mc.Ops.RemoveDocuments(txnCtx, "plans", bson.M{"code": bson.M{"$in": planCodes}}), nil
		},
		func(txnCtx context.Context) (*migration.Result, error) {
			return mc.Ops.RemoveField(txnCtx, "workspaces", "planCode", bson.M{"planCode": bson.M{"$in": planCodes}}), nil
		},
	}

	return mc.Ops.ExecuteInTransaction(ctx, ops), nil
}

func (seedDefaultPlans) Validate(ctx context.Context, mc *migration.Context) (bool, error) {
	count, err := mc.Ops.CountDocuments(ctx, "plans", bson.M{"code": bson.M{"$in": planCodes}})
	if err != nil {
		return false, err
	}
	return count == int64(len(planCodes)), nil
}
