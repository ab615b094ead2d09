package migrations

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rackoot/racky.app-sub002/internal/migration"
)

func init() {
	migration.Register(addUserTimezone{})
}

// addUserTimezone backfills a timezone on user documents created before the
// field existed. New documents get it from the application layer.
type addUserTimezone struct{}

func (addUserTimezone) ID() string          { return "001_add_user_timezone" }
func (addUserTimezone) Description() string { return "Add default timezone to user documents" }
func (addUserTimezone) Author() string      { return "platform@racky.app" }
func (addUserTimezone) CreatedAt() string   { return "2025-11-04" }

func (addUserTimezone) Up(ctx context.Context, mc *migration.Context) (*migration.Result, error) {
	return mc.Ops.AddField(ctx, "users", "timezone", "UTC", nil), nil
}

func (addUserTimezone) Down(ctx context.Context, mc *migration.Context) (*migration.Result, error) {
	return mc.Ops.RemoveField(ctx, "users", "timezone", nil), nil
}

func (addUserTimezone) Validate(ctx context.Context, mc *migration.Context) (bool, error) {
	missing, err := mc.Ops.CountDocuments(ctx, "users", bson.M{"timezone": bson.M{"$exists": false}})
	if err != nil {
		return false, err
	}
	return missing == 0, nil
}
