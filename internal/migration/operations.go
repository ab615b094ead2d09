package migration

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// Operations is the toolbox of document-mutation primitives migrations call.
// Every mutating primitive catches its own errors and returns a Result with
// Success=false rather than propagating them; callers inspect the result
// explicitly. Every Result carries elapsed time and a documents-affected
// count.
type Operations struct {
	db     *mongo.Database
	logger *zap.Logger
}

// NewOperations creates an operations toolbox bound to the target database.
func NewOperations(db *mongo.Database, logger *zap.Logger) *Operations {
	return &Operations{
		db:     db,
		logger: logger.With(zap.String("component", "operations")),
	}
}

// TransformFunc rewrites one field value. It receives the current value and
// the full document and returns the replacement value.
type TransformFunc func(value any, doc bson.M) (any, error)

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	Name   string
	Unique bool
	Sparse bool
}

// SeedOptions configures InsertSeedData.
type SeedOptions struct {
	// Upsert switches from plain bulk insert to per-document upserts.
	Upsert bool
	// UpsertKey is the field the upsert filter is keyed on.
	UpsertKey string
}

// CollectionOptions configures CreateCollection schema enforcement.
type CollectionOptions struct {
	Validator        any
	ValidationLevel  string
	ValidationAction string
}

// withFilter merges a caller-supplied filter with a required clause.
func withFilter(filter any, clause bson.M) any {
	if filter == nil {
		return clause
	}
	return bson.M{"$and": bson.A{filter, clause}}
}

// orEmpty substitutes an empty filter for nil.
func orEmpty(filter any) any {
	if filter == nil {
		return bson.M{}
	}
	return filter
}

// AddField sets field to defaultValue on matching documents, but only where
// the field does not already exist. Running it twice affects N documents the
// first time and 0 the second: idempotent by construction.
func (o *Operations) AddField(ctx context.Context, collection, field string, defaultValue any, filter any) *Result {
	start := time.Now()

	match := withFilter(filter, bson.M{field: bson.M{"$exists": false}})
	res, err := o.db.Collection(collection).UpdateMany(ctx, match, bson.M{"$set": bson.M{field: defaultValue}})
	if err != nil {
		return Fail(fmt.Errorf("failed to add field %s.%s: %w", collection, field, err), time.Since(start))
	}

	o.logger.Debug("field added",
		zap.String("collection", collection),
		zap.String("field", field),
		zap.Int64("modified", res.ModifiedCount),
	)
	return Ok(res.ModifiedCount, fmt.Sprintf("added field %q to %d documents in %s", field, res.ModifiedCount, collection), time.Since(start))
}

// RemoveField unsets field unconditionally on matching documents.
func (o *Operations) RemoveField(ctx context.Context, collection, field string, filter any) *Result {
	start := time.Now()

	res, err := o.db.Collection(collection).UpdateMany(ctx, orEmpty(filter), bson.M{"$unset": bson.M{field: ""}})
	if err != nil {
		return Fail(fmt.Errorf("failed to remove field %s.%s: %w", collection, field, err), time.Since(start))
	}

	return Ok(res.ModifiedCount, fmt.Sprintf("removed field %q from %d documents in %s", field, res.ModifiedCount, collection), time.Since(start))
}

// RenameField atomically renames a field on each matching document.
func (o *Operations) RenameField(ctx context.Context, collection, oldName, newName string, filter any) *Result {
	start := time.Now()

	res, err := o.db.Collection(collection).UpdateMany(ctx, orEmpty(filter), bson.M{"$rename": bson.M{oldName: newName}})
	if err != nil {
		return Fail(fmt.Errorf("failed to rename field %s.%s: %w", collection, oldName, err), time.Since(start))
	}

	return Ok(res.ModifiedCount, fmt.Sprintf("renamed %q to %q on %d documents in %s", oldName, newName, res.ModifiedCount, collection), time.Since(start))
}

// TransformField iterates documents where field exists, applies fn and
// writes the new value back. A per-document failure is logged as a warning,
// recorded in Result.Skipped and excluded from the affected count; the loop
// continues. Best-effort semantics, not all-or-nothing.
func (o *Operations) TransformField(ctx context.Context, collection, field string, fn TransformFunc, filter any) *Result {
	start := time.Now()
	coll := o.db.Collection(collection)

	match := withFilter(filter, bson.M{field: bson.M{"$exists": true}})
	cursor, err := coll.Find(ctx, match)
	if err != nil {
		return Fail(fmt.Errorf("failed to query %s for transform: %w", collection, err), time.Since(start))
	}
	defer cursor.Close(ctx)

	var affected int64
	var skipped []Skip

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return Fail(fmt.Errorf("failed to decode document in %s: %w", collection, err), time.Since(start))
		}

		docID := fmt.Sprintf("%v", doc["_id"])

		newValue, err := fn(doc[field], doc)
		if err != nil {
			o.logger.Warn("transform skipped document",
				zap.String("collection", collection),
				zap.String("field", field),
				zap.String("document_id", docID),
				zap.Error(err),
			)
			skipped = append(skipped, Skip{DocumentID: docID, Reason: err.Error()})
			continue
		}

		if _, err := coll.UpdateOne(ctx, bson.M{"_id": doc["_id"]}, bson.M{"$set": bson.M{field: newValue}}); err != nil {
			o.logger.Warn("transform write-back failed",
				zap.String("collection", collection),
				zap.String("document_id", docID),
				zap.Error(err),
			)
			skipped = append(skipped, Skip{DocumentID: docID, Reason: err.Error()})
			continue
		}
		affected++
	}
	if err := cursor.Err(); err != nil {
		return Fail(fmt.Errorf("cursor error while transforming %s: %w", collection, err), time.Since(start))
	}

	res := Ok(affected, fmt.Sprintf("transformed %q on %d documents in %s (%d skipped)", field, affected, collection, len(skipped)), time.Since(start))
	res.Skipped = skipped
	return res
}

// CreateIndex creates an index on collection. The resulting index name is
// returned in the Result message.
func (o *Operations) CreateIndex(ctx context.Context, collection string, keys any, opts *IndexOptions) *Result {
	start := time.Now()

	model := mongo.IndexModel{Keys: keys}
	if opts != nil {
		idx := options.Index()
		if opts.Name != "" {
			idx.SetName(opts.Name)
		}
		if opts.Unique {
			idx.SetUnique(true)
		}
		if opts.Sparse {
			idx.SetSparse(true)
		}
		model.Options = idx
	}

	name, err := o.db.Collection(collection).Indexes().CreateOne(ctx, model)
	if err != nil {
		return Fail(fmt.Errorf("failed to create index on %s: %w", collection, err), time.Since(start))
	}

	o.logger.Debug("index created", zap.String("collection", collection), zap.String("index", name))
	return Ok(0, name, time.Since(start))
}

// DropIndex drops the named index from collection.
func (o *Operations) DropIndex(ctx context.Context, collection, name string) *Result {
	start := time.Now()

	if err := o.db.Collection(collection).Indexes().DropOne(ctx, name); err != nil {
		return Fail(fmt.Errorf("failed to drop index %s on %s: %w", name, collection, err), time.Since(start))
	}

	return Ok(0, fmt.Sprintf("dropped index %q on %s", name, collection), time.Since(start))
}

// InsertSeedData inserts documents into collection. With SeedOptions.Upsert
// set, each document is upserted keyed on SeedOptions.UpsertKey instead, and
// only inserted-or-modified documents are counted.
func (o *Operations) InsertSeedData(ctx context.Context, collection string, documents []any, opts *SeedOptions) *Result {
	start := time.Now()
	coll := o.db.Collection(collection)

	if len(documents) == 0 {
		return Ok(0, "no seed documents supplied", time.Since(start))
	}

	if opts == nil || !opts.Upsert {
		res, err := coll.InsertMany(ctx, documents)
		if err != nil {
			return Fail(fmt.Errorf("failed to insert seed data into %s: %w", collection, err), time.Since(start))
		}
		return Ok(int64(len(res.InsertedIDs)), fmt.Sprintf("inserted %d seed documents into %s", len(res.InsertedIDs), collection), time.Since(start))
	}

	if opts.UpsertKey == "" {
		return Fail(fmt.Errorf("upsert seeding requires an upsert key"), time.Since(start))
	}

	var affected int64
	for _, raw := range documents {
		doc, err := toDocument(raw)
		if err != nil {
			return Fail(fmt.Errorf("failed to convert seed document for %s: %w", collection, err), time.Since(start))
		}

		keyValue, ok := doc[opts.UpsertKey]
		if !ok {
			return Fail(fmt.Errorf("seed document for %s is missing upsert key %q", collection, opts.UpsertKey), time.Since(start))
		}

		res, err := coll.UpdateOne(ctx,
			bson.M{opts.UpsertKey: keyValue},
			bson.M{"$set": doc},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return Fail(fmt.Errorf("failed to upsert seed document into %s: %w", collection, err), time.Since(start))
		}
		affected += res.UpsertedCount + res.ModifiedCount
	}

	return Ok(affected, fmt.Sprintf("upserted %d seed documents into %s", affected, collection), time.Since(start))
}

// RemoveDocuments bulk-deletes matching documents and reports the deleted
// count.
func (o *Operations) RemoveDocuments(ctx context.Context, collection string, filter any) *Result {
	start := time.Now()

	res, err := o.db.Collection(collection).DeleteMany(ctx, orEmpty(filter))
	if err != nil {
		return Fail(fmt.Errorf("failed to remove documents from %s: %w", collection, err), time.Since(start))
	}

	return Ok(res.DeletedCount, fmt.Sprintf("removed %d documents from %s", res.DeletedCount, collection), time.Since(start))
}

// CreateCollection creates a collection, optionally with server-side schema
// validation.
func (o *Operations) CreateCollection(ctx context.Context, name string, opts *CollectionOptions) *Result {
	start := time.Now()

	var createOpts *options.CreateCollectionOptionsBuilder
	if opts != nil {
		createOpts = options.CreateCollection()
		if opts.Validator != nil {
			createOpts.SetValidator(opts.Validator)
		}
		if opts.ValidationLevel != "" {
			createOpts.SetValidationLevel(opts.ValidationLevel)
		}
		if opts.ValidationAction != "" {
			createOpts.SetValidationAction(opts.ValidationAction)
		}
	}

	var err error
	if createOpts != nil {
		err = o.db.CreateCollection(ctx, name, createOpts)
	} else {
		err = o.db.CreateCollection(ctx, name)
	}
	if err != nil {
		return Fail(fmt.Errorf("failed to create collection %s: %w", name, err), time.Since(start))
	}

	return Ok(0, fmt.Sprintf("created collection %s", name), time.Since(start))
}

// DropCollection drops a collection.
func (o *Operations) DropCollection(ctx context.Context, name string) *Result {
	start := time.Now()

	if err := o.db.Collection(name).Drop(ctx); err != nil {
		return Fail(fmt.Errorf("failed to drop collection %s: %w", name, err), time.Since(start))
	}

	return Ok(0, fmt.Sprintf("dropped collection %s", name), time.Since(start))
}

// CountDocuments counts documents matching filter. Read-only helper for
// migrations that inspect data before transforming it.
func (o *Operations) CountDocuments(ctx context.Context, collection string, filter any) (int64, error) {
	count, err := o.db.Collection(collection).CountDocuments(ctx, orEmpty(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count documents in %s: %w", collection, err)
	}
	return count, nil
}

// GetSampleDocuments returns up to limit documents matching filter.
// Read-only helper.
func (o *Operations) GetSampleDocuments(ctx context.Context, collection string, filter any, limit int64) ([]bson.M, error) {
	if limit <= 0 {
		limit = 5
	}

	cursor, err := o.db.Collection(collection).Find(ctx, orEmpty(filter), options.Find().SetLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to sample documents from %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode sample document from %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error while sampling %s: %w", collection, err)
	}

	return docs, nil
}

// toDocument converts an arbitrary seed value into a bson.M so the upsert
// key can be read.
func toDocument(v any) (bson.M, error) {
	if doc, ok := v.(bson.M); ok {
		return doc, nil
	}

	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}

	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
