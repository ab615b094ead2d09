package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

// Config holds the connection settings for the target database.
type Config struct {
	// Connection URI
	URI string `yaml:"uri" json:"uri"`

	// Database name
	Database string `yaml:"database" json:"database"`

	// Server selection timeout
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
}

// DefaultConfig returns the default connection settings.
func DefaultConfig() Config {
	return Config{
		URI:            "mongodb://localhost:27017",
		ConnectTimeout: 10 * time.Second,
	}
}

// CollectionStats describes the size of one collection as reported by the
// server.
type CollectionStats struct {
	Name        string
	SizeBytes   int64
	Count       int64
	StorageSize int64
}

// Manager owns the client connection to the target database. It is shared
// read-write across all engine components within one run; no component holds
// it beyond the lifetime of an individual operation.
type Manager struct {
	client *mongo.Client
	db     *mongo.Database
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Connect establishes a client connection and verifies it with a ping.
func Connect(ctx context.Context, cfg Config, logger *zap.Logger) (*Manager, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("database URI is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	pingCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	m := &Manager{
		client: client,
		db:     client.Database(cfg.Database),
		config: cfg,
		logger: logger.With(zap.String("component", "database")),
	}

	m.logger.Info("database connected", zap.String("database", cfg.Database))
	return m, nil
}

// Client returns the underlying client.
func (m *Manager) Client() *mongo.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Database returns the target database handle.
func (m *Manager) Database() *mongo.Database {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// Ping checks database reachability.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("database manager is closed")
	}

	return m.client.Ping(ctx, readpref.Primary())
}

// ServerVersion returns the server version string from buildInfo.
func (m *Manager) ServerVersion(ctx context.Context) (string, error) {
	var info struct {
		Version string `bson:"version"`
	}
	if err := m.db.RunCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}}).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to read server build info: %w", err)
	}
	return info.Version, nil
}

// ListCollections returns the names of all collections in the target
// database.
func (m *Manager) ListCollections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

// Stats returns size statistics for one collection.
func (m *Manager) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	var out struct {
		Size        int64 `bson:"size"`
		Count       int64 `bson:"count"`
		StorageSize int64 `bson:"storageSize"`
	}
	cmd := bson.D{{Key: "collStats", Value: collection}}
	if err := m.db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", collection, err)
	}

	return &CollectionStats{
		Name:        collection,
		SizeBytes:   out.Size,
		Count:       out.Count,
		StorageSize: out.StorageSize,
	}, nil
}

// Close disconnects from the database. Safe to call more than once.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}

	m.logger.Info("database connection closed")
	return nil
}
