// Package store persists job-queue snapshots. Every backend holds exactly one
// snapshot per queue name and replaces it atomically on each save.
package store

import (
	"context"
	"fmt"

	"github.com/bobarin/scenecast/internal/models"
)

const (
	KindFile     = "file"
	KindRedis    = "redis"
	KindPostgres = "postgres"
	KindSQLite   = "sqlite"
)

// Store is implemented by every snapshot backend.
type Store interface {
	Load(ctx context.Context) (*models.QueueSnapshot, error)
	Save(ctx context.Context, snap *models.QueueSnapshot) error
	Close() error
}

type Config struct {
	Kind         string // file, redis, postgres or sqlite
	Name         string // queue name, used as the row or key suffix
	SnapshotPath string
	RedisURL     string
	RedisKey     string
	DatabaseURL  string
	SQLitePath   string
}

// Open returns the backend selected by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Name == "" {
		cfg.Name = "video"
	}

	switch cfg.Kind {
	case "", KindFile:
		return NewFileStore(cfg.SnapshotPath)
	case KindRedis:
		key := cfg.RedisKey
		if key == "" {
			key = "scenecast:queue:" + cfg.Name
		}
		return NewRedisStore(ctx, cfg.RedisURL, key)
	case KindPostgres:
		return OpenPostgres(ctx, cfg.DatabaseURL, cfg.Name)
	case KindSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, cfg.Name)
	}
	return nil, fmt.Errorf("unknown queue store %q (want file, redis, postgres or sqlite)", cfg.Kind)
}
