package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bobarin/scenecast/internal/models"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// SQLStore keeps one snapshot row per queue name in Postgres or an embedded SQLite file.
type SQLStore struct {
	db      *sql.DB
	dialect string
	name    string
}

// OpenPostgres connects with lib/pq and creates the snapshot table if needed.
func OpenPostgres(ctx context.Context, databaseURL, name string) (*SQLStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres queue store")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return newSQLStore(ctx, db, dialectPostgres, name)
}

// OpenSQLite opens (or creates) an embedded database file.
func OpenSQLite(ctx context.Context, path, name string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("SQLITE_PATH is required for the sqlite queue store")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection serializes writers inside this process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	return newSQLStore(ctx, db, dialectSQLite, name)
}

func newSQLStore(ctx context.Context, db *sql.DB, dialect, name string) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect, name: name}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	column := "TEXT"
	if s.dialect == dialectPostgres {
		column = "JSONB"
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS queue_snapshots (
			name       TEXT PRIMARY KEY,
			snapshot   %s NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`, column)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create queue_snapshots table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (*models.QueueSnapshot, error) {
	query := s.rebind(`SELECT snapshot FROM queue_snapshots WHERE name = $1`)

	var snap models.QueueSnapshot
	err := s.db.QueryRowContext(ctx, query, s.name).Scan(&snap)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLStore) Save(ctx context.Context, snap *models.QueueSnapshot) error {
	query := s.rebind(`
		INSERT INTO queue_snapshots (name, snapshot, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
	`)

	data, err := snap.Value()
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if s.dialect == dialectSQLite {
		// Stored as TEXT so the row stays readable from the sqlite3 shell.
		data = string(data.([]byte))
	}

	if _, err := s.db.ExecContext(ctx, query, s.name, data, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind turns $N placeholders into ? for sqlite.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectSQLite {
		return query
	}
	for i := 9; i >= 1; i-- {
		query = strings.ReplaceAll(query, "$"+strconv.Itoa(i), "?")
	}
	return query
}
