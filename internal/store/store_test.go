package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bobarin/scenecast/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSnapshot() *models.QueueSnapshot {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.QueueSnapshot{
		Queue: []models.VideoJob{
			{ID: "job-2", Type: models.JobTypeShort, Status: models.JobStatusPending, AddedAt: now},
		},
		History: []models.HistoryEntry{
			{VideoJob: models.VideoJob{ID: "job-1", Type: models.JobTypeLong, Status: models.JobStatusCompleted, AddedAt: now}, DurationMs: 1500},
		},
		Stats:       models.SnapshotStats{Processed: 1},
		LastUpdated: now,
	}
}

func assertSnapshot(t *testing.T, want, got *models.QueueSnapshot) {
	t.Helper()
	require.NotNil(t, got)
	require.Len(t, got.Queue, 1)
	require.Len(t, got.History, 1)
	assert.Equal(t, want.Queue[0].ID, got.Queue[0].ID)
	assert.Equal(t, want.History[0].ID, got.History[0].ID)
	assert.Equal(t, want.History[0].DurationMs, got.History[0].DurationMs)
	assert.Equal(t, want.Stats, got.Stats)
	assert.True(t, want.LastUpdated.Equal(got.LastUpdated))
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "queue.json")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap, "missing file loads as nil")

	want := sampleSnapshot()
	require.NoError(t, s.Save(context.Background(), want))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assertSnapshot(t, want, got)

	// Overwrite leaves no temp files behind.
	want.Stats.Failed = 2
	require.NoError(t, s.Save(context.Background(), want))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp-")
	}

	got, err = s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stats.Failed)
}

func TestFileStore_SingleWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	first, err := NewFileStore(path)
	require.NoError(t, err)

	_, err = NewFileStore(path)
	assert.Error(t, err)

	require.NoError(t, first.Close())
	second, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestFileStore_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	s, err := OpenSQLite(context.Background(), path, "video")
	require.NoError(t, err)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)

	want := sampleSnapshot()
	require.NoError(t, s.Save(context.Background(), want))
	want.Stats.Processed = 7
	require.NoError(t, s.Save(context.Background(), want))

	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assertSnapshot(t, want, got)
	require.NoError(t, s.Close())

	// Reopening sees the persisted row.
	reopened, err := OpenSQLite(context.Background(), path, "video")
	require.NoError(t, err)
	defer reopened.Close()
	got, err = reopened.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, got.Stats.Processed)

	// Other queue names are isolated.
	other, err := OpenSQLite(context.Background(), path, "other")
	require.NoError(t, err)
	defer other.Close()
	snap, err = other.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestRebind(t *testing.T) {
	s := &SQLStore{dialect: dialectSQLite}
	assert.Equal(t, "VALUES (?, ?, ?)", s.rebind("VALUES ($1, $2, $3)"))

	s.dialect = dialectPostgres
	assert.Equal(t, "VALUES ($1, $2)", s.rebind("VALUES ($1, $2)"))
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Config{Kind: "memcached"})
	assert.Error(t, err)
}

func TestOpen_DefaultsToFile(t *testing.T) {
	s, err := Open(context.Background(), Config{SnapshotPath: filepath.Join(t.TempDir(), "q.json")})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*FileStore)
	assert.True(t, ok)
}
