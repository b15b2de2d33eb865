package builderstub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProject(id string, created time.Time) Project {
	return Project{
		ID:          id,
		AppType:     "notes",
		PackageName: "com.rahl.a.notes.app",
		Features:    []string{"dark_mode"},
		Description: "a notes app with dark mode",
		CreatedAt:   created,
		UpdatedAt:   created,
		Status:      StatusBuilding,
		Progress:    10,
	}
}

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	older := sampleProject("aaaa1111", base)
	newer := sampleProject("bbbb2222", base.Add(time.Minute))
	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	older.Status = StatusCompleted
	older.Progress = 100
	older.ApkReady = true
	older.ApkSize = 42
	require.NoError(t, store.Save(ctx, older))

	got, err := store.Get(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.ApkReady)
	assert.EqualValues(t, 42, got.ApkSize)
	assert.Equal(t, []string{"dark_mode"}, got.Features)
	assert.True(t, older.CreatedAt.Equal(got.CreatedAt))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestMemStore(t *testing.T) {
	store := NewMemStore()
	defer store.Close()
	exerciseStore(t, store)
}

func TestMemStoreCopiesFeatures(t *testing.T) {
	store := NewMemStore()
	p := sampleProject("cccc3333", time.Now())
	require.NoError(t, store.Save(context.Background(), p))

	p.Features[0] = "mutated"
	got, err := store.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "dark_mode", got.Features[0])
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, time.Hour)
	exerciseStore(t, store)
}

func TestRedisStoreExpiresProjects(t *testing.T) {
	store, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleProject("dddd4444", time.Now())))
	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "dddd4444")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	members, err := mr.ZMembers(projectIndexKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url", time.Minute)
	assert.Error(t, err)
}

// TestPostgresStore runs against the database named by RAHL_TEST_DATABASE_URL.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("RAHL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("RAHL_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, err = store.db.ExecContext(ctx, "TRUNCATE stub_projects")
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestNewPostgresStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := NewPostgresStore(ctx, "postgres://rahl@127.0.0.1:1/rahl?connect_timeout=1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")
}
