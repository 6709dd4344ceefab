package checkpoint

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spredd-markets/spredd-degen/internal/storage"
)

// testRoundTrip exercises the contract every backend must satisfy.
func testRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store must report no checkpoint")

	for _, id := range []uint64{0, 42, 1879123456789012345, ^uint64(0)} {
		require.NoError(t, s.Save(ctx, id))
		got, ok, err := s.Load(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, id, got)
	}
}

func quietLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint")
	testRoundTrip(t, NewFileStore(path, nil))
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "checkpoint"), nil)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, s.Save(context.Background(), i))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "checkpoint", entries[0].Name())
}

func TestFileStore_CorruptIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, os.WriteFile(path, []byte("not-a-number\n"), 0o644))

	var logs bytes.Buffer
	s := NewFileStore(path, quietLogger(&logs))

	id, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, id)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "corrupt checkpoint")
}

func TestFileStore_EmptyFileIsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, ok, err := NewFileStore(path, nil).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStore_ReadErrorIsReturned(t *testing.T) {
	// A directory at the checkpoint path cannot be read as a file.
	dir := t.TempDir()
	_, _, err := NewFileStore(dir, nil).Load(context.Background())
	assert.Error(t, err)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	testRoundTrip(t, NewSQLiteStore(db, nil))
}

func TestSQLiteStore_CorruptIsAbsent(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SetCheckpoint(context.Background(), DefaultName, "-17"))

	var logs bytes.Buffer
	_, ok, err := NewSQLiteStore(db, quietLogger(&logs)).Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, strings.Contains(logs.String(), "backend=sqlite"))
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "", nil), mr
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s, mr := newRedisStore(t)
	testRoundTrip(t, s)

	raw, err := mr.Get(DefaultRedisKey)
	require.NoError(t, err)
	assert.Equal(t, "18446744073709551615", raw)
}

func TestRedisStore_CorruptIsAbsent(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, mr.Set(DefaultRedisKey, "garbage"))

	_, ok, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_ConnectivityError(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, _, err := s.Load(context.Background())
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), 1))
}
