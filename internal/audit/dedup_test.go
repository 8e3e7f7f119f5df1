package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDedup starts an in-memory miniredis server and wraps a client
// pointed at it, the same substitution the pack's own Redis-backed
// deduplication tests use in place of a live Redis instance.
func newTestDedup(t *testing.T) *RedisDedup {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &RedisDedup{client: client}
}

func TestRedisDedup_ClaimSucceedsOnce(t *testing.T) {
	d := newTestDedup(t)
	id := uuid.New()

	ok, err := d.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisDedup_DistinctIDsClaimIndependently(t *testing.T) {
	d := newTestDedup(t)

	ok, err := d.Claim(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Claim(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Init_RejectsRedisClaimedID(t *testing.T) {
	dedup := newTestDedup(t)
	store, err := NewStore(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	store = store.WithRedisDedup(dedup)

	id := uuid.New()

	// A different process (or a prior Init whose local file was since
	// removed) already claimed id in Redis.
	ok, err := dedup.Claim(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.Init(id, "solana")
	assert.ErrorIs(t, err, ErrLogExists)
}

func TestStore_Init_ClaimsInRedisThenWritesLocalFile(t *testing.T) {
	dedup := newTestDedup(t)
	store, err := NewStore(filepath.Join(t.TempDir(), "logs"))
	require.NoError(t, err)
	store = store.WithRedisDedup(dedup)

	id := uuid.New()
	doc, err := store.Init(id, "evm")
	require.NoError(t, err)
	assert.Equal(t, "evm", doc.ProgramType)

	got, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.DeploymentID)
}
