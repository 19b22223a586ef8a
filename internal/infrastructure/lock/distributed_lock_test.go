package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	client, _ := newClient(t)
	ctx := context.Background()

	a := NewJobLock(client, "reconcile", time.Minute)
	b := NewJobLock(client, "reconcile", time.Minute)

	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Unlock(ctx))

	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_UnlockKeepsForeignLock(t *testing.T) {
	client, mr := newClient(t)
	ctx := context.Background()

	a := NewJobLock(client, "reconcile", 10*time.Second)
	ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// a's lease runs out and b takes over
	mr.FastForward(11 * time.Second)
	b := NewJobLock(client, "reconcile", time.Minute)
	ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Unlock(ctx))
	assert.True(t, mr.Exists("gymledger:job:lock:reconcile"))
}
