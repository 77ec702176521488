package distributed

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires a live server: ACQBRIDGE_TEST_REDIS=localhost:6379
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ACQBRIDGE_TEST_REDIS")
	if addr == "" {
		t.Skip("ACQBRIDGE_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLease_Exclusive(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)
	key := "acqbridge:test:lease:" + uuid.NewString()

	first := NewLease(client, key, time.Second, nil)
	second := NewLease(client, key, time.Second, nil)

	require.NoError(t, first.Acquire(ctx))
	assert.ErrorIs(t, second.Acquire(ctx), ErrLeaseHeld)

	holder, err := Holder(ctx, client, key)
	require.NoError(t, err)
	assert.Equal(t, first.holder, holder)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Acquire(ctx))
	require.NoError(t, second.Release(ctx))

	holder, err = Holder(ctx, client, key)
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestLease_RenewsPastTTL(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)
	key := "acqbridge:test:lease:" + uuid.NewString()

	lease := NewLease(client, key, 200*time.Millisecond, nil)
	require.NoError(t, lease.Acquire(ctx))
	defer lease.Release(ctx)

	time.Sleep(500 * time.Millisecond)
	holder, err := Holder(ctx, client, key)
	require.NoError(t, err)
	assert.Equal(t, lease.holder, holder)
}

func TestLease_LostWhenStolen(t *testing.T) {
	ctx := context.Background()
	client := testClient(t)
	key := "acqbridge:test:lease:" + uuid.NewString()

	lease := NewLease(client, key, 200*time.Millisecond, nil)
	require.NoError(t, lease.Acquire(ctx))
	defer lease.Release(ctx)

	require.NoError(t, client.Set(ctx, key, "someone-else", time.Minute).Err())
	select {
	case <-lease.Lost():
	case <-time.After(time.Second):
		t.Fatal("expected lease to be reported lost")
	}
	client.Del(ctx, key)
}
