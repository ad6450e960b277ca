package redisx

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestClaim(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	key := fmt.Sprintf(KeyDedup, "notifier", "evt-1")

	won, err := Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.False(t, won)

	mr.FastForward(TTLDedup + time.Second)
	won, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, won)
}

func TestJSONRoundTripAndMiss(t *testing.T) {
	mr, rdb := newTestClient(t)
	ctx := context.Background()
	key := fmt.Sprintf(KeyOrderStatus, "ABC")

	var out map[string]string
	ok, err := GetJSON(ctx, rdb, key, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, rdb, key, map[string]string{"status": "paid"}, TTLStatusCache))
	ok, err = GetJSON(ctx, rdb, key, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "paid", out["status"])
	assert.Equal(t, TTLStatusCache, mr.TTL(key))
	assert.True(t, mr.Exists(key))
}

func TestGetJSONCorrupt(t *testing.T) {
	mr, rdb := newTestClient(t)
	require.NoError(t, mr.Set("order_status:X", "{not json"))

	var out map[string]string
	_, err := GetJSON(context.Background(), rdb, "order_status:X", &out)
	assert.Error(t, err)
}
