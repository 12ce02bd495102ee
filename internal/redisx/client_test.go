package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimAndExists(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()
	ctx := context.Background()

	key := DedupKey("notifier", "evt-1")
	assert.Equal(t, "dedup:notifier:evt-1", key)

	ok, err := Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := Claim(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	second, err := Claim(ctx, rdb, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, second)

	ok, err = Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = Exists(ctx, rdb, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr)
	assert.Error(t, err)
}
