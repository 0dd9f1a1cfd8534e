package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when FILEDROP_TEST_REDIS_URL points at a disposable server.
func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("FILEDROP_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FILEDROP_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	client, err := Dial(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	key := "filedrop:test:" + uuid.NewString()
	c := NewRedis[[]item](client, key, time.Minute)
	defer client.Del(ctx, key, key+":gen")

	_, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err := c.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	want := []item{{ID: "a", Downloads: 3}}
	require.NoError(t, c.Set(ctx, version, want))

	got, ok, err := c.Get(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, c.Invalidate(ctx))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// The pre-invalidation version is stale now.
	require.NoError(t, c.Set(ctx, version, want))
	_, ok, err = c.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	version, err = c.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestDial_BadURL(t *testing.T) {
	_, err := Dial(context.Background(), "not-a-redis-url")
	assert.Error(t, err)
}
