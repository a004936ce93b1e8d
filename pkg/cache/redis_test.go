package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/montracker/pkg/cache"
	"github.com/dukex/montracker/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *cache.Redis {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, container.Terminate(context.Background()))
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	c, err := cache.NewRedis("redis://"+endpoint+"/0", time.Minute)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, c.Close())
	})

	return c
}

func TestRedis_SetGetInvalidate(t *testing.T) {
	c := setupRedis(t)
	ctx := t.Context()

	_, ok, generation, err := c.Get(ctx, cache.AnalysisKey(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, generation)

	require.NoError(t, c.Set(ctx, cache.AnalysisKey(1), models.StatusError, generation))

	status, ok, _, err := c.Get(ctx, cache.AnalysisKey(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StatusError, status)

	require.NoError(t, c.Invalidate(ctx, cache.AnalysisKey(1)))
	require.NoError(t, c.Invalidate(ctx))

	_, ok, generation, err = c.Get(ctx, cache.AnalysisKey(1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(1), generation)
}

func TestRedis_SetSkipsInvalidatedGeneration(t *testing.T) {
	c := setupRedis(t)
	ctx := t.Context()
	key := cache.ActionKey(7)

	_, _, before, err := c.Get(ctx, key)
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, key))
	require.NoError(t, c.Set(ctx, key, models.StatusWaiting, before))

	_, ok, after, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "a rollup loaded before the invalidation is dropped")

	require.NoError(t, c.Set(ctx, key, models.StatusFinished, after))

	status, ok, _, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StatusFinished, status)
}
