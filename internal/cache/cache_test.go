package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hemalyze/hemalyze/internal/cache"
	"github.com/hemalyze/hemalyze/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	return rc
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	assert.NoError(t, rc.Ping(context.Background()))
}

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "k", []byte("v"), time.Minute))

	val, found, err := rc.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)

	_, found, err = rc.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAnalysisStatus_Mirror(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()

	_, found, err := rc.GetAnalysisStatus(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, rc.SetAnalysisStatus(ctx, id, models.AnalysisStatusProcessing, time.Minute))

	status, found, err := rc.GetAnalysisStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.AnalysisStatusProcessing, status)
}

func TestFingerprint_FastPath(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	id := uuid.New()

	_, found, err := rc.GetFingerprint(ctx, "abc123")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, rc.SetFingerprint(ctx, "abc123", id, time.Minute))

	got, found, err := rc.GetFingerprint(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, id, got)
}

func TestFingerprint_CorruptValueIsAMiss(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, cache.FingerprintKey("bad"), []byte("not-a-uuid"), time.Minute))

	_, found, err := rc.GetFingerprint(ctx, "bad")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestIncrWithExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	n, err := rc.IncrWithExpiry(ctx, cache.RateLimitKey("hml_abcd"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = rc.IncrWithExpiry(ctx, cache.RateLimitKey("hml_abcd"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
