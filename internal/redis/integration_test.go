//go:build integration

package redis

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/mailherd/mailherd/pkg/batch"
)

var testRedisAddr string

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	ctr, err := tcRedis.Run(ctx, "redis:7-alpine")
	if err != nil {
		log.Fatalf("start redis container: %v", err)
	}
	defer ctr.Terminate(ctx) //nolint:errcheck

	connStr, err := ctr.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("redis connection string: %v", err)
	}
	// ConnectionString returns "redis://host:port" — strip the scheme for go-redis Addr.
	testRedisAddr = strings.TrimPrefix(connStr, "redis://")

	return m.Run()
}

// newIntegrationClient returns a client connected to the test container and
// flushes the database on test cleanup so tests don't interfere with each other.
func newIntegrationClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: testRedisAddr})
	t.Cleanup(func() {
		client.FlushDB(context.Background()) //nolint:errcheck
		client.Close()                       //nolint:errcheck
	})
	return client
}

func TestJournal_RecordGet_RoundTrip(t *testing.T) {
	client := newIntegrationClient(t)
	j := NewJournal(client)
	ctx := context.Background()

	finished := time.Now().UTC().Truncate(time.Millisecond)
	entry := Entry{Status: batch.StatusSuccess, FinishedAt: finished}
	require.NoError(t, j.Record(ctx, "create", "alice@example.com", entry))

	got, err := j.Get(ctx, "create", "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, batch.StatusSuccess, got.Status)
	assert.Equal(t, finished, got.FinishedAt)

	ttl, err := client.TTL(ctx, journalKey("create", "alice@example.com")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 6*24*time.Hour, "entries must expire, but not for a week")
}

func TestJournal_GetMiss_ReturnsNil(t *testing.T) {
	j := NewJournal(newIntegrationClient(t))

	got, err := j.Get(context.Background(), "create", "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestJournal_Clear_RemovesOnlyItsRun(t *testing.T) {
	j := NewJournal(newIntegrationClient(t))
	ctx := context.Background()

	for _, key := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		require.NoError(t, j.Record(ctx, "create", key, Entry{Status: batch.StatusSuccess}))
	}
	require.NoError(t, j.Record(ctx, "reset", "a@example.com", Entry{Status: batch.StatusFailed}))

	removed, err := j.Clear(ctx, "create")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	got, err := j.Get(ctx, "create", "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)

	kept, err := j.Get(ctx, "reset", "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, kept, "other runs' entries must survive a clear")
	assert.Equal(t, batch.StatusFailed, kept.Status)
}

func TestRateLimiter_OverLimitDenies(t *testing.T) {
	limiter := NewRateLimiter(newIntegrationClient(t), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "panel")
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be within the limit", i+1)
	}

	allowed, err := limiter.Allow(ctx, "panel")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := NewRateLimiter(newIntegrationClient(t), 1, 200*time.Millisecond)
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "panel")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "panel")
	require.NoError(t, err)
	require.False(t, allowed)

	// Both recorded events fall out of the window after it passes.
	time.Sleep(450 * time.Millisecond)

	allowed, err = limiter.Allow(ctx, "panel")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAPILimiter_WaitPausesForWindow(t *testing.T) {
	limiter := NewRateLimiter(newIntegrationClient(t), 1, 150*time.Millisecond)
	wait := NewAPILimiter(limiter, "panel", testLogger())
	ctx := context.Background()

	require.NoError(t, wait.Wait(ctx))

	start := time.Now()
	require.NoError(t, wait.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond,
		"the second call has to sit out at least one window")
}
