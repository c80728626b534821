package settings

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/storage/memory"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

func TestService_DefaultsWhenUnset(t *testing.T) {
	svc := NewService(memory.New(), nil, time.Minute)
	s, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultSettings(), s)
}

func TestService_CachesUntilUpdate(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveSettings(ctx, models.SystemSettings{MaxQueuePerUser: 2, DisplayBoardRefreshInterval: 5, AutoRefreshInterval: 5}))
	svc := NewService(store, NewMemoryCache(), time.Minute)

	s, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxQueuePerUser)

	// Writes that bypass the service are not seen while the cache is warm.
	require.NoError(t, store.SaveSettings(ctx, models.SystemSettings{MaxQueuePerUser: 9, DisplayBoardRefreshInterval: 5, AutoRefreshInterval: 5}))
	s, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.MaxQueuePerUser)

	next := s
	next.MaxQueuePerUser = 4
	next.SystemMaintenanceMode = true
	_, err = svc.Update(ctx, next)
	require.NoError(t, err)

	s, err = svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, s.MaxQueuePerUser)
	assert.True(t, s.SystemMaintenanceMode)
}

func TestService_UpdateValidates(t *testing.T) {
	svc := NewService(memory.New(), nil, time.Minute)
	bad := models.DefaultSettings()
	bad.MaxQueuePerUser = 0

	_, err := svc.Update(context.Background(), bad)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestMemoryCache_Expires(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Get(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, models.DefaultSettings(), time.Minute))
	_, err = c.Get(ctx)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.Get(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c := NewRedisCache(client, "qtech")
	ctx := context.Background()

	_, err := c.Get(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	want := models.DefaultSettings()
	want.QueueNumberPrefix = "Q"
	require.NoError(t, c.Set(ctx, want, DefaultTTL))
	assert.True(t, mr.Exists("qtech:system:settings"))

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mr.FastForward(DefaultTTL)
	_, err = c.Get(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, want, DefaultTTL))
	require.NoError(t, c.Invalidate(ctx))
	_, err = c.Get(ctx)
	assert.ErrorIs(t, err, ErrCacheMiss)
}
