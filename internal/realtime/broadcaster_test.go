package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

type failingBus struct{ Bus }

func (failingBus) Publish(context.Context, string, []byte) error { return ErrBusClosed }

type boardSource struct {
	mu    sync.Mutex
	calls int
	board queue.DisplayBoard
}

func (s *boardSource) Display(context.Context, int64) (queue.DisplayBoard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.board, nil
}

func (s *boardSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestBroadcaster_PublishesToUserAndService(t *testing.T) {
	bus := NewLocalBus(8)
	defer bus.Close()
	ctx := context.Background()

	user, err := bus.Subscribe(ctx, UserTopic(4))
	require.NoError(t, err)
	service, err := bus.Subscribe(ctx, ServiceTopic(2))
	require.NoError(t, err)

	feed := NewDisplayFeed(&boardSource{}, nil, bus, time.UTC)
	feed.dirty.Store(false)
	b := NewBroadcaster(bus, feed)

	b.Notify(ctx, queue.Change{
		Action: models.ActionCompleted,
		Entry:  models.QueueEntry{ID: 8, UserID: 4, ServiceID: 2, Status: models.StatusCompleted},
		At:     time.Now(),
	})

	var ev Event
	require.NoError(t, json.Unmarshal(receive(t, user).Payload, &ev))
	assert.Equal(t, EventQueueCompleted, ev.Kind)
	assert.Equal(t, int64(8), ev.QueueID)
	assert.Equal(t, models.ActionCompleted, ev.Action)

	require.NoError(t, json.Unmarshal(receive(t, service).Payload, &ev))
	assert.Equal(t, int64(2), ev.ServiceID)

	assert.True(t, feed.dirty.Load(), "display is marked stale")
}

func TestBroadcaster_PublishFailureIsSwallowed(t *testing.T) {
	b := NewBroadcaster(failingBus{}, nil)
	assert.NotPanics(t, func() {
		b.Notify(context.Background(), queue.Change{Action: models.ActionCalled, Entry: models.QueueEntry{ID: 1}})
	})
}
