package realtime

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
	os.Exit(m.Run())
}

func receive(t *testing.T, sub *Subscription) Message {
	t.Helper()
	select {
	case m, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func assertSilent(t *testing.T, sub *Subscription, wait time.Duration) {
	t.Helper()
	select {
	case m := <-sub.C:
		t.Fatalf("unexpected message on %s", m.Topic)
	case <-time.After(wait):
	}
}

func TestMatchAndScope(t *testing.T) {
	assert.True(t, Match("user:*", "user:42"))
	assert.False(t, Match("user:*", "service:42"))
	assert.True(t, Match("service:3", "service:3"))
	assert.False(t, Match("service:3", "service:30"))

	assert.Equal(t, "user", Scope(UserTopic(7)))
	assert.Equal(t, "service", Scope(ServiceTopic(7)))
	assert.Equal(t, "display", Scope(DisplayTopic))
}

func TestNewEvent(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := NewEvent(queue.Change{
		Action:  models.ActionCalled,
		Entry:   models.QueueEntry{ID: 11, UserID: 4, ServiceID: 2, QueueNumber: "REG-003", Status: models.StatusCalled},
		Counter: &models.Counter{ID: 5, CounterNumber: "2", Name: "Window 2"},
		At:      at,
	})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, EventQueueCalled, ev.Kind)
	assert.Equal(t, "REG-003", ev.QueueNumber)
	require.NotNil(t, ev.CounterID)
	assert.Equal(t, int64(5), *ev.CounterID)
	assert.Equal(t, "Window 2", ev.CounterName)
	assert.Equal(t, "11:called", ev.DedupKey())

	other := NewEvent(queue.Change{Action: models.ActionCalled, Entry: models.QueueEntry{ID: 11}})
	assert.NotEqual(t, ev.ID, other.ID)
	assert.Equal(t, ev.DedupKey(), other.DedupKey())

	assert.Equal(t, EventQueueUpdated, NewEvent(queue.Change{Action: models.ActionSkipped}).Kind)
	assert.Equal(t, EventQueueCompleted, NewEvent(queue.Change{Action: models.ActionCompleted}).Kind)
}

func TestLocalBus_Routing(t *testing.T) {
	bus := NewLocalBus(4)
	defer bus.Close()
	ctx := context.Background()

	mine, err := bus.Subscribe(ctx, UserTopic(1))
	require.NoError(t, err)
	all, err := bus.Subscribe(ctx, AllUsersTopic)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, UserTopic(1), []byte("a")))
	require.NoError(t, bus.Publish(ctx, UserTopic(2), []byte("b")))
	require.NoError(t, bus.Publish(ctx, ServiceTopic(1), []byte("c")))

	assert.Equal(t, "a", string(receive(t, mine).Payload))
	assertSilent(t, mine, 20*time.Millisecond)

	assert.Equal(t, UserTopic(1), receive(t, all).Topic)
	assert.Equal(t, UserTopic(2), receive(t, all).Topic)
	assertSilent(t, all, 20*time.Millisecond)
}

func TestLocalBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewLocalBus(1)
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, DisplayTopic)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			_ = bus.Publish(ctx, DisplayTopic, []byte{byte(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, []byte{0}, receive(t, sub).Payload)
}

func TestLocalBus_CloseEndsSubscriptions(t *testing.T) {
	bus := NewLocalBus(1)
	sub, err := bus.Subscribe(context.Background(), DisplayTopic)
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	_, ok := <-sub.C
	assert.False(t, ok)
	sub.Close()

	assert.ErrorIs(t, bus.Publish(context.Background(), DisplayTopic, nil), ErrBusClosed)
	_, err = bus.Subscribe(context.Background(), DisplayTopic)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestLocalBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewLocalBus(1)
	defer bus.Close()
	sub, err := bus.Subscribe(context.Background(), DisplayTopic)
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	require.NoError(t, bus.Publish(context.Background(), DisplayTopic, []byte("x")))
	_, ok := <-sub.C
	assert.False(t, ok)
}
