package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtech-backend/internal/queue"
)

func TestDisplayFeed_RepublishesOnlyWhenDirty(t *testing.T) {
	bus := NewLocalBus(8)
	defer bus.Close()
	source := &boardSource{board: queue.DisplayBoard{
		Waiting: []queue.ServiceWaiting{{ServiceID: 1, ServiceName: "Registrar", WaitingCount: 3}},
	}}
	feed := NewDisplayFeed(source, nil, bus, time.UTC)
	feed.fallback = 10 * time.Millisecond

	sub, err := bus.Subscribe(context.Background(), DisplayTopic)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Serve(ctx) }()

	var msg struct {
		Type EventKind          `json:"type"`
		Data queue.DisplayBoard `json:"data"`
	}
	require.NoError(t, json.Unmarshal(receive(t, sub).Payload, &msg))
	assert.Equal(t, EventDisplayBoard, msg.Type)
	require.Len(t, msg.Data.Waiting, 1)
	assert.Equal(t, 3, msg.Data.Waiting[0].WaitingCount)

	assertSilent(t, sub, 60*time.Millisecond)
	assert.Equal(t, 1, source.Calls())

	feed.MarkDirty()
	receive(t, sub)
	assert.Equal(t, 2, source.Calls())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Serve did not stop")
	}
}

func TestDisplayFeed_SnapshotIsCached(t *testing.T) {
	source := &boardSource{}
	feed := NewDisplayFeed(source, nil, NewLocalBus(1), time.UTC)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	feed.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := feed.Snapshot(ctx)
	require.NoError(t, err)
	second, err := feed.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, source.Calls())

	now = now.Add(feed.fallback)
	_, err = feed.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, source.Calls(), "a snapshot older than the refresh interval is rebuilt")

	now = time.Date(2026, 3, 2, 23, 59, 58, 0, time.UTC)
	_, err = feed.Snapshot(ctx)
	require.NoError(t, err)
	now = now.Add(3 * time.Second)
	_, err = feed.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, source.Calls(), "a snapshot from another day is rebuilt")
}

func TestDisplayFeed_SharesBoardAcrossInstances(t *testing.T) {
	bus := NewLocalBus(8)
	defer bus.Close()
	source := &boardSource{board: queue.DisplayBoard{
		Waiting: []queue.ServiceWaiting{{ServiceID: 1, ServiceName: "Registrar", WaitingCount: 3}},
	}}

	a := NewDisplayFeed(source, nil, bus, time.UTC)
	b := NewDisplayFeed(source, nil, bus, time.UTC)
	a.fallback = 10 * time.Millisecond
	b.fallback = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Serve(ctx) }()
	go func() { _ = b.Serve(ctx) }()

	waitingOn := func(f *DisplayFeed) int {
		raw, err := f.Snapshot(ctx)
		require.NoError(t, err)
		var msg displayMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		if len(msg.Data.Waiting) == 0 {
			return 0
		}
		return msg.Data.Waiting[0].WaitingCount
	}
	require.Eventually(t, func() bool { return waitingOn(b) == 3 }, 2*time.Second, 10*time.Millisecond)

	source.mu.Lock()
	source.board = queue.DisplayBoard{
		Waiting: []queue.ServiceWaiting{{ServiceID: 1, ServiceName: "Registrar", WaitingCount: 7}},
	}
	source.mu.Unlock()
	a.MarkDirty()

	// b never refreshes on its own within the test; it learns the board from a.
	assert.Eventually(t, func() bool { return waitingOn(b) == 7 }, 2*time.Second, 10*time.Millisecond)
}

func TestBoardSourceFunc(t *testing.T) {
	var got int64
	src := BoardSourceFunc(func(_ context.Context, serviceID int64) (queue.DisplayBoard, error) {
		got = serviceID
		return queue.DisplayBoard{}, nil
	})
	_, err := src.Display(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)
}
