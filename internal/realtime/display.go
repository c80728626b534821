package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
	"qtech-backend/internal/models"
	"qtech-backend/internal/queue"
)

// BoardSource builds the aggregated display board.
type BoardSource interface {
	Display(ctx context.Context, serviceID int64) (queue.DisplayBoard, error)
}

// BoardSourceFunc adapts a function to BoardSource.
type BoardSourceFunc func(ctx context.Context, serviceID int64) (queue.DisplayBoard, error)

func (f BoardSourceFunc) Display(ctx context.Context, serviceID int64) (queue.DisplayBoard, error) {
	return f(ctx, serviceID)
}

// IntervalSource yields the current refresh interval.
type IntervalSource interface {
	Current(ctx context.Context) (models.SystemSettings, error)
}

type displayMessage struct {
	Type EventKind          `json:"type"`
	Data queue.DisplayBoard `json:"data"`
}

// DisplayFeed republishes the display board on a fixed interval, and only
// when a transition happened since the last refresh. The last payload seen
// on the display topic, from this instance or any other, is kept so new
// screens can be served without rebuilding it.
type DisplayFeed struct {
	source   BoardSource
	settings IntervalSource
	bus      Bus
	fallback time.Duration
	log      zerolog.Logger

	dirty atomic.Bool

	mu       sync.RWMutex
	last     []byte
	lastAt   time.Time
	location *time.Location
	now      func() time.Time
}

func NewDisplayFeed(source BoardSource, settings IntervalSource, bus Bus, loc *time.Location) *DisplayFeed {
	if loc == nil {
		loc = time.Local
	}
	f := &DisplayFeed{
		source:   source,
		settings: settings,
		bus:      bus,
		fallback: 5 * time.Second,
		location: loc,
		now:      time.Now,
		log:      logging.With("display"),
	}
	f.dirty.Store(true)
	return f
}

// MarkDirty schedules a republish on the next tick.
func (f *DisplayFeed) MarkDirty() {
	f.dirty.Store(true)
}

func (f *DisplayFeed) String() string { return "display-feed" }

// Serve runs until ctx is cancelled. It satisfies suture.Service.
func (f *DisplayFeed) Serve(ctx context.Context) error {
	sub, err := f.bus.Subscribe(ctx, DisplayTopic)
	if err != nil {
		return err
	}
	defer sub.Close()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.C:
			if !ok {
				return ErrBusClosed
			}
			f.store(msg.Payload)
		case <-timer.C:
			if f.dirty.Swap(false) {
				if err := f.refresh(ctx); err != nil {
					f.dirty.Store(true)
					f.log.Warn().Err(err).Msg("display refresh failed")
				}
			}
			timer.Reset(f.interval(ctx))
		}
	}
}

func (f *DisplayFeed) interval(ctx context.Context) time.Duration {
	if f.settings == nil {
		return f.fallback
	}
	s, err := f.settings.Current(ctx)
	if err != nil || s.DisplayBoardRefreshInterval <= 0 {
		return f.fallback
	}
	return time.Duration(s.DisplayBoardRefreshInterval) * time.Second
}

func (f *DisplayFeed) refresh(ctx context.Context) error {
	payload, err := f.build(ctx)
	if err != nil {
		return err
	}
	if err := f.bus.Publish(ctx, DisplayTopic, payload); err != nil {
		metrics.EventPublishFailures.WithLabelValues(scopeDisplay).Inc()
		return err
	}
	metrics.EventsPublished.WithLabelValues(scopeDisplay).Inc()
	return nil
}

func (f *DisplayFeed) build(ctx context.Context) ([]byte, error) {
	board, err := f.source.Display(ctx, 0)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(displayMessage{Type: EventDisplayBoard, Data: board})
	if err != nil {
		return nil, err
	}

	f.store(payload)
	return payload, nil
}

func (f *DisplayFeed) store(payload []byte) {
	f.mu.Lock()
	f.last = payload
	f.lastAt = f.now()
	f.mu.Unlock()
}

// Snapshot returns the cached board while it is younger than one refresh
// interval and from today, building a fresh one otherwise.
func (f *DisplayFeed) Snapshot(ctx context.Context) ([]byte, error) {
	f.mu.RLock()
	cached, at := f.last, f.lastAt
	f.mu.RUnlock()

	now := f.now()
	if len(cached) > 0 && sameDay(at, now, f.location) && now.Sub(at) < f.interval(ctx) {
		return cached, nil
	}
	return f.build(ctx)
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	return a.In(loc).Format(time.DateOnly) == b.In(loc).Format(time.DateOnly)
}
