package realtime

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
)

// Message is one payload delivered on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the publish/subscribe transport. Delivery is best effort: a
// subscriber that falls behind loses messages rather than slowing the
// publisher, and nothing is replayed on reconnect.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe selects topics by exact name or by a trailing '*' pattern.
	Subscribe(ctx context.Context, pattern string) (*Subscription, error)
	Close() error
}

type Subscription struct {
	C <-chan Message

	ch      chan Message
	pattern string
	once    sync.Once
	cancel  func()
}

func newSubscription(pattern string, buffer int) *Subscription {
	ch := make(chan Message, buffer)
	return &Subscription{C: ch, ch: ch, pattern: pattern}
}

// Close stops delivery and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// offer delivers without blocking.
func (s *Subscription) offer(m Message) bool {
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

// LocalBus is an in-process Bus.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
	log    zerolog.Logger
}

func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 32
	}
	return &LocalBus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		log:    logging.With("bus"),
	}
}

func (b *LocalBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	msg := Message{Topic: topic, Payload: payload}
	for s := range b.subs {
		if !Match(s.pattern, topic) {
			continue
		}
		if !s.offer(msg) {
			metrics.EventPublishFailures.WithLabelValues(Scope(topic)).Inc()
			b.log.Debug().Str("topic", topic).Msg("subscriber full, message dropped")
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, pattern string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	s := newSubscription(pattern, b.buffer)
	s.cancel = func() {
		b.mu.Lock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	b.subs[s] = struct{}{}
	return s, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		close(s.ch)
	}
	return nil
}
