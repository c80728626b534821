package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
	"qtech-backend/internal/metrics"
)

// RedisBus carries topics over Redis pub/sub so that every API instance sees
// every transition. Channels are named <prefix>:<topic>.
type RedisBus struct {
	client *redis.Client
	prefix string
	buffer int
	log    zerolog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]*redis.PubSub
	closed bool
}

func NewRedisBus(client *redis.Client, prefix string, buffer int) *RedisBus {
	if buffer <= 0 {
		buffer = 32
	}
	return &RedisBus{
		client: client,
		prefix: prefix,
		buffer: buffer,
		log:    logging.With("redisbus"),
		subs:   make(map[*Subscription]*redis.PubSub),
	}
}

func (b *RedisBus) channel(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + ":" + topic
}

func (b *RedisBus) topic(channel string) string {
	if b.prefix == "" {
		return channel
	}
	return strings.TrimPrefix(channel, b.prefix+":")
}

func (b *RedisBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, pattern string) (*Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	var ps *redis.PubSub
	if strings.HasSuffix(pattern, "*") {
		ps = b.client.PSubscribe(ctx, b.channel(pattern))
	} else {
		ps = b.client.Subscribe(ctx, b.channel(pattern))
	}
	// Wait for the server to confirm so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", pattern, err)
	}

	s := newSubscription(pattern, b.buffer)
	done := make(chan struct{})
	s.cancel = func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		_ = ps.Close()
		<-done
	}

	b.mu.Lock()
	b.subs[s] = ps
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer close(s.ch)
		for m := range ps.Channel() {
			topic := b.topic(m.Channel)
			if !s.offer(Message{Topic: topic, Payload: []byte(m.Payload)}) {
				metrics.EventPublishFailures.WithLabelValues(Scope(topic)).Inc()
				b.log.Debug().Str("topic", topic).Msg("subscriber full, message dropped")
			}
		}
	}()
	return s, nil
}

func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}
