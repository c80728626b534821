package counter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"qtech-backend/internal/logging"
)

// Guard admits at most one call-next per counter at a time. Acquire never
// waits: a counter that is already held reports ok=false.
type Guard interface {
	Acquire(ctx context.Context, counterID int64) (release func(), ok bool, err error)
}

// LocalGuard serialises call-next within one process.
type LocalGuard struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[int64]struct{})}
}

func (g *LocalGuard) Acquire(_ context.Context, counterID int64) (func(), bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.held[counterID]; busy {
		return nil, false, nil
	}
	g.held[counterID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, counterID)
			g.mu.Unlock()
		})
	}, true, nil
}

// Only the holder's token may delete the key.
const luaRelease = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseScript = redis.NewScript(luaRelease)

// RedisGuard serialises call-next across instances with SET NX PX. The TTL
// bounds how long a crashed holder can block its counter.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

func NewRedisGuard(client *redis.Client, prefix string, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisGuard{client: client, prefix: prefix, ttl: ttl, log: logging.With("counter")}
}

func (g *RedisGuard) key(counterID int64) string {
	return fmt.Sprintf("%s:counter:%d:call_next", g.prefix, counterID)
}

func (g *RedisGuard) Acquire(ctx context.Context, counterID int64) (func(), bool, error) {
	key := g.key(counterID)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire call-next guard: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's context may already be gone.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, g.client, []string{key}, token).Err(); err != nil {
				g.log.Warn().Err(err).Int64("counter_id", counterID).Dur("ttl", g.ttl).Msg("call-next guard release failed, counter stays locked until expiry")
			}
		})
	}, true, nil
}
