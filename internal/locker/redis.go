package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis holds locks as keys with a random token so only the owner can
// release them. A crashed holder's lock expires after ttl.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
	prefix string
	logger zerolog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		poll:   25 * time.Millisecond,
		prefix: "lock:",
		logger: logger.With().Str("component", "locker").Logger(),
	}
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	release := func() {
		// Release with a fresh context; the caller's may already be done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := unlockScript.Run(rctx, r.client, []string{r.prefix + held[i]}, token).Err(); err != nil {
				r.logger.Warn().Err(err).Str("key", held[i]).Msg("lock release failed")
			}
		}
	}

	for _, k := range keys {
		if err := r.acquire(ctx, r.prefix+k, token); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}
	return once(release), nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ErrLockTimeout
			}
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrLockTimeout
		case <-ticker.C:
		}
	}
}
