package redis

import (
	"context"
	"fmt"
	"time"

	"coach-assessment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds the caller's token, so an
// expired holder cannot release a lock taken over by another replica.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SessionLocker is a Redis-backed app.SessionLocker shared by every replica.
// The TTL bounds how long a crashed holder can block a session.
type SessionLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessionLocker(client *redis.Client, ttl time.Duration) *SessionLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SessionLocker{client: client, ttl: ttl}
}

func (l *SessionLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(key), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrSessionBusy
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{l.key(key)}, token).Err()
	}, nil
}

func (l *SessionLocker) key(key string) string {
	return "assessment:lock:" + key
}
