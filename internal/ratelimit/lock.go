package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Deletes the key only while it still holds the caller's token.
const leaseReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Lease hands out short exclusive holds on ids under one key pattern. A
// holder that crashes loses the lease when ttl elapses.
type Lease struct {
	client  redis.Cmdable
	release *redis.Script
	pattern string
	ttl     time.Duration
}

// NewLease builds a lease whose keys are fmt.Sprintf(pattern, id).
func NewLease(client redis.Cmdable, pattern string, ttl time.Duration) (*Lease, error) {
	if client == nil {
		return nil, errors.New("lease redis client is required")
	}
	if !strings.Contains(pattern, "%s") {
		return nil, fmt.Errorf("lease key pattern %q has no id verb", pattern)
	}
	if ttl <= 0 {
		return nil, errors.New("lease ttl must be positive")
	}
	return &Lease{
		client:  client,
		release: redis.NewScript(leaseReleaseScript),
		pattern: pattern,
		ttl:     ttl,
	}, nil
}

// Acquire takes the lease on id when it is free. The returned token is
// needed to give it back.
func (l *Lease) Acquire(ctx context.Context, id string) (string, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", false, errors.New("lease id is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(id), token, l.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// Release drops the lease on id if token still owns it.
func (l *Lease) Release(ctx context.Context, id, token string) error {
	id = strings.TrimSpace(id)
	if id == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{l.key(id)}, token).Err()
}

func (l *Lease) key(id string) string {
	return fmt.Sprintf(l.pattern, id)
}
