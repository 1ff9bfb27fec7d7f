package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kersonpank/treinepass-core/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const (
	keyWebhookClient    = "treinepass:webhook:client:%s"
	keyWebhookReprocess = "treinepass:webhook:reprocess:%s"
)

// WebhookLimiter throttles webhook deliveries per client address and
// serializes manual reprocessing of one stored event. A nil limiter allows
// everything.
type WebhookLimiter struct {
	enabled bool

	bucket    *TokenBucket
	reprocess *Lease
}

func NewWebhookLimiter(lc fx.Lifecycle, cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return client.Close() },
		})
	}

	return NewWebhookLimiterWithClient(client, limitCfg.WebhookRate, limitCfg.WebhookBurst,
		time.Duration(limitCfg.ReprocessLockSec)*time.Second)
}

// NewWebhookLimiterWithClient builds a limiter over an existing client.
func NewWebhookLimiterWithClient(client *redis.Client, rate float64, burst int, lockTTL time.Duration) (*WebhookLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limit redis client is required")
	}
	bucket, err := NewTokenBucket(client, rate, burst)
	if err != nil {
		return nil, err
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	lease, err := NewLease(client, keyWebhookReprocess, lockTTL)
	if err != nil {
		return nil, err
	}
	return &WebhookLimiter{
		enabled:   true,
		bucket:    bucket,
		reprocess: lease,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowClient spends one token of the bucket owned by clientIP.
func (l *WebhookLimiter) AllowClient(ctx context.Context, clientIP string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		clientIP = "unknown"
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyWebhookClient, clientIP))
}

// TryLockEvent leases the reprocess slot of one stored event.
func (l *WebhookLimiter) TryLockEvent(ctx context.Context, eventID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.reprocess.Acquire(ctx, eventID)
}

func (l *WebhookLimiter) ReleaseEvent(ctx context.Context, eventID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.reprocess.Release(ctx, eventID, token)
}
