package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
)

func TestNewTokenBucketValidates(t *testing.T) {
	if _, err := NewTokenBucket(nil, 1, 1); !errors.Is(err, ErrBucketNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewTokenBucket(client, 0, 1); !errors.Is(err, ErrBucketInvalidRate) {
		t.Fatalf("expected invalid rate, got %v", err)
	}
	if _, err := NewTokenBucket(client, 1, 0); !errors.Is(err, ErrBucketInvalidRate) {
		t.Fatalf("expected invalid burst, got %v", err)
	}
}

func TestTokenBucketTakeRejectsEmptyKey(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	bucket, err := NewTokenBucket(client, 1, 1)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	if _, err := bucket.Take(context.Background(), ""); !errors.Is(err, ErrBucketInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
}

func TestTokenBucketReportsRemainingAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	bucket, err := NewTokenBucket(client, 1, 3)
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}
	res, err := bucket.Take(context.Background(), "bucket:a")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if !res.Allowed || res.Remaining != 2 || res.Limit != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if ttl := mr.TTL("bucket:a"); ttl <= 0 || ttl > 6*time.Second {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}
