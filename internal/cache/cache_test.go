package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get: %q %v", got, err)
	}
	got[0] = 'x'
	if again, _ := m.Get(ctx, "k"); string(again) != "v" {
		t.Fatalf("cached value was mutated through a returned slice")
	}

	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}

	_ = m.Set(ctx, "forever", []byte("1"), 0)
	_ = m.Delete(ctx, "forever")
	if _, err := m.Get(ctx, "forever"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after Delete, got %v", err)
	}
}

func TestRedisUnavailableIsNotAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := NewRedis(client, "classvote:")

	_, err := c.Get(context.Background(), "results:e1")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected a connection error, got %v", err)
	}
}
