package livestatus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/ksred/swaprouter/internal/types"
)

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ttl), mr
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "o1"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	for _, status := range []types.OrderStatus{types.StatusPending, types.StatusRouting, types.StatusSubmitted} {
		if err := s.Set(ctx, "o1", status); err != nil {
			t.Fatalf("set %s: %v", status, err)
		}
	}

	got, ok, err := s.Get(ctx, "o1")
	if err != nil || !ok || got != types.StatusSubmitted {
		t.Fatalf("get = %q ok=%v err=%v, want last write submitted", got, ok, err)
	}

	if err := s.Delete(ctx, "o1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "o1"); ok {
		t.Fatal("entry survived delete")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("deleting a missing entry should be a no-op, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	s, _ := newRedisStore(t, 0)
	exerciseStore(t, s)
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newRedisStore(t, 0)

	if err := s.Set(context.Background(), "abc", types.StatusBuilding); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err := mr.Get("order-status:abc")
	if err != nil || val != "building" {
		t.Fatalf("raw value = %q err=%v", val, err)
	}
}

func TestRedisStore_TTL(t *testing.T) {
	s, mr := newRedisStore(t, time.Minute)
	ctx := context.Background()

	if err := s.Set(ctx, "o1", types.StatusRouting); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL(Key("o1")); ttl != time.Minute {
		t.Fatalf("ttl = %v, want 1m", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "o1"); ok {
		t.Fatal("entry should have expired")
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	s, mr := newRedisStore(t, 0)
	mr.Close()

	if err := s.Set(context.Background(), "o1", types.StatusPending); err == nil {
		t.Fatal("expected error when redis is down")
	}
}
