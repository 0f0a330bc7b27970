package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniredisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStoreFromClient(client, "test:", ttl)
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		store, _ := newMiniredisStore(t, 0)
		return store
	})
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniredisStore(t, time.Hour)

	if _, err := store.Save(ctx, "t1", sampleState("t1", 1), 0); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("test:thread:t1"); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)

	list, err := store.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("List() after expiry = %v", list)
	}
	// Expired threads start over.
	if v, err := store.Save(ctx, "t1", sampleState("t1", 1), 0); err != nil || v != 1 {
		t.Fatalf("Save() after expiry = %d, %v", v, err)
	}
}
