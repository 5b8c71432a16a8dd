package idempotency

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Runs against a real server when LUMA_TEST_REDIS_ADDR is set.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("LUMA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LUMA_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client, "test:"+uuid.NewString()+":")
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	return store
}

func TestRedisStoreReservationLifecycle(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	res, err := store.Reserve(ctx, "key|emp_1", "fp", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %v %v", res.State, err)
	}
	res, err = store.Reserve(ctx, "key|emp_1", "fp", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %v %v", res.State, err)
	}
	if _, err := store.Reserve(ctx, "key|emp_1", "other", fixedTime, time.Minute); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	if err := store.SaveResponse(ctx, "key|emp_1", "fp", Response{Status: 201, Body: []byte(`{"id":"ord_1"}`)}, fixedTime, time.Minute); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}
	res, err = store.Reserve(ctx, "key|emp_1", "fp", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStateCompleted || string(res.Record.ResponseBody) != `{"id":"ord_1"}` {
		t.Fatalf("expected completed record, got %+v %v", res, err)
	}

	if err := store.Release(ctx, "key|emp_1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	res, err = store.Reserve(ctx, "key|emp_1", "other", fixedTime, time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected reservation after release, got %v %v", res.State, err)
	}
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil, ""); err == nil {
		t.Fatalf("expected error without client")
	}
}
