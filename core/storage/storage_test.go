package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestKV(t *testing.T) (*KV, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := New(client, "test")
	t.Cleanup(func() { _ = kv.Close() })
	return kv, mr
}

func TestPutGetJSON(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	type record struct {
		Answer int `json:"answer"`
	}

	if err := kv.PutJSON(ctx, ChallengeKey(100), record{Answer: 8}, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}

	var got record
	ok, err := kv.GetJSON(ctx, ChallengeKey(100), &got)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected record present")
	}
	if got.Answer != 8 {
		t.Fatalf("answer = %d, want 8", got.Answer)
	}

	ok, err = kv.GetJSON(ctx, ChallengeKey(999), &got)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("expected miss for unknown chat")
	}
}

func TestTTLExpiry(t *testing.T) {
	kv, mr := newTestKV(t)
	ctx := context.Background()

	if err := kv.PutString(ctx, VerifiedKey(7), "1", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	_, ok, err := kv.GetString(ctx, VerifiedKey(7))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected verified mark to expire")
	}
}

func TestDecr(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	if err := kv.PutString(ctx, AttemptsKey(5), "3", time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	for want := int64(2); want >= 0; want-- {
		got, err := kv.Decr(ctx, AttemptsKey(5))
		if err != nil {
			t.Fatalf("decr: %v", err)
		}
		if got != want {
			t.Fatalf("decr = %d, want %d", got, want)
		}
	}

	// A vanished counter decrements below zero; callers treat that as expired.
	got, err := kv.Decr(ctx, AttemptsKey(6))
	if err != nil {
		t.Fatalf("decr missing: %v", err)
	}
	if got != -1 {
		t.Fatalf("decr missing = %d, want -1", got)
	}
}

func TestDeleteAndMGet(t *testing.T) {
	kv, _ := newTestKV(t)
	ctx := context.Background()

	if err := kv.PutString(ctx, RouteKey(42), "100", 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := kv.PutString(ctx, BlockKey(100), "true", 0); err != nil {
		t.Fatalf("put: %v", err)
	}

	vals, err := kv.MGetStrings(ctx, RouteKey(42), BlockKey(100), VerifiedKey(100))
	if err != nil {
		t.Fatalf("mget: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("mget len = %d, want 3", len(vals))
	}
	if vals[0] == nil || *vals[0] != "100" {
		t.Fatalf("route = %v, want 100", vals[0])
	}
	if vals[1] == nil || *vals[1] != "true" {
		t.Fatalf("block = %v, want true", vals[1])
	}
	if vals[2] != nil {
		t.Fatalf("verified = %v, want nil", vals[2])
	}

	if err := kv.Delete(ctx, RouteKey(42), BlockKey(100)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err := kv.GetString(ctx, RouteKey(42))
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatal("expected route entry deleted")
	}
}
