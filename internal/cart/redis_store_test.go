package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStore_RemoveDropsItemAndRecordsEvent(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	store := NewRedisStore(&stubClient{pipe: pipe}, "", 0, 0)

	if err := store.Remove(context.Background(), "buyer-1", "p-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(pipe.srems) != 1 || pipe.srems[0] != "cart:buyer-1" {
		t.Fatalf("unexpected SREM calls: %v", pipe.srems)
	}
	if len(pipe.xadds) != 1 {
		t.Fatalf("expected 1 XADD, got %d", len(pipe.xadds))
	}
	if pipe.xadds[0].Stream != DefaultStream {
		t.Fatalf("expected default stream, got %q", pipe.xadds[0].Stream)
	}
	values := pipe.xadds[0].Values.(map[string]any)
	if values["action"] != "removed" || values["product_id"] != "p-1" {
		t.Fatalf("unexpected event values: %+v", values)
	}
	if !pipe.execCalled {
		t.Fatalf("expected Exec to be called")
	}
}

func TestRedisStore_AddAppliesTTLAndMaxLen(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	store := NewRedisStore(&stubClient{pipe: pipe}, "carts", time.Hour, 100)

	if err := store.Add(context.Background(), "buyer-1", "p-1"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if pipe.expirations["cart:buyer-1"] != time.Hour {
		t.Fatalf("unexpected ttl: %v", pipe.expirations)
	}
	if pipe.xadds[0].MaxLen != 100 || !pipe.xadds[0].Approx {
		t.Fatalf("expected maxlen settings applied, got %+v", pipe.xadds[0])
	}
}

func TestRedisStore_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{}
	store := NewRedisStore(&stubClient{pipe: pipe}, "", 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Remove(ctx, "buyer-1", "p-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pipe.execCalled || len(pipe.srems) > 0 {
		t.Fatalf("expected no writes when context canceled")
	}
}

func TestRedisStore_ExecErrorPropagates(t *testing.T) {
	t.Parallel()

	pipe := &stubPipeline{execErr: errors.New("redis down")}
	store := NewRedisStore(&stubClient{pipe: pipe}, "", 0, 0)

	if err := store.Remove(context.Background(), "buyer-1", "p-1"); err == nil {
		t.Fatalf("expected exec error")
	}
}

func TestRedisStore_AgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(NewClient(client), "cart_events", 0, 0)
	ctx := context.Background()

	if err := store.Add(ctx, "buyer-1", "p-1"); err != nil {
		t.Fatalf("add p-1: %v", err)
	}
	if err := store.Add(ctx, "buyer-1", "p-2"); err != nil {
		t.Fatalf("add p-2: %v", err)
	}
	if err := store.Remove(ctx, "buyer-1", "p-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "buyer-1", "never-added"); err != nil {
		t.Fatalf("remove absent item: %v", err)
	}

	in, err := store.Contains(ctx, "buyer-1", "p-1")
	if err != nil || in {
		t.Fatalf("p-1 should be gone: in=%v err=%v", in, err)
	}
	in, err = store.Contains(ctx, "buyer-1", "p-2")
	if err != nil || !in {
		t.Fatalf("p-2 should remain: in=%v err=%v", in, err)
	}

	entries, err := client.XRange(ctx, "cart_events", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 stream entries, got %d", len(entries))
	}
	if entries[2].Values["action"] != "removed" {
		t.Fatalf("unexpected third event: %+v", entries[2].Values)
	}
}

type stubClient struct {
	pipe *stubPipeline
}

func (s *stubClient) Pipeline() Pipeliner { return s.pipe }

func (s *stubClient) SIsMember(ctx context.Context, _ string, _ any) *redis.BoolCmd {
	return redis.NewBoolCmd(ctx)
}

type stubPipeline struct {
	sadds       []string
	srems       []string
	expirations map[string]time.Duration
	xadds       []redis.XAddArgs
	execCalled  bool
	execErr     error
}

func (s *stubPipeline) SAdd(ctx context.Context, key string, _ ...any) *redis.IntCmd {
	s.sadds = append(s.sadds, key)
	return redis.NewIntCmd(ctx)
}

func (s *stubPipeline) SRem(ctx context.Context, key string, _ ...any) *redis.IntCmd {
	s.srems = append(s.srems, key)
	return redis.NewIntCmd(ctx)
}

func (s *stubPipeline) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	if s.expirations == nil {
		s.expirations = map[string]time.Duration{}
	}
	s.expirations[key] = ttl
	return redis.NewBoolCmd(ctx)
}

func (s *stubPipeline) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	s.xadds = append(s.xadds, *a)
	return redis.NewStringCmd(ctx)
}

func (s *stubPipeline) Exec(_ context.Context) ([]redis.Cmder, error) {
	s.execCalled = true
	return nil, s.execErr
}
