package cart

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStream = "cart_events"
	keyPrefix     = "cart:"
)

// RedisStore keeps each buyer's cart as a Redis set and appends every change
// to a stream for downstream consumers.
type RedisStore struct {
	client PipelineClient
	stream string
	ttl    time.Duration
	maxLen int64
	now    func() time.Time
}

// PipelineClient is the minimal client surface used by RedisStore.
type PipelineClient interface {
	Pipeline() Pipeliner
	SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd
}

// Pipeliner is the subset of commands used within a pipeline.
type Pipeliner interface {
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Exec(ctx context.Context) ([]redis.Cmder, error)
}

// NewRedisStore constructs a Redis-backed cart. A zero ttl keeps carts forever.
func NewRedisStore(client PipelineClient, stream string, ttl time.Duration, maxLen int64) *RedisStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStore{
		client: client,
		stream: stream,
		ttl:    ttl,
		maxLen: maxLen,
		now:    time.Now,
	}
}

// Add puts a product in the user's cart.
func (r *RedisStore) Add(ctx context.Context, userID, productID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := keyPrefix + userID
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, key, productID)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	pipe.XAdd(ctx, r.event("added", userID, productID))

	_, err := pipe.Exec(ctx)
	return err
}

// Remove drops a product from the user's cart. Removing an absent item is not an error.
func (r *RedisStore) Remove(ctx context.Context, userID, productID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.SRem(ctx, keyPrefix+userID, productID)
	pipe.XAdd(ctx, r.event("removed", userID, productID))

	_, err := pipe.Exec(ctx)
	return err
}

// Contains reports whether the product is in the user's cart.
func (r *RedisStore) Contains(ctx context.Context, userID, productID string) (bool, error) {
	return r.client.SIsMember(ctx, keyPrefix+userID, productID).Result()
}

func (r *RedisStore) event(action, userID, productID string) *redis.XAddArgs {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"action":     action,
			"user_id":    userID,
			"product_id": productID,
			"timestamp":  r.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return args
}

// NewClient adapts a go-redis client to PipelineClient.
func NewClient(client *redis.Client) PipelineClient {
	return clientAdapter{client: client}
}

type clientAdapter struct {
	client *redis.Client
}

func (a clientAdapter) Pipeline() Pipeliner {
	return a.client.Pipeline()
}

func (a clientAdapter) SIsMember(ctx context.Context, key string, member any) *redis.BoolCmd {
	return a.client.SIsMember(ctx, key, member)
}
