package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// OrderCache stores rendered order views. Postgres stays the source of truth;
// every mutation of an order drops its entry and bumps its generation.
// Readers take the generation before loading from the database and only
// write back if it is unchanged.
type OrderCache struct {
	RDB *redis.Client
	TTL time.Duration
}

func (c *OrderCache) ttl() time.Duration {
	if c.TTL <= 0 {
		return TTLOrderView
	}
	return c.TTL
}

// Get returns the cached body; a miss is (nil, false, nil).
func (c *OrderCache) Get(ctx context.Context, orderID string) ([]byte, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderView, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// setIfGen: KEYS[1]=gen, KEYS[2]=view; ARGV = expected gen, body, ttl ms.
var setIfGen = redis.NewScript(`
local g = redis.call('GET', KEYS[1])
if not g then g = '0' end
if g ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Generation returns the current invalidation counter of orderID (0 if never invalidated).
func (c *OrderCache) Generation(ctx context.Context, orderID string) (int64, error) {
	g, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderViewGen, orderID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return g, err
}

// SetIfGeneration stores body only if no invalidation happened since gen was read.
func (c *OrderCache) SetIfGeneration(ctx context.Context, orderID string, gen int64, body []byte) (bool, error) {
	n, err := setIfGen.Run(ctx, c.RDB,
		[]string{fmt.Sprintf(KeyOrderViewGen, orderID), fmt.Sprintf(KeyOrderView, orderID)},
		strconv.FormatInt(gen, 10), body, c.ttl().Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	genKey := fmt.Sprintf(KeyOrderViewGen, orderID)
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, TTLOrderGen)
		p.Del(ctx, fmt.Sprintf(KeyOrderView, orderID))
		return nil
	})
	return err
}

// Idempotency maps client checkout keys to the order they created.
type Idempotency struct {
	RDB *redis.Client
}

// Lookup returns the order id remembered for key, or "" on a miss.
func (i *Idempotency) Lookup(ctx context.Context, key string) (string, error) {
	id, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (i *Idempotency) Remember(ctx context.Context, key, orderID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

// Dedup marks event ids as seen for one consumer.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// FirstSeen atomically claims eventID; false means it was processed before.
func (d *Dedup) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Result()
}

// Forget drops the claim so a failed event can be processed again.
func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
