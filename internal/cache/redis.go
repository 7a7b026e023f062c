// Package cache holds the Redis-backed availability snapshot cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "booking:availability:"

// AvailabilityCache keeps one Redis hash per provider and local date, with
// one field per service. Invalidating a provider's day drops every service
// at once.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func NewAvailabilityCache(ctx context.Context, opts Options) (*AvailabilityCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewAvailabilityCacheFromClient(client, opts.TTL), nil
}

func NewAvailabilityCacheFromClient(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AvailabilityCache{client: client, ttl: ttl}
}

func (c *AvailabilityCache) Close() error {
	return c.client.Close()
}

func availabilityKey(providerID uuid.UUID, date string) string {
	return keyPrefix + providerID.String() + ":" + date
}

// generationKey counts invalidations of a provider's day. It outlives the
// snapshot hash so a write computed before an invalidation can be refused.
func generationKey(providerID uuid.UUID, date string) string {
	return keyPrefix + "gen:" + providerID.String() + ":" + date
}

func encodeSlots(slots []string) string {
	return strings.Join(slots, ",")
}

func decodeSlots(v string) []string {
	if v == "" {
		return []string{}
	}
	return strings.Split(v, ",")
}

var setIfCurrentScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if (gen or "0") ~= ARGV[1] then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[2], ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// Get returns the cached slots of a service together with the generation of
// the provider's day. On a miss the generation is still returned; pass it to
// Set after computing the snapshot.
func (c *AvailabilityCache) Get(ctx context.Context, providerID uuid.UUID, date string, serviceID uuid.UUID) ([]string, int64, bool, error) {
	pipe := c.client.Pipeline()
	slotsCmd := pipe.HGet(ctx, availabilityKey(providerID, date), serviceID.String())
	genCmd := pipe.Get(ctx, generationKey(providerID, date))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("failed to get availability from cache: %w", err)
	}

	gen, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, fmt.Errorf("failed to read availability generation: %w", err)
	}
	v, err := slotsCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to get availability from cache: %w", err)
	}
	return decodeSlots(v), gen, true, nil
}

// Set stores slots only if the provider's day is still at generation gen.
// It reports false when an invalidation happened in between.
func (c *AvailabilityCache) Set(ctx context.Context, providerID uuid.UUID, date string, serviceID uuid.UUID, gen int64, slots []string) (bool, error) {
	keys := []string{availabilityKey(providerID, date), generationKey(providerID, date)}
	stored, err := setIfCurrentScript.Run(ctx, c.client, keys,
		strconv.FormatInt(gen, 10), serviceID.String(), encodeSlots(slots), c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set availability in cache: %w", err)
	}
	return stored == 1, nil
}

// Invalidate drops every service's snapshot for the day and bumps its
// generation.
func (c *AvailabilityCache) Invalidate(ctx context.Context, providerID uuid.UUID, date string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, generationKey(providerID, date))
	pipe.Expire(ctx, generationKey(providerID, date), c.generationTTL())
	pipe.Del(ctx, availabilityKey(providerID, date))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate availability cache: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) generationTTL() time.Duration {
	return max(24*time.Hour, 2*c.ttl)
}
