package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/mickgian/pratikoai-retrieval/internal/core/domain"
)

const defaultTTL = 24 * time.Hour

// ExpansionCache keeps successful query expansions in Redis as JSON entries.
type ExpansionCache struct {
	client *goredis.Client
	ttl    time.Duration
}

type cacheEntry struct {
	Variants  domain.QueryVariants `json:"variants"`
	CreatedAt time.Time            `json:"created_at"`
}

// New parses a redis:// URL and returns a cache bound to it. The connection is
// verified lazily by Ping.
func New(url string, ttl time.Duration) (*ExpansionCache, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(goredis.NewClient(opts), ttl), nil
}

func NewWithClient(client *goredis.Client, ttl time.Duration) *ExpansionCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &ExpansionCache{client: client, ttl: ttl}
}

func (c *ExpansionCache) Get(ctx context.Context, key string) (*domain.QueryVariants, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	variants, err := decodeEntry(data)
	if err != nil {
		return nil, false, err
	}
	return variants, true, nil
}

func (c *ExpansionCache) Set(ctx context.Context, key string, variants domain.QueryVariants) error {
	data, err := encodeEntry(variants, time.Now().UTC())
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *ExpansionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *ExpansionCache) Close() error {
	return c.client.Close()
}

func encodeEntry(variants domain.QueryVariants, now time.Time) ([]byte, error) {
	data, err := json.Marshal(cacheEntry{Variants: variants, CreatedAt: now})
	if err != nil {
		return nil, fmt.Errorf("marshal expansion entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*domain.QueryVariants, error) {
	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "decode expansion entry", err)
	}
	return &entry.Variants, nil
}
