// Package redis stores complete answers in Redis with a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/localrag/internal/core/domain"
)

const keyPrefix = "localrag:"

type AnswerCache struct {
	client *goredis.Client
}

// New connects from a redis:// URL.
func New(url string) (*AnswerCache, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse redis url", err)
	}
	return NewWithClient(goredis.NewClient(opts)), nil
}

func NewWithClient(client *goredis.Client) *AnswerCache {
	return &AnswerCache{client: client}
}

func (c *AnswerCache) Name() string { return "redis" }

func (c *AnswerCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return domain.WrapError(domain.ErrUpstreamUnavailable, "redis ping", err)
	}
	return nil
}

func (c *AnswerCache) Close() error {
	return c.client.Close()
}

// Get reports a miss as (nil, false, nil).
func (c *AnswerCache) Get(ctx context.Context, key string) (*domain.Answer, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrUpstreamUnavailable, "redis get", err)
	}
	var answer domain.Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return nil, false, fmt.Errorf("decode cached answer: %w", err)
	}
	return &answer, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, key string, answer *domain.Answer, ttl time.Duration) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrUpstreamUnavailable, "redis set", err)
	}
	return nil
}
