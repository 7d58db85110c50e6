// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jllopis/meshwork/pkg/errors"
)

// RedisProvider keeps service endpoints in the Redis hash
// "<namespace>:services", one JSON-encoded endpoint per service id.
type RedisProvider struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

// RedisOption configures a RedisProvider.
type RedisOption func(*RedisProvider)

// WithRedisTTL expires entries that were not re-registered within ttl.
// Zero keeps entries until they are deregistered.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(p *RedisProvider) {
		if ttl >= 0 {
			p.ttl = ttl
		}
	}
}

// NewRedisProvider wraps an existing client.
func NewRedisProvider(client redis.UniversalClient, namespace string, opts ...RedisOption) *RedisProvider {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "meshwork"
	}
	p := &RedisProvider{client: client, namespace: namespace, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRedisProviderFromURL connects to the redis:// URL.
func NewRedisProviderFromURL(url, namespace string, opts ...RedisOption) (*RedisProvider, error) {
	redisOpt, err := redis.ParseURL(strings.TrimSpace(url))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid redis url", err)
	}
	return NewRedisProvider(redis.NewClient(redisOpt), namespace, opts...), nil
}

func (p *RedisProvider) key() string {
	return p.namespace + ":services"
}

// List returns the live endpoints sorted by id. Expired entries are
// removed from the hash.
func (p *RedisProvider) List(ctx context.Context) ([]ServiceEndpoint, error) {
	if p == nil || p.client == nil {
		return nil, nil
	}
	raw, err := p.client.HGetAll(ctx, p.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list services: %w", err)
	}
	now := p.now().UTC()
	out := make([]ServiceEndpoint, 0, len(raw))
	var expired []string
	for id, value := range raw {
		var endpoint ServiceEndpoint
		if err := json.Unmarshal([]byte(value), &endpoint); err != nil {
			slog.WarnContext(ctx, "discovery.redis.entry.invalid",
				slog.String("service", id),
				slog.String("error", err.Error()))
			continue
		}
		if !endpoint.ExpiresAt.IsZero() && now.After(endpoint.ExpiresAt) {
			expired = append(expired, id)
			continue
		}
		if endpoint.ID == "" {
			endpoint.ID = id
		}
		out = append(out, endpoint)
	}
	if len(expired) > 0 {
		if err := p.client.HDel(ctx, p.key(), expired...).Err(); err != nil {
			slog.WarnContext(ctx, "discovery.redis.expire.failed", slog.String("error", err.Error()))
		}
	}
	SortByID(out)
	return out, nil
}

// Register stores or replaces endpoint.
func (p *RedisProvider) Register(ctx context.Context, endpoint ServiceEndpoint) error {
	id := strings.TrimSpace(endpoint.ID)
	if id == "" {
		return errors.New(errors.CodeInvalidInput, "service endpoint missing id", nil)
	}
	endpoint.ID = id
	if p.ttl > 0 {
		endpoint.ExpiresAt = p.now().UTC().Add(p.ttl)
	}
	payload, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}
	if err := p.client.HSet(ctx, p.key(), id, payload).Err(); err != nil {
		return fmt.Errorf("redis register %s: %w", id, err)
	}
	return nil
}

// Deregister removes the endpoint for id. It reports whether one existed.
func (p *RedisProvider) Deregister(ctx context.Context, id string) (bool, error) {
	n, err := p.client.HDel(ctx, p.key(), strings.TrimSpace(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis deregister %s: %w", id, err)
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (p *RedisProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
