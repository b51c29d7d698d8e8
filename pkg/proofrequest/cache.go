package proofrequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/proof-portal/pkg/common/logger"
	"github.com/synaptica-ai/proof-portal/pkg/common/models"
)

const (
	listCacheKey      = "proof_requests:list"
	listGenerationKey = "proof_requests:list:generation"
)

// CachedStore keeps List snapshots in Redis under a generation number that
// every write bumps. Cache failures fall through to the wrapped store.
type CachedStore struct {
	inner Store
	redis redis.Cmdable
	ttl   time.Duration
}

func NewCachedStore(inner Store, client redis.Cmdable, ttl time.Duration) *CachedStore {
	return &CachedStore{inner: inner, redis: client, ttl: ttl}
}

func (c *CachedStore) List(ctx context.Context) ([]Record, error) {
	generation, err := c.redis.Get(ctx, listGenerationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		logger.Log.WithError(err).Warn("proof request cache read failed")
		return c.inner.List(ctx)
	}
	key := fmt.Sprintf("%s:%d", listCacheKey, generation)

	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var records []Record
		if err := json.Unmarshal(data, &records); err == nil {
			return records, nil
		}
		logger.Log.WithField("key", key).Warn("discarding unreadable proof request cache entry")
	} else if !errors.Is(err, redis.Nil) {
		logger.Log.WithError(err).Warn("proof request cache read failed")
	}

	records, err := c.inner.List(ctx)
	if err != nil {
		return nil, err
	}
	// A write that commits after the generation was read has bumped it, so
	// this snapshot lands under a key no later reader uses.
	if payload, err := json.Marshal(records); err == nil {
		if err := c.redis.SetNX(ctx, key, payload, c.ttl).Err(); err != nil {
			logger.Log.WithError(err).Warn("proof request cache write failed")
		}
	}
	return records, nil
}

func (c *CachedStore) Get(ctx context.Context, id string) (Record, error) {
	return c.inner.Get(ctx, id)
}

func (c *CachedStore) Create(ctx context.Context, rec Record) (Record, error) {
	created, err := c.inner.Create(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	c.Invalidate(ctx)
	return created, nil
}

func (c *CachedStore) ApplyTransition(ctx context.Context, id string, t Transition) (Record, error) {
	next, err := c.inner.ApplyTransition(ctx, id, t)
	if err != nil {
		return Record{}, err
	}
	c.Invalidate(ctx)
	return next, nil
}

func (c *CachedStore) BulkApplyTransition(ctx context.Context, ids []string, t Transition) ([]TransitionResult, error) {
	results, err := c.inner.BulkApplyTransition(ctx, ids, t)
	c.Invalidate(ctx)
	return results, err
}

// Invalidate moves readers to a new generation. Old snapshots expire with
// their TTL.
func (c *CachedStore) Invalidate(ctx context.Context) {
	if err := c.redis.Incr(ctx, listGenerationKey).Err(); err != nil {
		logger.Log.WithError(err).Warn("proof request cache invalidation failed")
	}
}

// PeerInvalidation returns an event handler that invalidates the cache for
// proof request events published by any instance other than instanceID.
func (c *CachedStore) PeerInvalidation(instanceID string) func(ctx context.Context, event models.Event) error {
	return func(ctx context.Context, event models.Event) error {
		if !strings.HasPrefix(event.Type, eventTypePrefix) {
			return nil
		}
		if origin, _ := event.Data[eventInstanceKey].(string); origin == instanceID {
			return nil
		}
		c.Invalidate(ctx)
		return nil
	}
}
