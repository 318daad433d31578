package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betsats/betsats/internal/domain"
)

// competitionTTL keeps cached reads short-lived: aggregates change on every
// funding fold, and the cache only serves the public read surface.
const competitionTTL = 30 * time.Second

// CompetitionCache is a read-through cache for the competition read surface.
// The conditional-write paths never read from it; they always go to the
// store, so a stale cache can delay what a reader sees but never corrupt
// what a writer does.
//
// Key schema:
//
//	betsats:competition:{id} - JSON-serialised Competition
type CompetitionCache struct {
	rdb *redis.Client
}

// NewCompetitionCache creates a CompetitionCache backed by the given Client.
func NewCompetitionCache(c *Client) *CompetitionCache {
	return &CompetitionCache{rdb: c.Underlying()}
}

func competitionKey(id string) string { return "betsats:competition:" + id }

// Set stores a competition with a short TTL.
func (cc *CompetitionCache) Set(ctx context.Context, comp domain.Competition) error {
	data, err := json.Marshal(comp)
	if err != nil {
		return fmt.Errorf("redis: marshal competition %s: %w", comp.ID, err)
	}
	if err := cc.rdb.Set(ctx, competitionKey(comp.ID), data, competitionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set competition %s: %w", comp.ID, err)
	}
	return nil
}

// Get retrieves a competition by ID. It returns domain.ErrNotFound when the
// key does not exist or has expired.
func (cc *CompetitionCache) Get(ctx context.Context, id string) (domain.Competition, error) {
	data, err := cc.rdb.Get(ctx, competitionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Competition{}, domain.ErrNotFound
		}
		return domain.Competition{}, fmt.Errorf("redis: get competition %s: %w", id, err)
	}

	var comp domain.Competition
	if err := json.Unmarshal(data, &comp); err != nil {
		return domain.Competition{}, fmt.Errorf("redis: unmarshal competition %s: %w", id, err)
	}
	return comp, nil
}

// Invalidate removes a competition from the cache.
func (cc *CompetitionCache) Invalidate(ctx context.Context, id string) error {
	if err := cc.rdb.Del(ctx, competitionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate competition %s: %w", id, err)
	}
	return nil
}
