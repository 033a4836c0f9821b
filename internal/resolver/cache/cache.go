// Package cache holds the parsed-ruleset content cache. Content blobs are
// immutable once uploaded, so entries are keyed by ruleset id plus checksum
// and can never serve a stale "active" pointer: activation changes which id
// the resolver asks for, not what the key maps to.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	rulesetmodels "rulegate/internal/ruleset/models"
	"rulegate/internal/platform/redis"
	"rulegate/pkg/domain"
)

const entryTTL = 24 * time.Hour

// ContentCache caches parsed rule collections in Redis. A nil receiver or a
// nil Redis client disables caching: every call falls through to the loader.
type ContentCache struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *ContentCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentCache{client: client, logger: logger}
}

func key(id domain.RulesetID, checksum string) string {
	return "rulegate:ruleset-content:" + id.String() + ":" + checksum
}

// GetOrLoad returns the parsed rules for a ruleset, loading and caching them
// on a miss. Cache failures degrade to the loader; they are never fatal.
func (c *ContentCache) GetOrLoad(
	ctx context.Context,
	id domain.RulesetID,
	checksum string,
	load func(ctx context.Context) ([]rulesetmodels.Rule, error),
) ([]rulesetmodels.Rule, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}

	k := key(id, checksum)
	raw, err := c.client.Get(ctx, k).Bytes()
	if err == nil {
		var rules []rulesetmodels.Rule
		if err := json.Unmarshal(raw, &rules); err == nil {
			return rules, nil
		}
		c.logger.WarnContext(ctx, "corrupt cache entry, reloading", "key", k)
	}

	rules, err := load(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(rules); err == nil {
		if err := c.client.Set(ctx, k, encoded, entryTTL).Err(); err != nil {
			c.logger.WarnContext(ctx, "cache write failed", "key", k, "error", err)
		}
	}
	return rules, nil
}
