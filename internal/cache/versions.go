package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/promptvault/internal/models"
	"github.com/redis/go-redis/v9"
)

// generationTTL outlives any listing entry so a fill never compares against
// a reset counter.
const generationTTL = 24 * time.Hour

// setIfGeneration stores the listing only when the prompt's generation still
// matches the one read before the store query.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// VersionCache stores active version listings per prompt. Every invalidation
// bumps a per-prompt generation, and fills are dropped when it moved.
type VersionCache struct {
	cache *Cache
	ttl   time.Duration
}

func NewVersionCache(c *Cache, ttl time.Duration) *VersionCache {
	return &VersionCache{cache: c, ttl: ttl}
}

func versionsKey(promptID uuid.UUID) string {
	return "prompt:" + promptID.String() + ":versions"
}

func generationKey(promptID uuid.UUID) string {
	return "prompt:" + promptID.String() + ":versions:gen"
}

func (v *VersionCache) GetVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, bool, error) {
	var versions []models.PromptVersion
	err := v.cache.Get(ctx, versionsKey(promptID), &versions)
	if errors.Is(err, ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return versions, true, nil
}

// Generation returns the prompt's current invalidation count.
func (v *VersionCache) Generation(ctx context.Context, promptID uuid.UUID) (int64, error) {
	gen, err := v.cache.client.Get(ctx, generationKey(promptID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache get generation: %w", err)
	}
	return gen, nil
}

// SetVersions caches a listing read at generation. It reports false when an
// invalidation happened since, in which case nothing is stored.
func (v *VersionCache) SetVersions(ctx context.Context, promptID uuid.UUID, generation int64, versions []models.PromptVersion) (bool, error) {
	if v.ttl <= 0 {
		return false, nil
	}
	data, err := json.Marshal(versions)
	if err != nil {
		return false, fmt.Errorf("marshal versions: %w", err)
	}
	stored, err := setIfGeneration.Run(ctx, v.cache.client,
		[]string{generationKey(promptID), versionsKey(promptID)},
		generation, data, v.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cache set versions: %w", err)
	}
	return stored == 1, nil
}

// InvalidateVersions bumps the generation before dropping the listing, so a
// fill racing with it cannot write the old listing back.
func (v *VersionCache) InvalidateVersions(ctx context.Context, promptID uuid.UUID) error {
	genKey := generationKey(promptID)
	if err := v.cache.client.Incr(ctx, genKey).Err(); err != nil {
		return fmt.Errorf("cache bump generation: %w", err)
	}
	if err := v.cache.client.Expire(ctx, genKey, generationTTL).Err(); err != nil {
		return fmt.Errorf("cache expire generation: %w", err)
	}
	return v.cache.Delete(ctx, versionsKey(promptID))
}
