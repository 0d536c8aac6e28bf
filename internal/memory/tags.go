package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/samber/lo"

	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

// TagRepository is the get-or-create boundary for tags.
type TagRepository interface {
	GetOrCreate(ctx context.Context, name, color string, now time.Time) (*models.Tag, error)
}

// NewTagCache builds a cache for resolved tags. Tags are immutable once
// created, so entries never need invalidation.
func NewTagCache(maxTags int64) (*ristretto.Cache, error) {
	if maxTags <= 0 {
		maxTags = 10_000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxTags * 10,
		MaxCost:     maxTags,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create tag cache: %w", err)
	}
	return cache, nil
}

// TagResolver maps free-text tag names onto canonical Tag records.
type TagResolver struct {
	tags  TagRepository
	cache *ristretto.Cache // optional
	now   func() time.Time
}

// NewTagResolver creates a resolver. cache may be nil.
func NewTagResolver(tags TagRepository, cache *ristretto.Cache) *TagResolver {
	return &TagResolver{tags: tags, cache: cache, now: time.Now}
}

// NormalizeTagNames trims, lower-cases and bounds each name, drops empties and
// collapses repeats while keeping first-seen order.
func NormalizeTagNames(names []string) []string {
	normalized := lo.Map(names, func(n string, _ int) string { return models.NormalizeTagName(n) })
	return lo.Uniq(lo.Compact(normalized))
}

// Resolve returns one Tag per distinct normalized name, creating missing tags
// with the default color.
func (r *TagResolver) Resolve(ctx context.Context, names []string) ([]models.Tag, error) {
	normalized := NormalizeTagNames(names)
	tags := make([]models.Tag, 0, len(normalized))
	for _, name := range normalized {
		if r.cache != nil {
			if v, ok := r.cache.Get(name); ok {
				tags = append(tags, v.(models.Tag))
				continue
			}
		}
		tag, err := r.tags.GetOrCreate(ctx, name, models.DefaultTagColor, r.now())
		if err != nil {
			return tags, fmt.Errorf("resolve tag %q: %w", name, err)
		}
		if r.cache != nil {
			r.cache.Set(name, *tag, 1)
		}
		tags = append(tags, *tag)
	}
	return tags, nil
}
