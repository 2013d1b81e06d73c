package template

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/dispatch-core/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultCacheTTL     = time.Minute
	defaultCacheCleanup = 5 * time.Minute
)

// Store returns the active versions of a template for one channel.
type Store interface {
	FindActive(ctx context.Context, templateID string, channel domain.Channel) ([]domain.NotificationTemplate, error)
}

// Resolver picks the template version to render for a user, caching store lookups.
type Resolver struct {
	store Store
	cache *gocache.Cache
}

func NewResolver(store Store, ttl time.Duration) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("template store is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &Resolver{
		store: store,
		cache: gocache.New(ttl, defaultCacheCleanup),
	}, nil
}

// Resolve returns the active template matching language, falling back to the
// default language and then to the newest active version.
func (r *Resolver) Resolve(ctx context.Context, templateID string, channel domain.Channel, language string) (*domain.NotificationTemplate, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return nil, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}

	candidates, err := r.candidates(ctx, templateID, channel)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrTemplateNotFound, templateID, channel)
	}

	language = strings.ToLower(strings.TrimSpace(language))
	for _, want := range []string{language, domain.DefaultLanguage} {
		if want == "" {
			continue
		}
		for i := range candidates {
			if strings.EqualFold(candidates[i].Language, want) {
				tpl := candidates[i]
				return &tpl, nil
			}
		}
	}

	tpl := candidates[0]
	return &tpl, nil
}

// Invalidate drops the cached versions of a template after an upsert.
func (r *Resolver) Invalidate(templateID string, channel domain.Channel) {
	r.cache.Delete(cacheKey(templateID, channel))
}

func (r *Resolver) candidates(ctx context.Context, templateID string, channel domain.Channel) ([]domain.NotificationTemplate, error) {
	key := cacheKey(templateID, channel)
	if cached, ok := r.cache.Get(key); ok {
		return cached.([]domain.NotificationTemplate), nil
	}

	found, err := r.store.FindActive(ctx, templateID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load template %s: %w", templateID, err)
	}

	active := make([]domain.NotificationTemplate, 0, len(found))
	for _, tpl := range found {
		if tpl.Active {
			active = append(active, tpl)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Version > active[j].Version
	})

	if len(active) > 0 {
		r.cache.SetDefault(key, active)
	}
	return active, nil
}

func cacheKey(templateID string, channel domain.Channel) string {
	return templateID + "|" + channel.String()
}
