package engine

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/logging"
)

// DefaultModelTTL is how long a successful discovery result is cached.
const DefaultModelTTL = 5 * time.Minute

// ModelSource is one level of the cascading model discovery: a named fetch
// against a live backend, a REST endpoint or a locally configured provider.
type ModelSource struct {
	Name  string
	Fetch func(ctx context.Context) ([]ModelInfo, error)
}

// Catalog resolves a model list through cascading fallback with caching.
// Sources are tried in order; the first success is cached for the TTL. When
// every source fails the hardcoded fallback list is returned and never
// cached, so the next call re-attempts the richer sources.
//
// The cached snapshot is swapped atomically under the lock; readers never
// observe a partially updated entry.
type Catalog struct {
	mu       sync.RWMutex
	sources  []ModelSource
	fallback []ModelInfo
	ttl      time.Duration
	cached   []ModelInfo
	expires  time.Time
	logger   logging.Logger
}

// CatalogOptions configures a Catalog.
type CatalogOptions struct {
	// TTL for cached discovery results. Defaults to DefaultModelTTL.
	TTL time.Duration
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// NewCatalog builds a catalog over ordered sources with a hardcoded
// fallback list.
func NewCatalog(sources []ModelSource, fallback []ModelInfo, optFns ...func(o *CatalogOptions)) *Catalog {
	opts := CatalogOptions{TTL: DefaultModelTTL, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Catalog{
		sources:  sources,
		fallback: fallback,
		ttl:      opts.TTL,
		logger:   opts.Logger,
	}
}

// Models returns the current model list, consulting the cache first. It
// never returns an empty list while a fallback is configured.
func (c *Catalog) Models(ctx context.Context) []ModelInfo {
	c.mu.RLock()
	if c.cached != nil && time.Now().Before(c.expires) {
		models := cloneModels(c.cached)
		c.mu.RUnlock()

		return models
	}
	c.mu.RUnlock()

	for _, src := range c.sources {
		start := time.Now()

		models, err := src.Fetch(ctx)
		if err != nil || len(models) == 0 {
			if err != nil {
				c.logger.Warn("model discovery source failed", "source", src.Name, "error", err)
			}
			continue
		}

		c.logger.Debug("model discovery succeeded", "source", src.Name, "count", len(models), "duration", time.Since(start))

		c.mu.Lock()
		c.cached = cloneModels(models)
		c.expires = time.Now().Add(c.ttl)
		c.mu.Unlock()

		return models
	}

	// Hardcoded fallback is intentionally never cached.
	return cloneModels(c.fallback)
}

// Refresh invalidates the cache so the next Models call re-runs discovery.
func (c *Catalog) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached = nil
	c.expires = time.Time{}
}

func cloneModels(models []ModelInfo) []ModelInfo {
	out := make([]ModelInfo, len(models))
	copy(out, models)

	return out
}
