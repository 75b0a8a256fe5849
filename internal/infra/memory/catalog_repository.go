package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches catalog artifacts from a backing store (e.g., Postgres).
// An empty version selects the active artifact.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context, version string) (catalog.Artifact, error)
}

// CatalogRepository caches compiled catalogs with TTL to avoid repeated loads and
// recompilation.
type CatalogRepository struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedCatalog
}

type cachedCatalog struct {
	catalog   *catalog.Catalog
	expiresAt time.Time
}

func NewCatalogRepository(loader CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		cache:  make(map[string]cachedCatalog),
	}
}

func (r *CatalogRepository) Catalog(ctx context.Context, version string) (*catalog.Catalog, error) {
	if c, ok := r.cached(version); ok {
		return c, nil
	}

	result, err, _ := r.sf.Do(version, func() (interface{}, error) {
		if c, ok := r.cached(version); ok {
			return c, nil
		}
		artifact, err := r.loader.LoadCatalog(ctx, version)
		if err != nil {
			return nil, err
		}
		c, err := catalog.Compile(artifact)
		if err != nil {
			return nil, fmt.Errorf("compile catalog %s: %w", artifact.Version, err)
		}

		expiresAt := r.clock().Add(r.ttlWithJitter())
		r.mu.Lock()
		r.cache[version] = cachedCatalog{catalog: c, expiresAt: expiresAt}
		if version == "" {
			r.cache[c.Version()] = cachedCatalog{catalog: c, expiresAt: expiresAt}
		}
		r.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*catalog.Catalog), nil
}

func (r *CatalogRepository) cached(version string) (*catalog.Catalog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[version]
	if !ok || !entry.expiresAt.After(r.clock()) {
		return nil, false
	}
	return entry.catalog, true
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int64N(jitterMax+1))
}

// StaticCatalogLoader serves artifacts held in memory (embedded default, tests).
type StaticCatalogLoader struct {
	active    string
	artifacts map[string]catalog.Artifact
}

// NewStaticCatalogLoader serves active plus any older versions.
func NewStaticCatalogLoader(active catalog.Artifact, others ...catalog.Artifact) *StaticCatalogLoader {
	l := &StaticCatalogLoader{
		active:    active.Version,
		artifacts: map[string]catalog.Artifact{active.Version: active},
	}
	for _, a := range others {
		l.artifacts[a.Version] = a
	}
	return l
}

func (l *StaticCatalogLoader) LoadCatalog(_ context.Context, version string) (catalog.Artifact, error) {
	if version == "" {
		version = l.active
	}
	if a, ok := l.artifacts[version]; ok {
		return a, nil
	}
	return catalog.Artifact{}, fmt.Errorf("%w: version %q", domain.ErrCatalogNotFound, version)
}
