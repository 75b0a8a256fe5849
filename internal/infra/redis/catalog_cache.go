package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"coach-assessment-service/internal/catalog"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// CatalogLoader fetches catalog artifacts from a backing store (e.g., Postgres).
type CatalogLoader interface {
	LoadCatalog(ctx context.Context, version string) (catalog.Artifact, error)
}

// CatalogCache shares catalog artifacts between replicas through Redis and falls back
// to a loader on cache miss.
// Artifacts are stored as: SET catalog:artifact:{version} {json}
// The active version as:   SET catalog:active {version}
// Compiled catalogs are kept in process; a version never changes once published.
type CatalogCache struct {
	client *redis.Client
	loader CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu       sync.RWMutex
	compiled map[string]*catalog.Catalog
}

func NewCatalogCache(client *redis.Client, loader CatalogLoader, ttl time.Duration) *CatalogCache {
	return &CatalogCache{
		client:   client,
		loader:   loader,
		ttl:      ttl,
		compiled: make(map[string]*catalog.Catalog),
	}
}

func (r *CatalogCache) Catalog(ctx context.Context, version string) (*catalog.Catalog, error) {
	if version == "" {
		if active, err := r.client.Get(ctx, activeKey).Result(); err == nil {
			version = active
		}
	}
	if c, ok := r.compiledVersion(version); ok {
		return c, nil
	}

	result, err, _ := r.sf.Do("catalog:"+version, func() (interface{}, error) {
		if version != "" {
			if c, ok := r.compiledVersion(version); ok {
				return c, nil
			}
			if a, ok := r.cachedArtifact(ctx, version); ok {
				return r.compile(a)
			}
		}

		a, err := r.loader.LoadCatalog(ctx, version)
		if err != nil {
			return nil, err
		}
		c, err := r.compile(a)
		if err != nil {
			return nil, err
		}
		r.store(ctx, a, version == "")
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*catalog.Catalog), nil
}

func (r *CatalogCache) compiledVersion(version string) (*catalog.Catalog, bool) {
	if version == "" {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.compiled[version]
	return c, ok
}

func (r *CatalogCache) cachedArtifact(ctx context.Context, version string) (catalog.Artifact, bool) {
	raw, err := r.client.Get(ctx, artifactKey(version)).Bytes()
	if err != nil {
		return catalog.Artifact{}, false
	}
	var a catalog.Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return catalog.Artifact{}, false
	}
	return a, true
}

func (r *CatalogCache) compile(a catalog.Artifact) (*catalog.Catalog, error) {
	c, err := catalog.Compile(a)
	if err != nil {
		return nil, fmt.Errorf("compile catalog %s: %w", a.Version, err)
	}
	r.mu.Lock()
	r.compiled[c.Version()] = c
	r.mu.Unlock()
	return c, nil
}

// store is best effort; a failed write only costs another load.
func (r *CatalogCache) store(ctx context.Context, a catalog.Artifact, active bool) {
	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	ttl := r.ttlWithJitter()
	pipe := r.client.Pipeline()
	pipe.Set(ctx, artifactKey(a.Version), raw, ttl)
	if active {
		pipe.Set(ctx, activeKey, a.Version, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

const activeKey = "catalog:active"

func artifactKey(version string) string {
	return "catalog:artifact:" + version
}

func (r *CatalogCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(rand.Int64N(jitterMax+1))
}
