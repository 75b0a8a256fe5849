package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"coach-assessment-service/internal/catalog"
	"coach-assessment-service/internal/domain"
	"coach-assessment-service/internal/infra/memory"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCacheStoresArtifactInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(mr)
	loader := &countingLoader{CatalogLoader: memory.NewStaticCatalogLoader(sampleArtifact("v1"))}
	cache := NewCatalogCache(client, loader, time.Minute)

	c, err := cache.Catalog(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "v1", c.Version())
	assert.Equal(t, 1, loader.count())
	assert.True(t, mr.Exists("catalog:artifact:v1"))
	active, err := mr.Get("catalog:active")
	require.NoError(t, err)
	assert.Equal(t, "v1", active)
	assert.Greater(t, mr.TTL("catalog:artifact:v1"), time.Duration(0))

	// Second call resolves the active version from Redis and hits the compiled copy.
	_, err = cache.Catalog(context.Background(), "")
	require.NoError(t, err)
	_, err = cache.Catalog(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.count())
}

func TestCatalogCacheSharesArtifactAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	loader := &countingLoader{CatalogLoader: memory.NewStaticCatalogLoader(sampleArtifact("v1"))}

	_, err := NewCatalogCache(newClient(mr), loader, time.Minute).Catalog(context.Background(), "v1")
	require.NoError(t, err)

	replica := NewCatalogCache(newClient(mr), loader, time.Minute)
	c, err := replica.Catalog(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", c.Version())
	assert.Equal(t, 1, loader.count(), "replica should read the artifact from redis")
}

func TestCatalogCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := newClient(mr)
	mr.Close()
	loader := &countingLoader{CatalogLoader: memory.NewStaticCatalogLoader(sampleArtifact("v1"))}

	c, err := NewCatalogCache(client, loader, time.Minute).Catalog(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "v1", c.Version())
}

func TestCatalogCacheUnknownVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewCatalogCache(newClient(mr), memory.NewStaticCatalogLoader(sampleArtifact("v1")), time.Minute)

	_, err := cache.Catalog(context.Background(), "v7")
	assert.ErrorIs(t, err, domain.ErrCatalogNotFound)
	assert.False(t, mr.Exists("catalog:artifact:v7"))
}

type countingLoader struct {
	memory.CatalogLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadCatalog(ctx context.Context, version string) (catalog.Artifact, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.CatalogLoader.LoadCatalog(ctx, version)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleArtifact(version string) catalog.Artifact {
	return catalog.Artifact{
		Version: version,
		Modules: []domain.Module{{ID: "stress", Name: "Stress"}},
		Questions: []domain.Question{
			{ID: "st_level", Module: "stress", Prompt: "Rate your stress", AnswerType: domain.AnswerScale},
			{ID: "st_support", Module: "stress", Prompt: "Do you have support?", AnswerType: domain.AnswerYesNo},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
}
