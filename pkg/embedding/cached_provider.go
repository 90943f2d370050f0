package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// VectorCache stores embeddings keyed by provider and text. Providers are
// deterministic per instance, so a hit is always equivalent to a fresh call.
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, vec []float32)
}

// CachedProvider decorates an EmbeddingProvider with a VectorCache.
type CachedProvider struct {
	inner EmbeddingProvider
	cache VectorCache
}

var _ EmbeddingProvider = (*CachedProvider)(nil)

func NewCachedProvider(inner EmbeddingProvider, c VectorCache) *CachedProvider {
	return &CachedProvider{inner: inner, cache: c}
}

func (p *CachedProvider) Name() string    { return p.inner.Name() }
func (p *CachedProvider) Dimensions() int { return p.inner.Dimensions() }

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.key(text)
	if vec, ok := p.cache.Get(ctx, key); ok {
		return vec, nil
	}
	vec, err := p.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, key, vec)
	return vec, nil
}

// EmbedBatch only sends cache misses to the inner provider and keeps the
// input order in the result.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec, ok := p.cache.Get(ctx, p.key(text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := p.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		out[i] = fresh[j]
		p.cache.Set(ctx, p.key(texts[i]), fresh[j])
	}
	return out, nil
}

func (p *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(p.inner.Name() + "\x00" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

// LocalVectorCache keeps vectors in process memory.
type LocalVectorCache struct {
	cache *cache.Cache
}

func NewLocalVectorCache(ttl time.Duration) *LocalVectorCache {
	return &LocalVectorCache{cache: cache.New(ttl, 10*time.Minute)}
}

func (c *LocalVectorCache) Get(_ context.Context, key string) ([]float32, bool) {
	if x, found := c.cache.Get(key); found {
		return x.([]float32), true
	}
	return nil, false
}

func (c *LocalVectorCache) Set(_ context.Context, key string, vec []float32) {
	c.cache.Set(key, vec, cache.DefaultExpiration)
}

// RedisVectorCache shares vectors between instances. Cache failures degrade
// to misses; they never fail an embedding call.
type RedisVectorCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisVectorCache(rdb *redis.Client, ttl time.Duration) *RedisVectorCache {
	return &RedisVectorCache{rdb: rdb, ttl: ttl}
}

func (c *RedisVectorCache) Get(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *RedisVectorCache) Set(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, key, raw, c.ttl)
}
