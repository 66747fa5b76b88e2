package datasource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/models"
)

// PageCache stores serialized pages. service.CacheService satisfies it.
type PageCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type cacheObserverKey struct{}

// WithCacheObserver returns a context carrying fn. CachedSource calls it with
// the outcome of every lookup made under that context.
func WithCacheObserver(ctx context.Context, fn func(hit bool)) context.Context {
	return context.WithValue(ctx, cacheObserverKey{}, fn)
}

func observeCache(ctx context.Context, hit bool) {
	if fn, ok := ctx.Value(cacheObserverKey{}).(func(bool)); ok && fn != nil {
		fn(hit)
	}
}

// CachedSource is a read-through cache in front of another Source. Cache
// failures are logged and fall back to the wrapped source.
//
// Cached rows round-trip through JSON, so numeric cells come back as
// float64.
type CachedSource struct {
	next   Source
	cache  PageCache
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedSource wraps next. prefix namespaces keys, typically by grid name.
func NewCachedSource(next Source, cache PageCache, prefix string, ttl time.Duration, logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{next: next, cache: cache, prefix: prefix, ttl: ttl, logger: logger}
}

// KeyPattern matches every key written by this source.
func (s *CachedSource) KeyPattern() string {
	return fmt.Sprintf("grid:%s:*", s.prefix)
}

// FetchPage implements Source.
func (s *CachedSource) FetchPage(ctx context.Context, q models.Query) (models.Page, error) {
	key, err := s.key(q)
	if err != nil {
		return s.next.FetchPage(ctx, q)
	}

	var cached models.Page
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Debug("page cache unavailable", zap.String("key", key), zap.Error(err))
	}
	observeCache(ctx, hit)
	if hit {
		return cached, nil
	}

	page, err := s.next.FetchPage(ctx, q)
	if err != nil {
		return page, err
	}
	if err := s.cache.Set(ctx, key, page, s.ttl); err != nil {
		s.logger.Debug("page cache write skipped", zap.String("key", key), zap.Error(err))
	}
	return page, nil
}

func (s *CachedSource) key(q models.Query) (string, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("grid:%s:%s", s.prefix, hex.EncodeToString(sum[:])), nil
}
