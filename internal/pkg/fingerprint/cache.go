package fingerprint

import (
	"context"
	"runtime"
	"sync"
	"time"

	"coin_market/internal/pkg/combination"
	"coin_market/internal/pkg/logger"
	"coin_market/internal/pkg/metrics"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Store is a shared second-level fingerprint store, typically Redis.
type Store interface {
	Get(ctx context.Context, triple combination.Triple) (string, bool, error)
	Set(ctx context.Context, triple combination.Triple, value string) error
}

// Cache memoises Compute per triple. Triples never change once a coin exists,
// so entries never expire.
type Cache struct {
	local   *cache.Cache
	remote  Store
	group   singleflight.Group
	compute func(a, b, c int) string
	workers int
	log     *logger.Logger
}

// NewCache returns a Cache backed by an in-process map and, when remote is not nil,
// by the shared store.
func NewCache(remote Store, l *logger.Logger) *Cache {
	return &Cache{
		local:   cache.New(cache.NoExpiration, 0),
		remote:  remote,
		compute: Compute,
		workers: runtime.NumCPU(),
		log:     l,
	}
}

// Get returns the fingerprint of triple, computing it at most once per process
// for concurrent callers. Failures of the shared store are logged and ignored.
func (c *Cache) Get(ctx context.Context, triple combination.Triple) string {
	key := triple.String()
	if value, found := c.local.Get(key); found {
		metrics.FingerprintLookupsTotal.WithLabelValues("hit").Inc()
		return value.(string)
	}

	value, _, _ := c.group.Do(key, func() (interface{}, error) {
		if c.remote != nil {
			remoteValue, found, err := c.remote.Get(ctx, triple)
			if err != nil {
				c.log.Warn("fingerprint store lookup failed", zap.String("triple", key), zap.Error(err))
			}
			if found {
				metrics.FingerprintLookupsTotal.WithLabelValues("remote_hit").Inc()
				c.local.Set(key, remoteValue, cache.NoExpiration)
				return remoteValue, nil
			}
		}

		metrics.FingerprintLookupsTotal.WithLabelValues("miss").Inc()
		started := time.Now()
		computed := c.compute(triple.A, triple.B, triple.C)
		metrics.FingerprintDuration.Observe(time.Since(started).Seconds())

		c.local.Set(key, computed, cache.NoExpiration)
		if c.remote != nil {
			if err := c.remote.Set(ctx, triple, computed); err != nil {
				c.log.Warn("fingerprint store write failed", zap.String("triple", key), zap.Error(err))
			}
		}
		return computed, nil
	})

	return value.(string)
}

// Batch resolves the fingerprints of all triples, computing misses in parallel.
// It only fails when ctx is cancelled.
func (c *Cache) Batch(ctx context.Context, triples []combination.Triple) (map[combination.Triple]string, error) {
	result := make(map[combination.Triple]string, len(triples))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	seen := make(map[combination.Triple]struct{}, len(triples))
	for _, triple := range triples {
		if _, dup := seen[triple]; dup {
			continue
		}
		seen[triple] = struct{}{}

		triple := triple
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			value := c.Get(gctx, triple)

			mu.Lock()
			result[triple] = value
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
