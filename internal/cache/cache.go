package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the payload for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Observer is notified of hits and misses per stage.
type Observer interface {
	CacheHit(stage string)
	CacheMiss(stage string)
}

// Cache is a fingerprint-keyed cache over a Store. Concurrent misses on one fingerprint
// share a single computation.
type Cache struct {
	store          Store
	group          singleflight.Group
	mu             sync.Mutex
	flights        map[string]*flight
	computeTimeout time.Duration
	observer       Observer
	logger         *zap.Logger
}

// flight is the shared computation context for one fingerprint. It is cancelled only
// when every waiter has left.
type flight struct {
	refs   int
	ctx    context.Context
	cancel context.CancelFunc
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets a logger for store errors.
func WithLogger(l *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = l }
}

// WithObserver sets a hit/miss observer (e.g. metrics).
func WithObserver(o Observer) CacheOption {
	return func(c *Cache) { c.observer = o }
}

// WithComputeTimeout bounds a shared computation independently of its waiters.
func WithComputeTimeout(d time.Duration) CacheOption {
	return func(c *Cache) { c.computeTimeout = d }
}

// New creates a cache over store.
func New(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:   store,
		flights: make(map[string]*flight),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached payload for fp. Store errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, fp string) ([]byte, bool) {
	v, ok, err := c.store.Get(ctx, fp)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("fingerprint", fp), zap.Error(err))
		return nil, false
	}
	return v, ok
}

// Put stores payload under fp.
func (c *Cache) Put(ctx context.Context, fp string, payload []byte, ttl time.Duration) {
	if err := c.store.Set(ctx, fp, payload, ttl); err != nil {
		c.logger.Warn("cache put failed", zap.String("fingerprint", fp), zap.Error(err))
	}
}

// Invalidate removes fp.
func (c *Cache) Invalidate(ctx context.Context, fp string) {
	if err := c.store.Delete(ctx, fp); err != nil {
		c.logger.Warn("cache delete failed", zap.String("fingerprint", fp), zap.Error(err))
	}
}

// GetOrCompute returns the cached payload for fp, or runs fn once for all concurrent callers
// asking for the same fingerprint and caches its result. hit reports whether the payload came
// from the store. A caller whose ctx ends stops waiting; the computation and its cache write
// continue while any other caller still waits.
func (c *Cache) GetOrCompute(ctx context.Context, stage Stage, fp string, ttl time.Duration, fn ComputeFunc) (payload []byte, hit bool, err error) {
	if v, ok := c.Get(ctx, fp); ok {
		c.hit(stage)
		return v, true, nil
	}

	f := c.join(ctx, fp)
	ch := c.group.DoChan(fp, func() (interface{}, error) {
		if v, ok := c.Get(f.ctx, fp); ok {
			return cachedResult{payload: v}, nil
		}
		v, err := fn(f.ctx)
		if err != nil {
			return nil, err
		}
		c.Put(f.ctx, fp, v, ttl)
		return cachedResult{payload: v, computed: true}, nil
	})

	select {
	case res := <-ch:
		c.leave(fp, f)
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(cachedResult)
		if r.computed {
			c.miss(stage)
		} else {
			c.hit(stage)
		}
		return append([]byte(nil), r.payload...), !r.computed, nil
	case <-ctx.Done():
		c.leave(fp, f)
		return nil, false, ctx.Err()
	}
}

type cachedResult struct {
	payload  []byte
	computed bool
}

func (c *Cache) join(ctx context.Context, fp string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[fp]
	if !ok {
		base := context.WithoutCancel(ctx)
		var fctx context.Context
		var cancel context.CancelFunc
		if c.computeTimeout > 0 {
			fctx, cancel = context.WithTimeout(base, c.computeTimeout)
		} else {
			fctx, cancel = context.WithCancel(base)
		}
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[fp] = f
	}
	f.refs++
	return f
}

func (c *Cache) leave(fp string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if c.flights[fp] == f {
		delete(c.flights, fp)
		// An abandoned computation must not be joined by later callers.
		c.group.Forget(fp)
	}
}

// InFlight returns the number of fingerprints with an active shared computation.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.flights)
}

func (c *Cache) hit(stage Stage) {
	if c.observer != nil {
		c.observer.CacheHit(string(stage))
	}
}

func (c *Cache) miss(stage Stage) {
	if c.observer != nil {
		c.observer.CacheMiss(string(stage))
	}
}
