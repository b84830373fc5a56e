package cache

import (
	"errors"
	"math/rand"
	"time"

	lru "github.com/hnlq715/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

type JitterFn func() time.Duration
type SetFn func() (v interface{}, err error)

// Params controls a Cache.
type Params struct {
	// User-visible name to give this cache, used as the metrics label.
	Name string
	// Size is the maximal number of entries to hold.
	Size int
	// Expiry is the time to keep an entry before it is reloaded.  Zero keeps entries until
	// evicted.
	Expiry time.Duration
	// JitterFn returns an interval added to Expiry for every entry.
	JitterFn JitterFn
}

type Cache interface {
	Name() string
	GetOrSet(k string, setFn SetFn) (v interface{}, err error)
	Remove(k string)
}

type GetSetCache struct {
	p     *Params
	lru   *lru.Cache
	group singleflight.Group
}

var ErrInvalidSize = errors.New("invalid cache size")

var cacheAccess = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vcsgate_cache_access_total",
		Help: "Cache lookups by result",
	},
	[]string{"cache", "result"},
)

func NewCache(p Params) (*GetSetCache, error) {
	if p.Size <= 0 {
		return nil, ErrInvalidSize
	}
	c, err := lru.New(p.Size)
	if err != nil {
		return nil, err
	}
	if p.JitterFn == nil {
		p.JitterFn = func() time.Duration { return 0 }
	}
	return &GetSetCache{p: &p, lru: c}, nil
}

// GetOrSet returns the cached value for k, calling setFn when absent.  Concurrent misses on
// the same key share one setFn call.
func (c *GetSetCache) GetOrSet(k string, setFn SetFn) (interface{}, error) {
	if v, ok := c.lru.Get(k); ok {
		cacheAccess.WithLabelValues(c.p.Name, "hit").Inc()
		return v, nil
	}
	cacheAccess.WithLabelValues(c.p.Name, "miss").Inc()
	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		v, err := setFn()
		if err != nil {
			return nil, err
		}
		if c.p.Expiry > 0 {
			c.lru.AddEx(k, v, c.p.Expiry+c.p.JitterFn())
		} else {
			c.lru.Add(k, v)
		}
		return v, nil
	})
	return v, err
}

func (c *GetSetCache) Remove(k string) {
	c.lru.Remove(k)
}

func (c *GetSetCache) Name() string { return c.p.Name }

func NewJitterFn(jitter time.Duration) JitterFn {
	return func() time.Duration {
		if jitter <= 0 {
			return 0
		}
		n := rand.Int63n(int64(jitter)) //nolint:gosec
		return time.Duration(n)
	}
}
