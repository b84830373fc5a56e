package cache_test

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/treeverse/vcsgate/pkg/cache"
	"github.com/treeverse/vcsgate/pkg/testutil"
)

func TestCacheRace(t *testing.T) {
	const (
		parallelism = 25
		n           = 200
		worldSize   = 10
		cacheSize   = 7
	)

	c, err := cache.NewCache(cache.Params{Name: "race", Size: cacheSize, Expiry: 12 * time.Hour, JitterFn: cache.NewJitterFn(time.Millisecond)})
	testutil.MustDo(t, "new cache", err)

	start := make(chan struct{})
	wg := sync.WaitGroup{}

	for i := 0; i < parallelism; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			for j := 0; j < n; j++ {
				k := j % worldSize
				kk, err := c.GetOrSet(strconv.Itoa(k), func() (interface{}, error) {
					return k * k, nil
				})
				if err != nil {
					t.Error(err)
					return
				}
				if kk.(int) != k*k {
					t.Errorf("[%d] got %d^2=%d, expected %d", i, k, kk, k*k)
				}
			}
		}(i)
	}
	close(start)
	wg.Wait()
}

func TestCacheRemove(t *testing.T) {
	c, err := cache.NewCache(cache.Params{Name: "remove", Size: 2})
	testutil.MustDo(t, "new cache", err)

	var calls int32
	set := func() (interface{}, error) {
		return atomic.AddInt32(&calls, 1), nil
	}
	first, err := c.GetOrSet("k", set)
	testutil.MustDo(t, "first", err)
	second, err := c.GetOrSet("k", set)
	testutil.MustDo(t, "second", err)
	if first != second {
		t.Errorf("cached value changed: %v != %v", first, second)
	}
	c.Remove("k")
	third, err := c.GetOrSet("k", set)
	testutil.MustDo(t, "third", err)
	if third.(int32) != 2 {
		t.Errorf("got %v after remove, expected reload", third)
	}
}

func TestCacheErrorNotCached(t *testing.T) {
	c, err := cache.NewCache(cache.Params{Name: "errors", Size: 2})
	testutil.MustDo(t, "new cache", err)
	errLoad := errors.New("load failed")
	if _, err := c.GetOrSet("k", func() (interface{}, error) { return nil, errLoad }); !errors.Is(err, errLoad) {
		t.Fatalf("got %v, expected %v", err, errLoad)
	}
	v, err := c.GetOrSet("k", func() (interface{}, error) { return "ok", nil })
	testutil.MustDo(t, "retry", err)
	if v.(string) != "ok" {
		t.Errorf("got %v, expected ok", v)
	}
}

func TestNoCache(t *testing.T) {
	calls := 0
	for i := 0; i < 3; i++ {
		_, _ = cache.NoCache.GetOrSet("k", func() (interface{}, error) {
			calls++
			return calls, nil
		})
	}
	if calls != 3 {
		t.Errorf("got %d calls, expected 3", calls)
	}
}

func TestInvalidSize(t *testing.T) {
	if _, err := cache.NewCache(cache.Params{Size: 0}); !errors.Is(err, cache.ErrInvalidSize) {
		t.Errorf("got %v, expected %v", err, cache.ErrInvalidSize)
	}
}
