package store

import (
	"context"

	"github.com/GIScience/oshdb-sub001/grid"
	"github.com/GIScience/oshdb-sub001/history"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

var (
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oshdb",
		Subsystem: "cell_cache",
		Name:      "hits",
	}, []string{"store"})
	CacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "oshdb",
		Subsystem: "cell_cache",
		Name:      "misses",
	}, []string{"store"})
)

type cacheKey struct {
	t  history.EntityType
	id grid.CellID
}

func (k cacheKey) flightKey() string {
	return string(k.id.AppendBytes([]byte{byte(k.t)}))
}

// Cached puts an LRU of recently read blobs in front of a Reader. Absent
// cells are not remembered, a later Put must become visible. Concurrent
// misses of one cell share a single read.
type Cached struct {
	reader Reader
	cache  *lru.Cache[cacheKey, []byte]
	flight singleflight.Group
	hits   prometheus.Counter
	misses prometheus.Counter
}

func NewCached(r Reader, size int, name string) (*Cached, error) {
	cache, err := lru.New[cacheKey, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{
		reader: r,
		cache:  cache,
		hits:   CacheHits.WithLabelValues(name),
		misses: CacheMisses.WithLabelValues(name),
	}, nil
}

func (c *Cached) Get(ctx context.Context, t history.EntityType, id grid.CellID) ([]byte, error) {
	key := cacheKey{t, id}
	if data, ok := c.cache.Get(key); ok {
		c.hits.Inc()
		return data, nil
	}
	c.misses.Inc()
	val, err, _ := c.flight.Do(key.flightKey(), func() (any, error) {
		data, err := c.reader.Get(ctx, t, id)
		if err == nil && data != nil {
			c.cache.Add(key, data)
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return val.([]byte), nil
}

func (c *Cached) Invalidate(t history.EntityType, id grid.CellID) {
	c.cache.Remove(cacheKey{t, id})
}

func (c *Cached) Purge() {
	c.cache.Purge()
}

func (c *Cached) Len() int {
	return c.cache.Len()
}
