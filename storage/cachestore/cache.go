// Package cachestore fronts any ObjectStore with an in-process cache of decoded trees.
package cachestore

import (
	"time"

	"github.com/geoforge/revtree/codec"
	"github.com/geoforge/revtree/model"

	"github.com/go-redis/cache/v9"
	arc "github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache holds decoded trees by id. Implementations must be safe for concurrent use.
type Cache interface {
	Get(id model.ObjectId) (*model.RevTree, bool)
	Add(id model.ObjectId, t *model.RevTree)
	Remove(id model.ObjectId)
}

type lruCache struct {
	c *lru.Cache[model.ObjectId, *model.RevTree]
}

// NewLRUCache returns a least-recently-used cache holding up to size trees.
func NewLRUCache(size int) (Cache, error) {
	c, err := lru.New[model.ObjectId, *model.RevTree](size)
	if err != nil {
		return nil, err
	}
	return &lruCache{c: c}, nil
}

func (c *lruCache) Get(id model.ObjectId) (*model.RevTree, bool) { return c.c.Get(id) }
func (c *lruCache) Add(id model.ObjectId, t *model.RevTree)     { c.c.Add(id, t) }
func (c *lruCache) Remove(id model.ObjectId)                     { c.c.Remove(id) }

type twoQueueCache struct {
	c *lru.TwoQueueCache[model.ObjectId, *model.RevTree]
}

// NewTwoQueueCache returns a 2Q cache, which resists being flushed by one-off scans (eg, a full diff walk).
func NewTwoQueueCache(size int) (Cache, error) {
	c, err := lru.New2Q[model.ObjectId, *model.RevTree](size)
	if err != nil {
		return nil, err
	}
	return &twoQueueCache{c: c}, nil
}

func (c *twoQueueCache) Get(id model.ObjectId) (*model.RevTree, bool) { return c.c.Get(id) }
func (c *twoQueueCache) Add(id model.ObjectId, t *model.RevTree)     { c.c.Add(id, t) }
func (c *twoQueueCache) Remove(id model.ObjectId)                     { c.c.Remove(id) }

type arcCache struct {
	c *arc.ARCCache[model.ObjectId, *model.RevTree]
}

// NewARCCache returns an adaptive replacement cache holding up to size trees.
func NewARCCache(size int) (Cache, error) {
	c, err := arc.NewARC[model.ObjectId, *model.RevTree](size)
	if err != nil {
		return nil, err
	}
	return &arcCache{c: c}, nil
}

func (c *arcCache) Get(id model.ObjectId) (*model.RevTree, bool) { return c.c.Get(id) }
func (c *arcCache) Add(id model.ObjectId, t *model.RevTree)     { c.c.Add(id, t) }
func (c *arcCache) Remove(id model.ObjectId)                     { c.c.Remove(id) }

// tinyLFUCache keeps encoded trees, with an expiry. It trades a decode on every hit for a much smaller footprint per entry.
type tinyLFUCache struct {
	c *cache.TinyLFU
}

func NewTinyLFUCache(size int, ttl time.Duration) Cache {
	return &tinyLFUCache{c: cache.NewTinyLFU(size, ttl)}
}

func (c *tinyLFUCache) Get(id model.ObjectId) (*model.RevTree, bool) {
	data, ok := c.c.Get(id.String())
	if !ok {
		return nil, false
	}
	t, err := codec.Decode(id, data)
	if err != nil {
		c.c.Del(id.String())
		return nil, false
	}
	return t, true
}

func (c *tinyLFUCache) Add(id model.ObjectId, t *model.RevTree) {
	data, err := codec.Encode(t)
	if err != nil {
		return
	}
	c.c.Set(id.String(), data)
}

func (c *tinyLFUCache) Remove(id model.ObjectId) {
	c.c.Del(id.String())
}
