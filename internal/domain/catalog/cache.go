package catalog

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded, expiring key-value store for catalog reads.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	InvalidatePrefix(prefix string) int
}

// LRUCache implements Cache on top of an expirable LRU.
type LRUCache struct {
	lru *expirable.LRU[string, any]
}

var _ Cache = (*LRUCache)(nil)

// NewLRUCache creates a cache holding at most size entries, each living for ttl.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1024
	}
	return &LRUCache{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

func (c *LRUCache) Get(key string) (any, bool) { return c.lru.Get(key) }

func (c *LRUCache) Set(key string, value any) { c.lru.Add(key, value) }

// InvalidatePrefix removes every entry whose key starts with prefix and
// returns how many were removed.
func (c *LRUCache) InvalidatePrefix(prefix string) int {
	n := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(string) (any, bool)      { return nil, false }
func (NopCache) Set(string, any)             {}
func (NopCache) InvalidatePrefix(string) int { return 0 }
