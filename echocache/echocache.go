// Package echocache keeps the operation awaiting quorum certification for every request author.
package echocache

import (
	"context"
	"sync"
	"time"
)

// Config holds configuration for Cache.
type Config struct {
	Longevity uint64 `yaml:"longevity"` // Pending echo longevity in seconds, 0 keeps entries until phase two.
}

type pending struct {
	text     string
	deadline int64
}

func (p pending) expired(now int64) bool {
	return p.deadline != 0 && p.deadline < now
}

// Cache is in-memory map of request author to the signable text of the operation awaiting commit.
// Only one entry per author may exist at a time.
type Cache struct {
	data      map[string]pending
	mux       sync.RWMutex
	longevity time.Duration
}

// New creates new Cache and runs the cleaner when entries have limited longevity.
func New(ctx context.Context, cfg Config) *Cache {
	longevity := time.Duration(cfg.Longevity) * time.Second
	c := &Cache{
		data:      make(map[string]pending),
		mux:       sync.RWMutex{},
		longevity: longevity,
	}
	if longevity == 0 {
		return c
	}
	go func(ctx context.Context, t time.Duration, c *Cache) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(t * 2):
				c.clean()
			}
		}
	}(ctx, longevity, c)

	return c
}

func (c *Cache) clean() {
	c.mux.Lock()
	defer c.mux.Unlock()
	now := time.Now().UnixNano()
	for k, v := range c.data {
		if v.expired(now) {
			delete(c.data, k)
		}
	}
}

// Reserve stores text for the author if no live entry exists. Returns false if one is already pending.
func (c *Cache) Reserve(author, text string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	now := time.Now().UnixNano()
	if p, ok := c.data[author]; ok && !p.expired(now) {
		return false
	}

	var deadline int64
	if c.longevity > 0 {
		deadline = time.Now().Add(c.longevity).UnixNano()
	}
	c.data[author] = pending{text: text, deadline: deadline}
	return true
}

// Take removes the entry of the author and returns its text if the entry was live.
func (c *Cache) Take(author string) (string, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	p, ok := c.data[author]
	if !ok {
		return "", false
	}
	delete(c.data, author)
	if p.expired(time.Now().UnixNano()) {
		return "", false
	}
	return p.text, true
}
