package profile

import (
	"github.com/eko/gocache/store"
	"github.com/nbd-wtf/go-nostr"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
)

// Cache remembers the last resolved metadata event per author.
type Cache interface {
	Get(authorID string) (*nostr.Event, bool)
	Set(authorID string, metadata *nostr.Event)
}

// MemoryCache never expires entries. Stale profiles are accepted for the
// lifetime of the process.
type MemoryCache struct {
	*store.GoCacheStore
}

func NewMemoryCache() *MemoryCache {
	gocacheClient := gocache.New(gocache.NoExpiration, 0)
	return &MemoryCache{GoCacheStore: store.NewGoCache(gocacheClient, nil)}
}

func (c *MemoryCache) key(authorID string) string {
	return "profile:" + authorID
}

func (c *MemoryCache) Get(authorID string) (*nostr.Event, bool) {
	v, err := c.GoCacheStore.Get(c.key(authorID))
	if err != nil {
		return nil, false
	}
	ev, ok := v.(*nostr.Event)
	return ev, ok
}

func (c *MemoryCache) Set(authorID string, metadata *nostr.Event) {
	err := c.GoCacheStore.Set(c.key(authorID), metadata, &store.Options{Expiration: gocache.NoExpiration})
	if err != nil {
		log.Errorf("[Profile Cache] could not set %s: %v", authorID, err)
	}
}
