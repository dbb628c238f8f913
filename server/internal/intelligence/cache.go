package intelligence

import (
	"context"
	"sync"
	"time"
)

// ArtistRegistryLoader loads the full artist registry the tier selector
// and entity linker score candidates against.
type ArtistRegistryLoader func(ctx context.Context) ([]ArtistRef, error)

// GlossaryLoader loads up to ~300 canonical term mappings for the
// glossary prompt section.
type GlossaryLoader func(ctx context.Context) ([]GlossaryTerm, error)

// registryCache memoizes a loader behind a TTL, refreshing lazily on
// next access rather than on a background timer — callers are batch
// loops that already pace themselves, so a timer thread would be idle
// most of the time.
type registryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	loadAt  time.Time
	artists []ArtistRef
	load    ArtistRegistryLoader
}

func newArtistCache(ttl time.Duration, load ArtistRegistryLoader) *registryCache {
	return &registryCache{ttl: ttl, load: load}
}

func (c *registryCache) get(ctx context.Context) ([]ArtistRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.loadAt) < c.ttl && c.artists != nil {
		return c.artists, nil
	}
	artists, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.artists = artists
	c.loadAt = time.Now()
	return c.artists, nil
}

type glossaryCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	loadAt time.Time
	terms  []GlossaryTerm
	load   GlossaryLoader
}

func newGlossaryCache(ttl time.Duration, load GlossaryLoader) *glossaryCache {
	return &glossaryCache{ttl: ttl, load: load}
}

func (c *glossaryCache) get(ctx context.Context) ([]GlossaryTerm, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.loadAt) < c.ttl && c.terms != nil {
		return c.terms, nil
	}
	terms, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.terms = terms
	c.loadAt = time.Now()
	return c.terms, nil
}

// invalidate forces the next get to reload. Used after a glossary
// auto-enroll so the next batch sees the new term.
func (c *glossaryCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadAt = time.Time{}
}
