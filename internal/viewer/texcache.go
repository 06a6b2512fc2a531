package viewer

import (
	"github.com/slideview/engine/internal/render"
)

// cachedTile is a decoded tile texture owned exclusively by the cache.
type cachedTile struct {
	key      string
	tex      render.TextureID
	bounds   [4]float64
	tier     int
	lastUsed uint64 // frame serial of the last draw
}

// textureCache holds decoded tile textures with least-recently-drawn
// eviction. Each texture is released exactly once: on eviction, on
// destroy, or never when the whole set is invalidated by context loss.
type textureCache struct {
	max   int
	tiles map[string]*cachedTile
}

func newTextureCache(max int) *textureCache {
	if max <= 0 {
		max = 256
	}
	return &textureCache{
		max:   max,
		tiles: make(map[string]*cachedTile),
	}
}

func (c *textureCache) get(key string) (*cachedTile, bool) {
	t, ok := c.tiles[key]
	return t, ok
}

func (c *textureCache) put(t *cachedTile, release func(render.TextureID)) {
	if old, ok := c.tiles[t.key]; ok {
		release(old.tex)
	}
	c.tiles[t.key] = t
}

func (c *textureCache) len() int { return len(c.tiles) }

// evict trims the cache to capacity, preferring tiles outside the current
// visible set. When the cache is smaller than the visible set itself,
// visible tiles become eligible too.
func (c *textureCache) evict(visible map[string]bool, release func(render.TextureID)) int {
	evicted := 0
	for len(c.tiles) > c.max {
		victim := c.pick(visible)
		if victim == nil {
			victim = c.pick(nil)
		}
		if victim == nil {
			break
		}
		release(victim.tex)
		delete(c.tiles, victim.key)
		evicted++
	}
	return evicted
}

// pick returns the least-recently-used tile not in the protected set.
func (c *textureCache) pick(protected map[string]bool) *cachedTile {
	var victim *cachedTile
	for _, t := range c.tiles {
		if protected != nil && protected[t.key] {
			continue
		}
		if victim == nil || t.lastUsed < victim.lastUsed {
			victim = t
		}
	}
	return victim
}

// destroy releases every texture and empties the cache.
func (c *textureCache) destroy(release func(render.TextureID)) {
	for key, t := range c.tiles {
		release(t.tex)
		delete(c.tiles, key)
	}
}

// invalidate drops all entries without releasing textures; used on context
// loss where the underlying resources are already gone.
func (c *textureCache) invalidate() {
	c.tiles = make(map[string]*cachedTile)
}
