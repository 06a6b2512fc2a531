package viewer

import (
	"fmt"
	"math"

	"github.com/slideview/engine/internal/camera"
	"github.com/slideview/engine/internal/scheduler"
	"github.com/slideview/engine/internal/source"
)

// neighborPenalty is added to the tile-grid distance of tier±1 prefetch
// tiles so they never outrank on-screen tiles in the queue.
const neighborPenalty = 1e6

// TileKeyOf formats the canonical "tier/x/y" key.
func TileKeyOf(tier, x, y int) string {
	return fmt.Sprintf("%d/%d/%d", tier, x, y)
}

// VisibleTiles computes the tiles of one tier intersecting the camera's
// view bounds. Distance2 is measured in tile-grid units so priorities are
// comparable across tiers. The result is empty when the view lies outside
// the tile grid.
func VisibleTiles(cam *camera.Camera, slide *source.Slide, base string, tier int, penalty float64) []scheduler.Tile {
	if tier < 0 || tier > slide.MaxTierZoom {
		return nil
	}
	levelW, levelH := slide.TierDims(tier)
	gridW := (levelW + slide.TileSize - 1) / slide.TileSize
	gridH := (levelH + slide.TileSize - 1) / slide.TileSize

	// World units per tier-level pixel.
	scale := float64(int(1) << uint(slide.MaxTierZoom-tier))
	tileWorld := float64(slide.TileSize) * scale

	minX, minY, maxX, maxY := cam.ViewBounds()
	minTX := int(math.Floor(minX / tileWorld))
	maxTX := int(math.Floor(maxX / tileWorld))
	minTY := int(math.Floor(minY / tileWorld))
	maxTY := int(math.Floor(maxY / tileWorld))
	if minTX < 0 {
		minTX = 0
	}
	if minTY < 0 {
		minTY = 0
	}
	if maxTX > gridW-1 {
		maxTX = gridW - 1
	}
	if maxTY > gridH-1 {
		maxTY = gridH - 1
	}
	if minTX > maxTX || minTY > maxTY {
		return nil
	}

	// View center in this tier's grid units.
	cx, cy := cam.Center()
	gcx := cx / tileWorld
	gcy := cy / tileWorld

	tiles := make([]scheduler.Tile, 0, (maxTX-minTX+1)*(maxTY-minTY+1))
	for ty := minTY; ty <= maxTY; ty++ {
		for tx := minTX; tx <= maxTX; tx++ {
			dx := float64(tx) + 0.5 - gcx
			dy := float64(ty) + 0.5 - gcy
			worldMinX := float64(tx) * tileWorld
			worldMinY := float64(ty) * tileWorld
			worldMaxX := math.Min(worldMinX+tileWorld, float64(slide.Width))
			worldMaxY := math.Min(worldMinY+tileWorld, float64(slide.Height))
			tiles = append(tiles, scheduler.Tile{
				Key:       TileKeyOf(tier, tx, ty),
				Tier:      tier,
				X:         tx,
				Y:         ty,
				Bounds:    [4]float64{worldMinX, worldMinY, worldMaxX, worldMaxY},
				Distance2: dx*dx + dy*dy + penalty,
				URL:       source.TileURL(base, slide.TilePath, tier, tx, ty),
			})
		}
	}
	return tiles
}

// DesiredTiles is the full per-frame tile set: the current tier's visible
// tiles plus tier±1 prefetch at penalized priority.
func DesiredTiles(cam *camera.Camera, slide *source.Slide, base string, tier int) []scheduler.Tile {
	tiles := VisibleTiles(cam, slide, base, tier, 0)
	tiles = append(tiles, VisibleTiles(cam, slide, base, tier-1, neighborPenalty)...)
	tiles = append(tiles, VisibleTiles(cam, slide, base, tier+1, neighborPenalty)...)
	return tiles
}

// overlapsView reports whether a world-space rectangle intersects the
// camera's view bounds.
func overlapsView(cam *camera.Camera, bounds [4]float64) bool {
	minX, minY, maxX, maxY := cam.ViewBounds()
	return bounds[0] < maxX && bounds[2] > minX && bounds[1] < maxY && bounds[3] > minY
}
