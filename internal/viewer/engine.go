// Package viewer composites slide frames: prioritized tile streaming into
// a texture cache with cross-tier fallback, a point annotation overlay,
// ROI filtering, and spatial hit testing.
package viewer

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/slideview/engine/internal/cache"
	"github.com/slideview/engine/internal/camera"
	"github.com/slideview/engine/internal/geom"
	"github.com/slideview/engine/internal/pointdata"
	"github.com/slideview/engine/internal/render"
	"github.com/slideview/engine/internal/scheduler"
	"github.com/slideview/engine/internal/source"
	"github.com/slideview/engine/internal/spatial"
	"github.com/slideview/engine/pkg/palette"
)

// Backend is the drawing surface the engine composites into. The software
// implementation lives in internal/render; a GPU-backed one can substitute
// as long as the matrix and palette contract holds.
type Backend interface {
	UploadTile(data []byte) (render.TextureID, error)
	ReleaseTexture(render.TextureID)
	InvalidateAll()
	BeginFrame(w, h int)
	DrawTile(id render.TextureID, bounds [4]float64, m [9]float64)
	DrawPoints(positions []float32, paletteIndices []uint16, fillModes []uint8, pal *palette.Palette, m [9]float64)
	DrawCalls() int
	EncodeFrame() ([]byte, error)
}

// FrameStats is emitted once per rendered frame when subscribed.
type FrameStats struct {
	Tier        int     `json:"tier"`
	Visible     int     `json:"visible"`
	Rendered    int     `json:"rendered"`
	Points      int     `json:"points"`
	Fallback    int     `json:"fallback"`
	Cache       int     `json:"cache"`
	InFlight    int     `json:"inflight"`
	Queued      int     `json:"queued"`
	Retries     int     `json:"retries"`
	Failed      int     `json:"failed"`
	Aborted     int     `json:"aborted"`
	CacheHits   int     `json:"cacheHits"`
	CacheMisses int     `json:"cacheMisses"`
	DrawCalls   int     `json:"drawCalls"`
	FrameMs     float64 `json:"frameMs"`
}

// TileError reports one terminally failed tile.
type TileError struct {
	Tile     scheduler.Tile
	Err      error
	Attempts int
}

// Config contains engine configuration for one slide.
type Config struct {
	SlideID       string
	TileBase      string
	ViewportW     int
	ViewportH     int
	MaxCacheTiles int
	DensityScale  float64
	Scheduler     scheduler.Config
	Camera        camera.Options
}

// Engine drives one slide's viewing session. All state is serialized by an
// internal mutex standing in for a render-loop thread; scheduler fetches
// and spatial index builds are the only async operations and both deliver
// through callbacks.
type Engine struct {
	mu sync.Mutex

	slideID string
	base    string
	slide   *source.Slide
	cam     *camera.Camera
	backend Backend
	caches  *cache.Manager
	sched   *scheduler.Scheduler

	textures *textureCache
	pending  []pendingTile
	serial   uint64

	points       *pointdata.PointData
	filtered     *pointdata.PointData
	pal          *palette.Palette
	pointVersion uint64
	index        *spatial.Index
	buildGen     uint64
	densityScale float64

	onStats     func(FrameStats)
	onTileError func(TileError)
	destroyed   bool
}

type pendingTile struct {
	tile scheduler.Tile
	data []byte
}

// New creates an engine. A nil backend or invalid slide metadata is a
// fatal setup problem and errors immediately.
func New(slide *source.Slide, backend Backend, caches *cache.Manager, cfg Config) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("viewer: backend is required")
	}
	if slide == nil {
		return nil, fmt.Errorf("viewer: slide metadata is required")
	}
	if cfg.ViewportW <= 0 || cfg.ViewportH <= 0 {
		return nil, fmt.Errorf("viewer: invalid viewport %dx%d", cfg.ViewportW, cfg.ViewportH)
	}

	e := &Engine{
		slideID: cfg.SlideID,
		base:    cfg.TileBase,
		slide:   slide,
		backend: backend,
		caches:  caches,
		cam: camera.New(float64(slide.Width), float64(slide.Height), slide.MaxTierZoom,
			float64(cfg.ViewportW), float64(cfg.ViewportH), cfg.Camera),
		textures:     newTextureCache(cfg.MaxCacheTiles),
		pal:          palette.BuildTermPalette(nil),
		densityScale: cfg.DensityScale,
	}
	e.sched = scheduler.New(cfg.Scheduler, scheduler.Callbacks{
		OnLoaded: e.tileLoaded,
		OnError:  e.tileFailed,
	})
	return e, nil
}

// OnStats subscribes to per-frame statistics.
func (e *Engine) OnStats(fn func(FrameStats)) {
	e.mu.Lock()
	e.onStats = fn
	e.mu.Unlock()
}

// OnTileError subscribes to terminal tile failures.
func (e *Engine) OnTileError(fn func(TileError)) {
	e.mu.Lock()
	e.onTileError = fn
	e.mu.Unlock()
}

// SetAuthToken forwards a new bearer token to the tile scheduler.
func (e *Engine) SetAuthToken(token string) { e.sched.SetAuthToken(token) }

func (e *Engine) tileLoaded(tile scheduler.Tile, data []byte) {
	if e.caches != nil {
		if err := e.caches.SetTile(cache.TileKey(e.slideID, tile.Tier, tile.X, tile.Y), data); err != nil {
			log.Printf("[Viewer] payload cache write for %s: %v", tile.Key, err)
		}
	}
	e.mu.Lock()
	if !e.destroyed {
		e.pending = append(e.pending, pendingTile{tile: tile, data: data})
	}
	e.mu.Unlock()
}

func (e *Engine) tileFailed(tile scheduler.Tile, err error, attempts int) {
	e.mu.Lock()
	fn := e.onTileError
	e.mu.Unlock()
	if fn != nil {
		fn(TileError{Tile: tile, Err: err, Attempts: attempts})
	}
}

// Camera state passthroughs, serialized with the frame loop.

// SetView merges a partial view-state update, optionally animated.
func (e *Engine) SetView(u camera.StateUpdate, tr camera.Transition) {
	e.mu.Lock()
	e.cam.SetViewState(u, tr)
	e.mu.Unlock()
}

// ViewState returns the current camera pose.
func (e *Engine) ViewState() camera.ViewState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cam.ViewState()
}

// FitToImage resets the camera to show the whole slide.
func (e *Engine) FitToImage() {
	e.mu.Lock()
	e.cam.FitToImage()
	e.mu.Unlock()
}

// ZoomBy zooms anchored at a screen point.
func (e *Engine) ZoomBy(factor, sx, sy float64) {
	e.mu.Lock()
	e.cam.ZoomBy(factor, sx, sy)
	e.mu.Unlock()
}

// Pan shifts the view by a screen-space delta, cancelling any animation.
func (e *Engine) Pan(dx, dy float64) {
	e.mu.Lock()
	e.cam.BeginDrag()
	e.cam.Pan(dx, dy)
	e.mu.Unlock()
}

// SetPoints replaces the annotation point set and its term palette. The
// input is snapshotted; the spatial index rebuilds in the background and
// swaps in when ready.
func (e *Engine) SetPoints(pd *pointdata.PointData, terms []palette.Term) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.points = pd.Clone()
	e.pal = palette.BuildTermPalette(terms)
	e.filtered = nil
	e.index = nil
	e.pointVersion++
	e.buildGen++
	gen := e.buildGen
	pts := e.points
	params := spatial.BuildParams{
		SourceWidth:  float64(e.slide.Width),
		SourceHeight: float64(e.slide.Height),
		DensityScale: e.densityScale,
	}
	e.mu.Unlock()

	if pts == nil {
		return
	}
	// Submitted outside the lock: a synchronous-fallback build delivers
	// its result inline.
	submitIndexBuild(pts, pts.DrawIndices, params, func(idx *spatial.Index, _ uint64) {
		e.mu.Lock()
		if gen == e.buildGen && !e.destroyed {
			e.index = idx
		}
		e.mu.Unlock()
	})
}

// SetROIs filters the point overlay to the given regions. Empty input
// clears the filter. Filter results are cached per point-set version.
func (e *Engine) SetROIs(geometries []geom.Geometry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(geometries) == 0 {
		e.filtered = nil
		return
	}
	if e.points == nil {
		e.filtered = &pointdata.PointData{}
		return
	}

	geomJSON, _ := json.Marshal(geometries)
	key := cache.ROIQueryKey(e.slideID, e.pointVersion, geomJSON)
	if e.caches != nil {
		if raw, ok := e.caches.GetQuery(key); ok {
			if pd, err := pointdata.DecodePayload(raw); err == nil {
				e.filtered = pd
				return
			}
		}
	}

	prepared := geom.Prepare(geometries)
	e.filtered = pointdata.FilterByPolygons(e.points, prepared)
	if e.filtered == nil {
		e.filtered = &pointdata.PointData{}
	}
	if e.caches != nil {
		e.caches.SetQuery(key, pointdata.EncodePayload(e.filtered))
	}
}

// HitTest returns the ids (or indices, when no id array is present) of
// points within radius world units of (x, y). Empty until the spatial
// index has been built.
func (e *Engine) HitTest(x, y, radius float64) []uint64 {
	e.mu.Lock()
	idx := e.index
	e.mu.Unlock()
	if idx == nil {
		return nil
	}
	hits := idx.QueryPoint(x, y, radius)
	out := make([]uint64, 0, len(hits))
	for _, pi := range hits {
		if len(idx.IDs) > int(pi) {
			out = append(out, idx.IDs[pi])
		} else {
			out = append(out, uint64(pi))
		}
	}
	return out
}

// RenderFrame advances any camera animation to now, composites a frame,
// schedules missing tiles, and returns the encoded PNG. The second result
// reports whether an animation is still running.
func (e *Engine) RenderFrame(now time.Time) ([]byte, bool, error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil, false, fmt.Errorf("viewer: engine destroyed")
	}

	animating := e.cam.Advance(now)
	e.serial++
	tier := e.cam.Tier()

	// Completed fetches upload on the frame loop, not the fetch goroutine.
	for _, p := range e.pending {
		e.uploadLocked(p.tile, p.data)
	}
	e.pending = e.pending[:0]

	visible := VisibleTiles(e.cam, e.slide, e.base, tier, 0)
	visSet := make(map[string]bool, len(visible))
	for _, t := range visible {
		visSet[t.Key] = true
	}

	vpW, vpH := e.cam.ViewportSize()
	e.backend.BeginFrame(int(vpW), int(vpH))
	m := e.cam.Matrix()

	stats := FrameStats{Tier: tier, Visible: len(visible)}

	// Fallback pass: when any exact tile is missing, paint overlapping
	// cached tiles from other tiers, coarser first so finer layers win.
	missing := 0
	for _, t := range visible {
		if _, ok := e.textures.get(t.Key); !ok {
			missing++
		}
	}
	if missing > 0 {
		var fallbacks []*cachedTile
		for _, ct := range e.textures.tiles {
			if ct.tier != tier && overlapsView(e.cam, ct.bounds) {
				fallbacks = append(fallbacks, ct)
			}
		}
		sort.Slice(fallbacks, func(i, j int) bool { return fallbacks[i].tier < fallbacks[j].tier })
		for _, ct := range fallbacks {
			e.backend.DrawTile(ct.tex, ct.bounds, m)
			ct.lastUsed = e.serial
			stats.Fallback++
		}
	}

	// Exact pass.
	for _, t := range visible {
		ct, ok := e.textures.get(t.Key)
		if !ok {
			stats.CacheMisses++
			continue
		}
		stats.CacheHits++
		e.backend.DrawTile(ct.tex, ct.bounds, m)
		ct.lastUsed = e.serial
		stats.Rendered++
	}

	// Point overlay.
	pts := e.points
	if e.filtered != nil {
		pts = e.filtered
	}
	if pts != nil {
		if n := pts.SafeCount(); n > 0 {
			e.backend.DrawPoints(pts.Positions[:n*2], pts.PaletteIndices[:n], pts.FillModes, e.pal, m)
			stats.Points = n
		}
	}

	e.textures.evict(visSet, e.backend.ReleaseTexture)
	stats.Cache = e.textures.len()

	// Request everything desired and not yet decoded; the payload cache
	// answers before the network.
	desired := DesiredTiles(e.cam, e.slide, e.base, tier)
	toFetch := desired[:0]
	for _, t := range desired {
		if _, ok := e.textures.get(t.Key); ok {
			continue
		}
		if e.caches != nil {
			if data, ok := e.caches.GetTile(cache.TileKey(e.slideID, t.Tier, t.X, t.Y)); ok {
				e.uploadLocked(t, data)
				continue
			}
		}
		toFetch = append(toFetch, t)
	}
	e.sched.Schedule(toFetch)

	snap := e.sched.GetSnapshot()
	stats.InFlight = snap.InFlight
	stats.Queued = snap.Queued
	stats.Retries = snap.Retries
	stats.Failed = snap.Failed
	stats.Aborted = snap.Aborted
	stats.DrawCalls = e.backend.DrawCalls()
	stats.FrameMs = float64(time.Since(start).Microseconds()) / 1000

	png, err := e.backend.EncodeFrame()
	if err != nil {
		return nil, animating, err
	}
	if e.onStats != nil {
		e.onStats(stats)
	}
	return png, animating, nil
}

func (e *Engine) uploadLocked(tile scheduler.Tile, data []byte) {
	tex, err := e.backend.UploadTile(data)
	if err != nil {
		log.Printf("[Viewer] upload tile %s: %v", tile.Key, err)
		return
	}
	e.textures.put(&cachedTile{
		key:    tile.Key,
		tex:    tex,
		bounds: tile.Bounds,
		tier:   tile.Tier,
	}, e.backend.ReleaseTexture)
}

// HandleContextLoss drops all texture state without releasing resources
// (the platform already invalidated them) and aborts outstanding fetches.
func (e *Engine) HandleContextLoss() {
	e.mu.Lock()
	e.textures.invalidate()
	e.pending = nil
	e.mu.Unlock()
	e.backend.InvalidateAll()
	e.sched.Clear()
}

// RestoreContext re-arms the engine after a context loss. The held point
// data and palette are replayed on the next frame; tiles re-fetch through
// the payload cache.
func (e *Engine) RestoreContext() {
	e.mu.Lock()
	defer e.mu.Unlock()
	log.Printf("[Viewer] context restored for slide %s, %d points retained",
		e.slideID, e.points.SafeCount())
}

// Stats returns the scheduler snapshot without rendering a frame.
func (e *Engine) Stats() scheduler.Snapshot { return e.sched.GetSnapshot() }

// Slide returns the immutable slide metadata.
func (e *Engine) Slide() *source.Slide { return e.slide }

// Destroy aborts all work and releases every texture. The engine is
// unusable afterwards.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.textures.destroy(e.backend.ReleaseTexture)
	e.pending = nil
	e.mu.Unlock()
	e.sched.Destroy()
}
