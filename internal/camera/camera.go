// Package camera maintains the viewer's view state: zoom, pan, rotation,
// the world/screen transforms derived from them, and animated transitions
// between states.
package camera

import (
	"math"
	"time"
)

// ViewState is the complete camera pose. Zoom is the world-to-screen scale;
// offset is the world-space top-left of the viewport; rotation is in
// degrees about the viewport center.
type ViewState struct {
	Zoom        float64 `json:"zoom"`
	OffsetX     float64 `json:"offsetX"`
	OffsetY     float64 `json:"offsetY"`
	RotationDeg float64 `json:"rotationDeg"`
}

// StateUpdate is a partial ViewState: nil fields keep their current value.
type StateUpdate struct {
	Zoom        *float64 `json:"zoom,omitempty"`
	OffsetX     *float64 `json:"offsetX,omitempty"`
	OffsetY     *float64 `json:"offsetY,omitempty"`
	RotationDeg *float64 `json:"rotationDeg,omitempty"`
}

// Easing maps animation parameter t in [0,1] to an eased value.
type Easing func(t float64) float64

// EaseInOutCubic is the default easing for programmatic transitions.
func EaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	u := -2*t + 2
	return 1 - u*u*u/2
}

// Transition controls how SetViewState applies an update. Zero Duration
// applies immediately. Nil Easing means linear.
type Transition struct {
	Duration time.Duration
	Easing   Easing
}

// Options overrides the pyramid-derived zoom bounds. Non-positive values
// are ignored; an inverted pair is swapped.
type Options struct {
	MinZoom float64
	MaxZoom float64
}

// panMargin is the fraction of the visible extent by which the image
// bounds are expanded when clamping the view center.
const panMargin = 0.2

type animation struct {
	from     ViewState
	to       ViewState
	start    time.Time
	duration time.Duration
	easing   Easing
}

// Camera derives transforms from a ViewState over a fixed image. All
// methods must be called from the render-loop goroutine.
type Camera struct {
	imageW      float64
	imageH      float64
	maxTierZoom int

	viewportW float64
	viewportH float64

	state   ViewState
	minZoom float64
	maxZoom float64
	opts    Options

	anim *animation
}

// New creates a camera fitted to the image. Viewport dimensions may be
// adjusted later with SetViewportSize.
func New(imageW, imageH float64, maxTierZoom int, viewportW, viewportH float64, opts Options) *Camera {
	c := &Camera{
		imageW:      imageW,
		imageH:      imageH,
		maxTierZoom: maxTierZoom,
		viewportW:   viewportW,
		viewportH:   viewportH,
		opts:        opts,
	}
	c.recomputeBounds()
	c.FitToImage()
	return c
}

func (c *Camera) fitZoom() float64 {
	if c.imageW <= 0 || c.imageH <= 0 || c.viewportW <= 0 || c.viewportH <= 0 {
		return 1
	}
	return math.Min(c.viewportW/c.imageW, c.viewportH/c.imageH)
}

func (c *Camera) recomputeBounds() {
	fit := c.fitZoom()
	c.minZoom = fit * 0.5
	c.maxZoom = fit * 8
	if c.opts.MinZoom > 0 {
		c.minZoom = c.opts.MinZoom
	}
	if c.opts.MaxZoom > 0 {
		c.maxZoom = c.opts.MaxZoom
	}
	if c.minZoom > c.maxZoom {
		c.minZoom, c.maxZoom = c.maxZoom, c.minZoom
	}
}

// SetViewportSize updates the viewport dimensions and reclamps the state.
func (c *Camera) SetViewportSize(w, h float64) {
	c.viewportW = w
	c.viewportH = h
	c.recomputeBounds()
	c.state = c.clamp(c.state)
}

// ViewState returns the current pose.
func (c *Camera) ViewState() ViewState { return c.state }

// ZoomBounds returns the current [min, max] zoom.
func (c *Camera) ZoomBounds() (float64, float64) { return c.minZoom, c.maxZoom }

// ViewportSize returns the viewport dimensions in screen pixels.
func (c *Camera) ViewportSize() (float64, float64) { return c.viewportW, c.viewportH }

func (c *Camera) clamp(s ViewState) ViewState {
	s.Zoom = math.Min(c.maxZoom, math.Max(c.minZoom, s.Zoom))
	if s.Zoom <= 0 || math.IsNaN(s.Zoom) {
		s.Zoom = c.minZoom
	}

	// Keep the view center inside the image bounds expanded by a margin
	// of the visible extent, so the user can never pan fully off-slide.
	visW := c.viewportW / s.Zoom
	visH := c.viewportH / s.Zoom
	cx := s.OffsetX + visW/2
	cy := s.OffsetY + visH/2
	cx = math.Min(c.imageW+panMargin*visW, math.Max(-panMargin*visW, cx))
	cy = math.Min(c.imageH+panMargin*visH, math.Max(-panMargin*visH, cy))
	s.OffsetX = cx - visW/2
	s.OffsetY = cy - visH/2
	return s
}

// SetViewState merges a partial update into the current state. With a
// positive transition duration the change animates over subsequent
// Advance calls, cancelling any in-flight animation; otherwise it applies
// immediately.
func (c *Camera) SetViewState(u StateUpdate, tr Transition) {
	next := c.state
	if u.Zoom != nil {
		next.Zoom = *u.Zoom
	}
	if u.OffsetX != nil {
		next.OffsetX = *u.OffsetX
	}
	if u.OffsetY != nil {
		next.OffsetY = *u.OffsetY
	}
	if u.RotationDeg != nil {
		next.RotationDeg = *u.RotationDeg
	}
	next = c.clamp(next)

	if tr.Duration <= 0 {
		c.anim = nil
		c.state = next
		return
	}
	c.anim = &animation{
		from:     c.state,
		to:       next,
		start:    time.Now(),
		duration: tr.Duration,
		easing:   tr.Easing,
	}
}

// Advance steps any running animation to the given time. It returns true
// while an animation is still in flight (the caller should keep scheduling
// frames).
func (c *Camera) Advance(now time.Time) bool {
	a := c.anim
	if a == nil {
		return false
	}
	t := float64(now.Sub(a.start)) / float64(a.duration)
	if t >= 1 {
		c.state = a.to
		c.anim = nil
		return false
	}
	if t < 0 {
		t = 0
	}
	if a.easing != nil {
		t = a.easing(t)
	}
	c.state = c.clamp(ViewState{
		Zoom:        lerp(a.from.Zoom, a.to.Zoom, t),
		OffsetX:     lerp(a.from.OffsetX, a.to.OffsetX, t),
		OffsetY:     lerp(a.from.OffsetY, a.to.OffsetY, t),
		RotationDeg: lerp(a.from.RotationDeg, a.to.RotationDeg, t),
	})
	return true
}

// BeginDrag cancels any running animation so it cannot fight the gesture.
func (c *Camera) BeginDrag() { c.anim = nil }

// Pan shifts the view by a screen-space delta.
func (c *Camera) Pan(dxScreen, dyScreen float64) {
	rad := -c.state.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	dx := (cos*dxScreen - sin*dyScreen) / c.state.Zoom
	dy := (sin*dxScreen + cos*dyScreen) / c.state.Zoom
	c.state = c.clamp(ViewState{
		Zoom:        c.state.Zoom,
		OffsetX:     c.state.OffsetX - dx,
		OffsetY:     c.state.OffsetY - dy,
		RotationDeg: c.state.RotationDeg,
	})
}

// FitToImage zooms out so the whole image fits the viewport and centers it.
func (c *Camera) FitToImage() {
	c.anim = nil
	zoom := math.Min(c.maxZoom, math.Max(c.minZoom, c.fitZoom()))
	visW := c.viewportW / zoom
	visH := c.viewportH / zoom
	c.state = c.clamp(ViewState{
		Zoom:    zoom,
		OffsetX: c.imageW/2 - visW/2,
		OffsetY: c.imageH/2 - visH/2,
	})
}

// ZoomBy scales zoom by factor anchored at a screen point: the world
// coordinate under that point stays fixed.
func (c *Camera) ZoomBy(factor, screenX, screenY float64) {
	if factor <= 0 || math.IsNaN(factor) {
		return
	}
	c.anim = nil
	wx, wy := c.ScreenToWorld(screenX, screenY)
	next := c.state
	next.Zoom = math.Min(c.maxZoom, math.Max(c.minZoom, c.state.Zoom*factor))

	// Re-solve the offset so (wx, wy) maps back to (screenX, screenY).
	rad := -next.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	dxs := screenX - c.viewportW/2
	dys := screenY - c.viewportH/2
	dx := (cos*dxs - sin*dys) / next.Zoom
	dy := (sin*dxs + cos*dys) / next.Zoom
	visW := c.viewportW / next.Zoom
	visH := c.viewportH / next.Zoom
	next.OffsetX = wx - dx - visW/2
	next.OffsetY = wy - dy - visH/2
	c.state = c.clamp(next)
}

// Center returns the world coordinate at the viewport center.
func (c *Camera) Center() (float64, float64) {
	return c.state.OffsetX + c.viewportW/(2*c.state.Zoom),
		c.state.OffsetY + c.viewportH/(2*c.state.Zoom)
}

// ScreenToWorld maps a screen-pixel coordinate to world units.
func (c *Camera) ScreenToWorld(sx, sy float64) (float64, float64) {
	rad := -c.state.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	dxs := sx - c.viewportW/2
	dys := sy - c.viewportH/2
	dx := (cos*dxs - sin*dys) / c.state.Zoom
	dy := (sin*dxs + cos*dys) / c.state.Zoom
	cx, cy := c.Center()
	return cx + dx, cy + dy
}

// WorldToScreen maps a world coordinate to screen pixels.
func (c *Camera) WorldToScreen(wx, wy float64) (float64, float64) {
	rad := c.state.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	cx, cy := c.Center()
	dx := (wx - cx) * c.state.Zoom
	dy := (wy - cy) * c.state.Zoom
	return c.viewportW/2 + cos*dx - sin*dy,
		c.viewportH/2 + sin*dx + cos*dy
}

// Matrix returns the row-major 3x3 homogeneous world-to-screen transform,
// consistent with WorldToScreen.
func (c *Camera) Matrix() [9]float64 {
	rad := c.state.RotationDeg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	z := c.state.Zoom
	cx, cy := c.Center()
	// screen = R(rot) * zoom * (world - center) + viewportCenter
	a := cos * z
	b := -sin * z
	d := sin * z
	e := cos * z
	tx := c.viewportW/2 - a*cx - b*cy
	ty := c.viewportH/2 - d*cx - e*cy
	return [9]float64{
		a, b, tx,
		d, e, ty,
		0, 0, 1,
	}
}

// ViewBounds returns the axis-aligned world-space bounding box of the
// (possibly rotated) viewport.
func (c *Camera) ViewBounds() (minX, minY, maxX, maxY float64) {
	corners := [4][2]float64{
		{0, 0},
		{c.viewportW, 0},
		{0, c.viewportH},
		{c.viewportW, c.viewportH},
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, p := range corners {
		wx, wy := c.ScreenToWorld(p[0], p[1])
		minX = math.Min(minX, wx)
		minY = math.Min(minY, wy)
		maxX = math.Max(maxX, wx)
		maxY = math.Max(maxY, wy)
	}
	return
}

// Tier selects the pyramid tier for the current zoom. Higher zoom picks
// finer tiers.
func (c *Camera) Tier() int {
	t := int(math.Floor(float64(c.maxTierZoom) + math.Log2(c.state.Zoom)))
	if t < 0 {
		t = 0
	}
	if t > c.maxTierZoom {
		t = c.maxTierZoom
	}
	return t
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
