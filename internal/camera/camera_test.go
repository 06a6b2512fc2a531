package camera

import (
	"math"
	"testing"
	"time"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func newTestCamera() *Camera {
	// 4096x4096 image in an 800x600 viewport; fitZoom = 600/4096.
	return New(4096, 4096, 6, 800, 600, Options{})
}

func TestFitToImage(t *testing.T) {
	c := newTestCamera()
	fit := math.Min(800.0/4096, 600.0/4096)
	if !approx(c.ViewState().Zoom, fit) {
		t.Errorf("fit zoom = %v, want %v", c.ViewState().Zoom, fit)
	}
	cx, cy := c.Center()
	if !approx(cx, 2048) || !approx(cy, 2048) {
		t.Errorf("center = (%v,%v), want image center", cx, cy)
	}
}

func TestZoomBounds(t *testing.T) {
	c := newTestCamera()
	fit := c.fitZoom()

	z := fit * 100
	c.SetViewState(StateUpdate{Zoom: &z}, Transition{})
	if !approx(c.ViewState().Zoom, fit*8) {
		t.Errorf("zoom not clamped to max: %v", c.ViewState().Zoom)
	}
	z = fit / 100
	c.SetViewState(StateUpdate{Zoom: &z}, Transition{})
	if !approx(c.ViewState().Zoom, fit*0.5) {
		t.Errorf("zoom not clamped to min: %v", c.ViewState().Zoom)
	}
}

func TestZoomBoundsOverride(t *testing.T) {
	c := New(4096, 4096, 6, 800, 600, Options{MinZoom: 0.25, MaxZoom: 2})
	min, max := c.ZoomBounds()
	if min != 0.25 || max != 2 {
		t.Errorf("bounds = [%v,%v], want [0.25,2]", min, max)
	}

	// Inverted override pair is swapped, not rejected.
	c = New(4096, 4096, 6, 800, 600, Options{MinZoom: 2, MaxZoom: 0.25})
	min, max = c.ZoomBounds()
	if min != 0.25 || max != 2 {
		t.Errorf("inverted bounds = [%v,%v], want swapped", min, max)
	}
}

func TestScreenWorldRoundTrip(t *testing.T) {
	c := newTestCamera()
	z, rot := 0.5, 30.0
	c.SetViewState(StateUpdate{Zoom: &z, RotationDeg: &rot}, Transition{})

	for _, p := range [][2]float64{{0, 0}, {400, 300}, {800, 600}, {123, 457}} {
		wx, wy := c.ScreenToWorld(p[0], p[1])
		sx, sy := c.WorldToScreen(wx, wy)
		if !approx(sx, p[0]) || !approx(sy, p[1]) {
			t.Errorf("round trip (%v,%v) -> (%v,%v)", p[0], p[1], sx, sy)
		}
	}
}

func TestMatrixMatchesWorldToScreen(t *testing.T) {
	c := newTestCamera()
	z, rot := 0.7, -45.0
	c.SetViewState(StateUpdate{Zoom: &z, RotationDeg: &rot}, Transition{})
	m := c.Matrix()

	wx, wy := 1000.0, 2500.0
	mx := m[0]*wx + m[1]*wy + m[2]
	my := m[3]*wx + m[4]*wy + m[5]
	sx, sy := c.WorldToScreen(wx, wy)
	if !approx(mx, sx) || !approx(my, sy) {
		t.Errorf("matrix maps to (%v,%v), WorldToScreen to (%v,%v)", mx, my, sx, sy)
	}
}

func TestZoomByAnchorsScreenPoint(t *testing.T) {
	c := newTestCamera()
	z := 0.5
	c.SetViewState(StateUpdate{Zoom: &z}, Transition{})

	anchorX, anchorY := 200.0, 150.0
	wantWX, wantWY := c.ScreenToWorld(anchorX, anchorY)
	c.ZoomBy(1.5, anchorX, anchorY)
	gotWX, gotWY := c.ScreenToWorld(anchorX, anchorY)
	if !approx(gotWX, wantWX) || !approx(gotWY, wantWY) {
		t.Errorf("anchor moved: (%v,%v) -> (%v,%v)", wantWX, wantWY, gotWX, gotWY)
	}
	if !approx(c.ViewState().Zoom, 0.75) {
		t.Errorf("zoom = %v, want 0.75", c.ViewState().Zoom)
	}
}

func TestPanClampKeepsImageInView(t *testing.T) {
	c := newTestCamera()
	z := 0.5
	far := 1e9
	c.SetViewState(StateUpdate{Zoom: &z, OffsetX: &far, OffsetY: &far}, Transition{})

	cx, cy := c.Center()
	visW := 800 / 0.5
	visH := 600 / 0.5
	if cx > 4096+0.2*visW+1e-6 || cy > 4096+0.2*visH+1e-6 {
		t.Errorf("center (%v,%v) escaped the pan margin", cx, cy)
	}

	far = -1e9
	c.SetViewState(StateUpdate{OffsetX: &far, OffsetY: &far}, Transition{})
	cx, cy = c.Center()
	if cx < -0.2*visW-1e-6 || cy < -0.2*visH-1e-6 {
		t.Errorf("center (%v,%v) escaped the negative pan margin", cx, cy)
	}
}

func TestPartialUpdateKeepsOtherFields(t *testing.T) {
	c := newTestCamera()
	rot := 90.0
	c.SetViewState(StateUpdate{RotationDeg: &rot}, Transition{})
	before := c.ViewState()

	z := before.Zoom * 1.2
	c.SetViewState(StateUpdate{Zoom: &z}, Transition{})
	after := c.ViewState()
	if after.RotationDeg != 90 {
		t.Errorf("rotation changed by zoom-only update: %v", after.RotationDeg)
	}
}

func TestTierSelection(t *testing.T) {
	c := New(1 << 14, 1<<14, 6, 1024, 1024, Options{MinZoom: 1.0 / 1024, MaxZoom: 8})
	cases := []struct {
		zoom float64
		want int
	}{
		{1, 6},
		{0.5, 5},
		{0.25, 4},
		{1.0 / 64, 0},
		{1.0 / 1024, 0}, // clamped at coarsest
		{4, 6},          // clamped at finest
	}
	for _, tc := range cases {
		z := tc.zoom
		c.SetViewState(StateUpdate{Zoom: &z}, Transition{})
		if got := c.Tier(); got != tc.want {
			t.Errorf("zoom %v: tier = %d, want %d", tc.zoom, got, tc.want)
		}
	}
}

func TestAnimation(t *testing.T) {
	c := newTestCamera()
	start := c.ViewState()
	z := start.Zoom * 2
	c.SetViewState(StateUpdate{Zoom: &z}, Transition{Duration: 100 * time.Millisecond})

	if c.ViewState().Zoom != start.Zoom {
		t.Fatal("animated update applied immediately")
	}
	mid := c.anim.start.Add(50 * time.Millisecond)
	if !c.Advance(mid) {
		t.Fatal("Advance mid-animation returned false")
	}
	got := c.ViewState().Zoom
	if got <= start.Zoom || got >= z {
		t.Errorf("mid-animation zoom %v not between %v and %v", got, start.Zoom, z)
	}
	if c.Advance(c.anim.start.Add(200 * time.Millisecond)) {
		t.Error("Advance past end returned true")
	}
	if !approx(c.ViewState().Zoom, z) {
		t.Errorf("final zoom = %v, want %v", c.ViewState().Zoom, z)
	}
}

func TestNewAnimationCancelsPrevious(t *testing.T) {
	c := newTestCamera()
	z1 := c.ViewState().Zoom * 2
	c.SetViewState(StateUpdate{Zoom: &z1}, Transition{Duration: time.Second})
	z2 := c.ViewState().Zoom * 4
	c.SetViewState(StateUpdate{Zoom: &z2}, Transition{Duration: time.Second})

	c.Advance(c.anim.start.Add(2 * time.Second))
	if !approx(c.ViewState().Zoom, math.Min(z2, c.maxZoom)) {
		t.Errorf("final zoom %v, want the second animation's target", c.ViewState().Zoom)
	}
}

func TestDragCancelsAnimation(t *testing.T) {
	c := newTestCamera()
	z := c.ViewState().Zoom * 2
	c.SetViewState(StateUpdate{Zoom: &z}, Transition{Duration: time.Second})
	c.BeginDrag()
	if c.Advance(time.Now().Add(2 * time.Second)) {
		t.Error("animation survived drag start")
	}
}
