package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slideview/engine/internal/cache"
	"github.com/slideview/engine/internal/pointdata"
	"github.com/slideview/engine/internal/render"
	"github.com/slideview/engine/internal/scheduler"
	"github.com/slideview/engine/internal/source"
	"github.com/slideview/engine/internal/viewer"
	"github.com/slideview/engine/pkg/palette"
)

func tilePayload(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 180
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestRouter(t *testing.T) (http.Handler, *viewer.Engine) {
	t.Helper()

	payload := tilePayload(t)
	tiles := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	t.Cleanup(tiles.Close)

	slide, err := source.NewSlide(4096, 4096, 256, 4, "tiles")
	if err != nil {
		t.Fatal(err)
	}
	backend, err := render.NewSoftware(render.Config{TileSize: 256, PointSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	caches, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: 16,
		TileTTL:         1 * time.Minute,
		QueryCacheSize:  16,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { caches.Close() })

	engine, err := viewer.New(slide, backend, caches, viewer.Config{
		SlideID:       "demo",
		TileBase:      tiles.URL,
		ViewportW:     512,
		ViewportH:     512,
		MaxCacheTiles: 64,
		Scheduler:     scheduler.Config{MaxConcurrency: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Destroy)

	registry := NewSlideRegistry("demo", []string{"demo"})
	registry.Register("demo", engine)
	return NewRouter(RouterConfig{Registry: registry, CORSOrigins: []string{"*"}}), engine
}

func TestHealthEndpoint_NoListen(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}

func TestSlidesEndpoint_NoListen(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/slides", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("slides status = %d", rec.Code)
	}
	var resp struct {
		Default string      `json:"default"`
		Slides  []SlideInfo `json:"slides"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Default != "demo" || len(resp.Slides) != 1 || resp.Slides[0].Width != 4096 {
		t.Errorf("slides response = %+v", resp)
	}
}

func TestUnknownSlide_NoListen(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/nope/view", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown slide status = %d", rec.Code)
	}
}

func TestFrameEndpoint_NoListen(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/demo/frame.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("frame status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("frame body is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 512 || img.Bounds().Dy() != 512 {
		t.Errorf("frame bounds = %v", img.Bounds())
	}
}

func TestViewEndpoints_NoListen(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/demo/view", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("view GET status = %d", rec.Code)
	}
	var state struct {
		Zoom float64 `json:"zoom"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Zoom <= 0 {
		t.Fatalf("initial zoom = %v", state.Zoom)
	}

	// Immediate (unanimated) update applies before the response.
	body := strings.NewReader(`{"zoom":0.5}`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/s/demo/view", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("view POST status = %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Zoom != 0.5 {
		t.Errorf("zoom after POST = %v, want 0.5", state.Zoom)
	}

	// Animated update leaves the current state in place until frames
	// advance it.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/s/demo/view",
		strings.NewReader(`{"zoom":1.0,"duration_ms":200}`)))
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Zoom != 0.5 {
		t.Errorf("animated POST applied immediately: zoom = %v", state.Zoom)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/demo/frame.png", nil))
	if rec.Header().Get("X-Animating") != "1" {
		t.Error("frame during animation missing X-Animating header")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/s/demo/view", strings.NewReader("not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed view POST status = %d", rec.Code)
	}
}

func TestROIAndHitEndpoints_NoListen(t *testing.T) {
	router, engine := newTestRouter(t)

	engine.SetPoints(&pointdata.PointData{
		Count:          2,
		Positions:      []float32{100, 100, 3000, 3000},
		PaletteIndices: []uint16{1, 1},
		IDs:            []uint64{11, 22},
	}, []palette.Term{{TermID: "t", Color: "#112233"}})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/s/demo/roi",
		strings.NewReader(`[[[0,0],[200,0],[200,200],[0,200]]]`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("roi status = %d: %s", rec.Code, rec.Body.String())
	}
	var roiResp struct {
		Regions int `json:"regions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&roiResp); err != nil {
		t.Fatal(err)
	}
	if roiResp.Regions != 1 {
		t.Errorf("regions = %d, want 1", roiResp.Regions)
	}

	// The spatial index builds asynchronously; poll the hit endpoint.
	deadline := time.Now().Add(2 * time.Second)
	var hitResp struct {
		IDs []uint64 `json:"ids"`
	}
	for time.Now().Before(deadline) {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/demo/hit?x=100&y=100&r=10", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("hit status = %d", rec.Code)
		}
		hitResp.IDs = nil
		if err := json.NewDecoder(rec.Body).Decode(&hitResp); err != nil {
			t.Fatal(err)
		}
		if len(hitResp.IDs) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(hitResp.IDs) != 1 || hitResp.IDs[0] != 11 {
		t.Errorf("hit ids = %v, want [11]", hitResp.IDs)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/demo/hit?y=1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("hit without x status = %d", rec.Code)
	}
}

func TestStatsEndpoint_NoListen(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/s/demo/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var snap scheduler.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
}
