// Package api provides HTTP handlers for the slideview server.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/slideview/engine/internal/camera"
	"github.com/slideview/engine/internal/geom"
	"github.com/slideview/engine/internal/viewer"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *SlideRegistry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global slides endpoint (not slide-scoped)
	r.Get("/api/slides", slidesHandler(cfg.Registry))

	// Slide-scoped routes: /s/{slide}/...
	r.Route("/s/{slide}", func(r chi.Router) {
		r.Use(slideMiddleware(cfg.Registry))

		r.Get("/frame.png", frameHandler)
		r.Get("/view", viewGetHandler)
		r.Post("/view", viewPostHandler)
		r.Post("/fit", fitHandler)
		r.Post("/roi", roiHandler)
		r.Get("/hit", hitHandler)
		r.Get("/stats", statsHandler)
	})

	return r
}

// Context key for the slide engine
type ctxKey string

const slideEngineKey ctxKey = "slideEngine"

// slideMiddleware resolves the slide from URL and injects its engine into
// context.
func slideMiddleware(registry *SlideRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slideID := chi.URLParam(r, "slide")
			e := registry.Get(slideID)
			if e == nil {
				http.Error(w, "slide not found: "+slideID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), slideEngineKey, e)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getEngine(r *http.Request) *viewer.Engine {
	if e, ok := r.Context().Value(slideEngineKey).(*viewer.Engine); ok {
		return e
	}
	return nil
}

// slidesHandler returns the list of available slides.
func slidesHandler(registry *SlideRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default": registry.DefaultSlideID(),
			"slides":  registry.Slides(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

// frameHandler renders the current view as a PNG. While a camera animation
// is in flight the response carries X-Animating so clients keep polling.
func frameHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	data, animating, err := e.RenderFrame(time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if animating {
		w.Header().Set("X-Animating", "1")
	}
	w.Write(data)
}

func viewGetHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e.ViewState())
}

// viewPostHandler merges a partial view-state update. A positive
// duration_ms animates the transition across subsequent frame renders.
func viewPostHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	var body struct {
		camera.StateUpdate
		DurationMs int `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid view state: "+err.Error(), http.StatusBadRequest)
		return
	}
	tr := camera.Transition{}
	if body.DurationMs > 0 {
		tr.Duration = time.Duration(body.DurationMs) * time.Millisecond
		tr.Easing = camera.EaseInOutCubic
	}
	e.SetView(body.StateUpdate, tr)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e.ViewState())
}

func fitHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	e.FitToImage()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e.ViewState())
}

// roiHandler replaces the active regions. The body is a JSON array of
// untagged geometry (ring, polygon, or multipolygon nesting); an empty
// array clears the filter.
func roiHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	var raw interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "invalid geometry: "+err.Error(), http.StatusBadRequest)
		return
	}
	var geoms []geom.Geometry
	if list, ok := raw.([]interface{}); ok {
		for _, item := range list {
			geoms = append(geoms, geom.Sniff(item)...)
		}
	}
	e.SetROIs(geoms)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"regions": len(geoms),
	})
}

func hitHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	x, errX := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	y, errY := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
	if errX != nil || errY != nil {
		http.Error(w, "missing or invalid x/y query params", http.StatusBadRequest)
		return
	}
	radius := 8.0
	if rs := r.URL.Query().Get("r"); rs != "" {
		if v, err := strconv.ParseFloat(rs, 64); err == nil && v >= 0 {
			radius = v
		}
	}
	ids := e.HitTest(x, y, radius)
	if ids == nil {
		ids = []uint64{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"ids": ids,
	})
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	e := getEngine(r)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(e.Stats())
}
