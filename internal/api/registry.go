package api

import (
	"github.com/slideview/engine/internal/viewer"
)

// SlideInfo contains information about a slide for the API response.
type SlideInfo struct {
	ID     string `json:"id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SlideRegistry holds viewer engines for all configured slides.
type SlideRegistry struct {
	engines      map[string]*viewer.Engine
	defaultSlide string
	slideOrder   []string
}

// NewSlideRegistry creates a new slide registry.
func NewSlideRegistry(defaultSlide string, order []string) *SlideRegistry {
	return &SlideRegistry{
		engines:      make(map[string]*viewer.Engine),
		defaultSlide: defaultSlide,
		slideOrder:   order,
	}
}

// Register adds an engine for a slide.
func (r *SlideRegistry) Register(slideID string, e *viewer.Engine) {
	r.engines[slideID] = e
}

// Get returns the engine for a slide, or nil if not found.
func (r *SlideRegistry) Get(slideID string) *viewer.Engine {
	return r.engines[slideID]
}

// DefaultSlideID returns the default slide ID.
func (r *SlideRegistry) DefaultSlideID() string {
	return r.defaultSlide
}

// SlideIDs returns all slide IDs in config order.
func (r *SlideRegistry) SlideIDs() []string {
	return r.slideOrder
}

// Slides returns slide info for all registered slides.
func (r *SlideRegistry) Slides() []SlideInfo {
	infos := make([]SlideInfo, 0, len(r.slideOrder))
	for _, id := range r.slideOrder {
		e := r.engines[id]
		if e == nil {
			continue
		}
		s := e.Slide()
		infos = append(infos, SlideInfo{ID: id, Width: s.Width, Height: s.Height})
	}
	return infos
}

// DestroyAll tears down every registered engine.
func (r *SlideRegistry) DestroyAll() {
	for _, e := range r.engines {
		e.Destroy()
	}
}
