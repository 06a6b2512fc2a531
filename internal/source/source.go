// Package source provides access to remote slide image metadata and point
// annotation payloads.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/slideview/engine/internal/pointdata"
)

// Slide describes one pyramid image source. Immutable per viewer session.
type Slide struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	TileSize    int    `json:"tile_size"`
	MaxTierZoom int    `json:"max_tier_zoom"`
	TilePath    string `json:"tile_path"`
}

// NewSlide validates required metadata. Missing dimensions, tile size, or
// tile path are unrecoverable configuration problems and fail fast.
func NewSlide(width, height, tileSize, maxTierZoom int, tilePath string) (*Slide, error) {
	s := &Slide{
		Width:       width,
		Height:      height,
		TileSize:    tileSize,
		MaxTierZoom: maxTierZoom,
		TilePath:    tilePath,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Slide) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("slide metadata: invalid dimensions %dx%d", s.Width, s.Height)
	}
	if s.TileSize <= 0 {
		return fmt.Errorf("slide metadata: tile size must be positive, got %d", s.TileSize)
	}
	if s.MaxTierZoom < 0 {
		return fmt.Errorf("slide metadata: max tier zoom must be >= 0, got %d", s.MaxTierZoom)
	}
	if s.TilePath == "" {
		return fmt.Errorf("slide metadata: tile path is empty")
	}
	return nil
}

// TierDims returns the image dimensions in pixels at a given tier, where
// MaxTierZoom is native resolution and each coarser tier halves.
func (s *Slide) TierDims(tier int) (int, int) {
	shift := uint(s.MaxTierZoom - tier)
	w := s.Width >> shift
	h := s.Height >> shift
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// TileURL builds the fetch URL for one tile. Pure function of its inputs.
func TileURL(base, tilePath string, tier, x, y int) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d",
		strings.TrimRight(base, "/"), strings.Trim(tilePath, "/"), tier, x, y)
}

// FetchMetadata loads slide metadata from `base`/metadata.json and
// validates it.
func FetchMetadata(ctx context.Context, client *http.Client, base string) (*Slide, error) {
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(base, "/") + "/metadata.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata: unexpected status %d", resp.StatusCode)
	}

	var s Slide
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadPoints fetches and decodes a point annotation payload. Decoding
// degrades to the payload's safe usable prefix rather than failing on
// truncated arrays.
func LoadPoints(ctx context.Context, client *http.Client, url string) (*pointdata.PointData, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load points: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load points: unexpected status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("load points: %w", err)
	}
	pd, err := pointdata.DecodePayload(raw)
	if err != nil {
		return nil, fmt.Errorf("load points: %w", err)
	}
	return pd, nil
}
