// Package render provides a software drawing backend using fogleman/gg,
// used by the headless frame service and by tests.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/slideview/engine/pkg/palette"
)

// Config contains renderer configuration.
type Config struct {
	TileSize    int
	PointSize   float64
	StrokeWidth float64
	Background  color.Color
}

// TextureID identifies an uploaded tile texture. Zero is never issued.
type TextureID uint64

// Software rasterizes frames on the CPU. Uploaded tiles are held as
// decoded images; DrawTile applies the camera matrix with a bilinear
// transform so rotated views composite correctly.
type Software struct {
	cfg Config

	mu        sync.Mutex
	textures  map[TextureID]*image.RGBA
	nextID    TextureID
	frame     *gg.Context
	frameW    int
	frameH    int
	drawCalls int

	bufferPool sync.Pool
}

// NewSoftware creates a software backend.
func NewSoftware(cfg Config) (*Software, error) {
	if cfg.TileSize <= 0 {
		return nil, fmt.Errorf("render: tile size must be positive, got %d", cfg.TileSize)
	}
	if cfg.PointSize <= 0 {
		cfg.PointSize = 3
	}
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	return &Software{
		cfg:      cfg,
		textures: make(map[TextureID]*image.RGBA),
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}, nil
}

// UploadTile decodes a fetched tile payload into a texture.
func (s *Software) UploadTile(data []byte) (TextureID, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("render: decode tile: %w", err)
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(img.Bounds())
		draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.textures[id] = rgba
	return id, nil
}

// ReleaseTexture frees one texture. Releasing an unknown id is a no-op.
func (s *Software) ReleaseTexture(id TextureID) {
	s.mu.Lock()
	delete(s.textures, id)
	s.mu.Unlock()
}

// InvalidateAll drops every texture without individual release, mirroring
// a lost GPU context where the resources are already gone.
func (s *Software) InvalidateAll() {
	s.mu.Lock()
	s.textures = make(map[TextureID]*image.RGBA)
	s.mu.Unlock()
}

// TextureCount reports live textures, for leak checks.
func (s *Software) TextureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.textures)
}

// BeginFrame starts a new frame of the given pixel size.
func (s *Software) BeginFrame(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || s.frameW != w || s.frameH != h {
		s.frame = gg.NewContext(w, h)
		s.frameW = w
		s.frameH = h
	}
	s.frame.SetColor(s.cfg.Background)
	s.frame.Clear()
	s.drawCalls = 0
}

// DrawTile composites a texture whose world bounds are [minX,minY,maxX,maxY]
// through the row-major world-to-screen matrix.
func (s *Software) DrawTile(id TextureID, bounds [4]float64, m [9]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tex, ok := s.textures[id]
	if !ok || s.frame == nil {
		return
	}

	// src pixel -> world: scale to the tile's world extent, then offset.
	sw := float64(tex.Bounds().Dx())
	sh := float64(tex.Bounds().Dy())
	if sw == 0 || sh == 0 {
		return
	}
	wx := (bounds[2] - bounds[0]) / sw
	wy := (bounds[3] - bounds[1]) / sh

	// Compose with world -> screen.
	aff := f64.Aff3{
		m[0] * wx, m[1] * wy, m[0]*bounds[0] + m[1]*bounds[1] + m[2],
		m[3] * wx, m[4] * wy, m[3]*bounds[0] + m[4]*bounds[1] + m[5],
	}
	dst, ok2 := s.frame.Image().(*image.RGBA)
	if !ok2 {
		return
	}
	draw.ApproxBiLinear.Transform(dst, aff, tex, tex.Bounds(), draw.Over, nil)
	s.drawCalls++
}

// DrawPoints renders the point overlay: positions transformed through the
// matrix, colored by palette index, filled or outlined per fill mode.
func (s *Software) DrawPoints(positions []float32, paletteIndices []uint16, fillModes []uint8, pal *palette.Palette, m [9]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil || pal == nil {
		return
	}
	n := len(positions) / 2
	if len(paletteIndices) < n {
		n = len(paletteIndices)
	}
	r := s.cfg.PointSize
	for i := 0; i < n; i++ {
		wx := float64(positions[i*2])
		wy := float64(positions[i*2+1])
		sx := m[0]*wx + m[1]*wy + m[2]
		sy := m[3]*wx + m[4]*wy + m[5]
		if sx < -r || sy < -r || sx > float64(s.frameW)+r || sy > float64(s.frameH)+r {
			continue
		}
		s.frame.SetColor(pal.At(int(paletteIndices[i])))
		s.frame.DrawCircle(sx, sy, r)
		if i < len(fillModes) && fillModes[i] == 0 {
			if s.cfg.StrokeWidth > 0 {
				s.frame.SetLineWidth(s.cfg.StrokeWidth)
			}
			s.frame.Stroke()
		} else {
			s.frame.Fill()
		}
	}
	if n > 0 {
		s.drawCalls++
	}
}

// DrawCalls reports the number of draw operations issued this frame.
func (s *Software) DrawCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawCalls
}

// Frame returns the current frame image. Valid until the next BeginFrame.
func (s *Software) Frame() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil
	}
	return s.frame.Image()
}

// EncodeFrame encodes the current frame as PNG with the fast encoder.
func (s *Software) EncodeFrame() ([]byte, error) {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()
	if frame == nil {
		return nil, fmt.Errorf("render: no frame begun")
	}

	buf := s.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		s.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, frame.Image()); err != nil {
		return nil, err
	}
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
