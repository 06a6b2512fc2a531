// Package pointdata holds the flat point-annotation buffers produced by the
// tile decoding workers and the ROI filtering that runs over them.
//
// Buffers arrive from outside the engine and are never trusted: every
// consumer re-derives a safe usable count from the shortest consistent
// parallel array, truncating rather than erroring.
package pointdata

import "github.com/slideview/engine/internal/geom"

// PointData is a set of parallel per-point arrays. Positions is a flat
// [x0,y0,x1,y1,...] buffer; FillModes, IDs and DrawIndices are optional.
type PointData struct {
	Count          int
	Positions      []float32
	PaletteIndices []uint16
	FillModes      []uint8
	IDs            []uint64
	DrawIndices    []int32
}

// SafeCount returns the largest point count every present array agrees on.
func (pd *PointData) SafeCount() int {
	if pd == nil || pd.Count <= 0 {
		return 0
	}
	n := pd.Count
	if m := len(pd.Positions) / 2; m < n {
		n = m
	}
	if m := len(pd.PaletteIndices); m < n {
		n = m
	}
	if pd.FillModes != nil {
		if m := len(pd.FillModes); m < n {
			n = m
		}
	}
	if pd.IDs != nil {
		if m := len(pd.IDs); m < n {
			n = m
		}
	}
	return n
}

// Clone copies all arrays. The engine and the index builder never hold
// on to caller-provided buffers; the same buffers may still be in use
// on the caller's side while a build runs.
func (pd *PointData) Clone() *PointData {
	if pd == nil {
		return nil
	}
	out := &PointData{Count: pd.Count}
	out.Positions = append([]float32(nil), pd.Positions...)
	out.PaletteIndices = append([]uint16(nil), pd.PaletteIndices...)
	if pd.FillModes != nil {
		out.FillModes = append([]uint8(nil), pd.FillModes...)
	}
	if pd.IDs != nil {
		out.IDs = append([]uint64(nil), pd.IDs...)
	}
	if pd.DrawIndices != nil {
		out.DrawIndices = append([]int32(nil), pd.DrawIndices...)
	}
	return out
}

// FilterByPolygons compacts the points contained in any prepared polygon
// into freshly allocated arrays, preserving original order. It returns nil
// only when the input itself is unusable; an empty or degenerate polygon
// set yields an all-empty (non-nil) result.
func FilterByPolygons(pd *PointData, prepared []geom.Prepared) *PointData {
	safe := pd.SafeCount()
	if safe == 0 {
		return nil
	}

	out := &PointData{
		Positions:      make([]float32, 0, 16),
		PaletteIndices: make([]uint16, 0, 16),
	}
	if pd.FillModes != nil {
		out.FillModes = make([]uint8, 0, 16)
	}
	if pd.IDs != nil {
		out.IDs = make([]uint64, 0, 16)
	}
	if len(prepared) == 0 {
		return out
	}

	for i := 0; i < safe; i++ {
		x := float64(pd.Positions[2*i])
		y := float64(pd.Positions[2*i+1])
		if !geom.ContainsAny(prepared, x, y) {
			continue
		}
		out.Positions = append(out.Positions, pd.Positions[2*i], pd.Positions[2*i+1])
		out.PaletteIndices = append(out.PaletteIndices, pd.PaletteIndices[i])
		if out.FillModes != nil {
			out.FillModes = append(out.FillModes, pd.FillModes[i])
		}
		if out.IDs != nil {
			out.IDs = append(out.IDs, pd.IDs[i])
		}
		out.Count++
	}
	return out
}

// FilterIndicesByPolygons runs the same containment test but returns the
// surviving original indices, for callers that re-key into other parallel
// arrays instead of copying.
func FilterIndicesByPolygons(pd *PointData, prepared []geom.Prepared) []int {
	safe := pd.SafeCount()
	if safe == 0 {
		return nil
	}
	out := make([]int, 0, 16)
	if len(prepared) == 0 {
		return out
	}
	for i := 0; i < safe; i++ {
		x := float64(pd.Positions[2*i])
		y := float64(pd.Positions[2*i+1])
		if geom.ContainsAny(prepared, x, y) {
			out = append(out, i)
		}
	}
	return out
}
