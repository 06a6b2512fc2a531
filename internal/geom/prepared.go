package geom

import "math"

// Prepared is a polygon preprocessed for repeated containment tests: a
// bounding box for cheap rejection and a net area (outer minus holes,
// floored at a small positive epsilon) usable as a weight.
type Prepared struct {
	Outer Ring
	Holes []Ring

	MinX, MinY float64
	MaxX, MaxY float64
	Area       float64
}

func preparePolygon(p Polygon) (Prepared, bool) {
	if len(p.Outer) < 4 {
		return Prepared{}, false
	}
	pr := Prepared{
		Outer: p.Outer,
		Holes: p.Holes,
		MinX:  math.Inf(1),
		MinY:  math.Inf(1),
		MaxX:  math.Inf(-1),
		MaxY:  math.Inf(-1),
	}
	for _, pt := range p.Outer {
		pr.MinX = math.Min(pr.MinX, pt[0])
		pr.MinY = math.Min(pr.MinY, pt[1])
		pr.MaxX = math.Max(pr.MaxX, pt[0])
		pr.MaxY = math.Max(pr.MaxY, pt[1])
	}
	area := math.Abs(SignedArea(p.Outer))
	for _, h := range p.Holes {
		area -= math.Abs(SignedArea(h))
	}
	if area < minAreaFloor {
		area = minAreaFloor
	}
	pr.Area = area
	return pr, true
}

// Prepare normalizes tagged geometries into a flat prepared-polygon list.
// Malformed entries are skipped.
func Prepare(geoms []Geometry) []Prepared {
	var out []Prepared
	for _, g := range geoms {
		for _, rings := range g.Polygons {
			poly, ok := NormalizePolygon(rings)
			if !ok {
				continue
			}
			if pr, ok := preparePolygon(poly); ok {
				out = append(out, pr)
			}
		}
	}
	return out
}

// ContainsAny reports whether any prepared polygon contains (x, y),
// rejecting on bounding box before running ring tests.
func ContainsAny(prepared []Prepared, x, y float64) bool {
	for i := range prepared {
		p := &prepared[i]
		if x < p.MinX || x > p.MaxX || y < p.MinY || y > p.MaxY {
			continue
		}
		if (Polygon{Outer: p.Outer, Holes: p.Holes}).Contains(x, y) {
			return true
		}
	}
	return false
}

// Sniff guesses geometry structure from decoded-JSON nesting depth. It is
// best effort only: a single-ring polygon and a one-element multipolygon of
// rings are indistinguishable at depth 3, so tagged input via NewRing,
// NewPolygon, and NewMultiPolygon is preferred wherever the caller knows
// the kind.
func Sniff(v any) []Geometry {
	switch depthOf(v) {
	case 2: // [[x,y],...]: ring
		if r, ok := toRing(v); ok {
			return []Geometry{NewRing(r)}
		}
	case 3: // [ring, ring, ...]: polygon with holes
		if rings, ok := toRings(v); ok {
			return []Geometry{NewPolygon(rings)}
		}
	case 4: // [[ring,...], ...]: multipolygon
		arr, ok := v.([]any)
		if !ok {
			return nil
		}
		var polys [][]Ring
		for _, el := range arr {
			if rings, ok := toRings(el); ok {
				polys = append(polys, rings)
			}
		}
		if len(polys) > 0 {
			return []Geometry{NewMultiPolygon(polys)}
		}
	}
	return nil
}

func depthOf(v any) int {
	d := 0
	for {
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			if _, isNum := v.(float64); isNum {
				return d
			}
			return d
		}
		d++
		v = arr[0]
	}
}

func toRing(v any) (Ring, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	r := make(Ring, 0, len(arr))
	for _, el := range arr {
		pt, ok := el.([]any)
		if !ok || len(pt) < 2 {
			continue
		}
		x, xok := pt[0].(float64)
		y, yok := pt[1].(float64)
		if !xok || !yok {
			continue
		}
		r = append(r, [2]float64{x, y})
	}
	return r, len(r) > 0
}

func toRings(v any) ([]Ring, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	var rings []Ring
	for _, el := range arr {
		if r, ok := toRing(el); ok {
			rings = append(rings, r)
		}
	}
	return rings, len(rings) > 0
}
