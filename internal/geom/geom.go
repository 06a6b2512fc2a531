// Package geom provides the polygon primitives used for region-of-interest
// filtering: ring closing, signed area, containment with holes, and prepared
// polygons for fast repeated hit tests.
//
// The failure policy throughout is degrade, not error: malformed rings and
// polygons simply contribute nothing, so callers always get a usable
// (possibly empty) result.
package geom

import "math"

// Ring is a closed sequence of [x, y] vertices. A valid ring has at least
// four coordinates with the first equal to the last.
type Ring [][2]float64

// Polygon is an outer ring with zero or more holes.
type Polygon struct {
	Outer Ring
	Holes []Ring
}

// Kind tags geometry input explicitly so ingestion never has to guess
// structure from nesting depth.
type Kind int

const (
	KindRing Kind = iota
	KindPolygon
	KindMultiPolygon
)

// Geometry is tagged polygon input. Polygons holds one ring list per
// polygon; for KindRing and KindPolygon it has exactly one element.
type Geometry struct {
	Kind     Kind
	Polygons [][]Ring
}

// NewRing wraps a single ring as a geometry.
func NewRing(r Ring) Geometry {
	return Geometry{Kind: KindRing, Polygons: [][]Ring{{r}}}
}

// NewPolygon wraps a ring list (outer + holes, in any order) as a geometry.
func NewPolygon(rings []Ring) Geometry {
	return Geometry{Kind: KindPolygon, Polygons: [][]Ring{rings}}
}

// NewMultiPolygon wraps a list of ring lists as a geometry.
func NewMultiPolygon(polys [][]Ring) Geometry {
	return Geometry{Kind: KindMultiPolygon, Polygons: polys}
}

// minAreaFloor keeps net polygon areas strictly positive so they can be
// used as weights without zero/negative surprises.
const minAreaFloor = 1e-9

// CloseRing drops non-finite and consecutive-duplicate points, then appends
// a closing point if the ring is open. Rings with fewer than three distinct
// points collapse to nil ("no polygon"). Idempotent.
func CloseRing(points Ring) Ring {
	out := make(Ring, 0, len(points)+1)
	for _, p := range points {
		if math.IsNaN(p[0]) || math.IsInf(p[0], 0) || math.IsNaN(p[1]) || math.IsInf(p[1], 0) {
			continue
		}
		if n := len(out); n > 0 && out[n-1] == p {
			continue
		}
		out = append(out, p)
	}
	if len(out) >= 2 && out[0] == out[len(out)-1] {
		out = out[:len(out)-1]
	}
	if len(out) < 3 {
		return nil
	}
	out = append(out, out[0])
	return out
}

// SignedArea computes the shoelace area of a ring; the sign encodes winding.
func SignedArea(ring Ring) float64 {
	if len(ring) < 3 {
		return 0
	}
	area := 0.0
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		area += (ring[j][0] + ring[i][0]) * (ring[j][1] - ring[i][1])
		j = i
	}
	return area / 2
}

// NormalizePolygon closes every ring and picks the ring with the largest
// absolute area as the outer ring, treating all others as holes. This
// disambiguates ring-list input where outer/hole order is not guaranteed.
// Returns false when no valid outer ring survives.
func NormalizePolygon(rings []Ring) (Polygon, bool) {
	closed := make([]Ring, 0, len(rings))
	for _, r := range rings {
		if c := CloseRing(r); c != nil {
			closed = append(closed, c)
		}
	}
	if len(closed) == 0 {
		return Polygon{}, false
	}
	outer := 0
	best := math.Abs(SignedArea(closed[0]))
	for i := 1; i < len(closed); i++ {
		if a := math.Abs(SignedArea(closed[i])); a > best {
			best = a
			outer = i
		}
	}
	p := Polygon{Outer: closed[outer]}
	for i, r := range closed {
		if i != outer {
			p.Holes = append(p.Holes, r)
		}
	}
	return p, true
}

// PointInRing reports whether (x, y) is inside ring using ray casting.
// Zero-height edges get an epsilon substitute so the crossing division is
// always defined.
func PointInRing(x, y float64, ring Ring) bool {
	if len(ring) < 4 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > y) != (yj > y) {
			dy := yj - yi
			if dy == 0 {
				dy = 1e-12
			}
			if x < (xj-xi)*(y-yi)/dy+xi {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Contains reports whether (x, y) is inside the outer ring and in no hole.
func (p Polygon) Contains(x, y float64) bool {
	if !PointInRing(x, y, p.Outer) {
		return false
	}
	for _, h := range p.Holes {
		if PointInRing(x, y, h) {
			return false
		}
	}
	return true
}
