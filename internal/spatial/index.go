// Package spatial implements a hashed uniform grid over point positions,
// used for constant-expected-time point and region hit queries.
package spatial

import (
	"math"

	"github.com/slideview/engine/internal/pointdata"
)

const (
	// emptySlot marks an unused hash table slot.
	emptySlot = int32(-1)

	minCellSize     = 24
	maxCellSize     = 1024
	defaultCellSize = 256

	hashX = 73856093
	hashY = 19349663
)

// Index is an immutable spatial grid built once per point-set version.
// Points are bucketed into cells of cellSize world units; a right-sized
// open-addressing hash table maps (cellX, cellY) to a dense cell index
// whose slot range in PointIndices lists the cell's members.
type Index struct {
	CellSize  float64
	SafeCount int
	Positions []float32
	IDs       []uint64

	HashTable    []int32 // slot -> dense cell index, or emptySlot
	CellKeys     []int32 // cellX, cellY pairs, indexed by dense cell index
	CellOffsets  []int32
	CellLengths  []int32
	PointIndices []int32 // flattened per-cell point index lists
}

// BuildParams configures an index build.
type BuildParams struct {
	// CellSize overrides auto-sizing when > 0.
	CellSize float64
	// SourceWidth/SourceHeight drive cell auto-sizing; zero means unknown.
	SourceWidth  float64
	SourceHeight float64
	// DensityScale tunes target points-per-cell; <= 0 means 1.
	DensityScale float64
}

// AutoCellSize picks a cell size that targets roughly densityScale² points
// per cell, clamped to [24, 1024]. Without image dimensions it returns the
// fixed default.
func AutoCellSize(width, height float64, pointCount int, densityScale float64) float64 {
	if width <= 0 || height <= 0 || pointCount <= 0 {
		return defaultCellSize
	}
	if densityScale <= 0 {
		densityScale = 1
	}
	size := math.Sqrt(width*height/float64(pointCount)) * densityScale
	return math.Min(maxCellSize, math.Max(minCellSize, size))
}

// Build constructs the grid over pd's points. When drawIndices is non-nil
// the index covers only that subset; out-of-range entries are dropped, never
// an error. Points with non-finite coordinates are skipped.
func Build(pd *pointdata.PointData, drawIndices []int32, params BuildParams) *Index {
	safe := pd.SafeCount()

	// Working point set: draw subset when given, else all points.
	var work []int32
	if drawIndices != nil {
		work = make([]int32, 0, len(drawIndices))
		for _, di := range drawIndices {
			if di >= 0 && int(di) < safe {
				work = append(work, di)
			}
		}
	} else {
		work = make([]int32, safe)
		for i := range work {
			work[i] = int32(i)
		}
	}

	cellSize := params.CellSize
	if cellSize <= 0 {
		cellSize = AutoCellSize(params.SourceWidth, params.SourceHeight, len(work), params.DensityScale)
	}

	idx := &Index{
		CellSize:  cellSize,
		SafeCount: safe,
	}
	if safe > 0 {
		idx.Positions = append([]float32(nil), pd.Positions[:safe*2]...)
		if len(pd.IDs) >= safe {
			idx.IDs = append([]uint64(nil), pd.IDs[:safe]...)
		}
	}

	// First pass: count points per cell via a growable open-addressed map.
	counts := newCellCounter(len(work))
	valid := make([]int32, 0, len(work))
	cellOf := make([][2]int32, 0, len(work))
	for _, pi := range work {
		x := float64(pd.Positions[pi*2])
		y := float64(pd.Positions[pi*2+1])
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		cx := int32(math.Floor(x / cellSize))
		cy := int32(math.Floor(y / cellSize))
		counts.add(cx, cy)
		valid = append(valid, pi)
		cellOf = append(cellOf, [2]int32{cx, cy})
	}

	cellCount := counts.distinct
	idx.CellKeys = make([]int32, 0, cellCount*2)
	idx.CellOffsets = make([]int32, cellCount)
	idx.CellLengths = make([]int32, cellCount)
	idx.PointIndices = make([]int32, len(valid))

	// Assign dense indices and prefix-sum offsets in counter iteration order.
	denseOf := make(map[[2]int32]int32, cellCount)
	var offset int32
	counts.each(func(cx, cy, n int32) {
		dense := int32(len(idx.CellKeys) / 2)
		denseOf[[2]int32{cx, cy}] = dense
		idx.CellKeys = append(idx.CellKeys, cx, cy)
		idx.CellOffsets[dense] = offset
		idx.CellLengths[dense] = n
		offset += n
	})

	// Scatter each point into its cell's slot range.
	cursor := make([]int32, cellCount)
	copy(cursor, idx.CellOffsets)
	for i, pi := range valid {
		dense := denseOf[cellOf[i]]
		idx.PointIndices[cursor[dense]] = pi
		cursor[dense]++
	}

	// Right-sized lookup table: next power of two >= 2*cellCount.
	capHash := nextPow2(2 * cellCount)
	if capHash < 2 {
		capHash = 2
	}
	idx.HashTable = make([]int32, capHash)
	for i := range idx.HashTable {
		idx.HashTable[i] = emptySlot
	}
	mask := int32(capHash - 1)
	for dense := int32(0); dense < int32(cellCount); dense++ {
		cx := idx.CellKeys[dense*2]
		cy := idx.CellKeys[dense*2+1]
		slot := hashCell(cx, cy) & mask
		for idx.HashTable[slot] != emptySlot {
			slot = (slot + 1) & mask
		}
		idx.HashTable[slot] = dense
	}

	return idx
}

// LookupCellIndex resolves a cell coordinate to its dense cell index, or -1
// when the cell holds no points. Probing terminates because the table
// capacity always exceeds the stored key count.
func (idx *Index) LookupCellIndex(cx, cy int32) int32 {
	if len(idx.HashTable) == 0 {
		return -1
	}
	mask := int32(len(idx.HashTable) - 1)
	slot := hashCell(cx, cy) & mask
	for {
		dense := idx.HashTable[slot]
		if dense == emptySlot {
			return -1
		}
		if idx.CellKeys[dense*2] == cx && idx.CellKeys[dense*2+1] == cy {
			return dense
		}
		slot = (slot + 1) & mask
	}
}

// CellCoord returns the cell containing a world coordinate.
func (idx *Index) CellCoord(x, y float64) (int32, int32) {
	return int32(math.Floor(x / idx.CellSize)), int32(math.Floor(y / idx.CellSize))
}

// QueryPoint returns the indices of all points whose cell neighborhood
// covers (x, y) within the given world-unit radius, filtered by exact
// distance.
func (idx *Index) QueryPoint(x, y, radius float64) []int32 {
	if radius < 0 {
		radius = 0
	}
	var out []int32
	r2 := radius * radius
	minCX := int32(math.Floor((x - radius) / idx.CellSize))
	maxCX := int32(math.Floor((x + radius) / idx.CellSize))
	minCY := int32(math.Floor((y - radius) / idx.CellSize))
	maxCY := int32(math.Floor((y + radius) / idx.CellSize))
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			dense := idx.LookupCellIndex(cx, cy)
			if dense < 0 {
				continue
			}
			off := idx.CellOffsets[dense]
			end := off + idx.CellLengths[dense]
			for s := off; s < end; s++ {
				pi := idx.PointIndices[s]
				dx := float64(idx.Positions[pi*2]) - x
				dy := float64(idx.Positions[pi*2+1]) - y
				if dx*dx+dy*dy <= r2 {
					out = append(out, pi)
				}
			}
		}
	}
	return out
}

// QueryRegion returns the indices of all points inside the axis-aligned
// world rectangle.
func (idx *Index) QueryRegion(minX, minY, maxX, maxY float64) []int32 {
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}
	var out []int32
	minCX := int32(math.Floor(minX / idx.CellSize))
	maxCX := int32(math.Floor(maxX / idx.CellSize))
	minCY := int32(math.Floor(minY / idx.CellSize))
	maxCY := int32(math.Floor(maxY / idx.CellSize))
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			dense := idx.LookupCellIndex(cx, cy)
			if dense < 0 {
				continue
			}
			off := idx.CellOffsets[dense]
			end := off + idx.CellLengths[dense]
			for s := off; s < end; s++ {
				pi := idx.PointIndices[s]
				px := float64(idx.Positions[pi*2])
				py := float64(idx.Positions[pi*2+1])
				if px >= minX && px <= maxX && py >= minY && py <= maxY {
					out = append(out, pi)
				}
			}
		}
	}
	return out
}

func hashCell(cx, cy int32) int32 {
	h := (cx * hashX) ^ (cy * hashY)
	if h < 0 {
		h = -h
	}
	return h
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// cellCounter is the temporary open-addressed map used during the counting
// pass. It doubles (with a full rehash) whenever load factor exceeds 3/4.
type cellCounter struct {
	keys     []int32 // cx, cy pairs
	counts   []int32
	used     []bool
	mask     int32
	distinct int
	order    []int32 // insertion-ordered slot list, for stable dense indices
}

func newCellCounter(expected int) *cellCounter {
	capHint := nextPow2(expected + 1)
	if capHint < 16 {
		capHint = 16
	}
	return &cellCounter{
		keys:   make([]int32, capHint*2),
		counts: make([]int32, capHint),
		used:   make([]bool, capHint),
		mask:   int32(capHint - 1),
	}
}

func (c *cellCounter) add(cx, cy int32) {
	slot := hashCell(cx, cy) & c.mask
	for c.used[slot] {
		if c.keys[slot*2] == cx && c.keys[slot*2+1] == cy {
			c.counts[slot]++
			return
		}
		slot = (slot + 1) & c.mask
	}
	c.used[slot] = true
	c.keys[slot*2] = cx
	c.keys[slot*2+1] = cy
	c.counts[slot] = 1
	c.order = append(c.order, slot)
	c.distinct++
	if c.distinct*4 > len(c.used)*3 {
		c.grow()
	}
}

func (c *cellCounter) grow() {
	old := *c
	capNew := len(old.used) * 2
	c.keys = make([]int32, capNew*2)
	c.counts = make([]int32, capNew)
	c.used = make([]bool, capNew)
	c.mask = int32(capNew - 1)
	c.order = make([]int32, 0, old.distinct)
	c.distinct = 0
	for _, slot := range old.order {
		cx := old.keys[slot*2]
		cy := old.keys[slot*2+1]
		c.insertCount(cx, cy, old.counts[slot])
	}
}

func (c *cellCounter) insertCount(cx, cy, n int32) {
	slot := hashCell(cx, cy) & c.mask
	for c.used[slot] {
		slot = (slot + 1) & c.mask
	}
	c.used[slot] = true
	c.keys[slot*2] = cx
	c.keys[slot*2+1] = cy
	c.counts[slot] = n
	c.order = append(c.order, slot)
	c.distinct++
}

func (c *cellCounter) each(fn func(cx, cy, n int32)) {
	for _, slot := range c.order {
		fn(c.keys[slot*2], c.keys[slot*2+1], c.counts[slot])
	}
}
