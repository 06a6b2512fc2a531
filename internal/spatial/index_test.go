package spatial

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/slideview/engine/internal/pointdata"
)

func makePoints(t *testing.T, n int, w, h float64, seed int64) *pointdata.PointData {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pd := &pointdata.PointData{
		Count:          n,
		Positions:      make([]float32, n*2),
		PaletteIndices: make([]uint16, n),
	}
	for i := 0; i < n; i++ {
		pd.Positions[i*2] = float32(rng.Float64() * w)
		pd.Positions[i*2+1] = float32(rng.Float64() * h)
	}
	return pd
}

func TestBuildRoundTrip(t *testing.T) {
	// Every point must be findable via its own cell, exactly once.
	pd := makePoints(t, 500, 4096, 4096, 1)
	idx := Build(pd, nil, BuildParams{SourceWidth: 4096, SourceHeight: 4096})

	for pi := 0; pi < pd.SafeCount(); pi++ {
		cx, cy := idx.CellCoord(float64(pd.Positions[pi*2]), float64(pd.Positions[pi*2+1]))
		dense := idx.LookupCellIndex(cx, cy)
		if dense < 0 {
			t.Fatalf("point %d: cell (%d,%d) not found", pi, cx, cy)
		}
		found := 0
		off := idx.CellOffsets[dense]
		for s := off; s < off+idx.CellLengths[dense]; s++ {
			if idx.PointIndices[s] == int32(pi) {
				found++
			}
		}
		if found != 1 {
			t.Fatalf("point %d appears %d times in its cell", pi, found)
		}
	}
}

func TestBuildInvariants(t *testing.T) {
	pd := makePoints(t, 300, 2048, 1024, 2)
	idx := Build(pd, nil, BuildParams{SourceWidth: 2048, SourceHeight: 1024})

	cellCount := len(idx.CellKeys) / 2
	if len(idx.CellOffsets) != cellCount || len(idx.CellLengths) != cellCount {
		t.Fatalf("cell table lengths disagree: keys=%d offsets=%d lengths=%d",
			cellCount, len(idx.CellOffsets), len(idx.CellLengths))
	}
	cap := len(idx.HashTable)
	if cap&(cap-1) != 0 {
		t.Errorf("hash capacity %d is not a power of two", cap)
	}
	if cap < 2*cellCount {
		t.Errorf("hash capacity %d < 2*cellCount (%d)", cap, 2*cellCount)
	}
	var total int32
	for i, off := range idx.CellOffsets {
		if off != total {
			t.Fatalf("offsets are not a prefix sum at cell %d", i)
		}
		total += idx.CellLengths[i]
	}
	if int(total) != len(idx.PointIndices) {
		t.Errorf("lengths sum to %d, pointIndices has %d", total, len(idx.PointIndices))
	}
}

func TestBuildDrawIndices(t *testing.T) {
	pd := makePoints(t, 50, 1000, 1000, 3)

	t.Run("outOfRangeIndicesDropped", func(t *testing.T) {
		idx := Build(pd, []int32{0, 5, -1, 49, 50, 1000}, BuildParams{})
		if len(idx.PointIndices) != 3 {
			t.Fatalf("expected 3 indexed points, got %d", len(idx.PointIndices))
		}
		seen := map[int32]bool{}
		for _, pi := range idx.PointIndices {
			seen[pi] = true
		}
		for _, want := range []int32{0, 5, 49} {
			if !seen[want] {
				t.Errorf("draw index %d missing from index", want)
			}
		}
	})

	t.Run("emptySubset", func(t *testing.T) {
		idx := Build(pd, []int32{}, BuildParams{})
		if len(idx.PointIndices) != 0 {
			t.Errorf("empty subset indexed %d points", len(idx.PointIndices))
		}
		if idx.LookupCellIndex(0, 0) != -1 {
			t.Error("lookup on empty index should miss")
		}
	})
}

func TestBuildSkipsNonFinite(t *testing.T) {
	pd := &pointdata.PointData{
		Count: 3,
		Positions: []float32{
			10, 10,
			float32(math.NaN()), 5,
			float32(math.Inf(1)), 5,
		},
		PaletteIndices: []uint16{0, 0, 0},
	}
	idx := Build(pd, nil, BuildParams{})
	if len(idx.PointIndices) != 1 || idx.PointIndices[0] != 0 {
		t.Errorf("expected only point 0 indexed, got %v", idx.PointIndices)
	}
}

func TestAutoCellSize(t *testing.T) {
	cases := []struct {
		name         string
		w, h         float64
		n            int
		densityScale float64
		want         float64
	}{
		{"noImageDimensions", 0, 0, 100, 1, 256},
		{"zeroPoints", 1000, 1000, 0, 1, 256},
		{"clampedToMin", 100, 100, 10000, 1, 24},
		{"clampedToMax", 1 << 20, 1 << 20, 4, 1, 1024},
		{"sqrtOfAreaPerPoint", 1000, 1000, 100, 1, 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AutoCellSize(tc.w, tc.h, tc.n, tc.densityScale)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("AutoCellSize = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestQueryPoint(t *testing.T) {
	pd := &pointdata.PointData{
		Count:          3,
		Positions:      []float32{100, 100, 105, 100, 500, 500},
		PaletteIndices: []uint16{0, 0, 0},
	}
	idx := Build(pd, nil, BuildParams{CellSize: 64})

	got := idx.QueryPoint(100, 100, 10)
	if len(got) != 2 {
		t.Fatalf("QueryPoint radius 10 returned %v", got)
	}
	got = idx.QueryPoint(100, 100, 1)
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("QueryPoint radius 1 returned %v", got)
	}
	if got := idx.QueryPoint(9999, 9999, 5); len(got) != 0 {
		t.Errorf("far query returned %v", got)
	}
}

func TestQueryRegion(t *testing.T) {
	pd := makePoints(t, 200, 1000, 1000, 7)
	idx := Build(pd, nil, BuildParams{SourceWidth: 1000, SourceHeight: 1000})

	minX, minY, maxX, maxY := 200.0, 200.0, 600.0, 600.0
	got := map[int32]bool{}
	for _, pi := range idx.QueryRegion(minX, minY, maxX, maxY) {
		got[pi] = true
	}
	for pi := 0; pi < pd.SafeCount(); pi++ {
		x := float64(pd.Positions[pi*2])
		y := float64(pd.Positions[pi*2+1])
		inside := x >= minX && x <= maxX && y >= minY && y <= maxY
		if inside != got[int32(pi)] {
			t.Errorf("point %d (%.1f,%.1f): inside=%v indexed=%v", pi, x, y, inside, got[int32(pi)])
		}
	}
}

func TestBuilderAsync(t *testing.T) {
	pd := makePoints(t, 100, 1000, 1000, 9)

	var mu sync.Mutex
	results := map[uint64]*Index{}
	done := make(chan uint64, 4)
	b := NewBuilder(func(r BuildResult) {
		mu.Lock()
		results[r.ID] = r.Index
		mu.Unlock()
		done <- r.ID
	})
	defer b.Stop()

	id := b.Submit(pd, nil, BuildParams{SourceWidth: 1000, SourceHeight: 1000})
	if got := <-done; got != id {
		t.Fatalf("result id %d, want %d", got, id)
	}
	mu.Lock()
	idx := results[id]
	mu.Unlock()
	if idx == nil || len(idx.PointIndices) != 100 {
		t.Fatalf("async build incomplete: %+v", idx)
	}
}

func TestBuilderCancelSuppressesDelivery(t *testing.T) {
	pd := makePoints(t, 10, 100, 100, 11)

	delivered := make(chan uint64, 4)
	b := NewBuilder(func(r BuildResult) { delivered <- r.ID })

	// Stop first so queued requests drain deterministically after Cancel.
	first := b.Submit(pd, nil, BuildParams{})
	<-delivered

	canceled := b.nextID.Load() + 1
	b.Cancel(canceled)
	got := b.Submit(pd, nil, BuildParams{})
	if got != canceled {
		t.Fatalf("expected request id %d, got %d", canceled, got)
	}
	b.Stop()

	select {
	case id := <-delivered:
		t.Errorf("canceled request %d was delivered (first was %d)", id, first)
	default:
	}
}

func TestBuilderSubmitAfterStopBuildsInline(t *testing.T) {
	pd := makePoints(t, 10, 100, 100, 17)

	delivered := make(chan uint64, 1)
	b := NewBuilder(func(r BuildResult) { delivered <- r.ID })
	b.Stop()

	id := b.Submit(pd, nil, BuildParams{CellSize: 32})
	select {
	case got := <-delivered:
		if got != id {
			t.Fatalf("result id %d, want %d", got, id)
		}
	default:
		t.Fatal("inline build after Stop delivered nothing")
	}
}

func TestBuilderCancelAfterDeliveryLeavesNoMark(t *testing.T) {
	pd := makePoints(t, 10, 100, 100, 19)

	delivered := make(chan uint64, 1)
	b := NewBuilder(func(r BuildResult) { delivered <- r.ID })
	defer b.Stop()

	id := b.Submit(pd, nil, BuildParams{CellSize: 32})
	if got := <-delivered; got != id {
		t.Fatalf("result id %d, want %d", got, id)
	}

	b.Cancel(id)
	b.mu.Lock()
	marks := len(b.canceled)
	b.mu.Unlock()
	if marks != 0 {
		t.Errorf("%d cancel marks retained for delivered request", marks)
	}
}

func TestBuilderSnapshotsCallerBuffers(t *testing.T) {
	pd := makePoints(t, 20, 100, 100, 13)
	done := make(chan *Index, 1)
	b := NewBuilder(func(r BuildResult) { done <- r.Index })
	defer b.Stop()

	b.Submit(pd, nil, BuildParams{CellSize: 32})
	// Caller keeps mutating its own buffer; the build must not observe it.
	for i := range pd.Positions {
		pd.Positions[i] = -1
	}
	idx := <-done
	if len(idx.PointIndices) != 20 {
		t.Errorf("build saw mutated buffer: %d points indexed", len(idx.PointIndices))
	}
}
