package cache

import (
	"testing"
	"time"
)

func TestTileKey(t *testing.T) {
	got := TileKey("slide-a", 3, 1, 2)
	want := "tile:slide-a:3/1/2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestROIQueryKey(t *testing.T) {
	geomA := []byte(`[[[0,0],[5,0],[5,5]]]`)
	geomB := []byte(`[[[0,0],[6,0],[6,6]]]`)

	t.Run("stable", func(t *testing.T) {
		if ROIQueryKey("s", 1, geomA) != ROIQueryKey("s", 1, geomA) {
			t.Fatal("same inputs produced different keys")
		}
	})

	t.Run("geometrySensitive", func(t *testing.T) {
		if ROIQueryKey("s", 1, geomA) == ROIQueryKey("s", 1, geomB) {
			t.Fatal("different geometry produced the same key")
		}
	})

	t.Run("versionSensitive", func(t *testing.T) {
		if ROIQueryKey("s", 1, geomA) == ROIQueryKey("s", 2, geomA) {
			t.Fatal("different point versions produced the same key")
		}
	})
}

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		TileCacheSizeMB: 8,
		TileTTL:         time.Minute,
		QueryCacheSize:  16,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	key := TileKey("s", 0, 0, 0)
	if _, ok := m.GetTile(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}
	if err := m.SetTile(key, []byte("png-bytes")); err != nil {
		t.Fatalf("SetTile: %v", err)
	}
	if data, ok := m.GetTile(key); !ok || string(data) != "png-bytes" {
		t.Fatalf("GetTile = %q, %v", data, ok)
	}

	qkey := ROIQueryKey("s", 1, []byte("[]"))
	m.SetQuery(qkey, []byte("result"))
	if data, ok := m.GetQuery(qkey); !ok || string(data) != "result" {
		t.Fatalf("GetQuery = %q, %v", data, ok)
	}
	m.PurgeQueries()
	if _, ok := m.GetQuery(qkey); ok {
		t.Fatal("query survived purge")
	}
}
