package parser

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/odb-viewer/backend/internal/models"
	"seehuhn.de/go/geom/rect"
)

// createTestStore creates a temporary FeatureStore for testing
func createTestStore(t *testing.T) *FeatureStore {
	t.Helper()
	store, err := NewFeatureStore(t.TempDir(), "test", StoreOptions{MemoryLimit: "256MB", Threads: 1})
	if err != nil {
		t.Fatalf("Failed to create FeatureStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewFeatureStore(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		tempDir := t.TempDir()
		store, err := NewFeatureStore(tempDir, "file_test", StoreOptions{})
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		dbPath := filepath.Join(tempDir, "features_file_test.duckdb")
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Expected database file to be created")
		}

		store.Close()
		if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
			t.Error("Expected database file to be removed on Close")
		}
	})
}

func TestFeatureStore_RoundTrip(t *testing.T) {
	store := createTestStore(t)
	file, _, err := ParseLines(models.FileKindFeatures, sampleFeatures)
	if err != nil {
		t.Fatalf("ParseLines: %v", err)
	}

	if err := store.AddFile("top", file); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if store.Len() != len(file.Features) {
		t.Errorf("Len = %d, want %d", store.Len(), len(file.Features))
	}
	if n, ok := store.FileCount("top"); !ok || n != len(file.Features) {
		t.Errorf("FileCount = %d, %v", n, ok)
	}
	if err := store.AddFile("top", file); err == nil {
		t.Error("expected error when storing the same file twice")
	}

	got, err := store.FileFeatures(context.Background(), "top")
	if err != nil {
		t.Fatalf("FileFeatures: %v", err)
	}
	if diff := cmp.Diff(file.Features, got); diff != "" {
		t.Errorf("stored features differ (-want +got):\n%s", diff)
	}
}

func TestFeatureStore_QueryFeatures(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	top := mustParse(t, models.FileKindFeatures,
		"$0 r1",
		"P 0 0 0 P 0",
		"P 10 10 0 P 0",
		"P 20 20 0 N 0",
		"L 0 0 5 0 0 P 0",
	)
	edge := mustParse(t, models.FileKindProfile,
		"S P 0", "OB 0 0 I", "OS 100 0", "OS 100 50", "OS 0 0", "OE", "SE")

	if err := store.AddFile("top", top); err != nil {
		t.Fatalf("AddFile top: %v", err)
	}
	if err := store.AddFile("edge", edge); err != nil {
		t.Fatalf("AddFile edge: %v", err)
	}

	t.Run("by kind", func(t *testing.T) {
		records, total, err := store.QueryFeatures(ctx, FeatureQuery{Kinds: []models.FeatureKind{models.FeatureKindPad}})
		if err != nil {
			t.Fatalf("QueryFeatures: %v", err)
		}
		if total != 3 || len(records) != 3 {
			t.Errorf("total = %d, records = %d", total, len(records))
		}
		for i, r := range records {
			if r.FileID != "top" || r.Seq != i || r.Kind != models.FeatureKindPad {
				t.Errorf("record %d = %+v", i, r)
			}
		}
	})

	t.Run("by file", func(t *testing.T) {
		records, total, err := store.QueryFeatures(ctx, FeatureQuery{FileID: "edge"})
		if err != nil {
			t.Fatalf("QueryFeatures: %v", err)
		}
		if total != 1 || records[0].Kind != models.FeatureKindSurface {
			t.Errorf("total = %d, records = %+v", total, records)
		}
	})

	t.Run("by window", func(t *testing.T) {
		window := rect.Rect{LLx: 8, LLy: 8, URx: 12, URy: 12}
		records, total, err := store.QueryFeatures(ctx, FeatureQuery{FileID: "top", Window: &window})
		if err != nil {
			t.Fatalf("QueryFeatures: %v", err)
		}
		if total != 1 {
			t.Fatalf("total = %d, want 1", total)
		}
		pad, ok := records[0].Feature.(*models.Pad)
		if !ok || pad.Center != (models.Point{X: 10, Y: 10}) {
			t.Errorf("record = %+v", records[0])
		}
	})

	t.Run("paging", func(t *testing.T) {
		page1, total, err := store.QueryFeatures(ctx, FeatureQuery{Page: 1, PageSize: 3})
		if err != nil {
			t.Fatalf("QueryFeatures: %v", err)
		}
		page2, _, err := store.QueryFeatures(ctx, FeatureQuery{Page: 2, PageSize: 3})
		if err != nil {
			t.Fatalf("QueryFeatures: %v", err)
		}
		if total != 5 || len(page1) != 3 || len(page2) != 2 {
			t.Errorf("total = %d, pages = %d/%d", total, len(page1), len(page2))
		}
		if page2[1].FileID != "edge" {
			t.Errorf("last record = %+v", page2[1])
		}
	})

	t.Run("empty result", func(t *testing.T) {
		records, total, err := store.QueryFeatures(ctx, FeatureQuery{FileID: "missing"})
		if err != nil || total != 0 || len(records) != 0 {
			t.Errorf("records = %v, total = %d, err = %v", records, total, err)
		}
	})

	t.Run("bounds", func(t *testing.T) {
		b, err := store.Bounds(ctx, "")
		if err != nil {
			t.Fatalf("Bounds: %v", err)
		}
		if diff := cmp.Diff(rect.Rect{LLx: 0, LLy: 0, URx: 100, URy: 50}, b); diff != "" {
			t.Errorf("bounds (-want +got):\n%s", diff)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, _, err := store.QueryFeatures(cctx, FeatureQuery{}); err == nil {
			t.Error("expected error for cancelled context")
		}
	})
}
