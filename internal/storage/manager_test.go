// manager_test.go - Tests for layer file storage
package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odb-viewer/backend/internal/models"
)

const testProfile = "UNITS=MM\nS P 0\nOB 0 0 I\nOS 10 0\nOS 10 10\nOS 0 0\nOE\nSE\n"

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		if _, err := NewLocalStore(uploadDir); err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		if _, err := os.Stat(uploadDir); os.IsNotExist(err) {
			t.Error("Expected upload directory to be created")
		}
	})

	t.Run("restores files from index", func(t *testing.T) {
		dir := t.TempDir()
		first, err := NewLocalStore(dir)
		if err != nil {
			t.Fatalf("NewLocalStore: %v", err)
		}
		kept, _ := first.SaveBytes("steps/pcb/profile", []byte(testProfile))
		gone, _ := first.SaveBytes("top/features", []byte("P 0 0 0 P 0\n"))
		if err := first.UpdateStatus(kept.ID, StatusParsing); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		// Data removed behind the store's back is dropped on reload.
		os.Remove(filepath.Join(dir, gone.ID))

		second, err := NewLocalStore(dir)
		if err != nil {
			t.Fatalf("NewLocalStore: %v", err)
		}
		info, err := second.Get(kept.ID)
		if err != nil {
			t.Fatalf("Get restored file: %v", err)
		}
		if info.Name != "steps/pcb/profile" || info.Status != StatusUploaded {
			t.Errorf("restored info = %+v", info)
		}
		if _, err := second.Get(gone.ID); err == nil {
			t.Error("expected file with missing data to be dropped")
		}
	})

	t.Run("ignores corrupt index", func(t *testing.T) {
		dir := t.TempDir()
		os.WriteFile(filepath.Join(dir, indexFile), []byte("{not json"), 0644)

		store, err := NewLocalStore(dir)
		if err != nil {
			t.Fatalf("NewLocalStore: %v", err)
		}
		if list, _ := store.List(0); len(list) != 0 {
			t.Errorf("expected empty store, got %d files", len(list))
		}
	})
}

func TestLocalStore_Save(t *testing.T) {
	store := createTestStore(t)

	info, err := store.Save("profile", strings.NewReader(testProfile))
	if err != nil {
		t.Fatalf("Failed to save file: %v", err)
	}
	if info.ID == "" || info.Name != "profile" || info.Status != StatusUploaded {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Size != int64(len(testProfile)) {
		t.Errorf("Expected size %d, got %d", len(testProfile), info.Size)
	}

	path, err := store.GetFilePath(info.ID)
	if err != nil {
		t.Fatalf("GetFilePath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved file: %v", err)
	}
	if string(data) != testProfile {
		t.Errorf("stored content mismatch: %q", data)
	}

	empty, err := store.SaveBytes("features", nil)
	if err != nil || empty.Size != 0 {
		t.Errorf("SaveBytes empty = %+v, %v", empty, err)
	}
}

func TestLocalStore_List(t *testing.T) {
	store := createTestStore(t)
	for _, name := range []string{"a/features", "b/features", "profile"} {
		if _, err := store.SaveBytes(name, []byte(testProfile)); err != nil {
			t.Fatalf("SaveBytes: %v", err)
		}
	}

	all, _ := store.List(0)
	if len(all) != 3 {
		t.Errorf("Expected 3 files, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].UploadedAt.After(all[i-1].UploadedAt) {
			t.Error("Expected files sorted newest first")
		}
	}

	limited, _ := store.List(2)
	if len(limited) != 2 {
		t.Errorf("Expected 2 files with limit, got %d", len(limited))
	}
}

func TestLocalStore_DeleteRenameStatus(t *testing.T) {
	store := createTestStore(t)
	info, _ := store.SaveBytes("layer.txt", []byte(testProfile))

	t.Run("rename", func(t *testing.T) {
		renamed, err := store.Rename(info.ID, "steps/pcb/profile")
		if err != nil || renamed.Name != "steps/pcb/profile" {
			t.Errorf("Rename = %+v, %v", renamed, err)
		}
		if _, err := store.Rename("missing", "x"); err == nil {
			t.Error("expected error renaming missing file")
		}
	})

	t.Run("status", func(t *testing.T) {
		if err := store.UpdateStatus(info.ID, StatusParsed); err != nil {
			t.Fatalf("UpdateStatus: %v", err)
		}
		got, _ := store.Get(info.ID)
		if got.Status != StatusParsed {
			t.Errorf("status = %q", got.Status)
		}
		if err := store.UpdateStatus("missing", StatusError); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("delete", func(t *testing.T) {
		path, _ := store.GetFilePath(info.ID)
		if err := store.Delete(info.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("Expected physical file to be removed")
		}
		if _, err := store.Get(info.ID); err == nil {
			t.Error("Expected metadata to be removed")
		}
		if err := store.Delete(info.ID); err == nil {
			t.Error("Expected error deleting twice")
		}
	})
}

func TestLocalStore_ChunkedUpload(t *testing.T) {
	store := createTestStore(t)
	parts := []string{"UNITS=MM\nS P 0\n", "OB 0 0 I\nOS 10 0\nOS 10 10\n", "OS 0 0\nOE\nSE\n"}

	for i, p := range parts {
		if err := store.SaveChunk("up-1", i, strings.NewReader(p)); err != nil {
			t.Fatalf("SaveChunk %d: %v", i, err)
		}
	}

	info, err := store.CompleteChunkedUpload("up-1", "profile", len(parts))
	if err != nil {
		t.Fatalf("CompleteChunkedUpload: %v", err)
	}
	if info.Size != int64(len(testProfile)) {
		t.Errorf("size = %d, want %d", info.Size, len(testProfile))
	}
	path, _ := store.GetFilePath(info.ID)
	if data, _ := os.ReadFile(path); string(data) != testProfile {
		t.Errorf("assembled content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(store.uploadDir, "chunks", "up-1")); !os.IsNotExist(err) {
		t.Error("Expected chunk directory to be removed")
	}

	t.Run("missing chunk", func(t *testing.T) {
		store.SaveChunk("up-2", 0, strings.NewReader("S P 0\n"))
		if _, err := store.CompleteChunkedUpload("up-2", "profile", 2); err == nil {
			t.Error("expected error for missing chunk")
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		if err := store.SaveChunk("../escape", 0, strings.NewReader("x")); err == nil {
			t.Error("expected error for traversal upload id")
		}
	})
}

func TestLocalStore_RegisterFile(t *testing.T) {
	store := createTestStore(t)
	path := filepath.Join(store.uploadDir, "manual")
	os.WriteFile(path, []byte(testProfile), 0644)

	store.RegisterFile(&models.FileInfo{ID: "manual", Name: "profile", Status: StatusUploaded})
	if got, err := store.GetFilePath("manual"); err != nil || got != path {
		t.Errorf("GetFilePath = %q, %v", got, err)
	}
}
