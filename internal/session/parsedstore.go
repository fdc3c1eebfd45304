package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/parser"
)

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ParsedCache keeps the parse result of each uploaded file on disk so that
// opening a recent file again skips the parse. Entries are keyed by file ID
// and the kind the file was parsed as; a rename that changes the resolved
// kind misses the cache.
type ParsedCache struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]string // cache key -> path
}

// NewParsedCache creates a cache rooted at dir and indexes existing entries.
func NewParsedCache(dir string) *ParsedCache {
	os.MkdirAll(dir, 0755)

	pc := &ParsedCache{
		dir:   dir,
		cache: make(map[string]string),
	}
	pc.scanExisting()
	return pc
}

func cacheKey(fileID string, kind models.FileKind) string {
	return fileID + "." + string(kind)
}

func (pc *ParsedCache) path(fileID string, kind models.FileKind) string {
	return filepath.Join(pc.dir, fmt.Sprintf("file_%s.msgpack", cacheKey(fileID, kind)))
}

func (pc *ParsedCache) scanExisting() {
	entries, err := os.ReadDir(pc.dir)
	if err != nil {
		fmt.Printf("[ParsedCache] Warning: failed to scan cache directory: %v\n", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "file_") || filepath.Ext(name) != ".msgpack" {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, "file_"), ".msgpack")
		if !strings.Contains(key, ".") {
			continue
		}
		pc.cache[key] = filepath.Join(pc.dir, name)
	}
	fmt.Printf("[ParsedCache] Found %d cached parse results\n", len(pc.cache))
}

// Load returns the cached parse of fileID as kind, or ok=false on a miss.
// Unreadable entries are removed and reported as misses.
func (pc *ParsedCache) Load(fileID string, kind models.FileKind) (*models.FeatureFile, []*models.ParseWarning, bool) {
	key := cacheKey(fileID, kind)

	pc.mu.RLock()
	path, ok := pc.cache[key]
	pc.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}

	data, err := os.ReadFile(path)
	if err == nil {
		file, warnings, derr := parser.UnmarshalFeatureFile(data)
		if derr == nil {
			fmt.Printf("[ParsedCache] Hit for file %s (%s)\n", shortID(fileID), kind)
			return file, warnings, true
		}
		err = derr
	}

	fmt.Printf("[ParsedCache] Dropping entry for file %s: %v\n", shortID(fileID), err)
	pc.mu.Lock()
	delete(pc.cache, key)
	pc.mu.Unlock()
	os.Remove(path)
	return nil, nil, false
}

// Store writes the parse result of fileID.
func (pc *ParsedCache) Store(fileID string, file *models.FeatureFile, warnings []*models.ParseWarning) error {
	data, err := parser.MarshalFeatureFile(file, warnings)
	if err != nil {
		return fmt.Errorf("encoding parse result: %w", err)
	}

	path := pc.path(fileID, file.Kind)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing parse result: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing parse result: %w", err)
	}

	pc.mu.Lock()
	pc.cache[cacheKey(fileID, file.Kind)] = path
	pc.mu.Unlock()
	return nil
}

// Delete removes every cached result of fileID (call when the file is deleted).
func (pc *ParsedCache) Delete(fileID string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	for _, kind := range []models.FileKind{models.FileKindFeatures, models.FileKindProfile} {
		key := cacheKey(fileID, kind)
		if path, ok := pc.cache[key]; ok {
			os.Remove(path)
			delete(pc.cache, key)
			fmt.Printf("[ParsedCache] Deleted cached result for file %s (%s)\n", shortID(fileID), kind)
		}
	}
}

// Len returns the number of cached results.
func (pc *ParsedCache) Len() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.cache)
}

// CleanupOrphaned removes cached results whose file no longer exists.
func (pc *ParsedCache) CleanupOrphaned(fileIDs []string) int {
	valid := make(map[string]bool, len(fileIDs))
	for _, id := range fileIDs {
		valid[id] = true
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	removed := 0
	for key, path := range pc.cache {
		fileID := key[:strings.LastIndex(key, ".")]
		if !valid[fileID] {
			os.Remove(path)
			delete(pc.cache, key)
			removed++
		}
	}
	if removed > 0 {
		fmt.Printf("[ParsedCache] Cleaned up %d orphaned results\n", removed)
	}
	return removed
}
