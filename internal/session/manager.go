package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/odb-viewer/backend/internal/config"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/parser"
	"github.com/odb-viewer/backend/internal/storage"
	"golang.org/x/sync/errgroup"
)

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotReady  = errors.New("session is still parsing")
	ErrFileNotInSession = errors.New("file not in session")
	ErrTooManySessions  = errors.New("too many active sessions")
)

// FileRef names one stored file to parse. Name is the display name used for
// layer rule matching; Path is where the bytes are.
type FileRef struct {
	ID   string
	Name string
	Path string
}

// StatusUpdater receives per-file status changes, typically storage.Store.
type StatusUpdater interface {
	UpdateStatus(id string, status string) error
}

// Options configures a Manager.
type Options struct {
	TempDir             string
	CacheDir            string // empty disables the parse cache
	MaxConcurrentParses int
	MaxSessions         int
	Store               parser.StoreOptions
}

// OptionsFromConfig maps the XML configuration onto manager options.
func OptionsFromConfig(cfg *config.AppConfig) Options {
	opts := Options{
		TempDir:             cfg.Storage.TempDirectory,
		MaxConcurrentParses: cfg.Processing.MaxConcurrentParses,
		MaxSessions:         cfg.Processing.MaxSessions,
		Store: parser.StoreOptions{
			MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
			Threads:     cfg.Advanced.DuckDBThreads,
		},
	}
	if cfg.Storage.EnablePersistence {
		opts.CacheDir = cfg.Storage.ParsedDataDirectory
	}
	return opts
}

// Manager runs parse sessions over sets of layer and profile files.
type Manager struct {
	sessions map[string]*SessionState
	mu       sync.RWMutex
	registry *parser.Registry
	opts     Options
	cache    *ParsedCache
	status   StatusUpdater
	wg       sync.WaitGroup

	rulesMu sync.RWMutex
	rules   *models.LayerRules
}

// SessionState holds the session metadata and its DuckDB-backed feature store.
type SessionState struct {
	Session      *models.ParseSession
	Store        *parser.FeatureStore
	CreatedAt    time.Time
	LastAccessed time.Time

	cancel    context.CancelFunc
	bytesRead []int64
	bytesTot  []int64
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	if opts.MaxConcurrentParses < 1 {
		opts.MaxConcurrentParses = 1
	}
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 10
	}
	if opts.TempDir == "" {
		opts.TempDir = "./data/temp"
	}

	m := &Manager{
		sessions: make(map[string]*SessionState),
		registry: parser.GetGlobalRegistry(),
		opts:     opts,
	}
	if opts.CacheDir != "" {
		m.cache = NewParsedCache(opts.CacheDir)
	}
	return m
}

// SetStatusUpdater registers where per-file parse status is reported.
func (m *Manager) SetStatusUpdater(u StatusUpdater) {
	m.status = u
}

// SetRules replaces the layer rules used to pick a parser for new sessions.
func (m *Manager) SetRules(rules *models.LayerRules) {
	m.rulesMu.Lock()
	defer m.rulesMu.Unlock()
	m.rules = rules
}

// Rules returns the current layer rules, or nil.
func (m *Manager) Rules() *models.LayerRules {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	return m.rules
}

// Cache returns the parse cache, or nil when persistence is disabled.
func (m *Manager) Cache() *ParsedCache {
	return m.cache
}

// DeleteParsedFile drops cached parse results of a deleted upload.
func (m *Manager) DeleteParsedFile(fileID string) {
	if m.cache != nil {
		m.cache.Delete(fileID)
	}
}

// StartSession begins parsing files in the background.
func (m *Manager) StartSession(files []FileRef) (*models.ParseSession, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to parse")
	}
	seen := make(map[string]bool, len(files))
	fileIDs := make([]string, len(files))
	for i, f := range files {
		if seen[f.ID] {
			return nil, fmt.Errorf("file %s listed twice", f.ID)
		}
		seen[f.ID] = true
		fileIDs[i] = f.ID
	}

	sessionID := uuid.New().String()
	session := models.NewParseSession(sessionID, fileIDs)
	session.Status = models.SessionStatusParsing
	for _, f := range files {
		session.Files = append(session.Files, models.FileResult{
			FileID: f.ID,
			Name:   f.Name,
			Status: models.FileStatusPending,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	state := &SessionState{
		Session:      session,
		CreatedAt:    now,
		LastAccessed: now,
		cancel:       cancel,
		bytesRead:    make([]int64, len(files)),
		bytesTot:     make([]int64, len(files)),
	}

	m.mu.Lock()
	if err := m.evictIfNeeded(); err != nil {
		m.mu.Unlock()
		cancel()
		return nil, err
	}
	m.sessions[sessionID] = state
	snapshot := snapshotSession(session)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSession(ctx, sessionID, files)
	}()

	return snapshot, nil
}

// Wait blocks until every running session has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runSession(ctx context.Context, sessionID string, files []FileRef) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Parse %s] PANIC recovered: %v\n", sessionID[:8], r)
			m.updateSessionError(sessionID, fmt.Sprintf("parse panicked: %v", r))
		}
	}()

	start := time.Now()
	fmt.Printf("[Parse %s] Starting session over %d files\n", sessionID[:8], len(files))

	store, err := parser.NewFeatureStore(m.opts.TempDir, sessionID, m.opts.Store)
	if err != nil {
		fmt.Printf("[Parse %s] ERROR: failed to create FeatureStore: %v\n", sessionID[:8], err)
		m.updateSessionError(sessionID, fmt.Sprintf("failed to create storage: %v", err))
		return
	}

	var g errgroup.Group
	g.SetLimit(m.opts.MaxConcurrentParses)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			m.parseFile(sessionID, store, i, f)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Printf("[Parse %s] Cancelled: %v\n", sessionID[:8], err)
		store.Close()
		return
	}

	elapsed := time.Since(start).Milliseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok || ctx.Err() != nil {
		// Deleted while parsing.
		store.Close()
		return
	}

	s := state.Session
	failed := 0
	s.WarningCount = 0
	for _, r := range s.Files {
		if r.Status == models.FileStatusFailed {
			failed++
		}
		s.WarningCount += len(r.Warnings)
	}

	state.Store = store
	s.FeatureCount = store.Len()
	s.ProcessingTimeMs = elapsed
	s.Progress = 100
	if failed == len(s.Files) {
		s.Status = models.SessionStatusError
		s.Error = "no file could be parsed"
	} else {
		s.Status = models.SessionStatusComplete
	}

	fmt.Printf("[Parse %s] Session %s: %d features, %d warnings, %d/%d files failed in %dms\n",
		sessionID[:8], s.Status, s.FeatureCount, s.WarningCount, failed, len(s.Files), elapsed)
}

// parseFile parses one file into the session store. Failures are recorded
// on the file's result and never abort the other files.
func (m *Manager) parseFile(sessionID string, store *parser.FeatureStore, idx int, f FileRef) {
	res := models.FileResult{FileID: f.ID, Name: f.Name}
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("[Parse %s] PANIC recovered in %s: %v\n", sessionID[:8], f.Name, r)
			m.finishFile(sessionID, idx, f, res, fmt.Errorf("parse panicked: %v", r))
		}
	}()

	m.setFileStatus(sessionID, idx, f.ID, models.FileStatusParsing, storage.StatusParsing)

	p, err := m.registry.Resolve(f.Path, f.Name, m.Rules())
	if err != nil {
		m.finishFile(sessionID, idx, f, res, err)
		return
	}
	res.Kind = p.Kind()

	file, warnings, cached := m.loadCached(f.ID, res.Kind)
	if !cached {
		fmt.Printf("[Parse %s] Parsing %s as %s\n", sessionID[:8], f.Name, p.Name())
		file, warnings, err = p.ParseWithProgress(f.Path, func(_ int, bytesRead, totalBytes int64) {
			m.updateProgress(sessionID, idx, bytesRead, totalBytes)
		})
		if err != nil {
			m.finishFile(sessionID, idx, f, res, err)
			return
		}
		if m.cache != nil {
			if err := m.cache.Store(f.ID, file, warnings); err != nil {
				fmt.Printf("[Parse %s] Warning: caching %s: %v\n", sessionID[:8], f.Name, err)
			}
		}
	}

	if err := store.AddFile(f.ID, file); err != nil {
		m.finishFile(sessionID, idx, f, res, fmt.Errorf("storing features: %w", err))
		return
	}

	res.Units = file.Units
	res.FeatureCount = len(file.Features)
	res.Counts = file.CountByKind()
	res.Warnings = make([]models.ParseWarning, 0, len(warnings))
	for _, w := range warnings {
		if w != nil {
			res.Warnings = append(res.Warnings, *w)
		}
	}
	m.finishFile(sessionID, idx, f, res, nil)
}

func (m *Manager) loadCached(fileID string, kind models.FileKind) (*models.FeatureFile, []*models.ParseWarning, bool) {
	if m.cache == nil {
		return nil, nil, false
	}
	return m.cache.Load(fileID, kind)
}

// fileError converts a parse failure into the reported form, keeping the
// offending line for structural errors.
func fileError(err error) *models.FileError {
	var se *parser.StructuralError
	if errors.As(err, &se) {
		return &models.FileError{Line: se.Line, Content: se.Raw, Reason: se.Error()}
	}
	return &models.FileError{Reason: err.Error()}
}

func (m *Manager) finishFile(sessionID string, idx int, f FileRef, res models.FileResult, err error) {
	fileStatus := storage.StatusParsed
	res.Status = models.FileStatusParsed
	if err != nil {
		fmt.Printf("[Parse %s] ERROR: %s: %v\n", sessionID[:8], f.Name, err)
		res.Status = models.FileStatusFailed
		res.Error = fileError(err)
		fileStatus = storage.StatusError
	}

	m.mu.Lock()
	if state, ok := m.sessions[sessionID]; ok {
		state.Session.Files[idx] = res
		if state.bytesTot[idx] == 0 {
			state.bytesTot[idx] = 1
		}
		state.bytesRead[idx] = state.bytesTot[idx]
		state.Session.Progress = sessionProgress(state)
	}
	m.mu.Unlock()

	if m.status != nil {
		m.status.UpdateStatus(f.ID, fileStatus)
	}
}

func (m *Manager) setFileStatus(sessionID string, idx int, fileID string, status models.FileStatus, stored string) {
	m.mu.Lock()
	if state, ok := m.sessions[sessionID]; ok {
		state.Session.Files[idx].Status = status
	}
	m.mu.Unlock()

	if m.status != nil {
		m.status.UpdateStatus(fileID, stored)
	}
}

func (m *Manager) updateProgress(sessionID string, idx int, bytesRead, totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	state.bytesRead[idx] = bytesRead
	state.bytesTot[idx] = totalBytes
	state.Session.Progress = sessionProgress(state)
}

// sessionProgress averages the per-file byte progress. 100 is reserved for
// completion of the whole session.
func sessionProgress(state *SessionState) float64 {
	var sum float64
	for i := range state.bytesTot {
		if state.bytesTot[i] > 0 {
			sum += float64(state.bytesRead[i]) / float64(state.bytesTot[i])
		}
	}
	progress := sum * 99 / float64(len(state.bytesTot))
	if progress > 99 {
		progress = 99
	}
	return progress
}

func (m *Manager) updateSessionError(sessionID, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	state.Session.Status = models.SessionStatusError
	state.Session.Error = reason
}

// evictIfNeeded frees room for one session by dropping the least recently
// used finished sessions. Caller holds m.mu.
func (m *Manager) evictIfNeeded() error {
	if len(m.sessions) < m.opts.MaxSessions {
		return nil
	}

	var finished []string
	for id, state := range m.sessions {
		if isFinished(state.Session.Status) {
			finished = append(finished, id)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return m.sessions[finished[i]].LastAccessed.Before(m.sessions[finished[j]].LastAccessed)
	})

	toFree := len(m.sessions) - m.opts.MaxSessions + 1
	for _, id := range finished {
		if toFree == 0 {
			break
		}
		m.removeLocked(id)
		toFree--
		fmt.Printf("[Manager] Evicted session %s to stay under %d sessions\n", shortID(id), m.opts.MaxSessions)
	}
	if toFree > 0 {
		return ErrTooManySessions
	}
	return nil
}

func isFinished(s models.SessionStatus) bool {
	return s == models.SessionStatusComplete || s == models.SessionStatusError
}

// removeLocked cancels and forgets a session. Caller holds m.mu.
func (m *Manager) removeLocked(id string) {
	state, ok := m.sessions[id]
	if !ok {
		return
	}
	state.cancel()
	if state.Store != nil {
		state.Store.Close()
	}
	delete(m.sessions, id)
}

// DeleteSession cancels a session and releases its store. Results of files
// still parsing are dropped.
func (m *Manager) DeleteSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	m.removeLocked(id)
	fmt.Printf("[Manager] Deleted session %s\n", shortID(id))
	return true
}

// CleanupOldSessions removes finished sessions not accessed within maxAge,
// but keeps sessions that have been accessed within SessionKeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	removed := 0
	for id, state := range m.sessions {
		if !isFinished(state.Session.Status) {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) || state.LastAccessed.After(cutoff) {
			continue
		}
		m.removeLocked(id)
		removed++
		fmt.Printf("[Manager] Cleaned up aged session %s (last accessed: %s ago)\n",
			shortID(id), time.Since(state.LastAccessed).Round(time.Second))
	}
	return removed
}

// Close cancels every session and waits for running parses to stop.
func (m *Manager) Close() {
	m.mu.Lock()
	for id := range m.sessions {
		m.removeLocked(id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func snapshotSession(s *models.ParseSession) *models.ParseSession {
	cp := *s
	cp.FileIDs = append([]string(nil), s.FileIDs...)
	cp.Files = append([]models.FileResult(nil), s.Files...)
	return &cp
}

// GetSession returns a copy of a session.
func (m *Manager) GetSession(id string) (*models.ParseSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return snapshotSession(state.Session), true
}

// TouchSession updates the LastAccessed timestamp for a session.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// readyStore returns the store of a finished session. Caller holds m.mu.
func (m *Manager) readyStore(id string) (*SessionState, error) {
	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.Store == nil {
		if state.Session.Status == models.SessionStatusError {
			return nil, errors.New(state.Session.Error)
		}
		return nil, ErrSessionNotReady
	}
	return state, nil
}

// GetFeatures returns a filtered page of the session's features.
func (m *Manager) GetFeatures(ctx context.Context, id string, q parser.FeatureQuery) ([]models.FeatureRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.readyStore(id)
	if err != nil {
		return nil, 0, err
	}
	records, total, err := state.Store.QueryFeatures(ctx, q)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			fmt.Printf("[Manager] GetFeatures timeout/cancelled for session %s\n", shortID(id))
		}
		return nil, 0, err
	}
	return records, total, nil
}

// GetFileFeatures returns all features of one file in file order.
func (m *Manager) GetFileFeatures(ctx context.Context, id, fileID string) ([]models.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.readyStore(id)
	if err != nil {
		return nil, err
	}
	if _, ok := state.Store.FileCount(fileID); !ok {
		return nil, ErrFileNotInSession
	}
	return state.Store.FileFeatures(ctx, fileID)
}

// GetOutline builds the board outline of one parsed file. With an empty
// fileID the first parsed profile file is used, falling back to the first
// parsed file of any kind.
func (m *Manager) GetOutline(ctx context.Context, id, fileID string) (*models.BoardOutline, *models.FileResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, err := m.readyStore(id)
	if err != nil {
		return nil, nil, err
	}

	res := pickOutlineFile(state.Session.Files, fileID)
	if res == nil {
		return nil, nil, ErrFileNotInSession
	}
	features, err := state.Store.FileFeatures(ctx, res.FileID)
	if err != nil {
		return nil, nil, err
	}
	picked := *res
	return parser.BuildOutline(features), &picked, nil
}

func pickOutlineFile(files []models.FileResult, fileID string) *models.FileResult {
	var fallback *models.FileResult
	for i := range files {
		r := &files[i]
		if r.Status != models.FileStatusParsed {
			continue
		}
		if fileID != "" {
			if r.FileID == fileID {
				return r
			}
			continue
		}
		if r.Kind == models.FileKindProfile {
			return r
		}
		if fallback == nil {
			fallback = r
		}
	}
	return fallback
}
