package upload

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/odb-viewer/backend/internal/models"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Encodings a client may declare for the uploaded bytes.
const (
	EncodingNone       = ""
	EncodingGzip       = "gzip"
	EncodingBinaryGzip = "binary-gzip"
)

// ErrNotGzip is returned when a file declared as gzip has no gzip header.
var ErrNotGzip = errors.New("not a gzip file")

// Job represents an async upload processing job.
type Job struct {
	ID             string           `json:"id"`
	UploadID       string           `json:"uploadId"`
	FileName       string           `json:"fileName"`
	TotalChunks    int              `json:"totalChunks"`
	OriginalSize   int64            `json:"originalSize"`
	CompressedSize int64            `json:"compressedSize"`
	Encoding       string           `json:"encoding"`
	Status         Status           `json:"status"`
	Progress       float64          `json:"progress"`
	Stage          string           `json:"stage"`
	StageProgress  float64          `json:"stageProgress"`
	FileInfo       *models.FileInfo `json:"fileInfo,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

// Manager assembles chunked uploads in the background and hands the parser
// plain features/profile text.
type Manager struct {
	jobs  map[string]*Job
	mu    sync.RWMutex
	store Store
	wg    sync.WaitGroup
}

// Store defines the interface needed from storage layer.
type Store interface {
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	RegisterFile(info *models.FileInfo)
}

// NewManager creates a new upload processing manager.
func NewManager(store Store) *Manager {
	return &Manager{
		jobs:  make(map[string]*Job),
		store: store,
	}
}

// StartJob begins async processing of an upload. A file name ending in .gz
// or .z is treated as gzip even when no encoding is declared.
func (m *Manager) StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *Job {
	name, compressed := StripCompressionSuffix(fileName)
	if compressed && encoding == EncodingNone {
		encoding = EncodingGzip
	}

	job := &Job{
		ID:             uuid.New().String(),
		UploadID:       uploadID,
		FileName:       name,
		TotalChunks:    totalChunks,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Encoding:       encoding,
		Status:         StatusProcessing,
		Stage:          "preparing",
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processJob(job)
	}()

	return job
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// GetJob returns a snapshot of a job by ID.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// StripCompressionSuffix removes a trailing .gz or .z (any case) from name.
func StripCompressionSuffix(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ext := range []string{".gz", ".z"} {
		if strings.HasSuffix(lower, ext) && len(name) > len(ext) {
			return name[:len(name)-len(ext)], true
		}
	}
	return name, false
}

func isGzip(encoding string) bool {
	return encoding == EncodingGzip || encoding == EncodingBinaryGzip
}

func (m *Manager) processJob(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			m.markJobError(job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	fmt.Printf("[UploadJob %s] Starting processing: %s\n", job.ID[:8], job.FileName)
	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 0)

	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.TotalChunks)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}

	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 100)
	fmt.Printf("[UploadJob %s] Chunks assembled: %s (%d bytes)\n", job.ID[:8], info.ID, info.Size)

	if isGzip(job.Encoding) {
		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 0)

		size, err := m.decompressFileWithProgress(job, info.ID)
		switch {
		case errors.Is(err, ErrNotGzip):
			// Clients sometimes keep the .gz name on already inflated text.
			fmt.Printf("[UploadJob %s] File %s is not gzip, keeping as-is\n", job.ID[:8], info.ID)
		case err != nil:
			m.markJobError(job, fmt.Sprintf("failed to decompress: %v", err))
			return
		default:
			info.Size = size
			m.store.RegisterFile(info)
			fmt.Printf("[UploadJob %s] Decompressed %s to %d bytes\n", job.ID[:8], info.ID, size)
		}

		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 100)
	}

	m.mu.Lock()
	job.FileInfo = info
	m.mu.Unlock()
	m.markJobComplete(job)
	fmt.Printf("[UploadJob %s] Processing complete: %s (%d bytes)\n", job.ID[:8], info.ID, info.Size)
}

// decompressFileWithProgress inflates the stored file in place and returns
// the decompressed size.
func (m *Manager) decompressFileWithProgress(job *Job, fileID string) (int64, error) {
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	br := bufio.NewReader(in)
	magic, err := br.Peek(2)
	if err != nil || magic[0] != 0x1f || magic[1] != 0x8b {
		return 0, ErrNotGzip
	}

	reader, err := gzip.NewReader(br)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	tempPath := path + ".decompressing"
	out, err := os.Create(tempPath)
	if err != nil {
		return 0, err
	}

	written, err := m.copyWithProgress(job, out, reader)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tempPath)
		return 0, err
	}

	if job.OriginalSize > 0 && written != job.OriginalSize {
		os.Remove(tempPath)
		return 0, fmt.Errorf("decompressed size mismatch: got %d bytes, expected %d bytes", written, job.OriginalSize)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return 0, err
	}
	return written, nil
}

func (m *Manager) copyWithProgress(job *Job, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 1024*1024)
	var written int64
	lastUpdate := time.Now()

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write error: %w", err)
			}
			written += int64(n)

			if job.OriginalSize > 0 && time.Since(lastUpdate) > 100*time.Millisecond {
				progress := float64(written) / float64(job.OriginalSize) * 100
				if progress > 99 {
					progress = 99
				}
				m.updateJobStatus(job, StatusDecompressing, "decompressing file", progress)
				lastUpdate = time.Now()
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, fmt.Errorf("read error: %w", readErr)
		}
	}
}

func (m *Manager) updateJobStatus(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress

	// Assembling: 0-40%, Decompressing: 40-90%.
	switch status {
	case StatusAssembling:
		job.Progress = stageProgress * 0.4
	case StatusDecompressing:
		job.Progress = 40 + stageProgress*0.5
	}
}

func (m *Manager) markJobComplete(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	job.Progress = 100
	job.Stage = "complete"
	now := time.Now()
	job.CompletedAt = &now
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	fmt.Printf("[UploadJob %s] Error: %s\n", job.ID[:8], errMsg)
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
