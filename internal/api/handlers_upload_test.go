// handlers_upload_test.go - Tests for upload handlers
package api

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/testutil"
	"github.com/odb-viewer/backend/internal/upload"
)

func restrictedPolicy() Policy {
	return Policy{
		FileTypeAllowed: func(name string) bool {
			return !strings.HasSuffix(strings.ToLower(name), ".exe")
		},
	}
}

func TestUploadHandler_HandleUploadFile(t *testing.T) {
	tests := []struct {
		name       string
		request    uploadFileRequest
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{
			name: "valid file upload",
			request: uploadFileRequest{
				Name: "steps/pcb/profile",
				Data: base64.StdEncoding.EncodeToString([]byte("UNITS=MM\nS P 0\n")),
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "empty name",
			request: uploadFileRequest{
				Name: "",
				Data: base64.StdEncoding.EncodeToString([]byte("content")),
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "empty data",
			request: uploadFileRequest{
				Name: "features",
				Data: "",
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "invalid base64",
			request: uploadFileRequest{
				Name: "features",
				Data: "not-valid-base64!!!",
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "BAD_REQUEST",
		},
		{
			name: "disallowed file type",
			request: uploadFileRequest{
				Name: "setup.exe",
				Data: base64.StdEncoding.EncodeToString([]byte("MZ")),
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "BAD_REQUEST",
		},
		{
			name: "large layer upload",
			request: uploadFileRequest{
				Name: "layers/top/features",
				Data: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("P 0 0 0 P 0\n"), 80000)),
			},
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage(t.TempDir())
			handler := NewUploadHandler(store, nil, nil, restrictedPolicy())

			body, _ := json.Marshal(tt.request)
			c, rec := newContext(http.MethodPost, "/api/files/upload", body)

			err := handler.HandleUploadFile(c)

			if tt.wantErr {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var response models.FileInfo
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if response.ID == "" {
				t.Error("expected non-empty ID in response")
			}
			if response.Name != tt.request.Name {
				t.Errorf("expected name %s, got %s", tt.request.Name, response.Name)
			}
		})
	}
}

func TestUploadHandler_HandleUploadBinary(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	handler := NewUploadHandler(store, nil, nil, restrictedPolicy())

	send := func(filename string, data []byte) (*httptest.ResponseRecorder, error) {
		body := new(bytes.Buffer)
		writer := multipart.NewWriter(body)
		part, _ := writer.CreateFormFile("file", filename)
		part.Write(data)
		writer.Close()

		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload/multipart", body)
		req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
		rec := httptest.NewRecorder()
		return rec, handler.HandleUploadBinary(e.NewContext(req, rec))
	}

	rec, err := send("profile", []byte("UNITS=INCH\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if store.GetFileCount() != 1 {
		t.Errorf("expected 1 stored file, got %d", store.GetFileCount())
	}

	_, err = send("tool.exe", []byte("MZ"))
	assertAPIError(t, err, http.StatusBadRequest, "BAD_REQUEST")
}

func TestUploadHandler_HandleGetRecentFiles(t *testing.T) {
	tests := []struct {
		name      string
		fileCount int
		wantCount int
	}{
		{name: "empty storage", fileCount: 0, wantCount: 0},
		{name: "few files", fileCount: 3, wantCount: 3},
		{name: "many files limited to 20", fileCount: 30, wantCount: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage(t.TempDir())
			for i := 0; i < tt.fileCount; i++ {
				store.AddFile(fmt.Sprintf("id-%02d", i), fmt.Sprintf("layer%d/features", i), []byte("UNITS=MM\n"))
			}
			handler := NewUploadHandler(store, nil, nil, DefaultPolicy())

			c, rec := newContext(http.MethodGet, "/api/files/recent", nil)
			if err := handler.HandleGetRecentFiles(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var files []models.FileInfo
			if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(files) != tt.wantCount {
				t.Errorf("expected %d files, got %d", tt.wantCount, len(files))
			}
		})
	}
}

func TestUploadHandler_HandleGetFile(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	store.AddFile("edge", "steps/pcb/profile", []byte("UNITS=MM\n"))
	handler := NewUploadHandler(store, nil, nil, DefaultPolicy())

	c, rec := newContext(http.MethodGet, "/api/files/edge", nil)
	c.SetParamNames("id")
	c.SetParamValues("edge")
	if err := handler.HandleGetFile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"name":"steps/pcb/profile"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, _ = newContext(http.MethodGet, "/api/files/missing", nil)
	c.SetParamNames("id")
	c.SetParamValues("missing")
	assertAPIError(t, handler.HandleGetFile(c), http.StatusNotFound, "NOT_FOUND")
}

func TestUploadHandler_HandleDeleteFile(t *testing.T) {
	tests := []struct {
		name       string
		fileID     string
		policy     Policy
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{
			name:       "delete existing file",
			fileID:     "test-id-1",
			policy:     DefaultPolicy(),
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "delete non-existent file",
			fileID:     "does-not-exist",
			policy:     DefaultPolicy(),
			wantStatus: http.StatusNotFound,
			wantErr:    true,
			errCode:    "NOT_FOUND",
		},
		{
			name:       "deletion disabled",
			fileID:     "test-id-1",
			policy:     Policy{},
			wantStatus: http.StatusForbidden,
			wantErr:    true,
			errCode:    "FORBIDDEN",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage(t.TempDir())
			store.AddFile("test-id-1", "features", []byte("UNITS=MM\n"))
			sessionMgr := NewMockSessionManager()
			handler := NewUploadHandler(store, sessionMgr, nil, tt.policy)

			c, rec := newContext(http.MethodDelete, "/api/files/"+tt.fileID, nil)
			c.SetParamNames("id")
			c.SetParamValues(tt.fileID)

			err := handler.HandleDeleteFile(c)

			if tt.wantErr {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				if store.GetFileCount() != 1 {
					t.Error("file should not have been deleted")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if store.GetFileCount() != 0 {
				t.Error("file should have been deleted")
			}
			if sessionMgr.deletedFile != tt.fileID {
				t.Errorf("expected cached results of %s to be dropped, got %q", tt.fileID, sessionMgr.deletedFile)
			}
		})
	}
}

func TestUploadHandler_HandleRenameFile(t *testing.T) {
	tests := []struct {
		name       string
		fileID     string
		newName    string
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{"rename existing", "f1", "steps/pcb/layers/bottom/features", http.StatusOK, false, ""},
		{"empty name", "f1", "", http.StatusBadRequest, true, "VALIDATION_ERROR"},
		{"missing file", "nope", "x", http.StatusNotFound, true, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage(t.TempDir())
			store.AddFile("f1", "features", []byte("UNITS=MM\n"))
			handler := NewUploadHandler(store, nil, nil, DefaultPolicy())

			body, _ := json.Marshal(renameFileRequest{Name: tt.newName})
			c, rec := newContext(http.MethodPut, "/api/files/"+tt.fileID, body)
			c.SetParamNames("id")
			c.SetParamValues(tt.fileID)

			err := handler.HandleRenameFile(c)
			if tt.wantErr {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			info, _ := store.Get(tt.fileID)
			if info.Name != tt.newName {
				t.Errorf("expected name %s, got %s", tt.newName, info.Name)
			}
		})
	}
}

func TestUploadHandler_HandleUploadChunk(t *testing.T) {
	tests := []struct {
		name       string
		request    uploadChunkRequest
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{
			name: "valid chunk upload",
			request: uploadChunkRequest{
				UploadID:   "upload-123",
				ChunkIndex: 0,
				Data:       base64.StdEncoding.EncodeToString([]byte("chunk data")),
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name: "missing upload id",
			request: uploadChunkRequest{
				ChunkIndex: 0,
				Data:       base64.StdEncoding.EncodeToString([]byte("data")),
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "negative index",
			request: uploadChunkRequest{
				UploadID:   "upload-123",
				ChunkIndex: -1,
				Data:       base64.StdEncoding.EncodeToString([]byte("data")),
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "missing data",
			request: uploadChunkRequest{
				UploadID:   "upload-123",
				ChunkIndex: 0,
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "invalid base64",
			request: uploadChunkRequest{
				UploadID:   "upload-123",
				ChunkIndex: 0,
				Data:       "not-valid!!!",
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage(t.TempDir())
			handler := NewUploadHandler(store, nil, nil, DefaultPolicy())

			body, _ := json.Marshal(tt.request)
			c, rec := newContext(http.MethodPost, "/api/files/upload/chunk", body)

			err := handler.HandleUploadChunk(c)

			if tt.wantErr {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestUploadHandler_ChunkedGzipUpload(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	jobs := upload.NewManager(store)
	handler := NewUploadHandler(store, nil, jobs, DefaultPolicy())

	plain := []byte("UNITS=MM\n$0 r10\nP 0 0 0 P 0\n")
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	zw.Write(plain)
	zw.Close()
	half := gz.Len() / 2
	chunks := [][]byte{gz.Bytes()[:half], gz.Bytes()[half:]}

	for i, chunk := range chunks {
		body, _ := json.Marshal(uploadChunkRequest{
			UploadID:   "up-1",
			ChunkIndex: i,
			Data:       base64.StdEncoding.EncodeToString(chunk),
		})
		c, _ := newContext(http.MethodPost, "/api/files/upload/chunk", body)
		if err := handler.HandleUploadChunk(c); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}

	t.Run("unsupported encoding", func(t *testing.T) {
		body, _ := json.Marshal(completeUploadRequest{UploadID: "up-1", Name: "features", TotalChunks: 2, Encoding: "zstd"})
		c, _ := newContext(http.MethodPost, "/api/files/upload/complete", body)
		assertAPIError(t, handler.HandleCompleteUpload(c), http.StatusBadRequest, "BAD_REQUEST")
	})

	body, _ := json.Marshal(completeUploadRequest{
		UploadID:     "up-1",
		Name:         "layers/top/features.z",
		TotalChunks:  2,
		OriginalSize: int64(len(plain)),
	})
	c, rec := newContext(http.MethodPost, "/api/files/upload/complete", body)
	if err := handler.HandleCompleteUpload(c); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
	var started struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	jobs.Wait()

	t.Run("job stream reports completion", func(t *testing.T) {
		c, rec := newContext(http.MethodGet, "/api/files/upload/"+started.JobID+"/status", nil)
		c.SetParamNames("jobId")
		c.SetParamValues(started.JobID)
		if err := handler.HandleUploadJobStream(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := rec.Body.String()
		if !strings.Contains(out, `"status":"complete"`) {
			t.Fatalf("expected completed job in stream, got %s", out)
		}
		if !strings.Contains(out, `"name":"layers/top/features"`) {
			t.Errorf("expected compression suffix stripped, got %s", out)
		}
	})

	t.Run("job stream for unknown job", func(t *testing.T) {
		c, rec := newContext(http.MethodGet, "/api/files/upload/nope/status", nil)
		c.SetParamNames("jobId")
		c.SetParamValues("nope")
		if err := handler.HandleUploadJobStream(c); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(rec.Body.String(), "job not found") {
			t.Errorf("unexpected stream %s", rec.Body.String())
		}
	})

	job, _ := jobs.GetJob(started.JobID)
	path, err := store.GetFilePath(job.FileInfo.ID)
	if err != nil {
		t.Fatalf("GetFilePath: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if !bytes.Equal(data, plain) {
		t.Errorf("expected stored bytes to be inflated, got %q", data)
	}
}
