// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/models"
	"github.com/odb-viewer/backend/internal/parser"
	"github.com/odb-viewer/backend/internal/session"
	"github.com/odb-viewer/backend/internal/upload"
)

// UploadHandler handles layer file upload operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadJobStream(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// ParseHandler handles parse session operations
type ParseHandler interface {
	HandleStartParse(c echo.Context) error
	HandleParseStatus(c echo.Context) error
	HandleParseProgressStream(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleGetFeatures(c echo.Context) error
	HandleGetFeaturesMsgpack(c echo.Context) error
	HandleGetFileFeatures(c echo.Context) error
	HandleGetWarnings(c echo.Context) error
	HandleGetOutline(c echo.Context) error
	HandleGetOutlineSVG(c echo.Context) error
}

// RulesHandler handles the layer rules that choose file kinds and colours
type RulesHandler interface {
	HandleGetRules(c echo.Context) error
	HandleUploadRules(c echo.Context) error
	HandleMatchRules(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	StartSession(files []session.FileRef) (*models.ParseSession, error)
	GetSession(id string) (*models.ParseSession, bool)
	TouchSession(id string) bool
	DeleteSession(id string) bool
	DeleteParsedFile(fileID string)
	GetFeatures(ctx context.Context, id string, q parser.FeatureQuery) ([]models.FeatureRecord, int, error)
	GetFileFeatures(ctx context.Context, id, fileID string) ([]models.Feature, error)
	GetOutline(ctx context.Context, id, fileID string) (*models.BoardOutline, *models.FileResult, error)
	Rules() *models.LayerRules
	SetRules(rules *models.LayerRules)
}

// UploadJobs is the part of the upload manager used by handlers.
type UploadJobs interface {
	StartJob(uploadID, fileName string, totalChunks int, originalSize, compressedSize int64, encoding string) *upload.Job
	GetJob(id string) (*upload.Job, bool)
}
