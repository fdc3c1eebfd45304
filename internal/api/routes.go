// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/odb-viewer/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	UploadMgr  UploadJobs
	Policy     Policy
	Version    string

	// WebSocketMaxMessageSize caps client websocket messages in bytes.
	WebSocketMaxMessageSize int64
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Upload    UploadHandler
	Parse     ParseHandler
	Rules     RulesHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(deps.Version),
		Upload:    NewUploadHandler(deps.Store, deps.SessionMgr, deps.UploadMgr, deps.Policy),
		Parse:     NewParseHandler(deps.Store, deps.SessionMgr),
		Rules:     NewRulesHandler(deps.SessionMgr, deps.Policy),
		WebSocket: NewWebSocketHandler(deps.SessionMgr, deps.WebSocketMaxMessageSize),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// File upload routes
	uploadGroup := api.Group("/files")
	uploadGroup.POST("/upload", handlers.Upload.HandleUploadFile)
	uploadGroup.POST("/upload/multipart", handlers.Upload.HandleUploadBinary)
	uploadGroup.POST("/upload/chunk", handlers.Upload.HandleUploadChunk)
	uploadGroup.POST("/upload/complete", handlers.Upload.HandleCompleteUpload)
	uploadGroup.GET("/upload/:jobId/status", handlers.Upload.HandleUploadJobStream)
	uploadGroup.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	uploadGroup.GET("/:id", handlers.Upload.HandleGetFile)
	uploadGroup.DELETE("/:id", handlers.Upload.HandleDeleteFile)
	uploadGroup.PUT("/:id", handlers.Upload.HandleRenameFile)

	// Parse session routes
	parseGroup := api.Group("/parse")
	parseGroup.POST("", handlers.Parse.HandleStartParse)
	parseGroup.GET("/:sessionId/status", handlers.Parse.HandleParseStatus)
	parseGroup.POST("/:sessionId/keepalive", handlers.Parse.HandleSessionKeepAlive)
	parseGroup.GET("/:sessionId/progress", handlers.Parse.HandleParseProgressStream)
	parseGroup.GET("/:sessionId/features", handlers.Parse.HandleGetFeatures)
	parseGroup.GET("/:sessionId/features/msgpack", handlers.Parse.HandleGetFeaturesMsgpack)
	parseGroup.GET("/:sessionId/files/:fileId/features", handlers.Parse.HandleGetFileFeatures)
	parseGroup.GET("/:sessionId/warnings", handlers.Parse.HandleGetWarnings)
	parseGroup.GET("/:sessionId/outline", handlers.Parse.HandleGetOutline)
	parseGroup.GET("/:sessionId/outline.svg", handlers.Parse.HandleGetOutlineSVG)
	parseGroup.DELETE("/:sessionId", handlers.Parse.HandleDeleteSession)

	// Layer rules routes
	rulesGroup := api.Group("/rules")
	rulesGroup.GET("", handlers.Rules.HandleGetRules)
	rulesGroup.POST("", handlers.Rules.HandleUploadRules)
	rulesGroup.GET("/match", handlers.Rules.HandleMatchRules)

	RegisterWebSocketRoutes(e, handlers)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	if handlers.WebSocket != nil {
		e.GET("/api/ws/parse", handlers.WebSocket.HandleWebSocket)
	}
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
}
