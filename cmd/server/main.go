package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/odb-viewer/backend/internal/api"
	"github.com/odb-viewer/backend/internal/config"
	"github.com/odb-viewer/backend/internal/parser"
	"github.com/odb-viewer/backend/internal/session"
	"github.com/odb-viewer/backend/internal/storage"
	"github.com/odb-viewer/backend/internal/upload"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	configPath := filepath.Join(exeDir, "ODBFeatureServer.config")
	if p := os.Getenv("ODB_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		fmt.Printf("Failed to initialize storage: %v\n", err)
		os.Exit(1)
	}

	sessionMgr := session.NewManager(session.OptionsFromConfig(cfg))
	sessionMgr.SetStatusUpdater(fileStore)

	if _, err := os.Stat(cfg.Storage.LayerRulesFile); err == nil {
		rules, err := parser.ParseLayerRules(cfg.Storage.LayerRulesFile)
		if err != nil {
			fmt.Printf("Warning: failed to load layer rules: %v\n", err)
		} else {
			sessionMgr.SetRules(rules)
			fmt.Printf("Loaded %d layer rules from %s\n", len(rules.Layers), cfg.Storage.LayerRulesFile)
		}
	}

	uploadMgr := upload.NewManager(fileStore)

	stopCleanup := make(chan struct{})
	go runCleanup(cfg, fileStore, sessionMgr, uploadMgr, stopCleanup)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/progress") ||
				path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			return isStreamRequest(c) || strings.Contains(c.Request().URL.Path, "/upload")
		},
		ErrorMessage: "Request timeout - query took too long",
	}))

	if cfg.Processing.EnableCompression {
		e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
			Level: cfg.Processing.CompressionLevel,
			Skipper: func(c echo.Context) bool {
				return isStreamRequest(c) || strings.HasSuffix(c.Request().URL.Path, "/msgpack")
			},
		}))
	}

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 1 && origins[0] == "" {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	api.SetupMiddleware(e)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:                   fileStore,
		SessionMgr:              sessionMgr,
		UploadMgr:               uploadMgr,
		Policy:                  api.PolicyFromConfig(cfg),
		Version:                 Version,
		WebSocketMaxMessageSize: int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024,
	}))

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           ODB++ Feature Server                            ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	fmt.Println("Shutting down...")
	close(stopCleanup)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		fmt.Printf("Server shutdown error: %v\n", err)
	}
	uploadMgr.Wait()
	sessionMgr.Close()
}

// isStreamRequest matches SSE and websocket requests, which must not be
// buffered or cut off by timeouts.
func isStreamRequest(c echo.Context) bool {
	req := c.Request()
	return req.Header.Get("Accept") == "text/event-stream" ||
		strings.EqualFold(req.Header.Get("Upgrade"), "websocket") ||
		strings.HasSuffix(req.URL.Path, "/progress") ||
		(strings.HasSuffix(req.URL.Path, "/status") && strings.Contains(req.URL.Path, "/upload/"))
}

func runCleanup(cfg *config.AppConfig, store storage.Store, sessionMgr *session.Manager, uploadMgr *upload.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(cfg.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := sessionMgr.CleanupOldSessions(cfg.SessionTimeout()); n > 0 {
				fmt.Printf("[Cleanup] removed %d idle sessions\n", n)
			}
			uploadMgr.CleanupOldJobs(time.Hour)

			if cache := sessionMgr.Cache(); cache != nil {
				files, err := store.List(0)
				if err != nil {
					fmt.Printf("[Cleanup] listing files failed: %v\n", err)
					continue
				}
				ids := make([]string, 0, len(files))
				for _, f := range files {
					ids = append(ids, f.ID)
				}
				if n := cache.CleanupOrphaned(ids); n > 0 {
					fmt.Printf("[Cleanup] removed %d orphaned parse results\n", n)
				}
			}
		}
	}
}
