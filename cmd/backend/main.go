package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/drummonds/flipbook/config"
	database "github.com/drummonds/flipbook/database"
	engine "github.com/drummonds/flipbook/engine"
	"github.com/drummonds/flipbook/engine/ingest"
	"github.com/drummonds/flipbook/engine/pdfrenderer"
	"github.com/drummonds/flipbook/overlay"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	ingest.Logger = Logger
	overlay.Logger = Logger
}

// @title flipbook Backend API
// @version 1.0
// @description PDF to flipbook conversion API - uploads PDFs, renders their pages and serves interactive flipbooks
// @description Supports background ingestion with progress, studio sessions for overlays and read-only viewer payloads

// @contact.name API Support
// @contact.url https://github.com/drummonds/flipbook

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /api
// @schemes http https

// @tag.name Flipbooks
// @tag.description Upload, listing and management of flipbooks

// @tag.name Studio
// @tag.description Overlay editing sessions

// @tag.name Viewer
// @tag.description Read-only payloads for the viewer modes

// @tag.name Jobs
// @tag.description Ingestion and maintenance job progress

// @tag.name Admin
// @tag.description Administrative information

// @tag.name Health
// @tag.description Service health check

func main() {
	// Parse command-line flags
	port := flag.String("port", "", "Port to run backend server on (overrides SERVER_PORT)")
	flag.Parse()

	fmt.Println("\n" + strings.Repeat("=", 50))
	fmt.Println("📖  flipbook Backend API Server")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("• API-only mode (no frontend)")
	fmt.Println("• All endpoints under /api/*")
	fmt.Println("• CORS enabled for frontend access")
	fmt.Println(strings.Repeat("=", 50) + "\n")

	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	// Show info banner if using ephemeral database
	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("🚀  EPHEMERAL DATABASE MODE")
		fmt.Println("• Database will be destroyed on exit")
		fmt.Println()
	}

	// Setup flipbook repository
	repo, err := database.NewRepository(serverConfig)
	if err != nil {
		Logger.Error("Unable to setup database", "type", serverConfig.DatabaseType, "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	// one open document per ingestion slot, so queued uploads never time out on the renderer
	renderer, err := pdfrenderer.New(serverConfig.Renderer, serverConfig.MaxConcurrentIngestions)
	if err != nil {
		Logger.Error("Unable to setup PDF renderer", "renderer", serverConfig.Renderer, "error", err)
		os.Exit(1)
	}
	defer renderer.Close()

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Custom 404 handler for API endpoints
	e.HTTPErrorHandler = engine.NotFoundHandler

	serverHandler := engine.NewServerHandler(repo, e, serverConfig, renderer)
	Logger.Info("Initializing backend services...")
	scheduler := serverHandler.InitializeSchedules() //initialize all the cron jobs
	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}
	Logger.Info("Backend services initialized")

	// CORS configuration - allow frontend from different origin
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"}, // In production, specify your frontend URL
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodPatch},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	// Request logging
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "method=${method}, uri=${uri}, status=${status}, latency=${latency_human}\n",
	}))

	// Reject oversized uploads before they are buffered; multipart framing needs some headroom
	if serverConfig.MaxUploadBytes > 0 {
		e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", serverConfig.MaxUploadBytes/1024+1024)))
	}

	Logger.Info("Setting up API routes...")
	serverHandler.RegisterRoutes()

	// Override port if specified via flag
	if *port != "" {
		serverConfig.ListenAddrPort = *port
	}

	// Start server
	addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
	Logger.Info("Starting Backend API Server", "address", addr)
	fmt.Printf("\n✅  Backend API Server running on %s\n", addr)
	fmt.Printf("📡  API endpoints available at http://%s/api/\n", addr)
	fmt.Printf("🏥  Health check: http://%s/api/health\n\n", addr)

	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	Logger.Info("Shutting down backend")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		Logger.Error("Server shutdown failed", "error", err)
	}
	<-scheduler.Stop().Done()
	serverHandler.Shutdown()
}
