package engine

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/drummonds/flipbook/config"
	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/engine/ingest"
	"github.com/drummonds/flipbook/engine/pdfrenderer"
	"github.com/drummonds/flipbook/overlay"
	"github.com/labstack/echo/v4"
	"github.com/puzpuzpuz/xsync/v3"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Pipeline     *ingest.Pipeline

	sessions   *xsync.MapOf[string, *studioSession]
	ingestions sync.WaitGroup
	slots      chan struct{} // one token per ingestion allowed to convert
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServerHandler wires the repository and renderer into a handler. Ingestions
// started by the handler run until Shutdown, at most MaxConcurrentIngestions at once.
// The renderer should allow that many open documents.
func NewServerHandler(db database.Repository, e *echo.Echo, serverConfig config.ServerConfig, renderer pdfrenderer.Renderer) *ServerHandler {
	ctx, cancel := context.WithCancel(context.Background())
	if serverConfig.MaxConcurrentIngestions < 1 {
		serverConfig.MaxConcurrentIngestions = 1
	}
	return &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Pipeline:     ingest.NewPipeline(renderer, serverConfig.RenderConfig),
		sessions:     xsync.NewMapOf[string, *studioSession](),
		slots:        make(chan struct{}, serverConfig.MaxConcurrentIngestions),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterRoutes adds every API route to the Echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo

	// Flipbook API routes
	e.POST("/api/flipbooks/upload", serverHandler.UploadFlipbook)
	e.GET("/api/flipbooks", serverHandler.ListFlipbooks)
	e.GET("/api/flipbooks/stats", serverHandler.GetStats)
	e.GET("/api/flipbooks/:id", serverHandler.GetFlipbook)
	e.PUT("/api/flipbooks/:id", serverHandler.UpdateFlipbook)
	e.PUT("/api/flipbooks/:id/toc", serverHandler.UpdateTOC)
	e.DELETE("/api/flipbooks/:id", serverHandler.DeleteFlipbook)
	e.GET("/api/flipbooks/:id/pages/:page/image", serverHandler.GetPageImage)
	e.GET("/api/flipbooks/:id/thumbnail", serverHandler.GetThumbnail)
	e.GET("/api/flipbooks/:id/pdf", serverHandler.GetSourcePDF)
	e.GET("/api/flipbooks/:id/view", serverHandler.GetViewerPayload)

	// Studio API routes
	e.POST("/api/flipbooks/:id/studio", serverHandler.OpenStudio)
	e.GET("/api/studio/:session", serverHandler.GetStudioState)
	e.DELETE("/api/studio/:session", serverHandler.CloseStudio)
	e.POST("/api/studio/:session/overlays", serverHandler.PlaceOverlay)
	e.PATCH("/api/studio/:session/overlays/:overlay", serverHandler.PatchOverlay)
	e.DELETE("/api/studio/:session/overlays/:overlay", serverHandler.DeleteOverlay)
	e.POST("/api/studio/:session/select/:overlay", serverHandler.SelectOverlay)
	e.POST("/api/studio/:session/commit", serverHandler.CommitStudio)

	// Job tracking API routes
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/active", serverHandler.GetActiveJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)

	// Admin API routes
	e.GET("/api/about", serverHandler.GetAboutInfo)
	e.GET("/api/health", serverHandler.Health)
}

// Shutdown cancels running ingestions and waits for them to finish
func (serverHandler *ServerHandler) Shutdown() {
	serverHandler.cancel()
	serverHandler.ingestions.Wait()
}

// Wait blocks until every ingestion started so far has finished
func (serverHandler *ServerHandler) Wait() {
	serverHandler.ingestions.Wait()
}

// NotFoundHandler renders unknown routes as JSON
func NotFoundHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
	}

	if code == http.StatusNotFound {
		c.JSON(http.StatusNotFound, map[string]string{
			"error":   "Not Found",
			"message": "The requested API endpoint does not exist",
			"path":    c.Request().URL.Path,
		})
		return
	}

	c.Echo().DefaultHTTPErrorHandler(err, c)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	var invalid *ingest.InvalidInputError
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound),
		errors.Is(err, overlay.ErrOverlayNotFound),
		errors.Is(err, errSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrInvariant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, overlay.ErrNotPlacementTool),
		errors.Is(err, overlay.ErrUnknownType),
		errors.Is(err, overlay.ErrConfigMismatch),
		errors.Is(err, overlay.ErrInvalidGeometry),
		errors.Is(err, overlay.ErrPageOutOfRange),
		errors.Is(err, overlay.ErrTypeImmutable):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// errorResponse writes {"error": message} with the status matching err.
// Server errors are logged, client errors only carry the detail back.
func errorResponse(c echo.Context, err error, message string) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		Logger.Error(message, "path", c.Request().URL.Path, "error", err)
		return c.JSON(status, map[string]interface{}{
			"error": message,
		})
	}
	Logger.Debug(message, "path", c.Request().URL.Path, "status", status, "error", err)
	return c.JSON(status, map[string]interface{}{
		"error":  message,
		"detail": err.Error(),
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": message,
	})
}
