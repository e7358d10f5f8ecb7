package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/engine/ingest"
	"github.com/drummonds/flipbook/internal/build"
	"github.com/labstack/echo/v4"
)

// sniffLength is how much of an upload is inspected for the MIME check
const sniffLength = 512

// UploadFlipbook accepts a PDF and starts converting it in the background
// @Summary Upload a PDF
// @Description Validate an uploaded PDF and start an ingestion job that converts it into a flipbook
// @Tags Flipbooks
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF file to convert"
// @Param title formData string false "Flipbook title (defaults to the file name)"
// @Param description formData string false "Flipbook description"
// @Param is_public formData bool false "Publish the flipbook"
// @Success 202 {object} map[string]interface{} "Job created with job ID"
// @Failure 400 {object} map[string]interface{} "Not a PDF"
// @Failure 413 {object} map[string]interface{} "File too large"
// @Router /flipbooks/upload [post]
func (serverHandler *ServerHandler) UploadFlipbook(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "No file uploaded")
	}

	opts := uploadOptions{
		Title:       strings.TrimSpace(c.FormValue("title")),
		Description: strings.TrimSpace(c.FormValue("description")),
	}
	if value := c.FormValue("is_public"); value != "" {
		if opts.IsPublic, err = strconv.ParseBool(value); err != nil {
			return badRequest(c, "Invalid is_public value")
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		Logger.Error("Unable to open uploaded file", "name", fileHeader.Filename, "error", err)
		return errorResponse(c, err, "Failed to read upload")
	}
	defer file.Close()

	header := make([]byte, sniffLength)
	n, err := io.ReadFull(file, header)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return errorResponse(c, err, "Failed to read upload")
	}
	header = header[:n]
	if err := ingest.ValidateUpload(fileHeader.Filename, header, fileHeader.Size, serverHandler.ServerConfig.MaxUploadBytes); err != nil {
		return errorResponse(c, err, "Invalid upload")
	}

	data, err := io.ReadAll(io.MultiReader(bytes.NewReader(header), file))
	if err != nil {
		return errorResponse(c, err, "Failed to read upload")
	}

	job, err := serverHandler.DB.CreateJob(c.Request().Context(), database.JobTypeIngestion, fmt.Sprintf("Converting %s", fileHeader.Filename))
	if err != nil {
		return errorResponse(c, err, "Failed to create job")
	}

	serverHandler.ingestions.Add(1)
	go serverHandler.runIngestion(job.ID, data, fileHeader.Filename, opts)

	Logger.Info("Ingestion job started", "jobID", job.ID, "name", fileHeader.Filename, "bytes", len(data))
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"jobId":   job.ID.String(),
		"message": "Conversion started",
	})
}

// ListFlipbooks returns flipbook summaries for the dashboard
// @Summary List flipbooks
// @Description List flipbooks newest first, optionally filtered by title and visibility
// @Tags Flipbooks
// @Produce json
// @Param q query string false "Case-insensitive title search"
// @Param visibility query string false "all, public or private"
// @Param limit query int false "Maximum number of flipbooks"
// @Param offset query int false "Offset for pagination"
// @Success 200 {array} database.Flipbook "Flipbooks without page images"
// @Failure 400 {object} map[string]interface{} "Invalid filter"
// @Router /flipbooks [get]
func (serverHandler *ServerHandler) ListFlipbooks(c echo.Context) error {
	visibility, err := database.ParseVisibility(c.QueryParam("visibility"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	opts := database.ListOptions{
		Query:      strings.TrimSpace(c.QueryParam("q")),
		Visibility: visibility,
	}
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.Limit = l
		}
	}
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			opts.Offset = o
		}
	}

	flipbooks, err := serverHandler.DB.ListFlipbooks(c.Request().Context(), opts)
	if err != nil {
		return errorResponse(c, err, "Failed to list flipbooks")
	}
	if flipbooks == nil {
		flipbooks = []database.Flipbook{}
	}
	return c.JSON(http.StatusOK, flipbooks)
}

// GetStats returns the dashboard counters
// @Summary Dashboard statistics
// @Tags Flipbooks
// @Produce json
// @Success 200 {object} database.Stats "Totals"
// @Router /flipbooks/stats [get]
func (serverHandler *ServerHandler) GetStats(c echo.Context) error {
	stats, err := serverHandler.DB.Stats(c.Request().Context())
	if err != nil {
		return errorResponse(c, err, "Failed to compute statistics")
	}
	return c.JSON(http.StatusOK, stats)
}

// GetFlipbook returns one flipbook with its overlays and table of contents
// @Summary Get flipbook by ID
// @Tags Flipbooks
// @Produce json
// @Param id path string true "Flipbook ID (ULID)"
// @Success 200 {object} database.Flipbook "Flipbook"
// @Failure 404 {object} map[string]interface{} "Flipbook not found"
// @Router /flipbooks/{id} [get]
func (serverHandler *ServerHandler) GetFlipbook(c echo.Context) error {
	fb, err := serverHandler.DB.GetFlipbook(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err, "Flipbook not found")
	}
	return c.JSON(http.StatusOK, fb)
}

// UpdateFlipbook applies a partial update
// @Summary Update flipbook
// @Description Update the title, description, visibility, overlays or table of contents; omitted fields are kept
// @Tags Flipbooks
// @Accept json
// @Produce json
// @Param id path string true "Flipbook ID (ULID)"
// @Param update body database.FlipbookUpdate true "Fields to change"
// @Success 200 {object} database.Flipbook "Updated flipbook"
// @Failure 400 {object} map[string]interface{} "Malformed update"
// @Failure 404 {object} map[string]interface{} "Flipbook not found"
// @Failure 422 {object} map[string]interface{} "Update breaks a flipbook invariant"
// @Router /flipbooks/{id} [put]
func (serverHandler *ServerHandler) UpdateFlipbook(c echo.Context) error {
	var update database.FlipbookUpdate
	if err := c.Bind(&update); err != nil {
		return badRequest(c, "Malformed update")
	}
	if update.Empty() {
		return badRequest(c, "Nothing to update")
	}
	fb, err := serverHandler.DB.UpdateFlipbook(c.Request().Context(), c.Param("id"), update)
	if err != nil {
		return errorResponse(c, err, "Failed to update flipbook")
	}
	return c.JSON(http.StatusOK, fb)
}

// UpdateTOC replaces the table of contents
// @Summary Replace table of contents
// @Tags Flipbooks
// @Accept json
// @Produce json
// @Param id path string true "Flipbook ID (ULID)"
// @Success 200 {array} database.TOCEntry "Stored table of contents"
// @Failure 422 {object} map[string]interface{} "Entry points outside the flipbook"
// @Router /flipbooks/{id}/toc [put]
func (serverHandler *ServerHandler) UpdateTOC(c echo.Context) error {
	var request struct {
		TOC []database.TOCEntry `json:"toc"`
	}
	if err := c.Bind(&request); err != nil {
		return badRequest(c, "Malformed table of contents")
	}
	if request.TOC == nil {
		request.TOC = []database.TOCEntry{}
	}
	fb, err := serverHandler.DB.UpdateFlipbook(c.Request().Context(), c.Param("id"), database.FlipbookUpdate{TOC: &request.TOC})
	if err != nil {
		return errorResponse(c, err, "Failed to update table of contents")
	}
	return c.JSON(http.StatusOK, fb.TOC)
}

// DeleteFlipbook removes a flipbook, its pages and its stored source PDF
// @Summary Delete flipbook
// @Tags Flipbooks
// @Param id path string true "Flipbook ID (ULID)"
// @Success 204 "Deleted"
// @Failure 404 {object} map[string]interface{} "Flipbook not found"
// @Router /flipbooks/{id} [delete]
func (serverHandler *ServerHandler) DeleteFlipbook(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	fb, err := serverHandler.DB.GetFlipbook(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Flipbook not found")
	}
	if err := serverHandler.DB.DeleteFlipbook(ctx, id); err != nil {
		return errorResponse(c, err, "Failed to delete flipbook")
	}
	if fb.SourcePath != "" {
		if err := os.Remove(fb.SourcePath); err != nil && !os.IsNotExist(err) {
			Logger.Warn("Unable to remove source PDF", "path", fb.SourcePath, "error", err)
		}
	}
	Logger.Info("Flipbook deleted", "id", id)
	return c.NoContent(http.StatusNoContent)
}

// GetPageImage serves one rendered page
// @Summary Page image
// @Tags Flipbooks
// @Produce jpeg
// @Param id path string true "Flipbook ID (ULID)"
// @Param page path int true "0-based page index"
// @Success 200 {file} binary "JPEG image"
// @Failure 404 {object} map[string]interface{} "Page not found"
// @Router /flipbooks/{id}/pages/{page}/image [get]
func (serverHandler *ServerHandler) GetPageImage(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return badRequest(c, "Invalid page index")
	}
	page, err := serverHandler.DB.GetPage(c.Request().Context(), c.Param("id"), index)
	if err != nil {
		return errorResponse(c, err, "Page not found")
	}
	// pages never change once ingested
	c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return c.Blob(http.StatusOK, page.ContentType, page.Data)
}

// GetThumbnail serves the dashboard thumbnail of the cover page
// @Summary Cover thumbnail
// @Tags Flipbooks
// @Produce jpeg
// @Param id path string true "Flipbook ID (ULID)"
// @Success 200 {file} binary "JPEG image"
// @Failure 404 {object} map[string]interface{} "Flipbook not found"
// @Router /flipbooks/{id}/thumbnail [get]
func (serverHandler *ServerHandler) GetThumbnail(c echo.Context) error {
	thumbnail, err := serverHandler.DB.GetThumbnail(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err, "Thumbnail not found")
	}
	return c.Blob(http.StatusOK, "image/jpeg", thumbnail)
}

// GetSourcePDF serves the original upload when sources are kept
// @Summary Original PDF
// @Tags Flipbooks
// @Produce application/pdf
// @Param id path string true "Flipbook ID (ULID)"
// @Success 200 {file} binary "PDF"
// @Failure 404 {object} map[string]interface{} "No stored source"
// @Router /flipbooks/{id}/pdf [get]
func (serverHandler *ServerHandler) GetSourcePDF(c echo.Context) error {
	fb, err := serverHandler.DB.GetFlipbook(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err, "Flipbook not found")
	}
	if fb.SourcePath == "" {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Source PDF was not kept",
		})
	}
	name := fb.SourceName
	if name == "" {
		name = fb.ID.String() + ".pdf"
	}
	return c.Inline(fb.SourcePath, name)
}

// GetAboutInfo returns information about the application configuration
// @Summary Get application information
// @Description Retrieve information about the application configuration, version, and database
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Application information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	serverConfig := serverHandler.ServerConfig

	aboutInfo := map[string]interface{}{
		"version":        build.Version,
		"buildDate":      build.BuildDate,
		"databaseType":   serverConfig.DatabaseType,
		"databaseHost":   serverConfig.DatabaseHost,
		"databasePort":   serverConfig.DatabasePort,
		"databaseName":   serverConfig.DatabaseDbname,
		"renderer":       serverConfig.Renderer,
		"renderScale":    serverConfig.RenderScale,
		"jpegQuality":    serverConfig.JPEGQuality,
		"renderWorkers":  serverConfig.RenderWorkers,
		"maxUploadBytes": serverConfig.MaxUploadBytes,
		"maxPages":       serverConfig.MaxPages,
		"keepSourcePDF":  serverConfig.KeepSourcePDF,
		"sourcePath":     serverConfig.SourcePath,
		"studioSessions": serverHandler.sessions.Size(),
	}

	return c.JSON(http.StatusOK, aboutInfo)
}

// Health reports that the API is up
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string "Healthy"
// @Router /health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "flipbook Backend API",
	})
}
