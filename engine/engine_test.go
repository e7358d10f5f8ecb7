package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drummonds/flipbook/config"
	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/engine/pdfrenderer"
	"github.com/drummonds/flipbook/overlay"
	"github.com/labstack/echo/v4"
)

// samplePDF passes the MIME sniffing; the fake renderer never parses it
var samplePDF = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// corruptPDF starts like a PDF but the fake renderer refuses to open it
var corruptPDF = []byte("%PDF-1.4\ncorrupt xref table\n")

type fakeRenderer struct {
	pages int
	// optional: instances bounds open documents like a renderer pool with no
	// wait, opened is signalled on every Open, and renders block until hold closes
	instances chan struct{}
	opened    chan struct{}
	hold      chan struct{}
}

func (r *fakeRenderer) Open(ctx context.Context, data []byte) (pdfrenderer.Document, error) {
	if bytes.Contains(data, []byte("corrupt")) {
		return nil, errors.New("malformed xref table")
	}
	if r.instances != nil {
		select {
		case r.instances <- struct{}{}:
		default:
			return nil, errors.New("no idle renderer instance")
		}
	}
	if r.opened != nil {
		r.opened <- struct{}{}
	}
	return &fakeDocument{pages: r.pages, r: r}, nil
}

func (r *fakeRenderer) Close() error { return nil }

type fakeDocument struct {
	pages int
	r     *fakeRenderer
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) PageSize(index int) (float64, float64, error) {
	return 612, 792, nil
}

func (d *fakeDocument) RenderPage(index int, scale float64) (image.Image, error) {
	if d.r.hold != nil {
		<-d.r.hold
	}
	img := image.NewRGBA(image.Rect(0, 0, 40, 52))
	shade := uint8(40 * (index + 1))
	for y := 0; y < 52; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: 90, B: 160, A: 255})
		}
	}
	return img, nil
}

func (d *fakeDocument) Outline() ([]pdfrenderer.OutlineEntry, error) {
	return []pdfrenderer.OutlineEntry{{Title: "Introduction", Page: 0}, {Title: "Pricing", Page: d.pages - 1}}, nil
}

func (d *fakeDocument) Close() error {
	if d.r.instances != nil {
		<-d.r.instances
	}
	return nil
}

func testServerConfig(t *testing.T) config.ServerConfig {
	return config.ServerConfig{
		DatabaseType:      "sqlite",
		DatabaseDbname:    ":memory:",
		RenderConfig:      config.DefaultRenderConfig(),
		SourcePath:        t.TempDir(),
		KeepSourcePDF:     true,
		SessionTTL:        time.Hour,
		JobRetention:      time.Hour,
		MaintenanceMinute: 10,
	}
}

// setupTestServer creates a handler on an in-memory database with all routes registered
func setupTestServer(t *testing.T, serverConfig config.ServerConfig) *ServerHandler {
	t.Helper()
	return setupTestServerWith(t, serverConfig, &fakeRenderer{pages: 3})
}

func setupTestServerWith(t *testing.T, serverConfig config.ServerConfig, renderer pdfrenderer.Renderer) *ServerHandler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	Logger = logger
	database.Logger = logger

	repo, err := database.NewRepository(serverConfig)
	if err != nil {
		t.Fatalf("Failed to setup test database: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = NotFoundHandler
	serverHandler := NewServerHandler(repo, e, serverConfig, renderer)
	serverHandler.RegisterRoutes()
	t.Cleanup(serverHandler.Shutdown)
	return serverHandler
}

func doRequest(t *testing.T, serverHandler *ServerHandler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	serverHandler.Echo.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func uploadPDF(t *testing.T, serverHandler *ServerHandler, name string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to write form field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	part.Write(content)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/flipbooks/upload", &buf)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	serverHandler.Echo.ServeHTTP(rec, req)
	return rec
}

// ingestUpload uploads a PDF, waits for the job and returns it
func ingestUpload(t *testing.T, serverHandler *ServerHandler, name string, content []byte, fields map[string]string) database.Job {
	t.Helper()
	rec := uploadPDF(t, serverHandler, name, content, fields)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 from upload, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	decode(t, rec, &accepted)
	if accepted["jobId"] == "" {
		t.Fatalf("Upload response carries no job id: %s", rec.Body.String())
	}

	serverHandler.Wait()

	rec = doRequest(t, serverHandler, http.MethodGet, "/api/jobs/"+accepted["jobId"], nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for job, got %d: %s", rec.Code, rec.Body.String())
	}
	var job database.Job
	decode(t, rec, &job)
	return job
}

// createFlipbook stores a flipbook directly, bypassing ingestion
func createFlipbook(t *testing.T, serverHandler *ServerHandler, title string, pageCount int, public bool) *database.Flipbook {
	t.Helper()
	pages := make([]database.PageImage, pageCount)
	for i := range pages {
		pages[i] = database.PageImage{Index: i, Width: 80, Height: 104, ContentType: "image/jpeg", Data: []byte(fmt.Sprintf("page-%d", i))}
	}
	fb, err := serverHandler.DB.CreateFlipbook(context.Background(), &database.Flipbook{
		Title:       title,
		IsPublic:    public,
		Pages:       pages,
		PageCount:   pageCount,
		AspectRatio: 612.0 / 792.0,
		Thumbnail:   []byte("thumbnail"),
	})
	if err != nil {
		t.Fatalf("Failed to create flipbook: %v", err)
	}
	return fb
}

func getFlipbook(t *testing.T, serverHandler *ServerHandler, id string) database.Flipbook {
	t.Helper()
	rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for flipbook, got %d: %s", rec.Code, rec.Body.String())
	}
	var fb database.Flipbook
	decode(t, rec, &fb)
	return fb
}

func TestUploadCreatesFlipbook(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))

	job := ingestUpload(t, serverHandler, "quarterly-report.pdf", samplePDF, map[string]string{
		"description": "Q3 numbers",
		"is_public":   "true",
	})
	if job.Status != database.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("Expected completed job at 100%%, got %s at %d (%s)", job.Status, job.Progress, job.Error)
	}
	var result database.IngestionResult
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		t.Fatalf("Job result is not an ingestion result: %q", job.Result)
	}
	if result.PageCount != 3 {
		t.Errorf("Expected 3 pages in result, got %d", result.PageCount)
	}

	fb := getFlipbook(t, serverHandler, result.FlipbookID)
	if fb.Title != "quarterly-report" {
		t.Errorf("Expected title from file name, got %q", fb.Title)
	}
	if fb.Description != "Q3 numbers" || !fb.IsPublic {
		t.Errorf("Form fields not applied: %+v", fb)
	}
	if fb.PageCount != 3 || fb.CoverPage != 0 {
		t.Errorf("Unexpected page count %d or cover %d", fb.PageCount, fb.CoverPage)
	}
	if want := 612.0 / 792.0; fb.AspectRatio != want {
		t.Errorf("Expected aspect ratio %v, got %v", want, fb.AspectRatio)
	}
	if len(fb.TOC) != 2 || fb.TOC[0].Page != 1 || fb.TOC[1].Page != 3 {
		t.Errorf("Expected outline as 1-based TOC, got %+v", fb.TOC)
	}
	if len(fb.Overlays) != 0 {
		t.Errorf("New flipbook must have no overlays, got %d", len(fb.Overlays))
	}

	t.Run("page images", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec := doRequest(t, serverHandler, http.MethodGet, fmt.Sprintf("/api/flipbooks/%s/pages/%d/image", result.FlipbookID, i), nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200 for page %d, got %d", i, rec.Code)
			}
			if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/jpeg" {
				t.Errorf("Expected image/jpeg, got %q", ct)
			}
			if !bytes.HasPrefix(rec.Body.Bytes(), []byte{0xff, 0xd8}) {
				t.Errorf("Page %d is not a JPEG", i)
			}
		}
		rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+result.FlipbookID+"/pages/3/image", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404 past the last page, got %d", rec.Code)
		}
	})

	t.Run("thumbnail", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+result.FlipbookID+"/thumbnail", nil)
		if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte{0xff, 0xd8}) {
			t.Errorf("Expected JPEG thumbnail, got %d", rec.Code)
		}
	})

	t.Run("source pdf", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+result.FlipbookID+"/pdf", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 for source PDF, got %d", rec.Code)
		}
		if !bytes.Equal(rec.Body.Bytes(), samplePDF) {
			t.Error("Stored source differs from the upload")
		}
	})
}

func TestUploadWithoutKeepingSource(t *testing.T) {
	serverConfig := testServerConfig(t)
	serverConfig.KeepSourcePDF = false
	serverHandler := setupTestServer(t, serverConfig)

	job := ingestUpload(t, serverHandler, "flyer.pdf", samplePDF, nil)
	var result database.IngestionResult
	json.Unmarshal([]byte(job.Result), &result)

	rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+result.FlipbookID+"/pdf", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 when sources are not kept, got %d", rec.Code)
	}
	entries, _ := os.ReadDir(serverConfig.SourcePath)
	if len(entries) != 0 {
		t.Errorf("Expected no stored sources, found %d", len(entries))
	}
}

func TestUploadCorruptPDFFailsJob(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))

	job := ingestUpload(t, serverHandler, "broken.pdf", corruptPDF, nil)
	if job.Status != database.JobStatusFailed {
		t.Fatalf("Expected failed job, got %s", job.Status)
	}
	if job.Progress != 10 {
		t.Errorf("Expected progress frozen at 10, got %d", job.Progress)
	}
	if !strings.Contains(job.Error, "malformed xref table") {
		t.Errorf("Expected cause in job error, got %q", job.Error)
	}

	rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks", nil)
	var flipbooks []database.Flipbook
	decode(t, rec, &flipbooks)
	if len(flipbooks) != 0 {
		t.Errorf("A failed ingestion must not create a flipbook, found %d", len(flipbooks))
	}
}

func TestUploadRejectsInvalidInput(t *testing.T) {
	serverConfig := testServerConfig(t)
	serverConfig.MaxUploadBytes = 256
	serverHandler := setupTestServer(t, serverConfig)

	tests := []struct {
		name    string
		content []byte
		want    int
	}{
		{"not a pdf", []byte("just some notes, definitely not a PDF"), http.StatusBadRequest},
		{"png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), http.StatusBadRequest},
		{"too large", append(append([]byte{}, samplePDF...), bytes.Repeat([]byte(" "), 512)...), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := uploadPDF(t, serverHandler, "upload.pdf", tt.content, nil)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("missing file", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodPost, "/api/flipbooks/upload", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 without a file, got %d", rec.Code)
		}
	})

	serverHandler.Wait()
	rec := doRequest(t, serverHandler, http.MethodGet, "/api/jobs", nil)
	var jobs []database.Job
	decode(t, rec, &jobs)
	if len(jobs) != 0 {
		t.Errorf("Rejected uploads must not create jobs, found %d", len(jobs))
	}
}

func TestFlipbookCRUD(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))
	fb := createFlipbook(t, serverHandler, "Catalogue", 3, false)
	createFlipbook(t, serverHandler, "Brochure", 2, true)
	id := fb.ID.String()

	t.Run("update", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodPut, "/api/flipbooks/"+id, map[string]interface{}{
			"title":     "Spring Catalogue",
			"is_public": true,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		updated := getFlipbook(t, serverHandler, id)
		if updated.Title != "Spring Catalogue" || !updated.IsPublic || updated.PageCount != 3 {
			t.Errorf("Unexpected flipbook after update: %+v", updated)
		}
	})

	t.Run("empty update", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodPut, "/api/flipbooks/"+id, map[string]interface{}{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", rec.Code)
		}
	})

	t.Run("overlay outside the flipbook", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodPut, "/api/flipbooks/"+id, map[string]interface{}{
			"overlays": []map[string]interface{}{
				{"id": "overlay-1", "page": 7, "type": "hotspot", "x": 10, "y": 10, "width": 10, "height": 5, "config": map[string]interface{}{}},
			},
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("unknown overlay type", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodPut, "/api/flipbooks/"+id, map[string]interface{}{
			"overlays": []map[string]interface{}{
				{"id": "overlay-1", "page": 0, "type": "carousel", "x": 10, "y": 10, "width": 10, "height": 5},
			},
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("toc", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodPut, "/api/flipbooks/"+id+"/toc", map[string]interface{}{
			"toc": []database.TOCEntry{{Title: "Shoes", Page: 1}, {Title: "Bags", Page: 3}},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		rec = doRequest(t, serverHandler, http.MethodPut, "/api/flipbooks/"+id+"/toc", map[string]interface{}{
			"toc": []database.TOCEntry{{Title: "Hats", Page: 4}},
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Errorf("Expected 422 for page 4 of 3, got %d", rec.Code)
		}
		if toc := getFlipbook(t, serverHandler, id).TOC; len(toc) != 2 || toc[1].Title != "Bags" {
			t.Errorf("Rejected TOC must leave the stored one, got %+v", toc)
		}
	})

	t.Run("list and stats", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks?q=catal", nil)
		var flipbooks []database.Flipbook
		decode(t, rec, &flipbooks)
		if len(flipbooks) != 1 || flipbooks[0].ID != fb.ID {
			t.Errorf("Expected only the catalogue, got %d results", len(flipbooks))
		}

		rec = doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks?visibility=private", nil)
		decode(t, rec, &flipbooks)
		if len(flipbooks) != 0 {
			t.Errorf("Expected no private flipbooks, got %d", len(flipbooks))
		}

		rec = doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks?visibility=hidden", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for unknown visibility, got %d", rec.Code)
		}

		rec = doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/stats", nil)
		var stats database.Stats
		decode(t, rec, &stats)
		if stats.Flipbooks != 2 || stats.Public != 2 || stats.Views != 0 {
			t.Errorf("Unexpected stats %+v", stats)
		}
	})

	t.Run("delete", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodDelete, "/api/flipbooks/"+id, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", rec.Code)
		}
		for _, path := range []string{"/api/flipbooks/" + id, "/api/flipbooks/" + id + "/pages/0/image"} {
			if rec := doRequest(t, serverHandler, http.MethodGet, path, nil); rec.Code != http.StatusNotFound {
				t.Errorf("Expected 404 for %s after delete, got %d", path, rec.Code)
			}
		}
		if rec := doRequest(t, serverHandler, http.MethodDelete, "/api/flipbooks/"+id, nil); rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404 deleting twice, got %d", rec.Code)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		if rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/not-an-id", nil); rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rec.Code)
		}
	})
}

func TestViewerPayload(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))
	fb := createFlipbook(t, serverHandler, "Magazine", 4, true)
	id := fb.ID.String()

	overlays := []overlay.Overlay{
		{ID: "overlay-a", Page: 0, Type: overlay.TypeHotspot, X: 10, Y: 10, Width: 10, Height: 5, Config: overlay.HotspotConfig{}},
		{ID: "overlay-b", Page: 1, Type: overlay.TypeIframe, X: 20, Y: 20, Width: 10, Height: 5, Config: overlay.IframeConfig{URL: "https://example.com"}},
		{ID: "overlay-c", Page: 2, Type: overlay.TypeHotspot, X: 30, Y: 30, Width: 10, Height: 5, Config: overlay.HotspotConfig{}},
	}
	if _, err := serverHandler.DB.UpdateFlipbook(context.Background(), id, database.FlipbookUpdate{Overlays: &overlays}); err != nil {
		t.Fatalf("Failed to store overlays: %v", err)
	}

	tests := []struct {
		query    string
		mode     ViewMode
		overlays []string
	}{
		{"", ModeFlip, []string{"overlay-a"}},
		{"mode=flip&page=1", ModeFlip, []string{"overlay-b"}},
		{"mode=magazine&page=0", ModeMagazine, []string{"overlay-a", "overlay-b"}},
		{"mode=book&page=1", ModeBook, []string{"overlay-b", "overlay-c"}},
		{"mode=grid&page=3", ModeGrid, []string{}},
		{"mode=slideshow&page=2", ModeSlideshow, []string{"overlay-c"}},
	}
	for i, tt := range tests {
		t.Run(fmt.Sprintf("%s page query %q", tt.mode, tt.query), func(t *testing.T) {
			rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+id+"/view?"+tt.query, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var payload viewerPayload
			decode(t, rec, &payload)
			if payload.Mode != tt.mode || payload.Spread != tt.mode.Spread() {
				t.Errorf("Expected mode %s, got %s (spread %v)", tt.mode, payload.Mode, payload.Spread)
			}
			got := []string{}
			for _, o := range payload.Overlays {
				got = append(got, o.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.overlays, ",") {
				t.Errorf("Expected overlays %v, got %v", tt.overlays, got)
			}
			if len(payload.Pages) != 4 || payload.Pages[2].URL != fmt.Sprintf("/api/flipbooks/%s/pages/2/image", id) ||
				payload.Pages[2].Width != 80 || payload.Pages[2].Height != 104 {
				t.Errorf("Unexpected pages %+v", payload.Pages)
			}
			if payload.Views != i+1 {
				t.Errorf("Expected view %d, got %d", i+1, payload.Views)
			}
		})
	}

	t.Run("inline images", func(t *testing.T) {
		rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+id+"/view?inline=true", nil)
		var payload viewerPayload
		decode(t, rec, &payload)
		if !strings.HasPrefix(payload.Pages[0].URL, "data:image/jpeg") {
			t.Errorf("Expected data URL, got %.40s", payload.Pages[0].URL)
		}
	})

	for _, query := range []string{"mode=origami", "page=4", "page=-1", "page=first", "inline=maybe"} {
		t.Run("rejects "+query, func(t *testing.T) {
			rec := doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+id+"/view?"+query, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", rec.Code)
			}
		})
	}

	before := getFlipbook(t, serverHandler, id).Views
	doRequest(t, serverHandler, http.MethodGet, "/api/flipbooks/"+id+"/view?mode=origami", nil)
	if after := getFlipbook(t, serverHandler, id).Views; after != before {
		t.Errorf("A rejected view must not be counted: %d -> %d", before, after)
	}
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))
	rec := doRequest(t, serverHandler, http.MethodGet, "/api/nothing-here", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["path"] != "/api/nothing-here" {
		t.Errorf("Expected path in body, got %v", body)
	}
}

func TestHealthAndAbout(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))

	rec := doRequest(t, serverHandler, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("Unexpected health response %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, serverHandler, http.MethodGet, "/api/about", nil)
	var about map[string]interface{}
	decode(t, rec, &about)
	if about["version"] != "dev" || about["renderer"] != "pdfium" || about["databaseType"] != "sqlite" {
		t.Errorf("Unexpected about info %v", about)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", database.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("update: %w", database.ErrInvariant), http.StatusUnprocessableEntity},
		{overlay.ErrNotPlacementTool, http.StatusBadRequest},
		{fmt.Errorf("%w: x", overlay.ErrInvalidGeometry), http.StatusBadRequest},
		{overlay.ErrOverlayNotFound, http.StatusNotFound},
		{errSessionNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestJobRoutes(t *testing.T) {
	serverHandler := setupTestServer(t, testServerConfig(t))
	job := ingestUpload(t, serverHandler, "menu.pdf", samplePDF, nil)

	rec := doRequest(t, serverHandler, http.MethodGet, "/api/jobs/"+job.ID.String(), nil)
	var response jobResponse
	decode(t, rec, &response)
	if response.FlipbookID == "" || !strings.Contains(response.Result, response.FlipbookID) {
		t.Errorf("Expected flipbook id from the job result, got %+v", response)
	}

	rec = doRequest(t, serverHandler, http.MethodGet, "/api/jobs", nil)
	var jobs []jobResponse
	decode(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Errorf("Expected the ingestion job, got %+v", jobs)
	}

	rec = doRequest(t, serverHandler, http.MethodGet, "/api/jobs/active", nil)
	decode(t, rec, &jobs)
	if len(jobs) != 0 {
		t.Errorf("Expected no active jobs after Wait, got %d", len(jobs))
	}

	if rec := doRequest(t, serverHandler, http.MethodGet, "/api/jobs/not-a-ulid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed job id, got %d", rec.Code)
	}
	if rec := doRequest(t, serverHandler, http.MethodGet, "/api/jobs/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", rec.Code)
	}
}

// blockingRenderer admits one open document and holds every render until released
func blockingRenderer(t *testing.T) (*fakeRenderer, func()) {
	renderer := &fakeRenderer{
		pages:     2,
		instances: make(chan struct{}, 1),
		opened:    make(chan struct{}, 4),
		hold:      make(chan struct{}),
	}
	var once sync.Once
	release := func() { once.Do(func() { close(renderer.hold) }) }
	t.Cleanup(release)
	return renderer, release
}

func acceptedJobID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected 202 from upload, got %d: %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	decode(t, rec, &accepted)
	return accepted["jobId"]
}

func getJob(t *testing.T, serverHandler *ServerHandler, id string) jobResponse {
	t.Helper()
	rec := doRequest(t, serverHandler, http.MethodGet, "/api/jobs/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 for job %s, got %d", id, rec.Code)
	}
	var job jobResponse
	decode(t, rec, &job)
	return job
}

func TestOverlappingUploadsBothComplete(t *testing.T) {
	serverConfig := testServerConfig(t)
	serverConfig.MaxConcurrentIngestions = 1
	renderer, release := blockingRenderer(t)
	serverHandler := setupTestServerWith(t, serverConfig, renderer)

	firstID := acceptedJobID(t, uploadPDF(t, serverHandler, "first.pdf", samplePDF, nil))
	select {
	case <-renderer.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("First upload never opened its document")
	}

	// the only renderer instance is busy, so the second upload has to queue
	secondID := acceptedJobID(t, uploadPDF(t, serverHandler, "second.pdf", samplePDF, nil))
	if job := getJob(t, serverHandler, secondID); job.Status != database.JobStatusPending {
		t.Errorf("Expected the second job to wait as pending, got %s", job.Status)
	}

	release()
	serverHandler.Wait()

	for _, id := range []string{firstID, secondID} {
		job := getJob(t, serverHandler, id)
		if job.Status != database.JobStatusCompleted || job.FlipbookID == "" {
			t.Errorf("Expected job %s to complete with a flipbook, got %s (%s)", id, job.Status, job.Error)
		}
	}
}

func TestQueuedUploadFailsOnShutdown(t *testing.T) {
	serverConfig := testServerConfig(t)
	serverConfig.MaxConcurrentIngestions = 1
	renderer, release := blockingRenderer(t)
	serverHandler := setupTestServerWith(t, serverConfig, renderer)

	acceptedJobID(t, uploadPDF(t, serverHandler, "first.pdf", samplePDF, nil))
	select {
	case <-renderer.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("First upload never opened its document")
	}
	queuedID := acceptedJobID(t, uploadPDF(t, serverHandler, "queued.pdf", samplePDF, nil))

	serverHandler.cancel()
	release()
	serverHandler.Wait()

	job := getJob(t, serverHandler, queuedID)
	if job.Status != database.JobStatusFailed || !strings.Contains(job.Error, "cancelled while queued") {
		t.Errorf("Expected the queued job to fail on shutdown, got %s (%s)", job.Status, job.Error)
	}
}
