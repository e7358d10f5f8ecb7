package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/drummonds/flipbook/config"
	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/engine/pdfrenderer"
	"golang.org/x/sync/errgroup"
)

// Logger is injected by the backend at startup
var Logger = slog.Default()

// Progress milestones
const (
	ProgressRead     = 10.0
	ProgressMeasured = 50.0
	ProgressRendered = 90.0
	ProgressDone     = 100.0
)

// ProgressFunc receives non-decreasing progress values in [0,100]
type ProgressFunc func(progress float64)

// Result is the output of a successful ingestion
type Result struct {
	Title       string
	PageCount   int
	AspectRatio float64
	Pages       []database.PageImage // Pages[i] is PDF page i+1
	Cover       *database.PageImage  // always &Pages[0]
	Thumbnail   []byte
	TOC         []database.TOCEntry
	Metadata    pdfrenderer.Metadata
	Source      []byte
	SourceName  string
	SourceHash  string
}

// Flipbook converts the result into a new, unsaved flipbook
func (r *Result) Flipbook() *database.Flipbook {
	return &database.Flipbook{
		Title:       r.Title,
		Description: r.Metadata.Subject,
		Pages:       r.Pages,
		PageCount:   r.PageCount,
		CoverPage:   0,
		AspectRatio: r.AspectRatio,
		TOC:         r.TOC,
		Thumbnail:   r.Thumbnail,
		SourceName:  r.SourceName,
		SourceHash:  r.SourceHash,
		SourceSize:  int64(len(r.Source)),
	}
}

// Pipeline turns PDF bytes into page images
type Pipeline struct {
	renderer pdfrenderer.Renderer
	cfg      config.RenderConfig
}

// NewPipeline creates a pipeline; invalid settings fall back to the defaults
func NewPipeline(renderer pdfrenderer.Renderer, cfg config.RenderConfig) *Pipeline {
	defaults := config.DefaultRenderConfig()
	if !(cfg.RenderScale > 0) {
		cfg.RenderScale = defaults.RenderScale
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaults.JPEGQuality
	}
	if cfg.RenderWorkers < 1 {
		cfg.RenderWorkers = defaults.RenderWorkers
	}
	if cfg.ThumbnailWidth < 1 {
		cfg.ThumbnailWidth = defaults.ThumbnailWidth
	}
	return &Pipeline{renderer: renderer, cfg: cfg}
}

// Ingest runs the pipeline with a private tracker
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, name string, progress ProgressFunc) (*Result, error) {
	return p.Run(ctx, NewTracker(), r, name, progress)
}

// Run drives tracker through uploading, processing and success or error.
// Nothing is returned on failure; the tracker keeps the last progress.
func (p *Pipeline) Run(ctx context.Context, tracker *Tracker, r io.Reader, name string, progress ProgressFunc) (*Result, error) {
	if err := tracker.Begin(); err != nil {
		return nil, err
	}
	report := func(value float64) {
		effective := tracker.Report(value)
		if progress != nil && effective == value {
			progress(effective)
		}
	}
	fail := func(err error) (*Result, error) {
		var procErr *PDFProcessingError
		if errors.As(err, &procErr) {
			procErr.Progress = tracker.Snapshot().Progress
		}
		tracker.Fail(err)
		Logger.Error("PDF ingestion failed", "name", name, "error", err)
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return fail(&PDFProcessingError{Stage: "read", Err: err})
	}
	report(ProgressRead)

	if err := tracker.Processing(); err != nil {
		return fail(err)
	}
	result, err := p.process(ctx, data, name, report)
	if err != nil {
		return fail(err)
	}
	report(ProgressDone)
	if err := tracker.Succeed(); err != nil {
		return fail(err)
	}
	Logger.Info("PDF ingested", "name", name, "pages", result.PageCount, "aspectRatio", result.AspectRatio)
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, data []byte, name string, report ProgressFunc) (*Result, error) {
	doc, err := p.renderer.Open(ctx, data)
	if err != nil {
		return nil, &PDFProcessingError{Stage: "open", Err: err}
	}
	defer doc.Close()

	pageCount := doc.PageCount()
	if pageCount < 1 {
		return nil, &PDFProcessingError{Stage: "open", Err: errors.New("document has no pages")}
	}
	if p.cfg.MaxPages > 0 && pageCount > p.cfg.MaxPages {
		return nil, &PDFProcessingError{Stage: "limit", Err: fmt.Errorf("%d pages exceeds the %d page limit", pageCount, p.cfg.MaxPages)}
	}

	width, height, err := doc.PageSize(0)
	if err == nil && !(width > 0 && height > 0) {
		err = fmt.Errorf("invalid first page size %vx%v", width, height)
	}
	if err != nil {
		return nil, &PDFProcessingError{Stage: "measure", Page: 1, Err: err}
	}
	report(ProgressMeasured)

	pages, cover, err := p.renderPages(ctx, doc, pageCount, report)
	if err != nil {
		return nil, err
	}
	report(ProgressRendered)

	thumbnail, err := p.thumbnail(cover)
	if err != nil {
		return nil, &PDFProcessingError{Stage: "encode", Page: 1, Err: err}
	}

	meta, err := pdfrenderer.ProbeMetadata(data)
	if err != nil {
		Logger.Debug("PDF metadata unavailable", "name", name, "error", err)
	} else if meta.PageCount != pageCount {
		Logger.Warn("PDF page count disagrees between parsers", "name", name, "renderer", pageCount, "metadata", meta.PageCount)
	}

	hash, err := database.CalculateHash(bytes.NewReader(data))
	if err != nil {
		return nil, &PDFProcessingError{Stage: "read", Err: err}
	}

	result := &Result{
		Title:       titleFor(name, meta.Title),
		PageCount:   pageCount,
		AspectRatio: width / height,
		Pages:       pages,
		Thumbnail:   thumbnail,
		TOC:         p.tableOfContents(doc, pageCount, name),
		Metadata:    meta,
		Source:      data,
		SourceName:  name,
		SourceHash:  hash,
	}
	result.Cover = &result.Pages[0]
	return result, nil
}

// renderPages rasterizes every page into its own slot so the output order
// never depends on worker scheduling
func (p *Pipeline) renderPages(ctx context.Context, doc pdfrenderer.Document, pageCount int, report ProgressFunc) ([]database.PageImage, image.Image, error) {
	pages := make([]database.PageImage, pageCount)
	var (
		cover image.Image
		mu    sync.Mutex
		done  int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RenderWorkers)
	for i := 0; i < pageCount; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &PDFProcessingError{Stage: "render", Page: i + 1, Err: err}
			}
			img, err := doc.RenderPage(i, p.cfg.RenderScale)
			if err != nil {
				return &PDFProcessingError{Stage: "render", Page: i + 1, Err: err}
			}
			var buf bytes.Buffer
			if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
				return &PDFProcessingError{Stage: "encode", Page: i + 1, Err: err}
			}
			bounds := img.Bounds()
			pages[i] = database.PageImage{
				Index:       i,
				Width:       bounds.Dx(),
				Height:      bounds.Dy(),
				ContentType: "image/jpeg",
				Data:        buf.Bytes(),
			}

			mu.Lock()
			defer mu.Unlock()
			if i == 0 {
				cover = img
			}
			done++
			report(ProgressMeasured + float64(done)/float64(pageCount)*(ProgressRendered-ProgressMeasured))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	// the parent context may be cancelled after the last page was scheduled
	if err := ctx.Err(); err != nil {
		return nil, nil, &PDFProcessingError{Stage: "render", Err: err}
	}
	return pages, cover, nil
}

func (p *Pipeline) thumbnail(cover image.Image) ([]byte, error) {
	thumb := cover
	if cover.Bounds().Dx() > p.cfg.ThumbnailWidth {
		thumb = imaging.Resize(cover, p.cfg.ThumbnailWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(p.cfg.JPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tableOfContents maps the PDF outline to 1-based entries; a missing outline is not an error
func (p *Pipeline) tableOfContents(doc pdfrenderer.Document, pageCount int, name string) []database.TOCEntry {
	outline, err := doc.Outline()
	if err != nil {
		Logger.Debug("PDF outline unavailable", "name", name, "error", err)
		return []database.TOCEntry{}
	}
	toc := make([]database.TOCEntry, 0, len(outline))
	for _, entry := range outline {
		title := strings.TrimSpace(entry.Title)
		if title == "" || entry.Page < 0 || entry.Page >= pageCount {
			continue
		}
		toc = append(toc, database.TOCEntry{Title: title, Page: entry.Page + 1})
	}
	return toc
}

// titleFor uses the file name without its .pdf extension
func titleFor(name, metadataTitle string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".pdf") {
		base = strings.TrimSuffix(base, ext)
	}
	if base != "" && base != "." && base != string(filepath.Separator) {
		return base
	}
	if metadataTitle != "" {
		return metadataTitle
	}
	return "Untitled"
}
