package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// PointsPerInch is the PDF user space unit; scale 1 renders at 72 DPI
const PointsPerInch = 72.0

// ErrPageOutOfRange is returned for page indexes outside the document
var ErrPageOutOfRange = errors.New("page index out of range")

// Renderer opens PDF documents held in memory
type Renderer interface {
	// Open parses a PDF. It blocks while every document slot is in use,
	// until one frees up or ctx is done. The caller must Close the document.
	Open(ctx context.Context, data []byte) (Document, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Document is an opened PDF. Implementations are safe for concurrent use.
type Document interface {
	PageCount() int
	// PageSize returns the unscaled page size in points
	PageSize(index int) (width, height float64, err error)
	// RenderPage rasterizes a 0-based page at scale x 72 DPI
	RenderPage(index int, scale float64) (image.Image, error)
	// Outline returns the document bookmarks flattened in reading order
	Outline() ([]OutlineEntry, error)
	Close() error
}

// OutlineEntry is one flattened bookmark
type OutlineEntry struct {
	Title string
	Page  int // 0-based target page
	Level int // 0 for top level bookmarks
}

// New creates the renderer registered under name: "pdfium" (pure Go, no CGo) or "fitz" (MuPDF).
// documents is the number of PDFs that may be open at the same time.
func New(name string, documents int) (Renderer, error) {
	switch name {
	case "", "pdfium":
		return NewPDFiumRenderer(documents)
	case "fitz", "mupdf":
		return NewFitzRenderer()
	}
	return nil, fmt.Errorf("unknown PDF renderer %q", name)
}

// DPI converts a render scale to dots per inch
func DPI(scale float64) float64 {
	return PointsPerInch * scale
}

func checkIndex(index, pageCount int) error {
	if index < 0 || index >= pageCount {
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index, pageCount)
	}
	return nil
}
