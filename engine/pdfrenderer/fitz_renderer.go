package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// Open parses the PDF with MuPDF. Documents are independent, so Open never waits.
func (r *FitzRenderer) Open(ctx context.Context, data []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	// MuPDF only reports whole-point bounds; keep the exact boxes when they parse
	sizes, _ := ProbePageSizes(data)
	return &fitzDocument{doc: doc, pageCount: doc.NumPage(), sizes: sizes}, nil
}

// Close is a no-op for the Fitz renderer as documents are closed individually
func (r *FitzRenderer) Close() error {
	return nil
}

// fitzDocument relies on go-fitz locking each document internally
type fitzDocument struct {
	doc       *fitz.Document
	pageCount int
	sizes     []PageSize // exact page boxes, nil when unavailable
}

func (d *fitzDocument) PageCount() int {
	return d.pageCount
}

func (d *fitzDocument) PageSize(index int) (float64, float64, error) {
	if err := checkIndex(index, d.pageCount); err != nil {
		return 0, 0, err
	}
	bounds, err := d.doc.Bound(index)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to measure page %d: %w", index, err)
	}
	var exact *PageSize
	if index < len(d.sizes) {
		exact = &d.sizes[index]
	}
	size := refineBounds(bounds, exact)
	return size.Width, size.Height, nil
}

// refineBounds prefers the exact page box over MuPDF's integer bounds when
// both describe the same page. Each edge is truncated, so they differ by under 2 points.
func refineBounds(bounds image.Rectangle, exact *PageSize) PageSize {
	size := PageSize{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}
	if exact == nil {
		return size
	}
	if math.Abs(exact.Width-size.Width) < 2 && math.Abs(exact.Height-size.Height) < 2 {
		return *exact
	}
	return size
}

func (d *fitzDocument) RenderPage(index int, scale float64) (image.Image, error) {
	if err := checkIndex(index, d.pageCount); err != nil {
		return nil, err
	}
	img, err := d.doc.ImageDPI(index, DPI(scale))
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	return img, nil
}

func (d *fitzDocument) Outline() ([]OutlineEntry, error) {
	toc, err := d.doc.ToC()
	if err != nil {
		return nil, fmt.Errorf("unable to read outline: %w", err)
	}
	entries := make([]OutlineEntry, 0, len(toc))
	for _, item := range toc {
		entries = append(entries, OutlineEntry{
			Title: item.Title,
			Page:  item.Page,
			Level: max(item.Level-1, 0),
		})
	}
	return entries, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
