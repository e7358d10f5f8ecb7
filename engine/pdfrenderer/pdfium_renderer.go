package pdfrenderer

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/responses"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	pool pdfium.Pool
}

// NewPDFiumRenderer creates a WebAssembly pool with one instance per concurrently open document
func NewPDFiumRenderer(documents int) (*PDFiumRenderer, error) {
	if documents < 1 {
		documents = 1
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  documents,
		MaxTotal: documents,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}
	return &PDFiumRenderer{pool: pool}, nil
}

// Open loads the PDF into a pooled PDFium instance, waiting for one to be returned
// when all are in use
func (r *PDFiumRenderer) Open(ctx context.Context, data []byte) (Document, error) {
	instance, err := r.pool.GetInstanceWithContext(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("waiting for a PDFium instance: %w", ctxErr)
		}
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	doc, err := instance.OpenDocument(&requests.OpenDocument{
		File: &data,
	})
	if err != nil {
		instance.Close()
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCountResp, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		instance.Close()
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	return &pdfiumDocument{
		instance:  instance,
		document:  doc.Document,
		pageCount: pageCountResp.PageCount,
	}, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	if r.pool != nil {
		err := r.pool.Close()
		r.pool = nil
		return err
	}
	return nil
}

// pdfiumDocument serializes calls since a PDFium instance is single threaded
type pdfiumDocument struct {
	mu        sync.Mutex
	instance  pdfium.Pdfium
	document  references.FPDF_DOCUMENT
	pageCount int
}

func (d *pdfiumDocument) PageCount() int {
	return d.pageCount
}

func (d *pdfiumDocument) page(index int) requests.Page {
	return requests.Page{
		ByIndex: &requests.PageByIndex{
			Document: d.document,
			Index:    index,
		},
	}
}

func (d *pdfiumDocument) PageSize(index int) (float64, float64, error) {
	if err := checkIndex(index, d.pageCount); err != nil {
		return 0, 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	size, err := d.instance.GetPageSize(&requests.GetPageSize{Page: d.page(index)})
	if err != nil {
		return 0, 0, fmt.Errorf("unable to measure page %d: %w", index, err)
	}
	return size.Width, size.Height, nil
}

func (d *pdfiumDocument) RenderPage(index int, scale float64) (image.Image, error) {
	if err := checkIndex(index, d.pageCount); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pageRender, err := d.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI:  int(math.Round(DPI(scale))),
		Page: d.page(index),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	// The bitmap lives in WebAssembly memory until Cleanup
	img := imaging.Clone(pageRender.Result.Image)
	pageRender.Cleanup()
	return img, nil
}

func (d *pdfiumDocument) Outline() ([]OutlineEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bookmarks, err := d.instance.GetBookmarks(&requests.GetBookmarks{Document: d.document})
	if err != nil {
		return nil, fmt.Errorf("unable to read bookmarks: %w", err)
	}
	var entries []OutlineEntry
	flattenBookmarks(bookmarks.Bookmarks, 0, &entries)
	return entries, nil
}

func flattenBookmarks(bookmarks []responses.GetBookmarksBookmark, level int, entries *[]OutlineEntry) {
	for _, bookmark := range bookmarks {
		if bookmark.DestInfo != nil {
			*entries = append(*entries, OutlineEntry{
				Title: bookmark.Title,
				Page:  bookmark.DestInfo.PageIndex,
				Level: level,
			})
		}
		flattenBookmarks(bookmark.Children, level+1, entries)
	}
}

func (d *pdfiumDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.instance == nil {
		return nil
	}
	_, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.document})
	if closeErr := d.instance.Close(); err == nil {
		err = closeErr
	}
	d.instance = nil
	return err
}
