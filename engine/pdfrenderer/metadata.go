package pdfrenderer

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Metadata is the document information read without rasterizing
type Metadata struct {
	Title     string
	Author    string
	Subject   string
	PageCount int
}

// ProbeMetadata reads the trailer Info dictionary and page tree
func ProbeMetadata(data []byte) (meta Metadata, err error) {
	// the pdf package panics on some malformed cross reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unable to parse PDF metadata: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Metadata{}, fmt.Errorf("unable to parse PDF metadata: %w", err)
	}

	info := reader.Trailer().Key("Info")
	meta = Metadata{
		Title:     strings.TrimSpace(info.Key("Title").Text()),
		Author:    strings.TrimSpace(info.Key("Author").Text()),
		Subject:   strings.TrimSpace(info.Key("Subject").Text()),
		PageCount: reader.NumPage(),
	}
	return meta, nil
}

// PageSize is the unscaled size of one page in points
type PageSize struct {
	Width, Height float64
}

// ProbePageSizes reads every page box from the page tree. The box is the
// CropBox when present, otherwise the MediaBox, both inherited from parent
// page tree nodes, with width and height swapped for quarter turn rotations.
func ProbePageSizes(data []byte) (sizes []PageSize, err error) {
	defer func() {
		if r := recover(); r != nil {
			sizes, err = nil, fmt.Errorf("unable to parse PDF page boxes: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("unable to parse PDF page boxes: %w", err)
	}

	sizes = make([]PageSize, reader.NumPage())
	for i := range sizes {
		page := reader.Page(i + 1)
		if page.V.IsNull() {
			return nil, fmt.Errorf("page %d missing from page tree", i+1)
		}
		box := inherited(page.V, "CropBox")
		if box.Len() != 4 {
			box = inherited(page.V, "MediaBox")
		}
		size, ok := boxSize(box, inherited(page.V, "Rotate").Int64())
		if !ok {
			return nil, fmt.Errorf("page %d has no usable page box", i+1)
		}
		sizes[i] = size
	}
	return sizes, nil
}

func inherited(node pdf.Value, key string) pdf.Value {
	for ; !node.IsNull(); node = node.Key("Parent") {
		if v := node.Key(key); !v.IsNull() {
			return v
		}
	}
	return pdf.Value{}
}

func boxSize(box pdf.Value, rotate int64) (PageSize, bool) {
	if box.Len() != 4 {
		return PageSize{}, false
	}
	size := PageSize{
		Width:  math.Abs(box.Index(2).Float64() - box.Index(0).Float64()),
		Height: math.Abs(box.Index(3).Float64() - box.Index(1).Float64()),
	}
	if !(size.Width > 0 && size.Height > 0) {
		return PageSize{}, false
	}
	if rotate%180 != 0 {
		size.Width, size.Height = size.Height, size.Width
	}
	return size, true
}
