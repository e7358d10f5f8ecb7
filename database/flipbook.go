package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/drummonds/flipbook/overlay"
	"github.com/oklog/ulid/v2"
	"github.com/vincent-petithory/dataurl"
)

var (
	// ErrNotFound is returned when a flipbook or page does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvariant is returned when a flipbook would break one of its invariants
	ErrInvariant = errors.New("flipbook invariant violated")
)

// Flipbook is one converted PDF together with its interactive enhancements
type Flipbook struct {
	ID          ulid.ULID         `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	IsPublic    bool              `json:"is_public"`
	Pages       []PageImage       `json:"-"` // only populated on create and by GetPages
	PageCount   int               `json:"page_count"`
	CoverPage   int               `json:"cover_page"`
	AspectRatio float64           `json:"aspect_ratio"`
	Overlays    []overlay.Overlay `json:"overlays"`
	TOC         []TOCEntry        `json:"toc"`
	Views       int               `json:"views"`
	SourceName  string            `json:"source_name,omitempty"`
	SourceHash  string            `json:"source_hash,omitempty"`
	SourceSize  int64             `json:"source_size,omitempty"`
	SourcePath  string            `json:"-"`
	Thumbnail   []byte            `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// PageImage is one rasterized page. Page images never change after ingestion.
type PageImage struct {
	Index       int    `json:"index"` // 0-based, equals PDF page number - 1
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"-"`
}

// DataURL encodes the page image as a data: URL usable directly in an <img>
func (p PageImage) DataURL() string {
	contentType := p.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return dataurl.New(p.Data, contentType).String()
}

// TOCEntry is one table of contents line pointing at a 1-based page number
type TOCEntry struct {
	Title string `json:"title"`
	Page  int    `json:"page"`
}

// FlipbookUpdate is a partial update; nil fields are left untouched
type FlipbookUpdate struct {
	Title       *string            `json:"title,omitempty"`
	Description *string            `json:"description,omitempty"`
	IsPublic    *bool              `json:"is_public,omitempty"`
	Overlays    *[]overlay.Overlay `json:"overlays,omitempty"`
	TOC         *[]TOCEntry        `json:"toc,omitempty"`
}

// Apply merges the update into fb
func (u FlipbookUpdate) Apply(fb *Flipbook) {
	if u.Title != nil {
		fb.Title = *u.Title
	}
	if u.Description != nil {
		fb.Description = *u.Description
	}
	if u.IsPublic != nil {
		fb.IsPublic = *u.IsPublic
	}
	if u.Overlays != nil {
		fb.Overlays = overlay.Clone(*u.Overlays)
	}
	if u.TOC != nil {
		fb.TOC = append([]TOCEntry{}, (*u.TOC)...)
	}
}

// Empty reports whether the update changes nothing
func (u FlipbookUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.IsPublic == nil && u.Overlays == nil && u.TOC == nil
}

// Validate checks the flipbook invariants. Page images are only checked when loaded.
func (fb *Flipbook) Validate() error {
	if fb.PageCount <= 0 {
		return fmt.Errorf("%w: page count %d", ErrInvariant, fb.PageCount)
	}
	if fb.Pages != nil {
		if len(fb.Pages) != fb.PageCount {
			return fmt.Errorf("%w: %d page images for page count %d", ErrInvariant, len(fb.Pages), fb.PageCount)
		}
		for i, page := range fb.Pages {
			if page.Index != i {
				return fmt.Errorf("%w: page image %d carries index %d", ErrInvariant, i, page.Index)
			}
			if len(page.Data) == 0 {
				return fmt.Errorf("%w: page image %d is empty", ErrInvariant, i)
			}
		}
	}
	if fb.CoverPage != 0 {
		return fmt.Errorf("%w: cover must be the first page, got %d", ErrInvariant, fb.CoverPage)
	}
	if !(fb.AspectRatio > 0) {
		return fmt.Errorf("%w: aspect ratio %v", ErrInvariant, fb.AspectRatio)
	}
	seen := make(map[string]bool, len(fb.Overlays))
	for _, o := range fb.Overlays {
		if o.ID == "" || seen[o.ID] {
			return fmt.Errorf("%w: overlay id %q missing or duplicated", ErrInvariant, o.ID)
		}
		seen[o.ID] = true
		if err := o.Validate(fb.PageCount); err != nil {
			return fmt.Errorf("%w: overlay %s: %v", ErrInvariant, o.ID, err)
		}
	}
	for i, entry := range fb.TOC {
		if entry.Page < 1 || entry.Page > fb.PageCount {
			return fmt.Errorf("%w: toc entry %d targets page %d of %d", ErrInvariant, i, entry.Page, fb.PageCount)
		}
	}
	return nil
}

// ListOptions filters a flipbook listing
type ListOptions struct {
	Query      string     // case-insensitive title substring
	Visibility Visibility // all, public or private
	Limit      int
	Offset     int
}

// Visibility filters listings by the public flag
type Visibility string

const (
	VisibilityAll     Visibility = "all"
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ParseVisibility accepts "", all, public and private
func ParseVisibility(value string) (Visibility, error) {
	switch Visibility(value) {
	case "", VisibilityAll:
		return VisibilityAll, nil
	case VisibilityPublic, VisibilityPrivate:
		return Visibility(value), nil
	}
	return "", fmt.Errorf("unknown visibility %q", value)
}

// Stats summarizes the dashboard counters
type Stats struct {
	Flipbooks int `json:"flipbooks"`
	Views     int `json:"views"`
	Public    int `json:"public"`
}
