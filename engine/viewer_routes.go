package engine

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/drummonds/flipbook/database"
	"github.com/drummonds/flipbook/overlay"
	"github.com/labstack/echo/v4"
)

// ViewMode is one of the read-only presentations of a flipbook
type ViewMode string

const (
	ModeFlip      ViewMode = "flip"
	ModeMagazine  ViewMode = "magazine"
	ModeBook      ViewMode = "book"
	ModeNotebook  ViewMode = "notebook"
	ModeCards     ViewMode = "cards"
	ModeCoverflow ViewMode = "coverflow"
	ModeScroll    ViewMode = "scroll"
	ModeGrid      ViewMode = "grid"
	ModeSlideshow ViewMode = "slideshow"
)

var viewModes = map[ViewMode]bool{
	ModeFlip: true, ModeMagazine: true, ModeBook: true, ModeNotebook: true, ModeCards: true,
	ModeCoverflow: true, ModeScroll: true, ModeGrid: true, ModeSlideshow: true,
}

// Spread reports whether the mode shows two facing pages at once
func (m ViewMode) Spread() bool {
	return m == ModeMagazine || m == ModeBook
}

// ParseViewMode defaults an empty mode to flip
func ParseViewMode(value string) (ViewMode, error) {
	if value == "" {
		return ModeFlip, nil
	}
	if mode := ViewMode(value); viewModes[mode] {
		return mode, nil
	}
	return "", fmt.Errorf("unknown view mode %q", value)
}

// viewerPage points a renderer at one page image
type viewerPage struct {
	Index  int    `json:"index"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// viewerPayload is everything a read-only renderer needs
type viewerPayload struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Mode        ViewMode            `json:"mode"`
	Page        int                 `json:"page"`
	PageCount   int                 `json:"page_count"`
	AspectRatio float64             `json:"aspect_ratio"`
	Spread      bool                `json:"spread"`
	Views       int                 `json:"views"`
	Pages       []viewerPage        `json:"pages"`
	TOC         []database.TOCEntry `json:"toc"`
	Overlays    []overlay.Overlay   `json:"overlays"`
}

// visibleOverlays returns the overlays shown while page is open. Spread modes
// also show the facing page.
func visibleOverlays(overlays []overlay.Overlay, mode ViewMode, page int) []overlay.Overlay {
	visible := overlay.OnPage(overlays, page)
	if mode.Spread() {
		visible = append(visible, overlay.OnPage(overlays, page+1)...)
	}
	return visible
}

// GetViewerPayload returns a flipbook prepared for one of the viewer modes and counts the view
// @Summary View flipbook
// @Description Return pages, table of contents and the overlays visible on the current page, and increment the view counter
// @Tags Viewer
// @Produce json
// @Param id path string true "Flipbook ID (ULID)"
// @Param mode query string false "flip, magazine, book, notebook, cards, coverflow, scroll, grid or slideshow"
// @Param page query int false "0-based current page"
// @Param inline query bool false "Embed page images as data URLs"
// @Success 200 {object} viewerPayload "Viewer payload"
// @Failure 400 {object} map[string]interface{} "Unknown mode or page"
// @Failure 404 {object} map[string]interface{} "Flipbook not found"
// @Router /flipbooks/{id}/view [get]
func (serverHandler *ServerHandler) GetViewerPayload(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	mode, err := ParseViewMode(c.QueryParam("mode"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	page := 0
	if pageStr := c.QueryParam("page"); pageStr != "" {
		if page, err = strconv.Atoi(pageStr); err != nil {
			return badRequest(c, "Invalid page")
		}
	}
	inline := false
	if inlineStr := c.QueryParam("inline"); inlineStr != "" {
		if inline, err = strconv.ParseBool(inlineStr); err != nil {
			return badRequest(c, "Invalid inline flag")
		}
	}

	fb, err := serverHandler.DB.GetFlipbook(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Flipbook not found")
	}
	if page < 0 || page >= fb.PageCount {
		return badRequest(c, fmt.Sprintf("Page %d is outside 0-%d", page, fb.PageCount-1))
	}
	// image data is only needed when it is embedded in the payload
	loadPages := serverHandler.DB.GetPageInfo
	if inline {
		loadPages = serverHandler.DB.GetPages
	}
	pages, err := loadPages(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to load pages")
	}
	views, err := serverHandler.DB.IncrementViews(ctx, id)
	if err != nil {
		return errorResponse(c, err, "Failed to count view")
	}

	payload := viewerPayload{
		ID:          fb.ID.String(),
		Title:       fb.Title,
		Description: fb.Description,
		Mode:        mode,
		Page:        page,
		PageCount:   fb.PageCount,
		AspectRatio: fb.AspectRatio,
		Spread:      mode.Spread(),
		Views:       views,
		Pages:       make([]viewerPage, 0, len(pages)),
		TOC:         fb.TOC,
		Overlays:    visibleOverlays(fb.Overlays, mode, page),
	}
	for _, p := range pages {
		url := fmt.Sprintf("/api/flipbooks/%s/pages/%d/image", payload.ID, p.Index)
		if inline {
			url = p.DataURL()
		}
		payload.Pages = append(payload.Pages, viewerPage{Index: p.Index, Width: p.Width, Height: p.Height, URL: url})
	}
	if payload.TOC == nil {
		payload.TOC = []database.TOCEntry{}
	}
	return c.JSON(http.StatusOK, payload)
}
