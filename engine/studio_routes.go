package engine

import (
	"net/http"
	"strconv"

	"github.com/drummonds/flipbook/overlay"
	"github.com/labstack/echo/v4"
)

// studioState is the working set as seen by the editing client
type studioState struct {
	SessionID  string            `json:"sessionId"`
	FlipbookID string            `json:"flipbookId"`
	PageCount  int               `json:"pageCount"`
	Overlays   []overlay.Overlay `json:"overlays"`
	Selected   *overlay.Overlay  `json:"selected"`
	Dirty      bool              `json:"dirty"`
}

func stateOf(session *studioSession, page *int) studioState {
	state := studioState{
		SessionID:  session.ID,
		FlipbookID: session.FlipbookID,
		PageCount:  session.Editor.PageCount(),
		Dirty:      session.Editor.Dirty(),
	}
	if page != nil {
		state.Overlays = session.Editor.OnPage(*page)
	} else {
		state.Overlays = session.Editor.Overlays()
	}
	if selected, ok := session.Editor.Selection(); ok {
		state.Selected = &selected
	}
	return state
}

// placeRequest is a click on the editing surface with a placement tool active
type placeRequest struct {
	Tool overlay.Tool `json:"tool"`
	X    float64      `json:"x"`
	Y    float64      `json:"y"`
	Page int          `json:"page"`
}

// OpenStudio starts an editing session on a flipbook
// @Summary Open studio session
// @Description Load the committed overlays of a flipbook into a new editing session
// @Tags Studio
// @Produce json
// @Param id path string true "Flipbook ID (ULID)"
// @Success 201 {object} studioState "New session"
// @Failure 404 {object} map[string]interface{} "Flipbook not found"
// @Router /flipbooks/{id}/studio [post]
func (serverHandler *ServerHandler) OpenStudio(c echo.Context) error {
	session, err := serverHandler.openSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return errorResponse(c, err, "Unable to open studio")
	}
	return c.JSON(http.StatusCreated, stateOf(session, nil))
}

// GetStudioState returns the working set of a session
// @Summary Studio working set
// @Tags Studio
// @Produce json
// @Param session path string true "Session ID"
// @Param page query int false "Only overlays on this 0-based page"
// @Success 200 {object} studioState "Working set"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /studio/{session} [get]
func (serverHandler *ServerHandler) GetStudioState(c echo.Context) error {
	session, err := serverHandler.session(c.Param("session"))
	if err != nil {
		return errorResponse(c, err, "Studio session not found")
	}
	var page *int
	if pageStr := c.QueryParam("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return badRequest(c, "Invalid page")
		}
		page = &p
	}
	return c.JSON(http.StatusOK, stateOf(session, page))
}

// PlaceOverlay creates an overlay where the surface was clicked
// @Summary Place overlay
// @Description Create an overlay of the tool's type near the click point (percent of the page) and select it
// @Tags Studio
// @Accept json
// @Produce json
// @Param session path string true "Session ID"
// @Param click body placeRequest true "Tool, click position and page"
// @Success 201 {object} overlay.Overlay "Placed overlay"
// @Failure 400 {object} map[string]interface{} "Not a placement tool or page out of range"
// @Router /studio/{session}/overlays [post]
func (serverHandler *ServerHandler) PlaceOverlay(c echo.Context) error {
	session, err := serverHandler.session(c.Param("session"))
	if err != nil {
		return errorResponse(c, err, "Studio session not found")
	}
	var request placeRequest
	if err := c.Bind(&request); err != nil {
		return badRequest(c, "Malformed placement")
	}
	placed, err := session.Editor.Place(request.Tool, request.X, request.Y, request.Page)
	if err != nil {
		return errorResponse(c, err, "Unable to place overlay")
	}
	return c.JSON(http.StatusCreated, placed)
}

// PatchOverlay merges changes into an overlay of the working set
// @Summary Update overlay
// @Description Merge geometry, page and config keys into an overlay; an unknown id changes nothing
// @Tags Studio
// @Accept json
// @Produce json
// @Param session path string true "Session ID"
// @Param overlay path string true "Overlay ID"
// @Param patch body overlay.Patch true "Fields to change"
// @Success 200 {object} map[string]interface{} "Update result"
// @Failure 400 {object} map[string]interface{} "Invalid patch"
// @Router /studio/{session}/overlays/{overlay} [patch]
func (serverHandler *ServerHandler) PatchOverlay(c echo.Context) error {
	session, err := serverHandler.session(c.Param("session"))
	if err != nil {
		return errorResponse(c, err, "Studio session not found")
	}
	var patch overlay.Patch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "Malformed patch")
	}
	updated, ok, err := session.Editor.Update(c.Param("overlay"), patch)
	if err != nil {
		return errorResponse(c, err, "Invalid overlay update")
	}
	response := map[string]interface{}{"updated": ok}
	if ok {
		response["overlay"] = updated
	}
	return c.JSON(http.StatusOK, response)
}

// DeleteOverlay removes an overlay from the working set
// @Summary Delete overlay
// @Description Remove an overlay; deleting an unknown id is not an error
// @Tags Studio
// @Produce json
// @Param session path string true "Session ID"
// @Param overlay path string true "Overlay ID"
// @Success 200 {object} map[string]interface{} "Whether anything was removed"
// @Router /studio/{session}/overlays/{overlay} [delete]
func (serverHandler *ServerHandler) DeleteOverlay(c echo.Context) error {
	session, err := serverHandler.session(c.Param("session"))
	if err != nil {
		return errorResponse(c, err, "Studio session not found")
	}
	deleted := session.Editor.Delete(c.Param("overlay"))
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// SelectOverlay makes an overlay the active selection
// @Summary Select overlay
// @Tags Studio
// @Produce json
// @Param session path string true "Session ID"
// @Param overlay path string true "Overlay ID"
// @Success 200 {object} overlay.Overlay "Selected overlay"
// @Failure 404 {object} map[string]interface{} "Overlay not found"
// @Router /studio/{session}/select/{overlay} [post]
func (serverHandler *ServerHandler) SelectOverlay(c echo.Context) error {
	session, err := serverHandler.session(c.Param("session"))
	if err != nil {
		return errorResponse(c, err, "Studio session not found")
	}
	id := c.Param("overlay")
	if err := session.Editor.Select(id); err != nil {
		return errorResponse(c, err, "Overlay not found")
	}
	selected, err := session.Editor.Lookup(id)
	if err != nil {
		return errorResponse(c, err, "Overlay not found")
	}
	return c.JSON(http.StatusOK, selected)
}

// CommitStudio stores the working set as the flipbook's overlays
// @Summary Commit studio session
// @Description Persist the working set; the stored flipbook is untouched until this call
// @Tags Studio
// @Produce json
// @Param session path string true "Session ID"
// @Success 200 {object} map[string]interface{} "Committed overlays"
// @Failure 422 {object} map[string]interface{} "Working set breaks a flipbook invariant"
// @Router /studio/{session}/commit [post]
func (serverHandler *ServerHandler) CommitStudio(c echo.Context) error {
	session, err := serverHandler.session(c.Param("session"))
	if err != nil {
		return errorResponse(c, err, "Studio session not found")
	}
	committed, err := serverHandler.commitSession(c.Request().Context(), session)
	if err != nil {
		return errorResponse(c, err, "Failed to save overlays")
	}
	Logger.Info("Studio session committed", "session", session.ID, "flipbook", session.FlipbookID, "overlays", len(committed))
	return c.JSON(http.StatusOK, map[string]interface{}{
		"flipbookId": session.FlipbookID,
		"overlays":   committed,
	})
}

// CloseStudio ends a session, discarding uncommitted edits
// @Summary Close studio session
// @Tags Studio
// @Param session path string true "Session ID"
// @Success 204 "Closed"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /studio/{session} [delete]
func (serverHandler *ServerHandler) CloseStudio(c echo.Context) error {
	id := c.Param("session")
	if !serverHandler.closeSession(id) {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "Studio session not found",
		})
	}
	return c.NoContent(http.StatusNoContent)
}
