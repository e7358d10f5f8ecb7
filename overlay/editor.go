package overlay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/uuid"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Tool is the studio tool active when the editing surface is clicked
type Tool string

const (
	ToolSelect  Tool = "select"
	ToolButton  Tool = "button"
	ToolLink    Tool = "link"
	ToolVideo   Tool = "video"
	ToolAudio   Tool = "audio"
	ToolIframe  Tool = "iframe"
	ToolHotspot Tool = "hotspot"
)

var ErrNotPlacementTool = errors.New("tool does not place overlays")

// OverlayType maps a placement tool to the overlay type it creates. The link
// tool places a button.
func (t Tool) OverlayType() (Type, error) {
	switch t {
	case ToolLink:
		return TypeButton, nil
	case ToolSelect, "":
		return "", fmt.Errorf("%w: %q", ErrNotPlacementTool, t)
	}
	if overlayType := Type(t); overlayType.Valid() {
		return overlayType, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// Patch is a partial overlay update. Nil fields are left untouched; Config
// keys are merged into the existing config one level deep.
type Patch struct {
	Type   *Type                      `json:"type,omitempty"`
	Page   *int                       `json:"page,omitempty"`
	X      *float64                   `json:"x,omitempty"`
	Y      *float64                   `json:"y,omitempty"`
	Width  *float64                   `json:"width,omitempty"`
	Height *float64                   `json:"height,omitempty"`
	Config map[string]json.RawMessage `json:"config,omitempty"`
}

// Editor is the working set of overlays for one open studio session. Edits
// stay in the editor until Commit hands the set to the caller for storage.
type Editor struct {
	mu        sync.Mutex
	pageCount int
	overlays  []Overlay
	selected  string
	dirty     bool
	newID     func() string
}

// NewEditor starts a session from the committed overlays of a flipbook with
// pageCount pages. The committed slice is copied, never aliased.
func NewEditor(committed []Overlay, pageCount int) *Editor {
	return &Editor{
		pageCount: pageCount,
		overlays:  Clone(committed),
		newID: func() string {
			return "overlay-" + uuid.NewString()
		},
	}
}

// Place creates an overlay of the tool's type centred near the click point
// (percent of the editing surface) on page, appends it to the working set
// and selects it.
func (e *Editor) Place(tool Tool, clickX, clickY float64, page int) (Overlay, error) {
	overlayType, err := tool.OverlayType()
	if err != nil {
		return Overlay{}, err
	}
	if math.IsNaN(clickX) || math.IsNaN(clickY) || math.IsInf(clickX, 0) || math.IsInf(clickY, 0) {
		return Overlay{}, fmt.Errorf("%w: click (%v, %v)", ErrInvalidGeometry, clickX, clickY)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if page < 0 || page >= e.pageCount {
		return Overlay{}, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, e.pageCount)
	}

	created := Overlay{
		ID:     e.newID(),
		Page:   page,
		Type:   overlayType,
		X:      clamp(clickX-DefaultWidth/2, 0, 100-DefaultWidth),
		Y:      clamp(clickY-DefaultHeight/2, 0, 100-DefaultHeight),
		Width:  DefaultWidth,
		Height: DefaultHeight,
		Config: DefaultConfig(overlayType),
	}
	e.overlays = append(e.overlays, created)
	e.selected = created.ID
	e.dirty = true
	Logger.Debug("Placed overlay", "id", created.ID, "type", created.Type, "page", page, "x", created.X, "y", created.Y)
	return created, nil
}

// Update merges patch into the overlay with the given id. An unknown id is a
// no-op: ok is false and err is nil.
func (e *Editor) Update(id string, patch Patch) (updated Overlay, ok bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	index := e.indexOf(id)
	if index < 0 {
		Logger.Debug("Ignoring update of unknown overlay", "id", id, "error", ErrOverlayNotFound)
		return Overlay{}, false, nil
	}

	candidate := e.overlays[index]
	if patch.Type != nil && *patch.Type != candidate.Type {
		return Overlay{}, true, fmt.Errorf("%w: %s to %s", ErrTypeImmutable, candidate.Type, *patch.Type)
	}
	if patch.Page != nil {
		candidate.Page = *patch.Page
	}
	if patch.X != nil {
		candidate.X = *patch.X
	}
	if patch.Y != nil {
		candidate.Y = *patch.Y
	}
	if patch.Width != nil {
		candidate.Width = *patch.Width
	}
	if patch.Height != nil {
		candidate.Height = *patch.Height
	}
	if candidate.Config == nil {
		candidate.Config = DefaultConfig(candidate.Type)
	}
	candidate.Config, err = mergeConfig(candidate.Config, patch.Config)
	if err != nil {
		return Overlay{}, true, err
	}
	if err := candidate.Validate(e.pageCount); err != nil {
		return Overlay{}, true, err
	}

	e.overlays[index] = candidate
	e.dirty = true
	return candidate, true, nil
}

// Delete removes the overlay with the given id, reporting whether anything
// was removed. Deleting an unknown id leaves the working set untouched.
func (e *Editor) Delete(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	index := e.indexOf(id)
	if index < 0 {
		Logger.Debug("Ignoring delete of unknown overlay", "id", id, "error", ErrOverlayNotFound)
		return false
	}
	e.overlays = append(e.overlays[:index], e.overlays[index+1:]...)
	if e.selected == id {
		e.selected = ""
	}
	e.dirty = true
	return true
}

// Select makes the overlay with the given id the active selection; an empty
// id clears it.
func (e *Editor) Select(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id != "" && e.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrOverlayNotFound, id)
	}
	e.selected = id
	return nil
}

// Selection returns the active overlay, if any
func (e *Editor) Selection() (Overlay, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index := e.indexOf(e.selected); index >= 0 {
		return e.overlays[index], true
	}
	return Overlay{}, false
}

// Lookup returns the overlay with the given id or ErrOverlayNotFound
func (e *Editor) Lookup(id string) (Overlay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index := e.indexOf(id); index >= 0 {
		return e.overlays[index], nil
	}
	return Overlay{}, fmt.Errorf("%w: %s", ErrOverlayNotFound, id)
}

// Overlays returns a copy of the working set
func (e *Editor) Overlays() []Overlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Clone(e.overlays)
}

// OnPage returns the working-set overlays on one page
func (e *Editor) OnPage(page int) []Overlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	return OnPage(e.overlays, page)
}

// Dirty reports whether the working set has edits not yet committed
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// PageCount is the number of pages overlays may be placed on
func (e *Editor) PageCount() int {
	return e.pageCount
}

// Commit hands a copy of the working set to persist. The working set is
// marked clean only when persist succeeds; a nil persist just snapshots.
func (e *Editor) Commit(persist func([]Overlay) error) ([]Overlay, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	final := Clone(e.overlays)
	if persist != nil {
		if err := persist(Clone(final)); err != nil {
			return nil, err
		}
	}
	e.dirty = false
	return final, nil
}

func (e *Editor) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := range e.overlays {
		if e.overlays[i].ID == id {
			return i
		}
	}
	return -1
}
