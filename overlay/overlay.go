// Package overlay holds the page-relative widget model shared by the studio
// editor and every viewer, plus the editor's working-set state.
//
// Positions and sizes are percentages of the rendered page, so an overlay
// lands on the same spot whatever resolution the page image is shown at.
package overlay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Type identifies the kind of widget an overlay renders as
type Type string

const (
	TypeButton  Type = "button"
	TypeVideo   Type = "video"
	TypeAudio   Type = "audio"
	TypeIframe  Type = "iframe"
	TypeHotspot Type = "hotspot"
)

// Types lists every overlay type in display order
var Types = []Type{TypeButton, TypeVideo, TypeAudio, TypeIframe, TypeHotspot}

// Valid reports whether t is a known overlay type
func (t Type) Valid() bool {
	switch t {
	case TypeButton, TypeVideo, TypeAudio, TypeIframe, TypeHotspot:
		return true
	}
	return false
}

// Default geometry of a freshly placed overlay, in percent of the page
const (
	DefaultWidth  = 10.0
	DefaultHeight = 5.0
)

var (
	ErrOverlayNotFound = errors.New("overlay not found")
	ErrUnknownType     = errors.New("unknown overlay type")
	ErrConfigMismatch  = errors.New("overlay config does not match type")
	ErrInvalidGeometry = errors.New("overlay geometry out of range")
	ErrPageOutOfRange  = errors.New("overlay page out of range")
	ErrTypeImmutable   = errors.New("overlay type cannot be changed")
)

// Config is the type-specific part of an overlay. Each overlay type has
// exactly one Config implementation.
type Config interface {
	OverlayType() Type
}

// ButtonConfig configures a clickable button or link
type ButtonConfig struct {
	Label      string `json:"label"`
	URL        string `json:"url"`
	BgColor    string `json:"bgColor"`
	Gradient   bool   `json:"gradient"`
	BgColorEnd string `json:"bgColorEnd"`
}

func (ButtonConfig) OverlayType() Type { return TypeButton }

// VideoConfig configures an embedded video player
type VideoConfig struct {
	VideoURL  string `json:"videoUrl"`
	Thumbnail string `json:"thumbnail"`
}

func (VideoConfig) OverlayType() Type { return TypeVideo }

// AudioConfig configures an audio player
type AudioConfig struct {
	Title    string `json:"title"`
	AudioURL string `json:"audioUrl"`
}

func (AudioConfig) OverlayType() Type { return TypeAudio }

// IframeConfig configures an embedded frame
type IframeConfig struct {
	URL string `json:"url"`
}

func (IframeConfig) OverlayType() Type { return TypeIframe }

// HotspotConfig has no settings; a hotspot is a bare clickable region
type HotspotConfig struct{}

func (HotspotConfig) OverlayType() Type { return TypeHotspot }

// DefaultConfig returns the configuration a new overlay of type t starts with
func DefaultConfig(t Type) Config {
	switch t {
	case TypeButton:
		return ButtonConfig{
			Label:      "Click here",
			URL:        "",
			BgColor:    "#06b6d4",
			Gradient:   true,
			BgColorEnd: "#8b5cf6",
		}
	case TypeVideo:
		return VideoConfig{}
	case TypeAudio:
		return AudioConfig{Title: "Audio"}
	case TypeIframe:
		return IframeConfig{}
	default:
		return HotspotConfig{}
	}
}

// Overlay is an interactive widget positioned on one page of a flipbook
type Overlay struct {
	ID     string
	Page   int // 0-based page index
	Type   Type
	X      float64 // top-left corner, percent of page width
	Y      float64 // top-left corner, percent of page height
	Width  float64
	Height float64
	Config Config
}

type wireOverlay struct {
	ID     string          `json:"id"`
	Page   int             `json:"page"`
	Type   Type            `json:"type"`
	X      float64         `json:"x"`
	Y      float64         `json:"y"`
	Width  float64         `json:"width"`
	Height float64         `json:"height"`
	Config json.RawMessage `json:"config"`
}

// MarshalJSON writes the overlay with its config inlined under "config"
func (o Overlay) MarshalJSON() ([]byte, error) {
	cfg := o.Config
	if cfg == nil {
		cfg = DefaultConfig(o.Type)
	}
	if cfg.OverlayType() != o.Type {
		return nil, fmt.Errorf("%w: %s overlay carries %s config", ErrConfigMismatch, o.Type, cfg.OverlayType())
	}
	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireOverlay{
		ID:     o.ID,
		Page:   o.Page,
		Type:   o.Type,
		X:      o.X,
		Y:      o.Y,
		Width:  o.Width,
		Height: o.Height,
		Config: rawConfig,
	})
}

// UnmarshalJSON decodes an overlay, choosing the config variant from "type"
func (o *Overlay) UnmarshalJSON(data []byte) error {
	var wire wireOverlay
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	cfg, err := decodeConfig(wire.Type, wire.Config)
	if err != nil {
		return err
	}
	*o = Overlay{
		ID:     wire.ID,
		Page:   wire.Page,
		Type:   wire.Type,
		X:      wire.X,
		Y:      wire.Y,
		Width:  wire.Width,
		Height: wire.Height,
		Config: cfg,
	}
	return nil
}

func decodeConfig(t Type, raw json.RawMessage) (Config, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return DefaultConfig(t), nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	var err error
	switch t {
	case TypeButton:
		var cfg ButtonConfig
		if err = decoder.Decode(&cfg); err == nil {
			return cfg, nil
		}
	case TypeVideo:
		var cfg VideoConfig
		if err = decoder.Decode(&cfg); err == nil {
			return cfg, nil
		}
	case TypeAudio:
		var cfg AudioConfig
		if err = decoder.Decode(&cfg); err == nil {
			return cfg, nil
		}
	case TypeIframe:
		var cfg IframeConfig
		if err = decoder.Decode(&cfg); err == nil {
			return cfg, nil
		}
	case TypeHotspot:
		var cfg HotspotConfig
		if err = decoder.Decode(&cfg); err == nil {
			return cfg, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrConfigMismatch, t, err)
}

// mergeConfig applies patch keys on top of cfg, keeping keys the patch does not mention
func mergeConfig(cfg Config, patch map[string]json.RawMessage) (Config, error) {
	if len(patch) == 0 {
		return cfg, nil
	}
	current, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(current, &fields); err != nil {
		return nil, err
	}
	for key, value := range patch {
		fields[key] = value
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return decodeConfig(cfg.OverlayType(), merged)
}

// Validate checks geometry and, when pageCount > 0, the page index
func (o Overlay) Validate(pageCount int) error {
	if !o.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownType, o.Type)
	}
	if o.Config != nil && o.Config.OverlayType() != o.Type {
		return fmt.Errorf("%w: %s overlay carries %s config", ErrConfigMismatch, o.Type, o.Config.OverlayType())
	}
	if !inRange(o.X, 0, 100) || !inRange(o.Y, 0, 100) {
		return fmt.Errorf("%w: position (%v, %v)", ErrInvalidGeometry, o.X, o.Y)
	}
	if !inRange(o.Width, 0, 100) || o.Width == 0 || !inRange(o.Height, 0, 100) || o.Height == 0 {
		return fmt.Errorf("%w: size %vx%v", ErrInvalidGeometry, o.Width, o.Height)
	}
	if o.Page < 0 || (pageCount > 0 && o.Page >= pageCount) {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, o.Page, pageCount)
	}
	return nil
}

// OnPage returns the overlays placed on the given page, preserving order
func OnPage(overlays []Overlay, page int) []Overlay {
	result := []Overlay{}
	for _, o := range overlays {
		if o.Page == page {
			result = append(result, o)
		}
	}
	return result
}

// Clone returns a copy of overlays that shares nothing with the input
func Clone(overlays []Overlay) []Overlay {
	if overlays == nil {
		return []Overlay{}
	}
	// Config variants are plain value types, so a slice copy is a deep copy
	return append([]Overlay(nil), overlays...)
}

func inRange(v, lo, hi float64) bool {
	return !math.IsNaN(v) && v >= lo && v <= hi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
