package model

import "fmt"

type Mode string

const (
	ModeText  Mode = "text"
	ModeImage Mode = "image"
)

type Position string

const (
	PositionTopLeft     Position = "top-left"
	PositionTopRight    Position = "top-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionBottomRight Position = "bottom-right"
	PositionCenter      Position = "center"
)

func (p Position) Valid() bool {
	switch p {
	case PositionTopLeft, PositionTopRight, PositionBottomLeft, PositionBottomRight, PositionCenter:
		return true
	}
	return false
}

type Encoder string

const (
	EncoderCPU    Encoder = "cpu"
	EncoderIntel  Encoder = "intel"
	EncoderNvidia Encoder = "nvidia"
)

func (e Encoder) Valid() bool {
	switch e {
	case EncoderCPU, EncoderIntel, EncoderNvidia:
		return true
	}
	return false
}

// Validation bounds for watermark parameters.
const (
	MinFontSize = 8
	MaxFontSize = 256
	MaxOffset   = 4096
)

// WatermarkParams describes one watermark overlay. Text fields apply to
// ModeText, ImagePath to ModeImage; the rest apply to both.
type WatermarkParams struct {
	Mode      Mode     `json:"type" yaml:"type"`
	Text      string   `json:"text,omitempty" yaml:"text,omitempty"`
	FontPath  string   `json:"font_path,omitempty" yaml:"font_path,omitempty"`
	FontSize  int      `json:"font_size" yaml:"font_size"`
	Color     string   `json:"color" yaml:"color"`
	ImagePath string   `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Opacity   float64  `json:"opacity" yaml:"opacity"`
	Position  Position `json:"position" yaml:"position"`
	OffsetX   int      `json:"offset_x" yaml:"offset_x"`
	OffsetY   int      `json:"offset_y" yaml:"offset_y"`
}

// DefaultParams returns a text watermark with the stock appearance. Callers
// overwrite the fields they received from the client.
func DefaultParams() WatermarkParams {
	return WatermarkParams{
		Mode:     ModeText,
		FontSize: 36,
		Color:    "white",
		Opacity:  1.0,
		Position: PositionTopRight,
		OffsetX:  20,
		OffsetY:  20,
	}
}

// Validate rejects out-of-range or mode-incomplete parameters. Values are
// never clamped, a bad parameter fails loudly before any job is enqueued.
func (p WatermarkParams) Validate() error {
	switch p.Mode {
	case ModeText:
		if p.Text == "" {
			return &ParamError{Field: "text", Reason: "text watermark requires a text value"}
		}
	case ModeImage:
		if p.ImagePath == "" {
			return &ParamError{Field: "image_path", Reason: "image watermark requires an image path"}
		}
	default:
		return &ParamError{Field: "type", Reason: fmt.Sprintf("unknown watermark type %q", string(p.Mode))}
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return &ParamError{Field: "opacity", Reason: "must be between 0.0 and 1.0"}
	}
	if p.FontSize < MinFontSize || p.FontSize > MaxFontSize {
		return &ParamError{Field: "font_size", Reason: fmt.Sprintf("must be between %d and %d", MinFontSize, MaxFontSize)}
	}
	if p.OffsetX < 0 || p.OffsetX > MaxOffset {
		return &ParamError{Field: "offset_x", Reason: fmt.Sprintf("must be between 0 and %d", MaxOffset)}
	}
	if p.OffsetY < 0 || p.OffsetY > MaxOffset {
		return &ParamError{Field: "offset_y", Reason: fmt.Sprintf("must be between 0 and %d", MaxOffset)}
	}
	if !p.Position.Valid() {
		return &ParamError{Field: "position", Reason: fmt.Sprintf("unknown position %q", string(p.Position))}
	}
	return nil
}
