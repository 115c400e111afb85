// Package watermark turns watermark parameters into ffmpeg argument lists.
// Everything here is pure: identical inputs always produce identical argv,
// which keeps command construction reproducible and testable without ffmpeg.
package watermark

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ffstamp/ffstamp/internal/model"
)

// Builder carries the per-job knobs which apply to every file of a job.
type Builder struct {
	Binary  string        // external binary, "ffmpeg" when empty
	Encoder model.Encoder // video encoder selection, cpu when empty
	Preset  string        // libx264 preset, "medium" when empty
}

// Build returns the full argument list for watermarking one input file into
// outputPath. It validates p first and fails loudly instead of clamping, so
// the caller can report the reason to the job log before any process spawns.
func (b Builder) Build(inputPath, outputPath string, p model.WatermarkParams) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	binary := b.Binary
	if binary == "" {
		binary = "ffmpeg"
	}

	extraInputs, filter, err := filterAndInputs(p)
	if err != nil {
		return nil, err
	}

	argv := []string{binary, "-y", "-hide_banner", "-nostdin", "-i", inputPath}
	argv = append(argv, extraInputs...)
	argv = append(argv, "-filter_complex", filter)

	switch enc := b.Encoder; enc {
	case model.EncoderCPU, "":
		preset := b.Preset
		if preset == "" {
			preset = "medium"
		}
		argv = append(argv, "-c:v", "libx264", "-preset", preset)
	case model.EncoderIntel:
		argv = append(argv, "-c:v", "h264_qsv")
	case model.EncoderNvidia:
		argv = append(argv, "-c:v", "h264_nvenc")
	default:
		return nil, &model.ParamError{Field: "encoder", Reason: fmt.Sprintf("unknown encoder %q", string(enc))}
	}

	argv = append(argv, "-c:a", "copy", outputPath)
	return argv, nil
}

// filterAndInputs returns any extra -i arguments plus the filter_complex
// expression for the watermark.
func filterAndInputs(p model.WatermarkParams) ([]string, string, error) {
	xExpr, yExpr, err := positionExprs(p.Position, p.OffsetX, p.OffsetY)
	if err != nil {
		return nil, "", err
	}

	if p.Mode == model.ModeImage {
		overlay := fmt.Sprintf("[1]format=rgba,colorchannelmixer=aa=%.2f[wm];[0][wm]overlay=%s:%s",
			p.Opacity, xExpr, yExpr)
		return []string{"-i", p.ImagePath}, overlay, nil
	}

	color := p.Color
	if p.Opacity < 1.0 {
		// drawtext wants color@alpha
		color = fmt.Sprintf("%s@%.2f", color, p.Opacity)
	}
	parts := []string{
		"text=" + escapeText(p.Text),
		"fontcolor=" + color,
		"fontsize=" + strconv.Itoa(p.FontSize),
		"x=" + xExpr,
		"y=" + yExpr,
	}
	if p.FontPath != "" {
		parts = append(parts, "fontfile="+p.FontPath)
	}
	return nil, "drawtext=" + strings.Join(parts, ":"), nil
}

// positionExprs maps a position to ffmpeg x/y expressions, W/w and H/h being
// the frame and overlay dimensions.
func positionExprs(pos model.Position, offsetX, offsetY int) (string, string, error) {
	ox := strconv.Itoa(offsetX)
	oy := strconv.Itoa(offsetY)
	switch pos {
	case model.PositionTopLeft:
		return ox, oy, nil
	case model.PositionTopRight:
		return "W-w-" + ox, oy, nil
	case model.PositionBottomLeft:
		return ox, "H-h-" + oy, nil
	case model.PositionBottomRight:
		return "W-w-" + ox, "H-h-" + oy, nil
	case model.PositionCenter:
		return "(W-w)/2", "(H-h)/2", nil
	}
	return "", "", &model.ParamError{Field: "position", Reason: fmt.Sprintf("unknown position %q", string(pos))}
}

// escapeText escapes a drawtext text value. Backslashes go first so inserted
// escapes are never escaped again.
func escapeText(text string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
	).Replace(text)
}

// OutputName derives the output file name for one input file, keeping the
// original stem and swapping the container extension.
func OutputName(inputPath, format string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "_watermarked." + format
}

var safeArg = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// String renders argv as a copy-pasteable shell command line for job logs.
func String(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		quoted[i] = quoteArg(arg)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return "''"
	}
	if safeArg.MatchString(arg) {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'"'"'`) + "'"
}
