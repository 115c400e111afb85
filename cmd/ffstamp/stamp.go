package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ffstamp/ffstamp/internal/log"
	"github.com/ffstamp/ffstamp/internal/model"
	"github.com/ffstamp/ffstamp/internal/runner"
	"github.com/ffstamp/ffstamp/internal/watermark"
)

var stampFlags struct {
	mode         string
	text         string
	image        string
	fontPath     string
	fontSize     int
	color        string
	opacity      float64
	position     string
	offsetX      int
	offsetY      int
	outputFormat string
	outputDir    string
	device       string
	preset       string
}

var stampCmd = &cobra.Command{
	Use:   "stamp [flags] FILE...",
	Short: "stamp watermarks the given video files locally, without the server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doStamp,
}

func init() {
	defaults := model.DefaultParams()
	f := stampCmd.Flags()
	f.StringVar(&stampFlags.mode, "type", string(defaults.Mode), "watermark type: text or image")
	f.StringVar(&stampFlags.text, "text", defaults.Text, "watermark text")
	f.StringVar(&stampFlags.image, "image", "", "watermark image file for type=image")
	f.StringVar(&stampFlags.fontPath, "font", "", "font file for text watermarks")
	f.IntVar(&stampFlags.fontSize, "font-size", defaults.FontSize, "font size in points")
	f.StringVar(&stampFlags.color, "color", defaults.Color, "font color")
	f.Float64Var(&stampFlags.opacity, "opacity", defaults.Opacity, "watermark opacity between 0 and 1")
	f.StringVar(&stampFlags.position, "position", string(defaults.Position), "watermark position")
	f.IntVar(&stampFlags.offsetX, "offset-x", defaults.OffsetX, "horizontal edge offset in pixels")
	f.IntVar(&stampFlags.offsetY, "offset-y", defaults.OffsetY, "vertical edge offset in pixels")
	f.StringVar(&stampFlags.outputFormat, "output-format", "", "output container format, config default when empty")
	f.StringVar(&stampFlags.outputDir, "output-dir", "", "output directory, config default when empty")
	f.StringVar(&stampFlags.device, "device", string(model.EncoderCPU), "encoder device: cpu, intel or nvidia")
	f.StringVar(&stampFlags.preset, "preset", "", "libx264 preset for cpu encoding")
}

func doStamp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ctx = log.ContextAttrs(ctx, slog.Group("ffstamp",
		slog.String("cmd", "stamp"),
		slog.Int("pid", os.Getpid()),
	))

	params := model.WatermarkParams{
		Mode:      model.Mode(stampFlags.mode),
		Text:      stampFlags.text,
		FontPath:  stampFlags.fontPath,
		FontSize:  stampFlags.fontSize,
		Color:     stampFlags.color,
		ImagePath: stampFlags.image,
		Opacity:   stampFlags.opacity,
		Position:  model.Position(stampFlags.position),
		OffsetX:   stampFlags.offsetX,
		OffsetY:   stampFlags.offsetY,
	}
	if err := params.Validate(); err != nil {
		return err
	}

	encoder := model.Encoder(stampFlags.device)
	if !encoder.Valid() {
		return &model.ParamError{Field: "device", Reason: "must be one of cpu, intel, nvidia"}
	}
	if encoder != model.EncoderCPU && !cfg.AllowGPU {
		slog.WarnContext(ctx, "GPU encoding disabled, falling back to cpu", slog.String("device", string(encoder)))
		encoder = model.EncoderCPU
	}

	format := stampFlags.outputFormat
	if format == "" {
		format = cfg.DefaultOutputFormat
	}
	outputDir := stampFlags.outputDir
	if outputDir == "" {
		outputDir = cfg.OutputPath()
	}
	if err := os.MkdirAll(outputDir, 0o750); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outputDir, err)
	}

	builder := watermark.Builder{
		Binary:  cfg.FFmpegBinary,
		Encoder: encoder,
		Preset:  stampFlags.preset,
	}
	run := runner.Runner{}

	for i, input := range args {
		output := filepath.Join(outputDir, watermark.OutputName(input, format))
		argv, err := builder.Build(input, output, params)
		if err != nil {
			return err
		}

		slog.InfoContext(ctx, "processing file",
			slog.String("input", input),
			slog.String("output", output),
			slog.Int("file", i+1),
			slog.Int("of", len(args)),
		)
		slog.DebugContext(ctx, "spawning", slog.String("command", watermark.String(argv)))

		if _, err := run.Run(ctx, argv, func(line string) {
			fmt.Fprintln(os.Stderr, line)
		}); err != nil {
			return fmt.Errorf("processing %s: %w", input, err)
		}
		fmt.Println(output)
	}
	return nil
}
