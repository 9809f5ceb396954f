package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/utils"
)

// ComposerOptions controls output format and overlay layout
type ComposerOptions struct {
	Width               int
	Height              int
	FPS                 int
	VideoBitrate        string
	AudioBitrate        string
	TitleDuration       float64
	DescriptionDuration float64
	TitleFontSize       int
	DescriptionFontSize int
	CaptionFontSize     int
}

// ComposerService renders the background, narration and overlays into the
// final video with a single ffmpeg invocation
type ComposerService struct {
	runner utils.Runner
	opts   ComposerOptions
	logger *logging.Logger
}

// NewComposerService creates a new composer service
func NewComposerService(runner utils.Runner, opts ComposerOptions, logger *logging.Logger) *ComposerService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ComposerService{
		runner: runner,
		opts:   opts,
		logger: logger,
	}
}

// overlay is one drawtext pass shown during [start, end)
type overlay struct {
	name     string
	text     string
	fontSize int
	y        string
	start    float64
	end      float64
}

// Render composites everything into outputPath. The output is cut to the
// narration duration, which is the only timing source.
func (cs *ComposerService) Render(
	ctx context.Context,
	bg *models.BackgroundClip,
	audio *models.AudioTrack,
	rs models.RenderSpec,
	outputPath string,
) (*models.OutputVideo, error) {
	if bg == nil {
		return nil, &AssetError{Err: errors.New("no background clip to render")}
	}
	if audio == nil {
		return nil, &TimingError{Msg: "no narration track to render"}
	}
	if audio.Duration <= 0 {
		return nil, &TimingError{Duration: audio.Duration, Msg: "cannot render a video without length"}
	}

	font, err := LoadFont(rs.FontPath)
	if err != nil {
		return nil, err
	}
	overlayTexts := []string{rs.Title, rs.Description}
	for _, c := range rs.Captions {
		overlayTexts = append(overlayTexts, c.Text)
	}
	if err := font.CheckCoverage(overlayTexts...); err != nil {
		return nil, err
	}

	workDir := rs.WorkDir
	if workDir == "" {
		workDir, err = os.MkdirTemp(filepath.Dir(outputPath), "overlays-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create overlay dir: %w", err)
		}
		defer os.RemoveAll(workDir)
	}

	overlays := cs.layout(rs, audio.Duration)
	args, err := cs.buildArgs(bg, audio, font.Path, overlays, workDir, outputPath)
	if err != nil {
		return nil, err
	}

	cs.logger.Debugw("Rendering video",
		"output", outputPath,
		"duration", audio.Duration,
		"loops", bg.Loops,
		"captions", len(rs.Captions),
	)

	if err := cs.runner.Run(ctx, args); err != nil {
		_ = utils.RemoveIfExists(outputPath)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &EncodingError{OutputPath: outputPath, Err: err}
	}

	if size, err := utils.GetFileSize(outputPath); err != nil || size == 0 {
		_ = utils.RemoveIfExists(outputPath)
		return nil, &EncodingError{OutputPath: outputPath, Err: errors.New("ffmpeg produced no output")}
	}

	result := &models.OutputVideo{
		Path:     outputPath,
		Duration: audio.Duration,
	}

	if len(rs.Captions) > 0 {
		srtPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".srt"
		if err := WriteSRT(srtPath, rs.Captions); err != nil {
			cs.logger.Warnw("Failed to write subtitles", "path", srtPath, "error", err)
		} else {
			result.SubtitlePath = srtPath
		}
	}

	return result, nil
}

// layout places title and description near the top and captions in the
// middle of the frame
func (cs *ComposerService) layout(rs models.RenderSpec, duration float64) []overlay {
	var overlays []overlay

	top := cs.opts.Height / 10
	if rs.Title != "" {
		lines := WrapLines(rs.Title, cs.charsPerLine(cs.opts.TitleFontSize))
		overlays = append(overlays, overlay{
			name:     "title",
			text:     strings.Join(lines, "\n"),
			fontSize: cs.opts.TitleFontSize,
			y:        strconv.Itoa(top),
			start:    0,
			end:      math.Min(cs.opts.TitleDuration, duration),
		})
		top += len(lines)*lineHeight(cs.opts.TitleFontSize) + cs.opts.TitleFontSize/2
	}

	if rs.Description != "" {
		lines := WrapLines(rs.Description, cs.charsPerLine(cs.opts.DescriptionFontSize))
		overlays = append(overlays, overlay{
			name:     "description",
			text:     strings.Join(lines, "\n"),
			fontSize: cs.opts.DescriptionFontSize,
			y:        strconv.Itoa(top),
			start:    0,
			end:      math.Min(cs.opts.DescriptionDuration, duration),
		})
	}

	for i, c := range SnapCaptions(rs.Captions, cs.opts.FPS, duration) {
		lines := WrapLines(c.Text, cs.charsPerLine(cs.opts.CaptionFontSize))
		overlays = append(overlays, overlay{
			name:     fmt.Sprintf("caption-%03d", i),
			text:     strings.Join(lines, "\n"),
			fontSize: cs.opts.CaptionFontSize,
			y:        "(h-text_h)/2",
			start:    c.Start,
			end:      c.End,
		})
	}

	return overlays
}

// charsPerLine estimates how many glyphs fit in 90% of the frame width
func (cs *ComposerService) charsPerLine(fontSize int) int {
	if fontSize <= 0 {
		return 0
	}
	return int(float64(cs.opts.Width) * 0.9 / (float64(fontSize) * 0.55))
}

func lineHeight(fontSize int) int {
	return fontSize * 13 / 10
}

func (cs *ComposerService) buildArgs(
	bg *models.BackgroundClip,
	audio *models.AudioTrack,
	fontPath string,
	overlays []overlay,
	workDir, outputPath string,
) ([]string, error) {
	width := strconv.Itoa(cs.opts.Width)
	height := strconv.Itoa(cs.opts.Height)

	video := ffmpeg.Input(bg.SourcePath, ffmpeg.KwArgs{"stream_loop": strconv.Itoa(bg.Loops - 1)}).
		Video().
		Filter("scale", ffmpeg.Args{width, height}, ffmpeg.KwArgs{"force_original_aspect_ratio": "increase"}).
		Filter("crop", ffmpeg.Args{width, height}).
		Filter("fps", ffmpeg.Args{strconv.Itoa(cs.opts.FPS)})

	for _, o := range overlays {
		textPath := filepath.Join(workDir, o.name+".txt")
		if err := os.WriteFile(textPath, []byte(o.text), 0644); err != nil {
			return nil, fmt.Errorf("failed to write overlay text: %w", err)
		}

		video = video.Filter("drawtext", ffmpeg.Args{}, ffmpeg.KwArgs{
			"fontfile":     fontPath,
			"textfile":     textPath,
			"expansion":    "none", // overlay text is literal
			"fontsize":     strconv.Itoa(o.fontSize),
			"fontcolor":    "white",
			"borderw":      "4",
			"bordercolor":  "black",
			"line_spacing": strconv.Itoa(o.fontSize / 4),
			"x":            "(w-text_w)/2",
			"y":            o.y,
			"enable":       enableWindow(o.start, o.end),
		})
	}

	narration := ffmpeg.Input(audio.Path).Audio()

	outputArgs := ffmpeg.KwArgs{
		"t":        formatTime(audio.Duration),
		"c:v":      "libx264",
		"pix_fmt":  "yuv420p",
		"c:a":      "aac",
		"movflags": "+faststart",
	}
	if cs.opts.VideoBitrate != "" {
		outputArgs["b:v"] = cs.opts.VideoBitrate
	}
	if cs.opts.AudioBitrate != "" {
		outputArgs["b:a"] = cs.opts.AudioBitrate
	}

	return ffmpeg.Output([]*ffmpeg.Stream{video, narration}, outputPath, outputArgs).
		OverWriteOutput().
		GetArgs(), nil
}

// enableWindow is a drawtext expression true for start <= t < end
func enableWindow(start, end float64) string {
	if start <= 0 {
		return fmt.Sprintf("lt(t,%s)", formatTime(end))
	}
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", formatTime(start), formatTime(end))
}

func formatTime(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 6, 64)
}

// SnapCaptions moves caption boundaries onto the frame grid so each caption
// switches exactly on a frame. Captions that collapse to zero frames are
// dropped. The last caption always runs to the end of the narration.
func SnapCaptions(captions []models.Caption, fps int, duration float64) []models.Caption {
	if len(captions) == 0 {
		return nil
	}
	if fps <= 0 {
		return captions
	}

	snap := func(t float64) float64 {
		return math.Round(t*float64(fps)) / float64(fps)
	}

	snapped := make([]models.Caption, 0, len(captions))
	for i, c := range captions {
		start, end := snap(c.Start), snap(c.End)
		if i == 0 {
			start = 0
		}
		if i == len(captions)-1 {
			end = duration
		}
		if len(snapped) > 0 {
			start = snapped[len(snapped)-1].End
		}
		if end <= start {
			continue
		}
		snapped = append(snapped, models.Caption{Text: c.Text, Start: start, End: end})
	}

	return snapped
}

// WriteSRT writes captions as a SubRip subtitle file
func WriteSRT(path string, captions []models.Caption) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create SRT file: %w", err)
	}
	defer file.Close()

	for i, c := range captions {
		startStr := utils.FormatSRTTimestamp(c.Start)
		endStr := utils.FormatSRTTimestamp(c.End)
		if _, err := fmt.Fprintf(file, "%d\n%s --> %s\n%s\n\n", i+1, startStr, endStr, c.Text); err != nil {
			return err
		}
	}

	return file.Close()
}
