package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// BinaryPaths locates the ffmpeg and ffprobe executables
type BinaryPaths struct {
	FFmpeg  string
	FFprobe string
}

var (
	lookupOnce sync.Once
	lookupErr  error
	lookupPath BinaryPaths
)

// ResolveBinaries returns explicit paths when given, otherwise looks both
// tools up on PATH once per process.
func ResolveBinaries(ffmpegPath, ffprobePath string) (BinaryPaths, error) {
	if ffmpegPath != "" && ffprobePath != "" {
		return BinaryPaths{FFmpeg: ffmpegPath, FFprobe: ffprobePath}, nil
	}

	lookupOnce.Do(func() {
		ff, err := exec.LookPath("ffmpeg")
		if err != nil {
			lookupErr = fmt.Errorf("ffmpeg not found on PATH: %w", err)
			return
		}
		fp, err := exec.LookPath("ffprobe")
		if err != nil {
			lookupErr = fmt.Errorf("ffprobe not found on PATH: %w", err)
			return
		}
		lookupPath = BinaryPaths{FFmpeg: ff, FFprobe: fp}
	})
	if lookupErr != nil {
		return BinaryPaths{}, lookupErr
	}

	paths := lookupPath
	if ffmpegPath != "" {
		paths.FFmpeg = ffmpegPath
	}
	if ffprobePath != "" {
		paths.FFprobe = ffprobePath
	}
	return paths, nil
}

// Runner executes an ffmpeg invocation
type Runner interface {
	Run(ctx context.Context, args []string) error
}

// FFmpegRunner runs the real ffmpeg binary. The process is killed when ctx
// is cancelled.
type FFmpegRunner struct {
	Path string
}

func NewFFmpegRunner(path string) *FFmpegRunner {
	return &FFmpegRunner{Path: path}
}

// Run executes an FFmpeg command
func (r *FFmpegRunner) Run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg error: %w, stderr: %s", err, tail(stderr.String(), 2000))
	}

	return nil
}

// MediaInfo is what the pipeline needs to know about a media file
type MediaInfo struct {
	Duration   float64
	SampleRate int
	Width      int
	Height     int
	HasAudio   bool
	HasVideo   bool
}

// Prober inspects media files
type Prober interface {
	Probe(ctx context.Context, path string) (*MediaInfo, error)
}

// FFprobe implements Prober with the ffprobe binary
type FFprobe struct {
	Path string
}

func NewFFprobe(path string) *FFprobe {
	return &FFprobe{Path: path}
}

// JSON output from ffprobe
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"streams"`
}

// Probe returns duration and stream details of a media file
func (p *FFprobe) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}

	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	return ParseProbeOutput(out.Bytes())
}

// ParseProbeOutput decodes ffprobe's JSON report
func ParseProbeOutput(data []byte) (*MediaInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &MediaInfo{}
	if probe.Format.Duration != "" {
		seconds, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration: %w", err)
		}
		info.Duration = seconds
	}

	for _, s := range probe.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.SampleRate == 0 && s.SampleRate != "" {
				rate, err := strconv.Atoi(s.SampleRate)
				if err == nil {
					info.SampleRate = rate
				}
			}
		case "video":
			info.HasVideo = true
			if info.Width == 0 {
				info.Width = s.Width
				info.Height = s.Height
			}
		}
	}

	return info, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
