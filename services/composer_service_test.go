package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/utils"
)

func writeTestFont(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "font.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0644))
	return path
}

func testComposerOptions() ComposerOptions {
	return ComposerOptions{
		Width:               1080,
		Height:              1920,
		FPS:                 30,
		VideoBitrate:        "4M",
		AudioBitrate:        "192k",
		TitleDuration:       3,
		DescriptionDuration: 3,
		TitleFontSize:       72,
		DescriptionFontSize: 48,
		CaptionFontSize:     64,
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func renderFixture(t *testing.T, captions []models.Caption) (*ComposerService, *recordingRunner, models.RenderSpec, string) {
	t.Helper()
	runner := &recordingRunner{}
	cs := NewComposerService(runner, testComposerOptions(), nil)
	rs := models.RenderSpec{
		Title:       "You won't believe what just happened!",
		Description: "Stay updated with the latest news in just 30 seconds!",
		FontPath:    writeTestFont(t),
		Captions:    captions,
		WorkDir:     t.TempDir(),
	}
	return cs, runner, rs, filepath.Join(t.TempDir(), "out.mp4")
}

func TestRenderBuildsSingleGraph(t *testing.T) {
	captions := []models.Caption{
		{Text: "Breaking news", Start: 0, End: 3},
		{Text: "today", Start: 3, End: 6},
	}
	cs, runner, rs, output := renderFixture(t, captions)
	bg := &models.BackgroundClip{SourcePath: "/clips/parkour.mp4", SourceDuration: 2, Loops: 3, Duration: 6}
	audio := &models.AudioTrack{Path: "/run/narration.mp3", Duration: 6}

	video, err := cs.Render(context.Background(), bg, audio, rs, output)
	require.NoError(t, err)

	assert.Equal(t, output, video.Path)
	assert.Equal(t, 6.0, video.Duration)
	assert.Equal(t, strings.TrimSuffix(output, ".mp4")+".srt", video.SubtitlePath)

	args := runner.Last()
	assert.Equal(t, "2", argAfter(args, "-stream_loop"))
	assert.Equal(t, "6.000000", argAfter(args, "-t"))
	assert.Equal(t, "libx264", argAfter(args, "-c:v"))
	assert.Equal(t, "aac", argAfter(args, "-c:a"))
	assert.Contains(t, args, "/clips/parkour.mp4")
	assert.Contains(t, args, "/run/narration.mp3")
	assert.Contains(t, args, "-y")

	graph := argAfter(args, "-filter_complex")
	assert.Equal(t, 4, strings.Count(graph, "drawtext="), "title, description and two captions")
	assert.Contains(t, graph, "scale=")
	assert.Contains(t, graph, "crop=")

	caption, err := os.ReadFile(filepath.Join(rs.WorkDir, "caption-001.txt"))
	require.NoError(t, err)
	assert.Equal(t, "today", string(caption))

	srt, err := os.ReadFile(video.SubtitlePath)
	require.NoError(t, err)
	assert.Equal(t, "1\n00:00:00,000 --> 00:00:03,000\nBreaking news\n\n"+
		"2\n00:00:03,000 --> 00:00:06,000\ntoday\n\n", string(srt))
}

func TestRenderWithoutCaptions(t *testing.T) {
	cs, runner, rs, output := renderFixture(t, nil)
	bg := &models.BackgroundClip{SourcePath: "/clips/parkour.mp4", SourceDuration: 10, Loops: 1, Duration: 10}
	audio := &models.AudioTrack{Path: "/run/silence.mp3", Duration: 5}

	video, err := cs.Render(context.Background(), bg, audio, rs, output)
	require.NoError(t, err)
	assert.Empty(t, video.SubtitlePath)

	graph := argAfter(runner.Last(), "-filter_complex")
	assert.Equal(t, 2, strings.Count(graph, "drawtext="), "only title and description")
}

func TestRenderMissingGlyph(t *testing.T) {
	cs, runner, rs, output := renderFixture(t, []models.Caption{{Text: "漢字", Start: 0, End: 2}})
	bg := &models.BackgroundClip{SourcePath: "/clips/a.mp4", SourceDuration: 5, Loops: 1, Duration: 5}
	audio := &models.AudioTrack{Path: "/run/n.mp3", Duration: 2}

	_, err := cs.Render(context.Background(), bg, audio, rs, output)

	var renderErr *RenderError
	require.ErrorAs(t, err, &renderErr)
	assert.Equal(t, KindRender, KindOf(err))
	assert.Nil(t, runner.Last(), "ffmpeg must not run")
}

func TestRenderBadFont(t *testing.T) {
	cs, _, rs, output := renderFixture(t, nil)
	bg := &models.BackgroundClip{SourcePath: "/clips/a.mp4", SourceDuration: 5, Loops: 1, Duration: 5}
	audio := &models.AudioTrack{Path: "/run/n.mp3", Duration: 2}

	for name, fontPath := range map[string]string{
		"missing": filepath.Join(t.TempDir(), "nope.ttf"),
		"garbage": func() string {
			p := filepath.Join(t.TempDir(), "bad.ttf")
			require.NoError(t, os.WriteFile(p, []byte("not a font"), 0644))
			return p
		}(),
	} {
		t.Run(name, func(t *testing.T) {
			rs.FontPath = fontPath
			_, err := cs.Render(context.Background(), bg, audio, rs, output)
			assert.Equal(t, KindRender, KindOf(err))
		})
	}
}

func TestRenderEncodingFailureRemovesOutput(t *testing.T) {
	cs, runner, rs, output := renderFixture(t, nil)
	runner.err = errors.New("ffmpeg error: exit status 1")
	bg := &models.BackgroundClip{SourcePath: "/clips/a.mp4", SourceDuration: 5, Loops: 1, Duration: 5}
	audio := &models.AudioTrack{Path: "/run/n.mp3", Duration: 2}

	_, err := cs.Render(context.Background(), bg, audio, rs, output)

	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
	assert.False(t, utils.FileExists(output))
}

func TestRenderCancelled(t *testing.T) {
	cs, _, rs, output := renderFixture(t, nil)
	bg := &models.BackgroundClip{SourcePath: "/clips/a.mp4", SourceDuration: 5, Loops: 1, Duration: 5}
	audio := &models.AudioTrack{Path: "/run/n.mp3", Duration: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := cs.Render(ctx, bg, audio, rs, output)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.False(t, utils.FileExists(output))
}

func TestSnapCaptions(t *testing.T) {
	captions := []models.Caption{
		{Text: "Breaking news", Start: 0, End: 6.0 * 13 / 18},
		{Text: "blip", Start: 6.0 * 13 / 18, End: 4.34},
		{Text: "today", Start: 4.34, End: 6.01},
	}

	snapped := SnapCaptions(captions, 30, 6.01)
	require.Len(t, snapped, 2, "sub-frame caption is dropped")

	assert.Equal(t, 0.0, snapped[0].Start)
	assert.InDelta(t, 130.0/30, snapped[0].End, 1e-9)
	assert.Equal(t, snapped[0].End, snapped[1].Start)
	assert.Equal(t, 6.01, snapped[1].End)

	assert.Nil(t, SnapCaptions(nil, 30, 5))
}

func TestEnableWindow(t *testing.T) {
	assert.Equal(t, "lt(t,3.000000)", enableWindow(0, 3))
	assert.Equal(t, "gte(t,1.500000)*lt(t,2.000000)", enableWindow(1.5, 2))
}

func TestFontCoverage(t *testing.T) {
	font, err := LoadFont(writeTestFont(t))
	require.NoError(t, err)

	assert.Empty(t, font.MissingGlyphs("Hello, world! 123\n"))
	assert.Equal(t, []rune{'漢'}, font.MissingGlyphs("ok 漢 漢"))
	assert.NoError(t, font.CheckCoverage("title", "description"))
	assert.Error(t, font.CheckCoverage("title", "漢"))
}

func TestRenderKeepsPercentAndBackslashLiteral(t *testing.T) {
	cs, runner, rs, output := renderFixture(t, []models.Caption{{Text: `Prices rose 5% today \o/`, Start: 0, End: 4}})
	rs.Title = "100% real"
	bg := &models.BackgroundClip{SourcePath: "/clips/parkour.mp4", SourceDuration: 10, Loops: 1, Duration: 10}
	audio := &models.AudioTrack{Path: "/run/narration.mp3", Duration: 4}

	_, err := cs.Render(context.Background(), bg, audio, rs, output)
	require.NoError(t, err)

	graph := argAfter(runner.Last(), "-filter_complex")
	drawtexts := strings.Count(graph, "drawtext=")
	require.Equal(t, 3, drawtexts)
	assert.Equal(t, drawtexts, strings.Count(graph, "expansion=none"))

	caption, err := os.ReadFile(filepath.Join(rs.WorkDir, "caption-000.txt"))
	require.NoError(t, err)
	assert.Equal(t, `Prices rose 5% today \o/`, string(caption))

	title, err := os.ReadFile(filepath.Join(rs.WorkDir, "title.txt"))
	require.NoError(t, err)
	assert.Equal(t, "100% real", string(title))
}

func TestRenderRequiresInputs(t *testing.T) {
	cs, _, rs, output := renderFixture(t, nil)
	bg := &models.BackgroundClip{SourcePath: "/clips/parkour.mp4", SourceDuration: 10, Loops: 1, Duration: 10}
	audio := &models.AudioTrack{Path: "/run/narration.mp3", Duration: 4}

	_, err := cs.Render(context.Background(), nil, audio, rs, output)
	assert.Equal(t, KindAsset, KindOf(err))

	_, err = cs.Render(context.Background(), bg, nil, rs, output)
	assert.Equal(t, KindTiming, KindOf(err))
}
