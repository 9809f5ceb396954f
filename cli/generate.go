package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rishivishwanath/autocont/config"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/services"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Render one narrated video from text",
	Long: `Render one narrated video and write it to disk.

Empty text produces a video with a silent track and no captions.

Examples:
  autocont generate --text "Breaking news today"
  autocont generate --text-file story.txt --voice JBFqnCBsd6RMkjVDRZzb -o story.mp4`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().
		StringP("text", "t", "", "Narration text")
	generateCmd.Flags().
		String("text-file", "", "Read the narration text from a file")
	generateCmd.Flags().
		String("voice", "", "Voice ID (defaults to DEFAULT_VOICE_ID)")
	generateCmd.Flags().
		String("font", "", "Font file for all overlays (defaults to DEFAULT_FONT_PATH)")
	generateCmd.Flags().
		String("title", "", "Title overlay text")
	generateCmd.Flags().
		String("description", "", "Description overlay text")
	generateCmd.Flags().
		StringP("output", "o", "", "Output video path (defaults to OUTPUT_DIR/<run id>.mp4)")

	generateCmd.MarkFlagsMutuallyExclusive("text", "text-file")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	req, err := narrationFromFlags(cmd)
	if err != nil {
		return err
	}
	outputPath, _ := cmd.Flags().GetString("output")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, _, err := newPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	video, err := pipeline.Execute(ctx, req)
	if err != nil {
		var pipeErr *services.PipelineError
		if errors.As(err, &pipeErr) {
			logger.Errorw("Generation failed", "stage", pipeErr.Stage, "kind", pipeErr.Kind, "error", pipeErr.Message)
		}
		return err
	}

	if outputPath != "" {
		if err := moveOutput(video, outputPath); err != nil {
			return err
		}
	}

	logger.Infow("Video generated", "path", video.Path, "duration", video.Duration, "subtitles", video.SubtitlePath)
	fmt.Fprintln(cmd.OutOrStdout(), video.Path)
	return nil
}

func narrationFromFlags(cmd *cobra.Command) (models.NarrationRequest, error) {
	text, _ := cmd.Flags().GetString("text")
	textFile, _ := cmd.Flags().GetString("text-file")
	voice, _ := cmd.Flags().GetString("voice")
	font, _ := cmd.Flags().GetString("font")
	title, _ := cmd.Flags().GetString("title")
	description, _ := cmd.Flags().GetString("description")

	if textFile != "" {
		data, err := os.ReadFile(textFile)
		if err != nil {
			return models.NarrationRequest{}, fmt.Errorf("failed to read text file: %w", err)
		}
		text = string(data)
	}

	return models.NarrationRequest{
		Text:        text,
		VoiceID:     voice,
		FontPath:    font,
		Title:       title,
		Description: description,
	}, nil
}

// moveOutput relocates the video and its subtitle sidecar to the requested path
func moveOutput(video *models.OutputVideo, outputPath string) error {
	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	if err := moveFile(video.Path, outputPath); err != nil {
		return err
	}
	video.Path = outputPath

	if video.SubtitlePath != "" {
		srtPath := outputPath[:len(outputPath)-len(filepath.Ext(outputPath))] + ".srt"
		if err := moveFile(video.SubtitlePath, srtPath); err != nil {
			return err
		}
		video.SubtitlePath = srtPath
	}
	return nil
}

// moveFile renames src to dst, copying when they sit on different filesystems
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	in.Close()
	return os.Remove(src)
}
