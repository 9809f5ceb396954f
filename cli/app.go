package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rishivishwanath/autocont/config"
	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/services"
	"github.com/rishivishwanath/autocont/utils"
)

// newPipeline wires every stage from the loaded configuration. The key pool
// is nil unless the provider rotates keys.
func newPipeline(
	ctx context.Context,
	cfg *config.Config,
	logger *logging.Logger,
) (*services.PipelineService, *utils.APIKeyPool, error) {
	bins, err := utils.ResolveBinaries(cfg.FFmpegPath, cfg.FFprobePath)
	if err != nil {
		return nil, nil, err
	}
	runner := utils.NewFFmpegRunner(bins.FFmpeg)
	prober := utils.NewFFprobe(bins.FFprobe)

	for _, dir := range []string{cfg.TempDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	provider, pool, err := newSpeechProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Infow("Speech provider ready", "provider", provider.Name())

	audio := services.NewAudioService(provider, prober, runner, services.AudioOptions{
		Timeout:     cfg.SynthesisTimeout,
		MaxAttempts: cfg.SynthesisMaxAttempts,
		Backoff:     cfg.SynthesisBackoff,
	}, logger.With("component", "audio"))

	text := services.NewTextProcessor(
		cfg.CaptionMaxChars,
		cfg.CaptionMaxWords,
		cfg.CaptionMaxChunks,
		services.TimingPolicy(cfg.CaptionTiming),
	)

	background := services.NewBackgroundService(prober, logger.With("component", "background"), clipSources(cfg)...)

	composer := services.NewComposerService(runner, composerOptions(cfg), logger.With("component", "composer"))

	pipeline := services.NewPipelineService(audio, text, background, composer, services.PipelineOptions{
		TempDir:               cfg.TempDir,
		OutputDir:             cfg.OutputDir,
		EmptyNarrationSeconds: cfg.EmptyNarrationLength,
		Defaults: services.Defaults{
			VoiceID:     cfg.DefaultVoiceID,
			FontPath:    cfg.DefaultFontPath,
			Title:       cfg.DefaultTitle,
			Description: cfg.DefaultDescription,
		},
	}, logger.With("component", "pipeline"))

	return pipeline, pool, nil
}

func newSpeechProvider(
	ctx context.Context,
	cfg *config.Config,
) (services.SpeechProvider, *utils.APIKeyPool, error) {
	switch cfg.TTSProvider {
	case "elevenlabs":
		pool := utils.NewAPIKeyPool(cfg.ElevenLabsAPIKeys)
		return services.NewElevenLabsProvider(pool, cfg.ElevenLabsModel, cfg.KeyCooldown), pool, nil
	case "openai":
		provider, err := services.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAITTSModel)
		return provider, nil, err
	case "gemini":
		provider, err := services.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiTTSModel)
		return provider, nil, err
	default:
		return nil, nil, fmt.Errorf("unsupported TTS provider %q", cfg.TTSProvider)
	}
}

// clipSources lists the local library first, stock footage only when a key is set
func clipSources(cfg *config.Config) []services.ClipSource {
	sources := []services.ClipSource{services.NewLibrarySource(cfg.BackgroundDir)}
	if cfg.PexelsAPIKey != "" {
		sources = append(sources, services.NewPexelsSource(cfg.PexelsAPIKey, cfg.PexelsKeywords, cfg.BackgroundCache))
	}
	return sources
}

func composerOptions(cfg *config.Config) services.ComposerOptions {
	return services.ComposerOptions{
		Width:               cfg.VideoWidth,
		Height:              cfg.VideoHeight,
		FPS:                 cfg.VideoFPS,
		VideoBitrate:        cfg.VideoBitrate,
		AudioBitrate:        cfg.AudioBitrate,
		TitleDuration:       cfg.TitleDuration,
		DescriptionDuration: cfg.DescriptionDuration,
		TitleFontSize:       cfg.TitleFontSize,
		DescriptionFontSize: cfg.DescriptionFontSize,
		CaptionFontSize:     cfg.CaptionFontSize,
	}
}
