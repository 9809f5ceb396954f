package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/utils"
)

// ErrEmptyText is returned when asked to narrate blank text
var ErrEmptyText = errors.New("narration text is empty")

// Speech is raw audio returned by a provider
type Speech struct {
	Data   []byte
	Format string // file extension without dot: mp3, wav
}

// SpeechProvider calls one external text-to-speech API. Implementations
// return *SynthesisError so the AudioService can decide what to retry.
type SpeechProvider interface {
	Name() string
	Speak(ctx context.Context, text, voiceID string) (*Speech, error)
}

// AudioOptions tunes the synthesis call
type AudioOptions struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     time.Duration // multiplied by the attempt number
}

// AudioService turns text into a narration track on disk
type AudioService struct {
	provider SpeechProvider
	prober   utils.Prober
	runner   utils.Runner
	opts     AudioOptions
	logger   *logging.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewAudioService creates a new audio service
func NewAudioService(
	provider SpeechProvider,
	prober utils.Prober,
	runner utils.Runner,
	opts AudioOptions,
	logger *logging.Logger,
) *AudioService {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &AudioService{
		provider: provider,
		prober:   prober,
		runner:   runner,
		opts:     opts,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// Synthesize narrates text with the given voice into dir. The returned
// duration is measured from the written file.
func (as *AudioService) Synthesize(
	ctx context.Context,
	text, voiceID, dir string,
) (*models.AudioTrack, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	speech, err := as.speakWithRetry(ctx, text, voiceID)
	if err != nil {
		return nil, err
	}

	if len(speech.Data) == 0 {
		return nil, emptyOutputError(fmt.Errorf("%s returned no audio", as.provider.Name()))
	}

	format := speech.Format
	if format == "" {
		format = "mp3"
	}
	audioPath := filepath.Join(dir, "narration."+format)
	if err := os.WriteFile(audioPath, speech.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to save audio: %w", err)
	}

	return as.measure(ctx, audioPath, format, int64(len(speech.Data)))
}

// SilentTrack writes a silent narration of the given length. Used when the
// request carries no narration text.
func (as *AudioService) SilentTrack(
	ctx context.Context,
	seconds float64,
	dir string,
) (*models.AudioTrack, error) {
	audioPath := filepath.Join(dir, "silence.mp3")

	args := ffmpeg.Input("anullsrc=r=44100:cl=mono", ffmpeg.KwArgs{"f": "lavfi"}).
		Output(audioPath, ffmpeg.KwArgs{
			"t":   utils.FormatSeconds(seconds),
			"c:a": "libmp3lame",
			"b:a": "128k",
		}).
		OverWriteOutput().
		GetArgs()

	if err := as.runner.Run(ctx, args); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		_ = utils.RemoveIfExists(audioPath)
		return nil, &EncodingError{OutputPath: audioPath, Err: err}
	}

	size, _ := utils.GetFileSize(audioPath)
	return as.measure(ctx, audioPath, "mp3", size)
}

func (as *AudioService) measure(
	ctx context.Context,
	audioPath, format string,
	size int64,
) (*models.AudioTrack, error) {
	info, err := as.prober.Probe(ctx, audioPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, emptyOutputError(fmt.Errorf("unreadable audio: %w", err))
	}
	if !info.HasAudio {
		return nil, emptyOutputError(errors.New("output has no audio stream"))
	}

	return &models.AudioTrack{
		Path:       audioPath,
		Format:     format,
		Duration:   info.Duration,
		SampleRate: info.SampleRate,
		Size:       size,
	}, nil
}

// speakWithRetry retries network failures only, with linear backoff
func (as *AudioService) speakWithRetry(
	ctx context.Context,
	text, voiceID string,
) (*Speech, error) {
	var lastErr *SynthesisError

	for attempt := 1; attempt <= as.opts.MaxAttempts; attempt++ {
		speech, err := as.speakOnce(ctx, text, voiceID)
		if err == nil {
			if attempt > 1 {
				as.logger.Infow("Synthesis recovered",
					"provider", as.provider.Name(),
					"attempt", attempt,
				)
			}
			return speech, nil
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis aborted: %w", ctx.Err())
		}

		lastErr = classifySynthesisError(err)
		if lastErr.Kind != KindNetwork || !lastErr.Retryable {
			return nil, lastErr
		}

		as.logger.Warnw("Synthesis attempt failed",
			"provider", as.provider.Name(),
			"attempt", attempt,
			"max_attempts", as.opts.MaxAttempts,
			"error", lastErr.Err,
		)

		if attempt < as.opts.MaxAttempts {
			if err := as.sleep(ctx, time.Duration(attempt)*as.opts.Backoff); err != nil {
				return nil, fmt.Errorf("synthesis aborted: %w", err)
			}
		}
	}

	return nil, &SynthesisError{
		Kind: KindNetwork,
		Err:  fmt.Errorf("failed after %d attempts: %w", as.opts.MaxAttempts, lastErr.Err),
	}
}

func (as *AudioService) speakOnce(
	ctx context.Context,
	text, voiceID string,
) (*Speech, error) {
	if as.opts.Timeout <= 0 {
		return as.provider.Speak(ctx, text, voiceID)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, as.opts.Timeout)
	defer cancel()

	speech, err := as.provider.Speak(attemptCtx, text, voiceID)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, networkError(fmt.Errorf("no response within %s: %w", as.opts.Timeout, err), true)
	}
	return speech, err
}

func classifySynthesisError(err error) *SynthesisError {
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		return synthErr
	}
	// unclassified provider errors are treated as transport failures
	return networkError(err, true)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
