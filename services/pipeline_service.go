package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/utils"
)

// Synthesizer produces the narration track
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, dir string) (*models.AudioTrack, error)
	SilentTrack(ctx context.Context, seconds float64, dir string) (*models.AudioTrack, error)
}

// Segmenter splits narration text into timed captions
type Segmenter interface {
	Segment(text string, totalDuration float64) ([]models.Caption, error)
}

// BackgroundSelector provides footage long enough for the narration
type BackgroundSelector interface {
	Select(ctx context.Context, minDuration float64) (*models.BackgroundClip, error)
}

// Renderer composites the final video
type Renderer interface {
	Render(
		ctx context.Context,
		bg *models.BackgroundClip,
		audio *models.AudioTrack,
		rs models.RenderSpec,
		outputPath string,
	) (*models.OutputVideo, error)
}

// StateObserver is notified on every state transition of a run
type StateObserver func(runID string, state models.RunState)

// Defaults fill request fields left empty by the caller
type Defaults struct {
	VoiceID     string
	FontPath    string
	Title       string
	Description string
}

// PipelineOptions configures where runs write and how empty text is handled
type PipelineOptions struct {
	TempDir               string
	OutputDir             string
	EmptyNarrationSeconds float64
	Defaults              Defaults
}

// PipelineService runs one narration request through every stage in order
type PipelineService struct {
	synthesizer Synthesizer
	segmenter   Segmenter
	background  BackgroundSelector
	renderer    Renderer
	opts        PipelineOptions
	logger      *logging.Logger
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	synthesizer Synthesizer,
	segmenter Segmenter,
	background BackgroundSelector,
	renderer Renderer,
	opts PipelineOptions,
	logger *logging.Logger,
) *PipelineService {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PipelineService{
		synthesizer: synthesizer,
		segmenter:   segmenter,
		background:  background,
		renderer:    renderer,
		opts:        opts,
		logger:      logger,
	}
}

// Execute runs the pipeline under a fresh run ID
func (ps *PipelineService) Execute(ctx context.Context, req models.NarrationRequest) (*models.OutputVideo, error) {
	return ps.Run(ctx, uuid.New().String(), req, nil)
}

// run carries the per-run bookkeeping
type run struct {
	id       string
	started  time.Time
	observer StateObserver
	logger   *logging.Logger
	state    models.RunState
}

// transition moves the run to state. Terminal states are final.
func (r *run) transition(state models.RunState) {
	if r.state.Terminal() {
		return
	}
	r.state = state
	r.logger.Infow("Run state changed",
		"state", state,
		"elapsed", time.Since(r.started).Round(time.Millisecond).String(),
	)
	if r.observer != nil {
		r.observer(r.id, state)
	}
}

// Run executes the pipeline with a caller supplied run ID. The output is
// written to OutputDir/<runID>.mp4. Every error is a *PipelineError.
func (ps *PipelineService) Run(
	ctx context.Context,
	runID string,
	req models.NarrationRequest,
	observer StateObserver,
) (*models.OutputVideo, error) {
	r := &run{
		id:       runID,
		started:  time.Now(),
		observer: observer,
		logger:   ps.logger.With("run_id", runID),
	}
	r.transition(models.StateReceived)

	req = ps.applyDefaults(req)
	outputPath := filepath.Join(ps.opts.OutputDir, runID+".mp4")

	fail := func(stage string, err error) (*models.OutputVideo, error) {
		if ctx.Err() != nil {
			err = fmt.Errorf("%s interrupted: %w", stage, ctx.Err())
		}
		pipeErr := newPipelineError(stage, err)

		_ = utils.RemoveIfExists(outputPath)
		_ = utils.RemoveIfExists(strings.TrimSuffix(outputPath, ".mp4") + ".srt")

		r.logger.Errorw("Run failed",
			"stage", stage,
			"kind", pipeErr.Kind,
			"error", err,
		)
		r.transition(models.StateFailed)
		return nil, pipeErr
	}

	runDir, err := utils.CreateRunDir(ps.opts.TempDir, runID)
	if err != nil {
		return fail(StageSetup, err)
	}
	defer func() {
		if err := os.RemoveAll(runDir); err != nil {
			r.logger.Warnw("Failed to remove run directory", "dir", runDir, "error", err)
		}
	}()

	if err := os.MkdirAll(ps.opts.OutputDir, 0755); err != nil {
		return fail(StageSetup, fmt.Errorf("failed to create output dir: %w", err))
	}

	// Synthesizing
	r.transition(models.StateSynthesizing)
	audio, err := ps.synthesize(ctx, req, runDir)
	if err != nil {
		return fail(StageSynthesis, err)
	}
	r.logger.Infow("Narration ready",
		"duration", audio.Duration,
		"sample_rate", audio.SampleRate,
	)

	// Captioning
	if err := ctx.Err(); err != nil {
		return fail(StageCaptioning, err)
	}
	r.transition(models.StateCaptioning)
	captions, err := ps.segmenter.Segment(req.Text, audio.Duration)
	if err != nil {
		return fail(StageCaptioning, err)
	}
	if audio.Duration <= 0 {
		return fail(StageCaptioning, &TimingError{Duration: audio.Duration, Msg: "narration has no usable duration"})
	}

	// Background
	if err := ctx.Err(); err != nil {
		return fail(StageBackground, err)
	}
	bg, err := ps.background.Select(ctx, audio.Duration)
	if err != nil {
		return fail(StageBackground, err)
	}
	r.transition(models.StateBackgroundReady)

	// Rendering
	if err := ctx.Err(); err != nil {
		return fail(StageRendering, err)
	}
	r.transition(models.StateRendering)
	rs := models.RenderSpec{
		Title:       req.Title,
		Description: req.Description,
		FontPath:    req.FontPath,
		Captions:    captions,
		WorkDir:     runDir,
	}
	video, err := ps.renderer.Render(ctx, bg, audio, rs, outputPath)
	if err != nil {
		return fail(StageRendering, err)
	}

	r.transition(models.StateDone)
	r.logger.Infow("Run completed",
		"output", video.Path,
		"duration", video.Duration,
		"captions", len(captions),
	)

	return video, nil
}

func (ps *PipelineService) synthesize(
	ctx context.Context,
	req models.NarrationRequest,
	runDir string,
) (*models.AudioTrack, error) {
	if strings.TrimSpace(req.Text) == "" {
		return ps.synthesizer.SilentTrack(ctx, ps.opts.EmptyNarrationSeconds, runDir)
	}
	return ps.synthesizer.Synthesize(ctx, req.Text, req.VoiceID, runDir)
}

func (ps *PipelineService) applyDefaults(req models.NarrationRequest) models.NarrationRequest {
	d := ps.opts.Defaults
	if req.VoiceID == "" {
		req.VoiceID = d.VoiceID
	}
	if req.FontPath == "" {
		req.FontPath = d.FontPath
	}
	if req.Title == "" {
		req.Title = d.Title
	}
	if req.Description == "" {
		req.Description = d.Description
	}
	return req
}
