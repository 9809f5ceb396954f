package services

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindInvalidVoice ErrorKind = "invalid_voice"
	KindEmptyOutput  ErrorKind = "empty_output"
	KindTiming       ErrorKind = "timing"
	KindAsset        ErrorKind = "asset"
	KindRender       ErrorKind = "render"
	KindEncoding     ErrorKind = "encoding"
	KindCancelled    ErrorKind = "cancelled"
	KindInternal     ErrorKind = "internal"
)

// Stage names used in PipelineError
const (
	StageSynthesis  = "synthesis"
	StageCaptioning = "captioning"
	StageBackground = "background"
	StageRendering  = "rendering"
	StageSetup      = "setup"
)

// SynthesisError is returned by speech providers and the AudioService.
// Retryable is only ever true for KindNetwork.
type SynthesisError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis %s: %v", e.Kind, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

func networkError(err error, retryable bool) *SynthesisError {
	return &SynthesisError{Kind: KindNetwork, Retryable: retryable, Err: err}
}

func invalidVoiceError(err error) *SynthesisError {
	return &SynthesisError{Kind: KindInvalidVoice, Err: err}
}

func emptyOutputError(err error) *SynthesisError {
	return &SynthesisError{Kind: KindEmptyOutput, Err: err}
}

// TimingError means the narration duration cannot drive caption timing
type TimingError struct {
	Duration float64
	Msg      string
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("timing: %s (duration %.3fs)", e.Msg, e.Duration)
}

// AssetError means no usable background clip exists
type AssetError struct {
	Path string
	Err  error
}

func (e *AssetError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("asset: %v", e.Err)
	}
	return fmt.Sprintf("asset %s: %v", e.Path, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// RenderError means overlays cannot be drawn, usually because of the font
type RenderError struct {
	FontPath string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render with font %s: %v", e.FontPath, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// EncodingError means ffmpeg failed to produce the output file
type EncodingError struct {
	OutputPath string
	Err        error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding %s: %v", e.OutputPath, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// PipelineError is the single error type surfaced by PipelineService.Execute
type PipelineError struct {
	Stage   string
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s (%s): %s", e.Stage, e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// newPipelineError classifies err into a PipelineError for the given stage
func newPipelineError(stage string, err error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Kind:    KindOf(err),
		Message: err.Error(),
		Err:     err,
	}
}

// KindOf returns the taxonomy kind for any error produced by the pipeline
func KindOf(err error) ErrorKind {
	var (
		pipeErr   *PipelineError
		synthErr  *SynthesisError
		timingErr *TimingError
		assetErr  *AssetError
		renderErr *RenderError
		encErr    *EncodingError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &pipeErr):
		return pipeErr.Kind
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.As(err, &synthErr):
		return synthErr.Kind
	case errors.As(err, &timingErr):
		return KindTiming
	case errors.As(err, &assetErr):
		return KindAsset
	case errors.As(err, &renderErr):
		return KindRender
	case errors.As(err, &encErr):
		return KindEncoding
	case errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
