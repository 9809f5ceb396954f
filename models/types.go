package models

import "time"

// NarrationRequest is the immutable input of one pipeline run
type NarrationRequest struct {
	Text        string
	VoiceID     string
	FontPath    string
	Title       string
	Description string
}

// AudioTrack is the synthesized narration. Duration is in seconds and is the
// timing authority for captions, background looping and output length.
type AudioTrack struct {
	Path       string
	Format     string
	Duration   float64
	SampleRate int
	Size       int64
}

// Caption is one timed chunk of narration text, shown during [Start, End)
type Caption struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// BackgroundClip is a source clip repeated Loops times to cover the narration
type BackgroundClip struct {
	SourcePath     string
	SourceDuration float64
	Loops          int
	Duration       float64
	LoopPoints     []float64
}

// RenderSpec holds the overlay data for one render call
type RenderSpec struct {
	Title       string
	Description string
	FontPath    string
	Captions    []Caption
	WorkDir     string // scratch space for overlay text files, optional
}

// OutputVideo is the finished artifact handed back to the caller
type OutputVideo struct {
	Path         string  `json:"path"`
	Duration     float64 `json:"duration"`
	SubtitlePath string  `json:"subtitle_path,omitempty"`
}

// RunState is a state of the generation pipeline
type RunState string

const (
	StateReceived        RunState = "received"
	StateSynthesizing    RunState = "synthesizing"
	StateCaptioning      RunState = "captioning"
	StateBackgroundReady RunState = "background_ready"
	StateRendering       RunState = "rendering"
	StateDone            RunState = "done"
	StateFailed          RunState = "failed"
)

// Terminal reports whether no further transition is possible
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// GenerateRequest represents the input from the web layer
type GenerateRequest struct {
	Text        string `json:"text"`
	VoiceID     string `json:"voice_id"`
	FontPath    string `json:"font_path"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ToNarration converts the web payload to a pipeline request
func (r GenerateRequest) ToNarration() NarrationRequest {
	return NarrationRequest{
		Text:        r.Text,
		VoiceID:     r.VoiceID,
		FontPath:    r.FontPath,
		Title:       r.Title,
		Description: r.Description,
	}
}

// GenerateResponse returns the job ID
type GenerateResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// StatusResponse returns current progress
type StatusResponse struct {
	Status      string   `json:"status"` // "processing", "completed", "failed"
	Progress    int      `json:"progress"`
	CurrentStep RunState `json:"current_step"`
	VideoURL    *string  `json:"video_url,omitempty"`
	Duration    float64  `json:"duration,omitempty"`
	Error       *string  `json:"error,omitempty"`
	ErrorStage  string   `json:"error_stage,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
}

// JobStatus tracks processing status of an async job
type JobStatus struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	CurrentStep  RunState  `json:"current_step"`
	VideoPath    string    `json:"video_path,omitempty"`
	SubtitlePath string    `json:"subtitle_path,omitempty"`
	Duration     float64   `json:"duration,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorStage   string    `json:"error_stage,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Job status values
const (
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)
