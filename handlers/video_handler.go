package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/services"
	"github.com/rishivishwanath/autocont/utils"
)

// StatusClientClosedRequest is reported when the caller went away mid-run
const StatusClientClosedRequest = 499

// Pipeline runs one generation request
type Pipeline interface {
	Run(
		ctx context.Context,
		runID string,
		req models.NarrationRequest,
		observer services.StateObserver,
	) (*models.OutputVideo, error)
}

// progress reported for each pipeline state
var stateProgress = map[models.RunState]int{
	models.StateReceived:        0,
	models.StateSynthesizing:    10,
	models.StateCaptioning:      40,
	models.StateBackgroundReady: 55,
	models.StateRendering:       60,
	models.StateDone:            100,
}

// VideoHandler handles video generation requests
type VideoHandler struct {
	pipeline Pipeline
	jobs     JobStore
	keyPool  *utils.APIKeyPool
	logger   *logging.Logger

	// async jobs outlive their request, they stop with baseCtx
	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewVideoHandler creates a new video handler
func NewVideoHandler(baseCtx context.Context, pipeline Pipeline, jobs JobStore, logger *logging.Logger) *VideoHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &VideoHandler{
		pipeline: pipeline,
		jobs:     jobs,
		logger:   logger,
		baseCtx:  baseCtx,
	}
}

// ReportKeyPool adds the speech provider key pool to the health response
func (h *VideoHandler) ReportKeyPool(pool *utils.APIKeyPool) {
	h.keyPool = pool
}

// RegisterRoutes mounts every endpoint on the router
func (h *VideoHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/health", h.Health)
	router.POST("/generate-minecraft", h.GenerateSync)

	api := router.Group("/api")
	{
		api.POST("/generate", h.Generate)
		api.GET("/status/:job_id", h.GetStatus)
		api.GET("/download/:job_id", h.Download)
		api.GET("/download-subtitle/:job_id", h.DownloadSubtitle)
	}
}

// Wait blocks until every async job has finished
func (h *VideoHandler) Wait() {
	h.wg.Wait()
}

// Health handles GET /health
func (h *VideoHandler) Health(c *gin.Context) {
	body := gin.H{
		"status": "healthy",
		"time":   time.Now(),
	}
	if h.keyPool != nil {
		body["api_keys"] = h.keyPool.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// GenerateSync handles POST /generate-minecraft. The video is rendered
// before the response is sent.
func (h *VideoHandler) GenerateSync(c *gin.Context) {
	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request: " + err.Error()})
		return
	}

	runID := uuid.New().String()
	video, err := h.pipeline.Run(c.Request.Context(), runID, req.ToNarration(), nil)
	if err != nil {
		status, body := errorResponse(err)
		body["status"] = "error"
		body["run_id"] = runID
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"message":    "Video generated successfully!",
		"run_id":     runID,
		"video_path": video.Path,
		"duration":   video.Duration,
	})
}

// Generate handles POST /api/generate
func (h *VideoHandler) Generate(c *gin.Context) {
	var req models.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	jobID := uuid.New().String()
	now := time.Now()
	job := &models.JobStatus{
		JobID:       jobID,
		Status:      models.JobProcessing,
		Progress:    0,
		CurrentStep: models.StateReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.jobs.Create(c.Request.Context(), job); err != nil {
		h.logger.Errorw("Failed to create job", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	// Start background processing
	h.wg.Add(1)
	go h.processVideoGeneration(jobID, req.ToNarration())

	c.JSON(http.StatusOK, models.GenerateResponse{
		JobID:  jobID,
		Status: models.JobProcessing,
	})
}

func (h *VideoHandler) processVideoGeneration(jobID string, req models.NarrationRequest) {
	defer h.wg.Done()
	ctx := h.baseCtx

	observer := func(runID string, state models.RunState) {
		h.updateJob(ctx, jobID, func(job *models.JobStatus) {
			job.CurrentStep = state
			if progress, ok := stateProgress[state]; ok {
				job.Progress = progress
			}
		})
	}

	video, err := h.pipeline.Run(ctx, jobID, req, observer)

	// the run may have been cancelled, the final status must still be saved
	finalCtx := context.WithoutCancel(ctx)

	if err != nil {
		var pipeErr *services.PipelineError
		h.updateJob(finalCtx, jobID, func(job *models.JobStatus) {
			job.Status = models.JobFailed
			job.CurrentStep = models.StateFailed
			job.Error = err.Error()
			job.ErrorKind = string(services.KindOf(err))
			if errors.As(err, &pipeErr) {
				job.ErrorStage = pipeErr.Stage
				job.Error = pipeErr.Message
			}
		})
		return
	}

	h.updateJob(finalCtx, jobID, func(job *models.JobStatus) {
		job.Status = models.JobCompleted
		job.Progress = 100
		job.CurrentStep = models.StateDone
		job.VideoPath = video.Path
		job.SubtitlePath = video.SubtitlePath
		job.Duration = video.Duration
	})
}

func (h *VideoHandler) updateJob(ctx context.Context, jobID string, fn func(job *models.JobStatus)) {
	if err := h.jobs.Update(ctx, jobID, fn); err != nil {
		h.logger.Warnw("Failed to update job", "job_id", jobID, "error", err)
	}
}

// GetStatus handles GET /api/status/:job_id
func (h *VideoHandler) GetStatus(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}

	resp := models.StatusResponse{
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Duration:    job.Duration,
		ErrorStage:  job.ErrorStage,
		ErrorKind:   job.ErrorKind,
	}

	if job.Status == models.JobCompleted && job.VideoPath != "" {
		videoURL := fmt.Sprintf("/api/download/%s", job.JobID)
		resp.VideoURL = &videoURL
	}

	if job.Error != "" {
		errMsg := job.Error
		resp.Error = &errMsg
	}

	c.JSON(http.StatusOK, resp)
}

// Download handles GET /api/download/:job_id
func (h *VideoHandler) Download(c *gin.Context) {
	job, ok := h.loadCompletedJob(c)
	if !ok {
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=video_%s.mp4", job.JobID))
	c.File(job.VideoPath)
}

// DownloadSubtitle handles GET /api/download-subtitle/:job_id
func (h *VideoHandler) DownloadSubtitle(c *gin.Context) {
	job, ok := h.loadCompletedJob(c)
	if !ok {
		return
	}

	if job.SubtitlePath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Video has no captions"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(job.SubtitlePath)))
	c.File(job.SubtitlePath)
}

func (h *VideoHandler) loadJob(c *gin.Context) (*models.JobStatus, bool) {
	jobID := c.Param("job_id")

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if errors.Is(err, ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Errorw("Failed to load job", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		return nil, false
	}

	return job, true
}

func (h *VideoHandler) loadCompletedJob(c *gin.Context) (*models.JobStatus, bool) {
	job, ok := h.loadJob(c)
	if !ok {
		return nil, false
	}

	if job.Status != models.JobCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Job not completed yet"})
		return nil, false
	}

	return job, true
}

// errorResponse maps a pipeline failure to a status code and JSON body
func errorResponse(err error) (int, gin.H) {
	kind := services.KindOf(err)
	body := gin.H{
		"message": err.Error(),
		"kind":    kind,
	}

	var pipeErr *services.PipelineError
	if errors.As(err, &pipeErr) {
		body["stage"] = pipeErr.Stage
		body["message"] = pipeErr.Message
	}

	return StatusForKind(kind), body
}

// StatusForKind returns the HTTP status reported for an error kind
func StatusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindInvalidVoice:
		return http.StatusBadRequest
	case services.KindNetwork:
		return http.StatusBadGateway
	case services.KindTiming, services.KindEmptyOutput:
		return http.StatusUnprocessableEntity
	case services.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}
