package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rishivishwanath/autocont/logging"
	"github.com/rishivishwanath/autocont/models"
	"github.com/rishivishwanath/autocont/services"
	"github.com/rishivishwanath/autocont/utils"
)

// fakePipeline walks through the happy path states or fails with err
type fakePipeline struct {
	mu       sync.Mutex
	requests []models.NarrationRequest
	dir      string
	err      error
}

func (p *fakePipeline) Run(
	ctx context.Context,
	runID string,
	req models.NarrationRequest,
	observer services.StateObserver,
) (*models.OutputVideo, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	notify := func(state models.RunState) {
		if observer != nil {
			observer(runID, state)
		}
	}

	notify(models.StateReceived)
	notify(models.StateSynthesizing)
	if p.err != nil {
		notify(models.StateFailed)
		return nil, p.err
	}
	notify(models.StateCaptioning)
	notify(models.StateBackgroundReady)
	notify(models.StateRendering)

	videoPath := filepath.Join(p.dir, runID+".mp4")
	srtPath := filepath.Join(p.dir, runID+".srt")
	_ = os.WriteFile(videoPath, []byte("video-bytes"), 0644)
	_ = os.WriteFile(srtPath, []byte("1\n00:00:00,000 --> 00:00:02,000\nhi\n\n"), 0644)

	notify(models.StateDone)
	return &models.OutputVideo{Path: videoPath, Duration: 2.0, SubtitlePath: srtPath}, nil
}

func setupRouter(t *testing.T, pipeline *fakePipeline) (*gin.Engine, *VideoHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if pipeline.dir == "" {
		pipeline.dir = t.TempDir()
	}

	handler := NewVideoHandler(context.Background(), pipeline, NewMemoryJobStore(time.Hour), logging.Nop())
	router := gin.New()
	router.Use(RequestLogger(logging.Nop()))
	handler.RegisterRoutes(router)
	return router, handler
}

func doJSON(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := setupRouter(t, &fakePipeline{})

	w := doJSON(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
	assert.NotContains(t, w.Body.String(), "api_keys")
}

func TestHealthReportsKeyPool(t *testing.T) {
	router, handler := setupRouter(t, &fakePipeline{})

	pool := utils.NewAPIKeyPool([]string{"key-1", "key-2"})
	pool.MarkFailed("key-1", time.Hour)
	handler.ReportKeyPool(pool)

	w := doJSON(router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status  string          `json:"status"`
		APIKeys utils.PoolStats `json:"api_keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, 2, body.APIKeys.Total)
	assert.Equal(t, 1, body.APIKeys.Available)
	assert.Equal(t, 1, body.APIKeys.Benched)
	assert.NotContains(t, w.Body.String(), "key-1")
}

func TestGenerateSync(t *testing.T) {
	pipeline := &fakePipeline{}
	router, _ := setupRouter(t, pipeline)

	w := doJSON(router, http.MethodPost, "/generate-minecraft", gin.H{
		"text":     "Breaking news today",
		"voice_id": "custom-voice",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "Video generated successfully!", body["message"])
	assert.Equal(t, 2.0, body["duration"])

	require.Len(t, pipeline.requests, 1)
	assert.Equal(t, "Breaking news today", pipeline.requests[0].Text)
	assert.Equal(t, "custom-voice", pipeline.requests[0].VoiceID)
	assert.Empty(t, pipeline.requests[0].Title, "defaults are applied by the pipeline")
}

func TestGenerateSyncErrorStatus(t *testing.T) {
	tests := []struct {
		kind   services.ErrorKind
		status int
	}{
		{services.KindInvalidVoice, http.StatusBadRequest},
		{services.KindNetwork, http.StatusBadGateway},
		{services.KindTiming, http.StatusUnprocessableEntity},
		{services.KindEmptyOutput, http.StatusUnprocessableEntity},
		{services.KindAsset, http.StatusInternalServerError},
		{services.KindRender, http.StatusInternalServerError},
		{services.KindEncoding, http.StatusInternalServerError},
		{services.KindCancelled, StatusClientClosedRequest},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			pipeErr := &services.PipelineError{
				Stage:   services.StageSynthesis,
				Kind:    tt.kind,
				Message: "it broke",
			}
			router, _ := setupRouter(t, &fakePipeline{err: pipeErr})

			w := doJSON(router, http.MethodPost, "/generate-minecraft", gin.H{"text": "hello"})
			assert.Equal(t, tt.status, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, "error", body["status"])
			assert.Equal(t, string(tt.kind), body["kind"])
			assert.Equal(t, services.StageSynthesis, body["stage"])
			assert.Equal(t, "it broke", body["message"])
		})
	}
}

func TestGenerateSyncMalformedBody(t *testing.T) {
	router, _ := setupRouter(t, &fakePipeline{})

	req := httptest.NewRequest(http.MethodPost, "/generate-minecraft", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsyncJobLifecycle(t *testing.T) {
	router, handler := setupRouter(t, &fakePipeline{})

	w := doJSON(router, http.MethodPost, "/api/generate", gin.H{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	var created models.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.JobID)
	assert.Equal(t, models.JobProcessing, created.Status)

	handler.Wait()

	w = doJSON(router, http.MethodGet, "/api/status/"+created.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.JobCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, models.StateDone, status.CurrentStep)
	require.NotNil(t, status.VideoURL)
	assert.Equal(t, "/api/download/"+created.JobID, *status.VideoURL)

	w = doJSON(router, http.MethodGet, "/api/download/"+created.JobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video-bytes", w.Body.String())

	w = doJSON(router, http.MethodGet, "/api/download-subtitle/"+created.JobID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "00:00:00,000 --> 00:00:02,000")
}

func TestAsyncJobFailure(t *testing.T) {
	pipeErr := &services.PipelineError{
		Stage:   services.StageBackground,
		Kind:    services.KindAsset,
		Message: "no background clips available",
	}
	router, handler := setupRouter(t, &fakePipeline{err: pipeErr})

	w := doJSON(router, http.MethodPost, "/api/generate", gin.H{"text": "hello"})
	require.Equal(t, http.StatusOK, w.Code)
	var created models.GenerateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	handler.Wait()

	w = doJSON(router, http.MethodGet, "/api/status/"+created.JobID, nil)
	var status models.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.JobFailed, status.Status)
	assert.Equal(t, models.StateFailed, status.CurrentStep)
	assert.Equal(t, "background", status.ErrorStage)
	assert.Equal(t, "asset", status.ErrorKind)
	require.NotNil(t, status.Error)
	assert.Equal(t, "no background clips available", *status.Error)

	w = doJSON(router, http.MethodGet, "/api/download/"+created.JobID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownJob(t *testing.T) {
	router, _ := setupRouter(t, &fakePipeline{})

	for _, path := range []string{"/api/status/nope", "/api/download/nope", "/api/download-subtitle/nope"} {
		w := doJSON(router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}
