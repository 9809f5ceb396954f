package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rishivishwanath/autocont/utils"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsProvider calls the ElevenLabs text-to-speech API
type ElevenLabsProvider struct {
	baseURL    string
	model      string
	pool       *utils.APIKeyPool
	cooldown   time.Duration
	httpClient *http.Client
}

// NewElevenLabsProvider creates a provider that rotates over the key pool
func NewElevenLabsProvider(pool *utils.APIKeyPool, model string, cooldown time.Duration) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		baseURL:  elevenLabsBaseURL,
		model:    model,
		pool:     pool,
		cooldown: cooldown,
		// per-attempt deadlines come from the context
		httpClient: &http.Client{},
	}
}

// elevenLabsRequest represents the text-to-speech request body
type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

// elevenLabsError represents an API error body
type elevenLabsError struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func (p *ElevenLabsProvider) Name() string { return "elevenlabs" }

// Speak synthesizes text as mp3
func (p *ElevenLabsProvider) Speak(ctx context.Context, text, voiceID string) (*Speech, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, invalidVoiceError(errors.New("voice_id is required"))
	}

	apiKey, err := p.pool.Acquire()
	if err != nil {
		return nil, networkError(err, false)
	}

	jsonData, err := json.Marshal(elevenLabsRequest{Text: text, ModelID: p.model})
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to marshal request: %w", err), false)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=mp3_44100_128",
		p.baseURL, url.PathEscape(voiceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to create request: %w", err), false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, networkError(fmt.Errorf("request failed: %w", err), true)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to read response: %w", err), true)
	}

	if resp.StatusCode == http.StatusOK {
		return &Speech{Data: body, Format: "mp3"}, nil
	}

	return nil, p.classify(resp.StatusCode, body, apiKey)
}

func (p *ElevenLabsProvider) classify(status int, body []byte, apiKey string) error {
	var apiErr elevenLabsError
	_ = json.Unmarshal(body, &apiErr)

	msg := apiErr.Detail.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	err := fmt.Errorf("elevenlabs returned %d: %s", status, msg)

	switch {
	case status == http.StatusNotFound,
		strings.Contains(strings.ToLower(apiErr.Detail.Status), "voice"):
		return invalidVoiceError(err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusTooManyRequests:
		// another key from the pool may still work
		p.pool.MarkFailed(apiKey, p.cooldown)
		return networkError(err, true)
	case status >= 500:
		return networkError(err, true)
	default:
		return networkError(err, false)
	}
}
