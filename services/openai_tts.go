package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider synthesizes speech with the OpenAI audio API
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	if model == "" {
		model = "tts-1"
	}

	// retries are owned by AudioService
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Speak(ctx context.Context, text, voiceID string) (*Speech, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, invalidVoiceError(errors.New("voice_id is required"))
	}

	params := openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(p.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voiceID),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("failed to read audio: %w", err), true)
	}

	return &Speech{Data: data, Format: "mp3"}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return networkError(fmt.Errorf("openai request failed: %w", err), true)
	}

	switch status := apiErr.StatusCode; {
	case status == http.StatusBadRequest && mentionsVoice(apiErr.Error()):
		return invalidVoiceError(err)
	case status == http.StatusTooManyRequests, status >= 500:
		return networkError(err, true)
	default:
		return networkError(err, false)
	}
}

func mentionsVoice(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "voice")
}
