package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

const (
	geminiDefaultRate = 24000
	geminiChannels    = 1
	geminiBitDepth    = 16
)

// GeminiProvider synthesizes speech with a Gemini TTS model. The API returns
// raw 16-bit PCM which is wrapped into a WAV container.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	if model == "" {
		model = "gemini-2.5-flash-preview-tts"
	}

	return &GeminiProvider{
		client: client,
		model:  model,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Speak(ctx context.Context, text, voiceID string) (*Speech, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, invalidVoiceError(errors.New("voice_id is required"))
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voiceID},
			},
		},
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(text), config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	pcm, mimeType := extractInlineAudio(result)
	if len(pcm) == 0 {
		return nil, emptyOutputError(errors.New("no audio in Gemini response"))
	}

	return &Speech{
		Data:   pcmToWAV(pcm, sampleRateFromMIME(mimeType), geminiChannels, geminiBitDepth),
		Format: "wav",
	}, nil
}

func classifyGeminiError(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return networkError(fmt.Errorf("gemini request failed: %w", err), true)
	}

	switch code := apiErr.Code; {
	case code == http.StatusBadRequest && mentionsVoice(apiErr.Message):
		return invalidVoiceError(err)
	case code == http.StatusTooManyRequests, code >= 500:
		return networkError(err, true)
	default:
		return networkError(err, false)
	}
}

// extractInlineAudio concatenates every inline audio part of the first
// candidate that carries any
func extractInlineAudio(result *genai.GenerateContentResponse) ([]byte, string) {
	if result == nil {
		return nil, ""
	}

	var (
		data     []byte
		mimeType string
	)
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if mimeType == "" {
				mimeType = part.InlineData.MIMEType
			}
			data = append(data, part.InlineData.Data...)
		}
		if len(data) > 0 {
			break
		}
	}
	return data, mimeType
}

// sampleRateFromMIME reads the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000"
func sampleRateFromMIME(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || key != "rate" {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return geminiDefaultRate
}

// pcmToWAV prepends a canonical 44 byte RIFF header
func pcmToWAV(pcm []byte, sampleRate, channels, bitDepth int) []byte {
	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitDepth))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
