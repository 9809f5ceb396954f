package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/rishivishwanath/autocont/utils"
)

func newElevenLabsTestServer(t *testing.T, handler http.HandlerFunc) (*ElevenLabsProvider, *utils.APIKeyPool) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	pool := utils.NewAPIKeyPool([]string{"key-1", "key-2"})
	provider := NewElevenLabsProvider(pool, "eleven_multilingual_v2", time.Minute)
	provider.baseURL = server.URL
	return provider, pool
}

func TestElevenLabsSpeak(t *testing.T) {
	var gotKey, gotPath, gotFormat string
	var gotBody elevenLabsRequest

	provider, _ := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		gotPath = r.URL.Path
		gotFormat = r.URL.Query().Get("output_format")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	})

	speech, err := provider.Speak(context.Background(), "hello there", "JBFqnCBsd6RMkjVDRZzb")
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3audio"), speech.Data)
	assert.Equal(t, "mp3", speech.Format)
	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "/v1/text-to-speech/JBFqnCBsd6RMkjVDRZzb", gotPath)
	assert.Equal(t, "mp3_44100_128", gotFormat)
	assert.Equal(t, "hello there", gotBody.Text)
	assert.Equal(t, "eleven_multilingual_v2", gotBody.ModelID)
}

func TestElevenLabsErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		kind      ErrorKind
		retryable bool
		benched   int
	}{
		{
			name:   "unknown voice",
			status: http.StatusNotFound,
			body:   `{"detail":{"status":"voice_not_found","message":"A voice with that ID does not exist."}}`,
			kind:   KindInvalidVoice,
		},
		{
			name:   "voice rejected in bad request",
			status: http.StatusBadRequest,
			body:   `{"detail":{"status":"invalid_voice_id","message":"bad voice"}}`,
			kind:   KindInvalidVoice,
		},
		{
			name:      "rate limited",
			status:    http.StatusTooManyRequests,
			body:      `{"detail":{"status":"too_many_concurrent_requests"}}`,
			kind:      KindNetwork,
			retryable: true,
			benched:   1,
		},
		{
			name:      "key rejected",
			status:    http.StatusUnauthorized,
			body:      `{"detail":{"status":"invalid_api_key"}}`,
			kind:      KindNetwork,
			retryable: true,
			benched:   1,
		},
		{
			name:      "server error",
			status:    http.StatusBadGateway,
			body:      `upstream unavailable`,
			kind:      KindNetwork,
			retryable: true,
		},
		{
			name:   "text rejected",
			status: http.StatusUnprocessableEntity,
			body:   `{"detail":{"status":"text_too_long"}}`,
			kind:   KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, pool := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := provider.Speak(context.Background(), "hello", "voice")
			require.Error(t, err)

			synthErr := classifySynthesisError(err)
			assert.Equal(t, tt.kind, synthErr.Kind)
			assert.Equal(t, tt.retryable, synthErr.Retryable)
			assert.Equal(t, tt.benched, pool.Stats().Benched)
		})
	}
}

func TestElevenLabsMissingVoice(t *testing.T) {
	provider, _ := newElevenLabsTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := provider.Speak(context.Background(), "hello", " ")
	assert.Equal(t, KindInvalidVoice, KindOf(err))
}

func TestOpenAISpeak(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3openai"))
	}))
	defer server.Close()

	provider, err := NewOpenAIProvider("sk-test", "", option.WithBaseURL(server.URL))
	require.NoError(t, err)

	speech, err := provider.Speak(context.Background(), "hello", "alloy")
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3openai"), speech.Data)
	assert.Equal(t, "hello", gotBody["input"])
	assert.Equal(t, "alloy", gotBody["voice"])
	assert.Equal(t, "tts-1", gotBody["model"])
	assert.Equal(t, "mp3", gotBody["response_format"])
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		message   string
		kind      ErrorKind
		retryable bool
	}{
		{"invalid voice", http.StatusBadRequest, "Invalid value for 'voice'", KindInvalidVoice, false},
		{"bad input", http.StatusBadRequest, "input is too long", KindNetwork, false},
		{"rate limited", http.StatusTooManyRequests, "slow down", KindNetwork, true},
		{"server error", http.StatusInternalServerError, "oops", KindNetwork, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{"message": tt.message, "type": "invalid_request_error"},
				})
			}))
			defer server.Close()

			provider, err := NewOpenAIProvider("sk-test", "tts-1", option.WithBaseURL(server.URL))
			require.NoError(t, err)

			_, err = provider.Speak(context.Background(), "hello", "nova")
			require.Error(t, err)

			synthErr := classifySynthesisError(err)
			assert.Equal(t, tt.kind, synthErr.Kind)
			assert.Equal(t, tt.retryable, synthErr.Retryable)
		})
	}
}

func TestGeminiErrorClassification(t *testing.T) {
	invalid := classifySynthesisError(classifyGeminiError(genai.APIError{
		Code:    http.StatusBadRequest,
		Message: "Voice name Bogus is not supported",
	}))
	assert.Equal(t, KindInvalidVoice, invalid.Kind)

	busy := classifySynthesisError(classifyGeminiError(genai.APIError{Code: http.StatusServiceUnavailable}))
	assert.Equal(t, KindNetwork, busy.Kind)
	assert.True(t, busy.Retryable)

	denied := classifySynthesisError(classifyGeminiError(genai.APIError{Code: http.StatusForbidden}))
	assert.False(t, denied.Retryable)
}

func TestExtractInlineAudio(t *testing.T) {
	result := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []*genai.Part{
				{Text: "ignored"},
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/L16;codec=pcm;rate=16000"}},
				{InlineData: &genai.Blob{Data: []byte{3, 4}, MIMEType: "audio/L16;codec=pcm;rate=16000"}},
			}}},
		},
	}

	data, mimeType := extractInlineAudio(result)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, 16000, sampleRateFromMIME(mimeType))

	data, _ = extractInlineAudio(nil)
	assert.Empty(t, data)
}

func TestSampleRateFromMIME(t *testing.T) {
	assert.Equal(t, 24000, sampleRateFromMIME("audio/L16;codec=pcm;rate=24000"))
	assert.Equal(t, 44100, sampleRateFromMIME("audio/L16; rate=44100"))
	assert.Equal(t, geminiDefaultRate, sampleRateFromMIME("audio/L16"))
	assert.Equal(t, geminiDefaultRate, sampleRateFromMIME("audio/L16;rate=abc"))
}

func TestPCMToWAV(t *testing.T) {
	pcm := make([]byte, 480)
	wav := pcmToWAV(pcm, 24000, 1, 16)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestElevenLabsBadEndpointIsNotRetried(t *testing.T) {
	pool := utils.NewAPIKeyPool([]string{"key-1"})
	provider := NewElevenLabsProvider(pool, "eleven_multilingual_v2", time.Minute)
	provider.baseURL = "http://[::1"

	_, err := provider.Speak(context.Background(), "hello", "JBFqnCBsd6RMkjVDRZzb")
	require.Error(t, err)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, KindNetwork, synthErr.Kind)
	assert.False(t, synthErr.Retryable)
}
