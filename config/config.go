package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port      string
	TempDir   string
	OutputDir string
	RedisURL  string

	// Request defaults, applied when a request leaves a field empty
	DefaultVoiceID     string
	DefaultFontPath    string
	DefaultTitle       string
	DefaultDescription string

	// Speech synthesis
	TTSProvider          string
	ElevenLabsAPIKeys    []string
	ElevenLabsModel      string
	OpenAIAPIKey         string
	OpenAITTSModel       string
	GeminiAPIKey         string
	GeminiTTSModel       string
	SynthesisTimeout     time.Duration
	SynthesisMaxAttempts int
	SynthesisBackoff     time.Duration
	KeyCooldown          time.Duration
	EmptyNarrationLength float64

	// Captions
	CaptionMaxChars  int
	CaptionMaxWords  int
	CaptionMaxChunks int
	CaptionTiming    string

	// Background footage
	BackgroundDir   string
	PexelsAPIKey    string
	PexelsKeywords  string
	BackgroundCache string

	// Rendering
	VideoWidth          int
	VideoHeight         int
	VideoFPS            int
	VideoBitrate        string
	AudioBitrate        string
	TitleDuration       float64
	DescriptionDuration float64
	TitleFontSize       int
	DescriptionFontSize int
	CaptionFontSize     int
	FFmpegPath          string
	FFprobePath         string

	// Housekeeping
	JobTTL         time.Duration
	StaleRunMaxAge time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	tempDir := getEnv("TEMP_DIR", "./temp")

	cfg := &Config{
		Port:      getEnv("PORT", "5000"),
		TempDir:   tempDir,
		OutputDir: getEnv("OUTPUT_DIR", "./output"),
		RedisURL:  getEnv("REDIS_URL", ""),

		DefaultVoiceID:     getEnv("DEFAULT_VOICE_ID", "JBFqnCBsd6RMkjVDRZzb"),
		DefaultFontPath:    getEnv("DEFAULT_FONT_PATH", "fonts/font.ttf"),
		DefaultTitle:       getEnv("DEFAULT_TITLE", "You won't believe what just happened!"),
		DefaultDescription: getEnv("DEFAULT_DESCRIPTION", "Stay updated with the latest news in just 30 seconds!"),

		TTSProvider:          strings.ToLower(getEnv("TTS_PROVIDER", "elevenlabs")),
		ElevenLabsAPIKeys:    parseAPIKeys(getEnv("ELEVENLABS_API_KEYS", "")),
		ElevenLabsModel:      getEnv("ELEVENLABS_MODEL", "eleven_multilingual_v2"),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAITTSModel:       getEnv("OPENAI_TTS_MODEL", "tts-1"),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		GeminiTTSModel:       getEnv("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),
		SynthesisTimeout:     getEnvAsDuration("SYNTHESIS_TIMEOUT", 60*time.Second),
		SynthesisMaxAttempts: getEnvAsInt("SYNTHESIS_MAX_ATTEMPTS", 3),
		SynthesisBackoff:     getEnvAsDuration("SYNTHESIS_BACKOFF", time.Second),
		KeyCooldown:          getEnvAsDuration("KEY_COOLDOWN", 60*time.Second),
		EmptyNarrationLength: getEnvAsFloat("EMPTY_NARRATION_SECONDS", 5.0),

		CaptionMaxChars:  getEnvAsInt("CAPTION_MAX_CHARS", 24),
		CaptionMaxWords:  getEnvAsInt("CAPTION_MAX_WORDS", 4),
		CaptionMaxChunks: getEnvAsInt("CAPTION_MAX_CHUNKS", 0),
		CaptionTiming:    strings.ToLower(getEnv("CAPTION_TIMING", "proportional")),

		BackgroundDir:   getEnv("BACKGROUND_DIR", "assets/backgrounds"),
		PexelsAPIKey:    getEnv("PEXELS_API_KEY", ""),
		PexelsKeywords:  getEnv("PEXELS_KEYWORDS", "minecraft parkour gameplay"),
		BackgroundCache: getEnv("BACKGROUND_CACHE_DIR", "./cache/backgrounds"),

		VideoWidth:          getEnvAsInt("VIDEO_WIDTH", 1080),
		VideoHeight:         getEnvAsInt("VIDEO_HEIGHT", 1920),
		VideoFPS:            getEnvAsInt("VIDEO_FPS", 30),
		VideoBitrate:        getEnv("VIDEO_BITRATE", "5M"),
		AudioBitrate:        getEnv("AUDIO_BITRATE", "192k"),
		TitleDuration:       getEnvAsFloat("TITLE_DURATION", 4.0),
		DescriptionDuration: getEnvAsFloat("DESCRIPTION_DURATION", 4.0),
		TitleFontSize:       getEnvAsInt("TITLE_FONT_SIZE", 72),
		DescriptionFontSize: getEnvAsInt("DESCRIPTION_FONT_SIZE", 44),
		CaptionFontSize:     getEnvAsInt("CAPTION_FONT_SIZE", 64),
		FFmpegPath:          getEnv("FFMPEG_PATH", ""),
		FFprobePath:         getEnv("FFPROBE_PATH", ""),

		JobTTL:         getEnvAsDuration("JOB_TTL", 24*time.Hour),
		StaleRunMaxAge: getEnvAsDuration("STALE_RUN_MAX_AGE", 2*time.Hour),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.TTSProvider {
	case "elevenlabs":
		if len(c.ElevenLabsAPIKeys) == 0 {
			return errors.New("ELEVENLABS_API_KEYS is required for the elevenlabs provider")
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return errors.New("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unsupported TTS_PROVIDER %q: use elevenlabs, openai or gemini", c.TTSProvider)
	}
	if c.SynthesisMaxAttempts <= 0 {
		return errors.New("SYNTHESIS_MAX_ATTEMPTS must be positive")
	}
	if c.SynthesisTimeout <= 0 {
		return errors.New("SYNTHESIS_TIMEOUT must be positive")
	}
	if c.CaptionMaxChars <= 0 {
		return errors.New("CAPTION_MAX_CHARS must be positive")
	}
	if c.CaptionMaxChunks < 0 {
		return errors.New("CAPTION_MAX_CHUNKS must not be negative")
	}
	if c.CaptionTiming != "proportional" && c.CaptionTiming != "uniform" {
		return fmt.Errorf("unsupported CAPTION_TIMING %q: use proportional or uniform", c.CaptionTiming)
	}
	if c.VideoWidth <= 0 || c.VideoHeight <= 0 {
		return errors.New("VIDEO_WIDTH and VIDEO_HEIGHT must be positive")
	}
	if c.VideoFPS <= 0 {
		return errors.New("VIDEO_FPS must be positive")
	}
	if c.EmptyNarrationLength <= 0 {
		return errors.New("EMPTY_NARRATION_SECONDS must be positive")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func parseAPIKeys(keysStr string) []string {
	if keysStr == "" {
		return []string{}
	}
	keys := strings.Split(keysStr, ",")
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		trimmed := strings.TrimSpace(key)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func (c *Config) String() string {
	return fmt.Sprintf("Config{Port: %s, TTS: %s, ElevenLabs Keys: %d, Captions: %s/%d chars, Video: %dx%d@%d}",
		c.Port, c.TTSProvider, len(c.ElevenLabsAPIKeys), c.CaptionTiming, c.CaptionMaxChars,
		c.VideoWidth, c.VideoHeight, c.VideoFPS)
}
