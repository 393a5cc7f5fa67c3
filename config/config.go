// Package config loads bridge settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full bridge configuration.
type Config struct {
	// Port the HTTP/WebSocket server listens on.
	Port string

	// PublicURL is the base URL Twilio reaches this server at, e.g.
	// "https://bridge.example.com". The TwiML stream URL derives from it.
	PublicURL string

	// STTURL is the WebSocket URL of the speech-to-text service.
	STTURL string

	// TTSURL is the HTTP URL of the text-to-speech service.
	TTSURL string

	// ConversationURL, when set, routes dialogue turns to a remote
	// service instead of the embedded engine.
	ConversationURL string

	// TwilioAccountSID and TwilioAuthToken enable REST call control
	// (idle hangups). The bridge runs without them.
	TwilioAccountSID string
	TwilioAuthToken  string

	// Voice is the TTS voice name.
	Voice string

	// RestaurantName is used in spoken prompts.
	RestaurantName string

	// DebounceWindow is the minimum spacing between dialogue turns.
	DebounceWindow time.Duration

	// IdleTimeout is how long a silent call is kept before hangup.
	IdleTimeout time.Duration

	// SeatCeiling is the per-slot seat capacity.
	SeatCeiling int

	// LogLevel is the zap level name ("debug", "info", "warn", "error").
	LogLevel string
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		PublicURL:        os.Getenv("PUBLIC_WEBHOOK_URL"),
		STTURL:           getEnv("STT_URL", "ws://localhost:8765/asr"),
		TTSURL:           getEnv("TTS_URL", "http://localhost:8880/tts"),
		ConversationURL:  os.Getenv("CONVERSATION_URL"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		Voice:            getEnv("TTS_VOICE", "af_heart"),
		RestaurantName:   getEnv("RESTAURANT_NAME", "Bella Vista"),
		DebounceWindow:   getEnvDuration("TURN_DEBOUNCE", 1500*time.Millisecond),
		IdleTimeout:      getEnvDuration("CALL_IDLE_TIMEOUT", 600*time.Second),
		SeatCeiling:      getEnvInt("SEAT_CEILING", 30),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if cfg.PublicURL == "" {
		return nil, fmt.Errorf("PUBLIC_WEBHOOK_URL is required")
	}
	if cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("CALL_IDLE_TIMEOUT must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
