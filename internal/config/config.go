// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
)

// TTS providers.
const (
	TTSNone       = "none"
	TTSElevenLabs = "elevenlabs"
	TTSGemini     = "gemini"
)

type Config struct {
	// HTTP Server
	Port     string `env:"PORT" envDefault:"8081"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Banking backend
	BackendURL     string        `env:"BACKEND_URL" envDefault:"http://localhost:8000"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" envDefault:"10s"`
	BackendRetries int           `env:"BACKEND_RETRIES" envDefault:"2"`

	// Sessions
	SessionSecret    string        `env:"SESSION_SECRET"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionCacheSize int           `env:"SESSION_CACHE_SIZE" envDefault:"1000"`
	SecureCookies    bool          `env:"SECURE_COOKIES" envDefault:"false"`

	// Database
	SQLiteDBPath string `env:"SQLITE_DB_PATH" envDefault:"./data/alma.db"`

	// AMQP, optional: without a URL no transfer events are published
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"alma"`
	AMQPQueue    string `env:"AMQP_QUEUE" envDefault:"transfer_events"`

	// Alerts
	LargePaymentThreshold decimal.Decimal `env:"LARGE_PAYMENT_THRESHOLD" envDefault:"200.00"`
	// Transfers in other currencies are never compared with the threshold.
	LargePaymentCurrency string `env:"LARGE_PAYMENT_CURRENCY" envDefault:"GBP"`

	// Voice
	AudioDir          string        `env:"AUDIO_DIR" envDefault:"./web/static/audio"`
	AudioBaseURL      string        `env:"AUDIO_BASE_URL" envDefault:"/audio/"`
	VoiceCommandDelay time.Duration `env:"VOICE_COMMAND_DELAY" envDefault:"1500ms"`

	// Display
	Locale          string `env:"LOCALE" envDefault:"en-GB"`
	DisplayCurrency string `env:"DISPLAY_CURRENCY" envDefault:"GBP"`

	// Clip generation
	TTSProvider         string `env:"TTS_PROVIDER" envDefault:"none"`
	ElevenLabsAPIKey    string `env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID   string `env:"ELEVENLABS_VOICE_ID" envDefault:"21m00Tcm4TlvDq8ikWAM"`
	ElevenLabsModel     string `env:"ELEVENLABS_MODEL" envDefault:"eleven_monolingual_v1"`
	GeminiModel         string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash-preview-tts"`
	GeminiVoice         string `env:"GEMINI_VOICE" envDefault:"Kore"`
	AudioBucket         string `env:"AUDIO_BUCKET"`
	GenerateConcurrency int    `env:"GENERATE_CONCURRENCY" envDefault:"2"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &cfg, nil
}

// LocaleTag returns the configured display locale.
func (c *Config) LocaleTag() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.BritishEnglish
	}
	return tag
}

// ClipBaseURL is where browsers fetch voice clips. With AUDIO_BUCKET set
// and AUDIO_BASE_URL left at its local default, clips are fetched from the
// bucket's public endpoint.
func (c *Config) ClipBaseURL() string {
	if c.AudioBucket != "" && (c.AudioBaseURL == "" || c.AudioBaseURL == "/audio/") {
		return "https://storage.googleapis.com/" + c.AudioBucket + "/"
	}
	return c.AudioBaseURL
}

// Validate checks the settings the web server needs and returns every
// problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid backend URL '%s': must be an http(s) URL", c.BackendURL))
	}
	if c.BackendTimeout < 100*time.Millisecond || c.BackendTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid backend timeout %v: must be between 100ms and 2m", c.BackendTimeout))
	}
	if c.BackendRetries < 0 || c.BackendRetries > 5 {
		errors = append(errors, fmt.Sprintf("invalid backend retries %d: must be between 0 and 5", c.BackendRetries))
	}

	if len(c.SessionSecret) < 16 {
		errors = append(errors, "SESSION_SECRET must be at least 16 characters")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.SessionCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid session cache size %d: must be at least 1", c.SessionCacheSize))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	errors = append(errors, c.validateAMQP()...)

	if !c.LargePaymentThreshold.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid large payment threshold %s: must be positive", c.LargePaymentThreshold))
	}
	if len(c.LargePaymentCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid large payment currency '%s': must be a 3-letter code", c.LargePaymentCurrency))
	}
	if c.VoiceCommandDelay < 0 || c.VoiceCommandDelay > 30*time.Second {
		errors = append(errors, fmt.Sprintf("invalid voice command delay %v: must be between 0 and 30s", c.VoiceCommandDelay))
	}
	if _, err := language.Parse(c.Locale); err != nil {
		errors = append(errors, fmt.Sprintf("invalid locale '%s': %v", c.Locale, err))
	}
	if len(c.DisplayCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid display currency '%s': must be a 3-letter code", c.DisplayCurrency))
	}

	return joinErrors(errors)
}

// ValidateWorker checks only what the alert worker needs.
func (c *Config) ValidateWorker() error {
	var errors []string
	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	}
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for the alert worker")
	}
	errors = append(errors, c.validateAMQP()...)
	if !c.LargePaymentThreshold.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid large payment threshold %s: must be positive", c.LargePaymentThreshold))
	}
	if len(c.LargePaymentCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid large payment currency '%s': must be a 3-letter code", c.LargePaymentCurrency))
	}
	return joinErrors(errors)
}

// ValidateGenerator checks the clip generator settings.
func (c *Config) ValidateGenerator() error {
	var errors []string
	switch c.TTSProvider {
	case TTSNone, TTSGemini:
	case TTSElevenLabs:
		// a missing key is reported by the generator as a skip, not a failure
	default:
		errors = append(errors, fmt.Sprintf("invalid TTS provider '%s': must be one of [none elevenlabs gemini]", c.TTSProvider))
	}
	if c.AudioDir == "" && c.AudioBucket == "" {
		errors = append(errors, "either AUDIO_DIR or AUDIO_BUCKET must be set")
	}
	if c.GenerateConcurrency < 1 || c.GenerateConcurrency > 16 {
		errors = append(errors, fmt.Sprintf("invalid generate concurrency %d: must be between 1 and 16", c.GenerateConcurrency))
	}
	return joinErrors(errors)
}

func (c *Config) validateAMQP() []string {
	if c.AMQPURL == "" {
		return nil
	}
	var errors []string
	if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
		errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
	}
	if c.AMQPExchange == "" {
		errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPQueue == "" {
		errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
	}
	return errors
}

func joinErrors(errors []string) error {
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}
