package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultElevenLabsURL   = "https://api.elevenlabs.io"
	DefaultElevenLabsVoice = "21m00Tcm4TlvDq8ikWAM"
	DefaultElevenLabsModel = "eleven_monolingual_v1"
)

// ElevenLabs calls the ElevenLabs text-to-speech REST API and returns mp3.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	model   string
	baseURL string
	http    *http.Client
}

type ElevenLabsOption func(*ElevenLabs)

func WithElevenLabsURL(u string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.baseURL = strings.TrimRight(u, "/") }
}

func WithElevenLabsHTTPClient(c *http.Client) ElevenLabsOption {
	return func(e *ElevenLabs) { e.http = c }
}

func NewElevenLabs(apiKey, voiceID, model string, opts ...ElevenLabsOption) *ElevenLabs {
	if voiceID == "" {
		voiceID = DefaultElevenLabsVoice
	}
	if model == "" {
		model = DefaultElevenLabsModel
	}
	e := &ElevenLabs{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   model,
		baseURL: DefaultElevenLabsURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Audio, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       e.model,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.http.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Audio{}, fmt.Errorf("read elevenlabs response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Audio{}, fmt.Errorf("elevenlabs returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if len(data) == 0 {
		return Audio{}, ErrEmptyAudio
	}
	return Audio{Data: data, Ext: ".mp3", ContentType: "audio/mpeg"}, nil
}
