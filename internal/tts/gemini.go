package tts

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel = "gemini-2.5-flash-preview-tts"
	DefaultGeminiVoice = "Kore"

	defaultSampleRate = 24000
)

// Gemini renders speech with a Gemini TTS model. The model answers with raw
// 16-bit PCM, which is wrapped into a WAV container.
type Gemini struct {
	client *genai.Client
	model  string
	voice  string
}

// NewGemini creates a client from the environment (GEMINI_API_KEY or
// Application Default Credentials for Vertex AI).
func NewGemini(ctx context.Context, model, voice string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if voice == "" {
		voice = DefaultGeminiVoice
	}
	return &Gemini{client: client, model: model, voice: voice}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Synthesize(ctx context.Context, text string) (Audio, error) {
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: g.voice},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText("Say clearly and warmly: "+text, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return Audio{}, fmt.Errorf("generate speech: %w", err)
	}
	pcm, rate := audioFromResponse(resp)
	if len(pcm) == 0 {
		return Audio{}, ErrEmptyAudio
	}
	return Audio{Data: WAV(pcm, rate, 1, 16), Ext: ".wav", ContentType: "audio/wav"}, nil
}

func audioFromResponse(resp *genai.GenerateContentResponse) ([]byte, int) {
	if resp == nil {
		return nil, 0
	}
	var pcm []byte
	rate := defaultSampleRate
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			if r := sampleRate(part.InlineData.MIMEType); r > 0 {
				rate = r
			}
			pcm = append(pcm, part.InlineData.Data...)
		}
	}
	return pcm, rate
}

// sampleRate reads the rate parameter of a mime type such as
// "audio/L16;codec=pcm;rate=24000".
func sampleRate(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
	}
	return 0
}

// WAV wraps little-endian PCM samples in a RIFF/WAVE header.
func WAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}
