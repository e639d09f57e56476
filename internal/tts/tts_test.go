package tts

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alma/internal/voice"
)

type memorySink struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemorySink(existing ...string) *memorySink {
	s := &memorySink{files: map[string][]byte{}}
	for _, name := range existing {
		s.files[name] = []byte("x")
	}
	return s
}

func (m *memorySink) Exists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[name]
	return ok, nil
}

func (m *memorySink) Write(_ context.Context, name string, audio Audio) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = audio.Data
	return nil
}

type fakeSynth struct {
	fail map[string]bool
}

func (f fakeSynth) Name() string { return "fake" }

func (f fakeSynth) Synthesize(_ context.Context, text string) (Audio, error) {
	if f.fail[text] {
		return Audio{}, errors.New("quota exceeded")
	}
	return Audio{Data: []byte(text), Ext: ".mp3", ContentType: "audio/mpeg"}, nil
}

var testPhrases = []voice.Phrase{
	{Key: "cards", Text: "Cards"},
	{Key: "continue", Text: "Continue"},
	{Key: "support", Text: "Support"},
}

func TestGenerator_SkipsExistingClips(t *testing.T) {
	sink := newMemorySink("cards.mp3", "continue.wav")
	report, err := NewGenerator(fakeSynth{}, sink, nil, 2).Run(context.Background(), testPhrases)
	require.NoError(t, err)

	assert.Equal(t, []string{"support"}, report.Generated)
	assert.Equal(t, []string{"cards", "continue"}, report.Skipped)
	assert.Equal(t, []byte("Support"), sink.files["support.mp3"])
	assert.Equal(t, []byte("x"), sink.files["cards.mp3"], "existing clip untouched")
}

func TestGenerator_ContinuesAfterProviderError(t *testing.T) {
	sink := newMemorySink()
	synth := fakeSynth{fail: map[string]bool{"Continue": true}}
	report, err := NewGenerator(synth, sink, nil, 1).Run(context.Background(), testPhrases)
	require.NoError(t, err)

	assert.Equal(t, []string{"cards", "support"}, report.Generated)
	require.Contains(t, report.Failed, "continue")
	assert.NotContains(t, sink.files, "continue.mp3")
}

func TestGenerator_NoProvider(t *testing.T) {
	sink := newMemorySink()
	report, err := NewGenerator(nil, sink, nil, 4).Run(context.Background(), testPhrases)
	require.NoError(t, err)
	assert.Empty(t, report.Generated)
	assert.Len(t, report.Skipped, 3)
	assert.Empty(t, sink.files)
}

func TestDirSink(t *testing.T) {
	ctx := context.Background()
	sink := DirSink{Dir: filepath.Join(t.TempDir(), "audio")}

	ok, err := sink.Exists(ctx, "cards.mp3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sink.Write(ctx, "cards.mp3", Audio{Data: []byte("ID3")}))
	ok, err = sink.Exists(ctx, "cards.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := os.ReadDir(sink.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestElevenLabs_Synthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/"+DefaultElevenLabsVoice, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))
		var body elevenLabsRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Cards", body.Text)
		assert.Equal(t, DefaultElevenLabsModel, body.ModelID)
		assert.Equal(t, 0.75, body.VoiceSettings.SimilarityBoost)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	e := NewElevenLabs("secret", "", "", WithElevenLabsURL(srv.URL))
	audio, err := e.Synthesize(context.Background(), "Cards")
	require.NoError(t, err)
	assert.Equal(t, ".mp3", audio.Ext)
	assert.Equal(t, []byte("ID3mp3"), audio.Data)
}

func TestElevenLabs_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"invalid api key"}`))
	}))
	defer srv.Close()

	_, err := NewElevenLabs("bad", "", "", WithElevenLabsURL(srv.URL)).Synthesize(context.Background(), "Cards")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestWAVHeader(t *testing.T) {
	pcm := make([]byte, 480)
	wav := WAV(pcm, 24000, 1, 16)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
}

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 24000, sampleRate("audio/L16;codec=pcm;rate=24000"))
	assert.Equal(t, 16000, sampleRate("audio/L16; rate=16000"))
	assert.Zero(t, sampleRate("audio/wav"))
}
