// Command generate-audio renders the voice phrase table into clips with a
// text-to-speech provider. Clips that already exist are kept, so reruns
// only fill gaps.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"alma/internal/cli"
	"alma/internal/config"
	"alma/internal/log"
	"alma/internal/tts"
	"alma/internal/voice"
)

func main() {
	provider := flag.String("provider", "", "override TTS_PROVIDER (none, elevenlabs, gemini)")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentTTS)
	cfg := cli.LoadConfig(logger, func(c *config.Config) error {
		if *provider != "" {
			c.TTSProvider = *provider
		}
		return c.ValidateGenerator()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	synth, err := synthesizer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create TTS provider", log.FieldError, err, "provider", cfg.TTSProvider)
		os.Exit(1)
	}

	var sink tts.Sink = tts.DirSink{Dir: cfg.AudioDir}
	if cfg.AudioBucket != "" {
		gcs, err := tts.NewGCSSink(ctx, cfg.AudioBucket, "")
		if err != nil {
			logger.Error("Failed to open audio bucket", log.FieldError, err, "bucket", cfg.AudioBucket)
			os.Exit(1)
		}
		defer gcs.Close()
		sink = gcs
	}

	report, err := tts.NewGenerator(synth, sink, logger, cfg.GenerateConcurrency).Run(ctx, voice.Phrases)
	if err != nil {
		logger.Error("Clip generation aborted", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Clip generation finished",
		"generated", len(report.Generated),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed))
	for key, err := range report.Failed {
		logger.Warn("Clip failed", log.FieldPhraseKey, key, log.FieldError, err)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}

// synthesizer returns nil for the "none" provider and when the ElevenLabs
// key is absent; the generator then only reports what is missing.
func synthesizer(ctx context.Context, cfg *config.Config, logger *log.Logger) (tts.Synthesizer, error) {
	switch cfg.TTSProvider {
	case config.TTSElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			logger.Warn("ELEVENLABS_API_KEY not set, skipping generation")
			return nil, nil
		}
		return tts.NewElevenLabs(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModel), nil
	case config.TTSGemini:
		return tts.NewGemini(ctx, cfg.GeminiModel, cfg.GeminiVoice)
	default:
		return nil, nil
	}
}
