package tts

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"alma/internal/log"
	"alma/internal/voice"
)

// Report summarises one generator run.
type Report struct {
	Generated []string
	Skipped   []string
	Failed    map[string]error
}

// Generator renders every missing phrase clip. Existing clips are left
// alone, provider errors are logged and the run carries on.
type Generator struct {
	synth       Synthesizer
	sink        Sink
	logger      *log.Logger
	concurrency int
}

// NewGenerator accepts a nil synth, in which case nothing is generated.
func NewGenerator(synth Synthesizer, sink Sink, logger *log.Logger, concurrency int) *Generator {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Generator{synth: synth, sink: sink, logger: logger.WithComponent(log.ComponentTTS), concurrency: concurrency}
}

func (g *Generator) Run(ctx context.Context, phrases []voice.Phrase) (Report, error) {
	report := Report{Failed: map[string]error{}}
	var mu sync.Mutex
	record := func(list *[]string, key string) {
		mu.Lock()
		defer mu.Unlock()
		*list = append(*list, key)
	}

	if g.synth == nil {
		g.logger.WarnContext(ctx, "No TTS provider configured; skipping audio generation")
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, phrase := range phrases {
		eg.Go(func() error {
			exists, err := g.exists(ctx, phrase.Key)
			if err != nil {
				return err
			}
			if exists {
				g.logger.InfoContext(ctx, "Skipping clip (exists)", log.FieldPhraseKey, phrase.Key)
				record(&report.Skipped, phrase.Key)
				return nil
			}
			if g.synth == nil {
				record(&report.Skipped, phrase.Key)
				return nil
			}

			g.logger.InfoContext(ctx, "Generating clip", log.FieldPhraseKey, phrase.Key, "provider", g.synth.Name())
			audio, err := g.synth.Synthesize(ctx, phrase.Text)
			if err == nil {
				err = g.sink.Write(ctx, phrase.Key+audio.Ext, audio)
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.WarnContext(ctx, "Skipping clip (provider error)", log.FieldPhraseKey, phrase.Key, log.FieldError, err)
				mu.Lock()
				report.Failed[phrase.Key] = err
				mu.Unlock()
				return nil
			}
			g.logger.InfoContext(ctx, "Wrote clip", log.FieldPhraseKey, phrase.Key, "bytes", len(audio.Data))
			record(&report.Generated, phrase.Key)
			return nil
		})
	}
	err := eg.Wait()

	sort.Strings(report.Generated)
	sort.Strings(report.Skipped)
	return report, err
}

func (g *Generator) exists(ctx context.Context, key string) (bool, error) {
	for _, ext := range voice.Extensions {
		ok, err := g.sink.Exists(ctx, key+ext)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
