// Package tts renders the voice phrase table into audio clips ahead of time.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyAudio is returned when a provider answers without audio data.
var ErrEmptyAudio = errors.New("provider returned no audio")

// Audio is one rendered clip. Ext is the file extension including the dot.
type Audio struct {
	Data        []byte
	Ext         string
	ContentType string
}

// Synthesizer turns text into speech.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Sink stores generated clips by file name.
type Sink interface {
	Exists(ctx context.Context, name string) (bool, error)
	Write(ctx context.Context, name string, audio Audio) error
}
