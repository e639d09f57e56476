package voice

import (
	"context"
	"sync"
	"time"

	"alma/internal/log"
)

// Cue is one playback instruction for the browser. Seq increases with every
// cue a Player starts, so the page can drop stale instructions; Offset is
// always zero because a new cue restarts from the beginning.
type Cue struct {
	Key    string        `json:"key"`
	URL    string        `json:"url"`
	Seq    uint64        `json:"seq"`
	Offset time.Duration `json:"offset"`
}

// Player owns the single active playback of one session. Starting a cue
// replaces (stops and rewinds) whatever was playing.
type Player struct {
	mu        sync.Mutex
	lib       *Library
	logger    *log.Logger
	seq       uint64
	active    *Cue
	delivered uint64
	// silenced is set when a cue was stopped without a replacement and
	// the browser has not been told yet.
	silenced bool
}

func NewPlayer(lib *Library, logger *log.Logger) *Player {
	if logger == nil {
		logger = log.Discard()
	}
	return &Player{lib: lib, logger: logger.WithComponent(log.ComponentVoice)}
}

// Speak plays key, ignoring the outcome. It never blocks on audio and never
// fails the caller.
func (p *Player) Speak(ctx context.Context, key string) {
	p.Play(ctx, key)
}

// Play starts the clip for key. The current playback stops first, so a
// missing clip still silences it; the miss itself is only logged.
func (p *Player) Play(ctx context.Context, key string) (Cue, bool) {
	if key == "" || p == nil {
		return Cue{}, false
	}
	var clip Clip
	var err error
	if p.lib != nil {
		clip, err = p.lib.Resolve(ctx, key)
	} else {
		err = ErrClipNotFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	if err != nil {
		if p.active != nil {
			p.active = nil
			p.silenced = true
		}
		p.logger.WarnContext(ctx, "Audio clip missing", log.FieldPhraseKey, key, log.FieldError, err)
		return Cue{}, false
	}
	cue := Cue{Key: key, URL: clip.URL, Seq: p.seq}
	p.active = &cue
	p.silenced = false
	p.logger.DebugContext(ctx, "Audio cue started", log.FieldPhraseKey, key, "seq", cue.Seq)
	return cue, true
}

// Active returns the cue currently playing.
func (p *Player) Active() (Cue, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil {
		return Cue{}, false
	}
	return *p.active, true
}

// Stop ends the current playback. The caller tells the browser itself.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = nil
	p.silenced = false
}

// TakeSilenced reports, once, that playback was stopped by a cue that had
// no clip, so the page should stop its audio element.
func (p *Player) TakeSilenced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.silenced
	p.silenced = false
	return s
}

// Ended is reported by the browser when playback of seq finishes. Reports
// for superseded cues are ignored.
func (p *Player) Ended(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil && p.active.Seq == seq {
		p.active = nil
	}
}

// Pending returns the active cue if it has not been handed to the browser
// yet, and marks it handed over.
func (p *Player) Pending() (Cue, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active == nil || p.active.Seq <= p.delivered {
		return Cue{}, false
	}
	p.delivered = p.active.Seq
	return *p.active, true
}
