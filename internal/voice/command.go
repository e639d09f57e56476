package voice

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"alma/internal/core"
)

var (
	ErrCommandBusy    = errors.New("a voice command is already being processed")
	ErrCommandClosed  = errors.New("voice command session closed")
	ErrNotUnderstood  = errors.New("sorry, I didn't catch that")
	ErrNotListening   = errors.New("not listening")
	ErrUnknownCommand = errors.New("sorry, I can only send money for now")
	ErrAmountTooLarge = errors.New("sorry, that amount is too large to send by voice")
)

type CommandState int

const (
	CommandIdle CommandState = iota
	CommandListening
	CommandProcessing
	CommandSuccess
	CommandFailed
)

func (s CommandState) String() string {
	switch s {
	case CommandIdle:
		return "idle"
	case CommandListening:
		return "listening"
	case CommandProcessing:
		return "processing"
	case CommandSuccess:
		return "success"
	case CommandFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CommandResult is what a transcript resolved to.
type CommandResult struct {
	Transcript string
	Amount     core.Money
	To         core.Contact
}

// Resolver turns a transcript into a command.
type Resolver interface {
	Resolve(transcript string) (CommandResult, error)
}

type ResolverFunc func(transcript string) (CommandResult, error)

func (f ResolverFunc) Resolve(transcript string) (CommandResult, error) {
	return f(transcript)
}

// ContactResolver understands "send 20 to Sarah" against a contact list.
type ContactResolver struct {
	Contacts []core.Contact
}

var (
	numberPattern  = regexp.MustCompile(`\d(?:[\d.,]*\d)?`)
	groupedPattern = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?$`)
	plainPattern   = regexp.MustCompile(`^\d+(?:[.,]\d{1,2})?$`)
)

// spokenAmount reads the first number in text. Commas group thousands
// ("1,000") unless they are followed by one or two final digits ("12,50").
func spokenAmount(text string) (int64, bool) {
	raw := numberPattern.FindString(text)
	switch {
	case raw == "":
		return 0, false
	case groupedPattern.MatchString(raw):
		raw = strings.ReplaceAll(raw, ",", "")
	case !plainPattern.MatchString(raw):
		return 0, false
	}
	cents, err := core.ParseDecimalToCents(raw)
	if err != nil {
		return 0, false
	}
	return cents, true
}

// FitsKeypad reports whether m can be typed into the transfer keypad.
func FitsKeypad(m core.Money) bool {
	return len(m.String()) <= core.MaxAmountLength
}

func (r ContactResolver) Resolve(transcript string) (CommandResult, error) {
	text := strings.ToLower(strings.TrimSpace(transcript))
	if text == "" {
		return CommandResult{}, ErrNotUnderstood
	}
	if !strings.Contains(text, "send") && !strings.Contains(text, "pay") {
		return CommandResult{}, ErrUnknownCommand
	}

	cents, ok := spokenAmount(text)
	if !ok {
		return CommandResult{}, ErrNotUnderstood
	}
	if !FitsKeypad(core.Money{Cents: cents}) {
		return CommandResult{}, ErrAmountTooLarge
	}

	contact, ok := r.match(text)
	if !ok {
		return CommandResult{}, ErrNotUnderstood
	}
	return CommandResult{Transcript: transcript, Amount: core.Money{Cents: cents}, To: contact}, nil
}

// match accepts the full contact name or its last word ("wilson" for
// "Dr. Wilson").
func (r ContactResolver) match(text string) (core.Contact, bool) {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})
	has := func(w string) bool {
		for _, x := range words {
			if x == w {
				return true
			}
		}
		return false
	}
	for _, c := range r.Contacts {
		name := strings.ToLower(c.Name)
		if strings.Contains(text, name) {
			return c, true
		}
		parts := strings.Fields(strings.NewReplacer(".", "").Replace(name))
		if len(parts) > 0 && has(parts[len(parts)-1]) {
			return c, true
		}
	}
	return core.Contact{}, false
}

// CommandSnapshot is a read-only view of a CommandSession.
type CommandSnapshot struct {
	State  CommandState
	Result CommandResult
	Err    error
}

// ErrorMessage returns the failure text for display.
func (s CommandSnapshot) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	msg := s.Err.Error()
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// CommandSession drives one press-and-hold voice command. Release schedules
// a single completion after the configured delay; Cancel and Close make any
// scheduled completion a no-op.
type CommandSession struct {
	mu       sync.Mutex
	state    CommandState
	gen      uint64
	timer    *time.Timer
	delay    time.Duration
	resolver Resolver
	result   CommandResult
	err      error
	closed   bool
	onDone   func(CommandSnapshot)
}

type CommandOption func(*CommandSession)

// WithDelay sets the simulated processing latency.
func WithDelay(d time.Duration) CommandOption {
	return func(s *CommandSession) { s.delay = d }
}

// WithResolver replaces the default contact resolver.
func WithResolver(r Resolver) CommandOption {
	return func(s *CommandSession) { s.resolver = r }
}

// OnDone registers a callback run after each completion, outside the lock.
func OnDone(f func(CommandSnapshot)) CommandOption {
	return func(s *CommandSession) { s.onDone = f }
}

func NewCommandSession(opts ...CommandOption) *CommandSession {
	s := &CommandSession{
		delay:    1500 * time.Millisecond,
		resolver: ContactResolver{Contacts: core.DefaultContacts},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Press starts listening. A finished command is discarded.
func (s *CommandSession) Press() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrCommandClosed
	case s.state == CommandProcessing:
		return ErrCommandBusy
	}
	s.state = CommandListening
	s.result, s.err = CommandResult{}, nil
	return nil
}

// Release stops listening and schedules processing of transcript.
func (s *CommandSession) Release(transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrCommandClosed
	}
	if s.state != CommandListening {
		return ErrNotListening
	}
	s.state = CommandProcessing
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.complete(gen, transcript) })
	return nil
}

func (s *CommandSession) complete(gen uint64, transcript string) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.state != CommandProcessing {
		s.mu.Unlock()
		return
	}
	res, err := s.resolver.Resolve(transcript)
	s.timer = nil
	if err != nil {
		s.state, s.err = CommandFailed, err
	} else {
		s.state, s.result = CommandSuccess, res
	}
	snap := s.snapshotLocked()
	done := s.onDone
	s.mu.Unlock()

	if done != nil {
		done(snap)
	}
}

// Cancel abandons listening or processing and returns to idle.
func (s *CommandSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.state = CommandIdle
	s.result, s.err = CommandResult{}, nil
}

func (s *CommandSession) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Close cancels any pending completion and rejects further use.
func (s *CommandSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.closed = true
	s.state = CommandIdle
}

// Fail turns a recognised command into a failed one, e.g. when it cannot
// be applied. Other states are left alone.
func (s *CommandSession) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == CommandSuccess {
		s.state, s.result, s.err = CommandFailed, CommandResult{}, err
	}
}

// Dismiss clears a finished command.
func (s *CommandSession) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == CommandSuccess || s.state == CommandFailed {
		s.state = CommandIdle
		s.result, s.err = CommandResult{}, nil
	}
}

func (s *CommandSession) Snapshot() CommandSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *CommandSession) snapshotLocked() CommandSnapshot {
	return CommandSnapshot{State: s.state, Result: s.result, Err: s.err}
}
