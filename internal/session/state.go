package session

import (
	"sync"
	"time"

	"golang.org/x/text/language"

	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/voice"
	"alma/internal/wizard"
)

// State is everything the server keeps for one browser session: the
// backend cookies, the send-money draft, the voice player and the pending
// voice command.
type State struct {
	ID      string
	Backend *gateway.Session
	Wizard  *wizard.Wizard
	Player  *voice.Player
	Command *voice.CommandSession

	mu        sync.Mutex
	userID    string
	role      string
	locale    language.Tag
	createdAt time.Time
}

// UserID is empty until login or signup.
func (s *State) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *State) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

func (s *State) Authenticated() bool {
	return s.UserID() != ""
}

// IsOverseer reports whether the session belongs to a carer.
func (s *State) IsOverseer() bool {
	return s.Role() == core.RoleOverseer
}

func (s *State) Locale() language.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locale
}

func (s *State) SetLocale(tag language.Tag) {
	s.mu.Lock()
	s.locale = tag
	s.mu.Unlock()
}

func (s *State) setUser(userID, role string) {
	s.mu.Lock()
	s.userID, s.role = userID, role
	s.mu.Unlock()
}

func (s *State) close() {
	if s.Command != nil {
		s.Command.Close()
	}
	if s.Player != nil {
		s.Player.Stop()
	}
}
