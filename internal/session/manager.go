// Package session ties a browser to its server-side State through a signed
// cookie. States live in an LRU cache and are backed by the sessions table
// so the user id and backend cookies survive restarts and evictions.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"alma/internal/cache"
	"alma/internal/core"
	"alma/internal/gateway"
	"alma/internal/log"
	"alma/internal/storage"
	"alma/internal/voice"
	"alma/internal/wizard"
)

// Store is the durable side of the session cache.
type Store interface {
	SaveSession(ctx context.Context, rec storage.SessionRecord) error
	GetSession(ctx context.Context, id string) (storage.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
}

// PaymentsFactory builds the transfer executor a session's wizard uses.
type PaymentsFactory func(*State) wizard.Payments

type Config struct {
	Secret       []byte
	TTL          time.Duration
	CacheSize    int
	Secure       bool
	Locale       language.Tag
	Currency     string
	CommandDelay time.Duration
}

type Manager struct {
	cfg      Config
	signer   *Signer
	states   *cache.LRUCache[*State]
	store    Store
	backend  *gateway.Client
	library  *voice.Library
	payments PaymentsFactory
	logger   *log.Logger
	now      func() time.Time
}

// NewManager wires a session manager. store may be nil, in which case
// sessions only live in memory.
func NewManager(cfg Config, backend *gateway.Client, library *voice.Library, store Store, payments PaymentsFactory, logger *log.Logger) (*Manager, error) {
	signer, err := NewSigner(cfg.Secret, cfg.TTL)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("session manager needs a backend client")
	}
	if logger == nil {
		logger = log.Discard()
	}
	if cfg.CacheSize < 1 {
		cfg.CacheSize = 1000
	}
	if cfg.Locale == language.Und {
		cfg.Locale = language.BritishEnglish
	}
	m := &Manager{
		cfg:      cfg,
		signer:   signer,
		store:    store,
		backend:  backend,
		library:  library,
		payments: payments,
		logger:   logger.WithComponent(log.ComponentSession),
		now:      time.Now,
	}
	m.states = cache.NewLRUCache(cfg.CacheSize, cfg.TTL, cache.WithEvictCallback(func(id string, st *State) {
		st.close()
	}))
	return m, nil
}

// Cache exposes the state cache for registration with a cache.Manager.
func (m *Manager) Cache() cache.Cleaner {
	return m.states
}

// Load returns the State for the request's cookie. A missing, invalid or
// unknown cookie yields a fresh session and a new cookie on w.
func (m *Manager) Load(w http.ResponseWriter, r *http.Request) (*State, error) {
	ctx := r.Context()
	claims := m.claims(r)
	if claims != nil {
		if st, ok := m.states.Get(claims.SessionID); ok {
			return st, nil
		}
		if st := m.restore(ctx, claims); st != nil {
			m.states.Set(st.ID, st)
			return st, nil
		}
	}

	st := m.newState(uuid.NewString())
	st.SetLocale(core.MatchLocale(r.Header.Get("Accept-Language"), m.cfg.Locale))
	if err := m.issue(w, st); err != nil {
		return nil, err
	}
	m.states.Set(st.ID, st)
	m.logger.DebugContext(ctx, "Session created", log.FieldSessionID, st.ID)
	return st, nil
}

func (m *Manager) claims(r *http.Request) *Claims {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	claims, err := m.signer.Parse(c.Value)
	if err != nil {
		m.logger.DebugContext(r.Context(), "Ignoring session cookie", log.FieldError, err)
		return nil
	}
	return claims
}

// restore rebuilds an evicted session from the store, falling back to the
// identity carried in the cookie itself.
func (m *Manager) restore(ctx context.Context, claims *Claims) *State {
	st := m.newState(claims.SessionID)
	if m.store != nil {
		rec, err := m.store.GetSession(ctx, claims.SessionID)
		switch {
		case err == nil:
			st.setUser(rec.UserID, rec.Role)
			st.createdAt = rec.CreatedAt
			if tag, err := language.Parse(rec.Locale); err == nil {
				st.SetLocale(tag)
			}
			st.Backend.RestoreCookies(rec.Cookies)
			return st
		case !errors.Is(err, storage.ErrNotFound):
			m.logger.ErrorContext(ctx, "Failed to load session", log.FieldError, err, log.FieldSessionID, claims.SessionID)
		}
	}
	if claims.UserID == "" {
		return nil
	}
	st.setUser(claims.UserID, claims.Role)
	return st
}

func (m *Manager) newState(id string) *State {
	st := &State{
		ID:        id,
		locale:    m.cfg.Locale,
		createdAt: m.now(),
	}
	st.Backend = m.backend.NewSession()
	st.Player = voice.NewPlayer(m.library, m.logger)
	var payments wizard.Payments
	if m.payments != nil {
		payments = m.payments(st)
	}
	st.Wizard = wizard.New(payments, st.Player, wizard.WithCurrency(m.cfg.Currency))
	st.Command = voice.NewCommandSession(voice.WithDelay(m.cfg.CommandDelay))
	return st
}

func (m *Manager) issue(w http.ResponseWriter, st *State) error {
	token, exp, err := m.signer.Sign(st.ID, st.UserID(), st.Role())
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// SetUser records a successful login or signup, re-issues the cookie and
// persists the session.
func (m *Manager) SetUser(ctx context.Context, w http.ResponseWriter, st *State, userID, role string) error {
	st.setUser(userID, role)
	if err := m.issue(w, st); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "Session signed in",
		log.FieldSessionID, st.ID, log.FieldUserID, userID, log.FieldRole, role)
	return m.Persist(ctx, st)
}

// Clear signs the session out: the user id, backend cookies, wizard draft
// and voice state are all dropped.
func (m *Manager) Clear(ctx context.Context, w http.ResponseWriter, st *State) error {
	st.setUser("", "")
	st.Backend.Clear()
	st.Wizard.Reset()
	st.Command.Cancel()
	st.Player.Stop()
	if err := m.issue(w, st); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.DeleteSession(ctx, st.ID); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	m.logger.InfoContext(ctx, "Session signed out", log.FieldSessionID, st.ID)
	return nil
}

// Persist writes the durable part of st to the store.
func (m *Manager) Persist(ctx context.Context, st *State) error {
	if m.store == nil {
		return nil
	}
	now := m.now()
	rec := storage.SessionRecord{
		ID:        st.ID,
		UserID:    st.UserID(),
		Role:      st.Role(),
		Locale:    st.Locale().String(),
		Cookies:   st.Backend.Cookies(),
		CreatedAt: st.createdAt,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

type contextKey struct{}

// WithState returns a copy of ctx carrying st.
func WithState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, contextKey{}, st)
}

// FromContext returns the State put there by Middleware.
func FromContext(ctx context.Context) (*State, error) {
	st, ok := ctx.Value(contextKey{}).(*State)
	if !ok || st == nil {
		return nil, ErrNoSession
	}
	return st, nil
}

// Middleware loads the session for every request and persists it
// afterwards when the backend changed its cookies.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st, err := m.Load(w, r)
		if err != nil {
			m.logger.ErrorContext(r.Context(), "Failed to load session", log.FieldError, err)
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}

		ctx := WithState(r.Context(), st)
		ctx = log.WithContext(ctx, log.FromContext(ctx).With(log.FieldSessionID, st.ID))
		next.ServeHTTP(w, r.WithContext(ctx))

		if st.Backend.TakeDirty() && st.Authenticated() {
			if err := m.Persist(context.WithoutCancel(r.Context()), st); err != nil {
				m.logger.ErrorContext(r.Context(), "Failed to persist session", log.FieldError, err, log.FieldSessionID, st.ID)
			}
		}
	})
}
