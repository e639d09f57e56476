// Package storage keeps the little durable state the web front end owns:
// browser sessions and the carer alerts raised by the alert worker.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist (or a session expired).
var ErrNotFound = errors.New("not found")

// Alert kinds.
const (
	AlertLargePayment  = "large_payment"
	AlertPaymentFailed = "payment_failed"
)

// SessionRecord is the persisted part of a browser session: the identity
// and the backend cookies needed to resume it.
type SessionRecord struct {
	ID        string
	UserID    string
	Role      string
	Locale    string
	Cookies   []*http.Cookie
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Alert is a notification for the overseer about a managed user's transfer.
type Alert struct {
	ID           int64
	EventID      string
	UserID       string
	Kind         string
	Recipient    string
	AmountCents  int64
	Currency     string
	Reason       string
	CreatedAt    time.Time
	Acknowledged bool
}

type storedCookie struct {
	Name    string    `json:"name"`
	Value   string    `json:"value"`
	Path    string    `json:"path,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveSession inserts or replaces a session.
func (r *SQLiteRepository) SaveSession(ctx context.Context, s SessionRecord) error {
	cookies := make([]storedCookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		cookies = append(cookies, storedCookie{Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires})
	}
	raw, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("encode session cookies: %w", err)
	}

	now := r.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	err = r.queries.UpsertSession(ctx, Session{
		ID:        s.ID,
		UserID:    s.UserID,
		Role:      s.Role,
		Locale:    s.Locale,
		Cookies:   string(raw),
		CreatedAt: s.CreatedAt.Unix(),
		UpdatedAt: now.Unix(),
		ExpiresAt: s.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession returns a live session or ErrNotFound.
func (r *SQLiteRepository) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	row, err := r.queries.GetSession(ctx, id, r.now().Unix())
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}

	var stored []storedCookie
	if err := json.Unmarshal([]byte(row.Cookies), &stored); err != nil {
		return SessionRecord{}, fmt.Errorf("decode session cookies: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires})
	}

	return SessionRecord{
		ID:        row.ID,
		UserID:    row.UserID,
		Role:      row.Role,
		Locale:    row.Locale,
		Cookies:   cookies,
		CreatedAt: time.Unix(row.CreatedAt, 0),
		UpdatedAt: time.Unix(row.UpdatedAt, 0),
		ExpiresAt: time.Unix(row.ExpiresAt, 0),
	}, nil
}

func (r *SQLiteRepository) DeleteSession(ctx context.Context, id string) error {
	if err := r.queries.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpiredSessions removes expired sessions and returns how many went.
func (r *SQLiteRepository) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := r.queries.DeleteExpiredSessions(ctx, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired sessions purged", "count", n)
	}
	return n, nil
}

// InsertAlert stores an alert once per event id. It reports false when the
// event was already recorded, which makes redelivered messages harmless.
func (r *SQLiteRepository) InsertAlert(ctx context.Context, a Alert) (bool, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	n, err := r.queries.InsertAlert(ctx, CarerAlert{
		EventID:     a.EventID,
		UserID:      a.UserID,
		Kind:        a.Kind,
		Recipient:   a.Recipient,
		AmountCents: a.AmountCents,
		Currency:    a.Currency,
		Reason:      a.Reason,
		CreatedAt:   a.CreatedAt.Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Carer alert saved", "event_id", a.EventID, "kind", a.Kind, "amount_cents", a.AmountCents)
	}
	return n > 0, nil
}

// userSet encodes ids for the json_each filters. An empty set matches
// nothing.
func userSet(userIDs []string) (string, error) {
	if userIDs == nil {
		userIDs = []string{}
	}
	raw, err := json.Marshal(userIDs)
	if err != nil {
		return "", fmt.Errorf("encode user ids: %w", err)
	}
	return string(raw), nil
}

// ListAlerts returns the newest alerts raised for userIDs first.
func (r *SQLiteRepository) ListAlerts(ctx context.Context, userIDs []string, limit int, includeAcknowledged bool) ([]Alert, error) {
	if limit <= 0 {
		limit = 50
	}
	users, err := userSet(userIDs)
	if err != nil {
		return nil, err
	}
	rows, err := r.queries.ListAlerts(ctx, users, includeAcknowledged, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	alerts := make([]Alert, len(rows))
	for i, a := range rows {
		alerts[i] = Alert{
			ID:           a.ID,
			EventID:      a.EventID,
			UserID:       a.UserID,
			Kind:         a.Kind,
			Recipient:    a.Recipient,
			AmountCents:  a.AmountCents,
			Currency:     a.Currency,
			Reason:       a.Reason,
			CreatedAt:    time.Unix(a.CreatedAt, 0),
			Acknowledged: a.Acknowledged != 0,
		}
	}
	return alerts, nil
}

// AcknowledgeAlert marks alert id as seen. An alert that does not belong
// to one of userIDs is reported as ErrNotFound.
func (r *SQLiteRepository) AcknowledgeAlert(ctx context.Context, userIDs []string, id int64) error {
	users, err := userSet(userIDs)
	if err != nil {
		return err
	}
	n, err := r.queries.AcknowledgeAlert(ctx, id, users)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
