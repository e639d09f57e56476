package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Session struct {
	ID        string
	UserID    string
	Role      string
	Locale    string
	Cookies   string
	CreatedAt int64
	UpdatedAt int64
	ExpiresAt int64
}

const upsertSession = `
INSERT INTO sessions (id, user_id, role, locale, cookies, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    user_id = excluded.user_id,
    role = excluded.role,
    locale = excluded.locale,
    cookies = excluded.cookies,
    updated_at = excluded.updated_at,
    expires_at = excluded.expires_at
`

func (q *Queries) UpsertSession(ctx context.Context, arg Session) error {
	_, err := q.db.ExecContext(ctx, upsertSession,
		arg.ID, arg.UserID, arg.Role, arg.Locale, arg.Cookies,
		arg.CreatedAt, arg.UpdatedAt, arg.ExpiresAt)
	return err
}

const getSession = `
SELECT id, user_id, role, locale, cookies, created_at, updated_at, expires_at
FROM sessions WHERE id = ? AND expires_at > ?
`

func (q *Queries) GetSession(ctx context.Context, id string, now int64) (Session, error) {
	row := q.db.QueryRowContext(ctx, getSession, id, now)
	var s Session
	err := row.Scan(&s.ID, &s.UserID, &s.Role, &s.Locale, &s.Cookies, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt)
	return s, err
}

const deleteSession = `DELETE FROM sessions WHERE id = ?`

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, deleteSession, id)
	return err
}

const deleteExpiredSessions = `DELETE FROM sessions WHERE expires_at <= ?`

func (q *Queries) DeleteExpiredSessions(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteExpiredSessions, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type CarerAlert struct {
	ID           int64
	EventID      string
	UserID       string
	Kind         string
	Recipient    string
	AmountCents  int64
	Currency     string
	Reason       string
	CreatedAt    int64
	Acknowledged int64
}

const insertAlert = `
INSERT INTO carer_alerts (event_id, user_id, kind, recipient, amount_cents, currency, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (event_id) DO NOTHING
`

func (q *Queries) InsertAlert(ctx context.Context, arg CarerAlert) (int64, error) {
	res, err := q.db.ExecContext(ctx, insertAlert,
		arg.EventID, arg.UserID, arg.Kind, arg.Recipient,
		arg.AmountCents, arg.Currency, arg.Reason, arg.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listAlerts = `
SELECT id, event_id, user_id, kind, recipient, amount_cents, currency, reason, created_at, acknowledged
FROM carer_alerts
WHERE user_id IN (SELECT value FROM json_each(?))
  AND (? = 1 OR acknowledged = 0)
ORDER BY created_at DESC, id DESC
LIMIT ?
`

// ListAlerts takes the user ids as a JSON array.
func (q *Queries) ListAlerts(ctx context.Context, userIDs string, includeAcknowledged bool, limit int64) ([]CarerAlert, error) {
	include := 0
	if includeAcknowledged {
		include = 1
	}
	rows, err := q.db.QueryContext(ctx, listAlerts, userIDs, include, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []CarerAlert
	for rows.Next() {
		var a CarerAlert
		if err := rows.Scan(&a.ID, &a.EventID, &a.UserID, &a.Kind, &a.Recipient,
			&a.AmountCents, &a.Currency, &a.Reason, &a.CreatedAt, &a.Acknowledged); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const acknowledgeAlert = `
UPDATE carer_alerts SET acknowledged = 1
WHERE id = ? AND user_id IN (SELECT value FROM json_each(?))
`

func (q *Queries) AcknowledgeAlert(ctx context.Context, id int64, userIDs string) (int64, error) {
	res, err := q.db.ExecContext(ctx, acknowledgeAlert, id, userIDs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
