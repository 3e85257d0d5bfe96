package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/umputun/tradejournal/app/web/enums"
)

// Session is a broker session stored per client code
type Session struct {
	ClientCode   string
	JWTToken     string
	RefreshToken string
	FeedToken    string
	AuthMode     enums.AuthMode
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time // zero means no known expiry
}

// Expired reports whether the session is past its expiry time
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type sessionRow struct {
	ClientCode   string         `db:"client_code"`
	JWTToken     string         `db:"jwt_token"`
	RefreshToken string         `db:"refresh_token"`
	FeedToken    string         `db:"feed_token"`
	AuthMode     enums.AuthMode `db:"auth_mode"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
	ExpiresAt    int64          `db:"expires_at"`
}

func (r sessionRow) session() Session {
	res := Session{
		ClientCode:   r.ClientCode,
		JWTToken:     r.JWTToken,
		RefreshToken: r.RefreshToken,
		FeedToken:    r.FeedToken,
		AuthMode:     r.AuthMode,
		CreatedAt:    time.Unix(r.CreatedAt, 0),
		UpdatedAt:    time.Unix(r.UpdatedAt, 0),
	}
	if r.ExpiresAt > 0 {
		res.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	}
	return res
}

// SaveSession inserts the session or replaces tokens of the existing one for the same client code.
// Existing created_at is kept on update.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess Session) error {
	if sess.ClientCode == "" {
		return errors.New("client code is required")
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	var expiresAt int64
	if !sess.ExpiresAt.IsZero() {
		expiresAt = sess.ExpiresAt.Unix()
	}

	row := sessionRow{
		ClientCode:   sess.ClientCode,
		JWTToken:     sess.JWTToken,
		RefreshToken: sess.RefreshToken,
		FeedToken:    sess.FeedToken,
		AuthMode:     sess.AuthMode,
		CreatedAt:    sess.CreatedAt.Unix(),
		UpdatedAt:    sess.UpdatedAt.Unix(),
		ExpiresAt:    expiresAt,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (client_code, jwt_token, refresh_token, feed_token, auth_mode, created_at, updated_at, expires_at)
		VALUES (:client_code, :jwt_token, :refresh_token, :feed_token, :auth_mode, :created_at, :updated_at, :expires_at)
		ON CONFLICT(client_code) DO UPDATE SET
			jwt_token = excluded.jwt_token,
			refresh_token = excluded.refresh_token,
			feed_token = excluded.feed_token,
			auth_mode = excluded.auth_mode,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`, row)
	if err != nil {
		return fmt.Errorf("failed to save session for %s: %w", sess.ClientCode, err)
	}
	return nil
}

// GetSession returns the session for the client code or ErrNotFound
func (s *SQLiteStore) GetSession(ctx context.Context, clientCode string) (Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE client_code = ?`, clientCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get session for %s: %w", clientCode, err)
	}
	return row.session(), nil
}

// DeleteSession removes the session for the client code, returns ErrNotFound if there was none
func (s *SQLiteStore) DeleteSession(ctx context.Context, clientCode string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE client_code = ?`, clientCode)
	if err != nil {
		return fmt.Errorf("failed to delete session for %s: %w", clientCode, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns all stored sessions ordered by client code
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows := []sessionRow{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM sessions ORDER BY client_code`); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	res := make([]Session, 0, len(rows))
	for _, r := range rows {
		res = append(res, r.session())
	}
	return res, nil
}

// PurgeExpired deletes sessions expired at the given time and returns how many were removed
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at > 0 AND expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}
