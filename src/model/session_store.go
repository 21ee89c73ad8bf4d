package model

import (
	"context"
	"fmt"
	"time"
)

// Session is one refresh-token grant. Refresh tokens are opaque and rotated on
// every use, so a stolen token stops working as soon as the real client
// refreshes.
type Session struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateSession stores a new refresh-token session.
func CreateSession(ctx context.Context, db DBTX, userID int64, refreshToken string, expiresAt time.Time) (Session, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, refresh_token, expires_at) VALUES (?, ?, ?)`,
		userID, refreshToken, expiresAt.UTC())
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Session{}, fmt.Errorf("session last insert id: %w", err)
	}
	return Session{ID: id, UserID: userID, RefreshToken: refreshToken, ExpiresAt: expiresAt.UTC()}, nil
}

// GetSessionByRefreshToken fetches a session, or sql.ErrNoRows.
func GetSessionByRefreshToken(ctx context.Context, db DBTX, refreshToken string) (Session, error) {
	var s Session
	err := db.QueryRowContext(ctx,
		`SELECT id, user_id, refresh_token, expires_at, created_at
		 FROM sessions WHERE refresh_token = ?`, refreshToken).
		Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		return Session{}, err
	}
	return s, nil
}

// DeleteSessionByRefreshToken revokes one session. Deleting an already-revoked
// token is not an error.
func DeleteSessionByRefreshToken(ctx context.Context, db DBTX, refreshToken string) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM sessions WHERE refresh_token = ?`, refreshToken)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteSessionsByUser revokes every session a user holds.
func DeleteSessionsByUser(ctx context.Context, db DBTX, userID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}
