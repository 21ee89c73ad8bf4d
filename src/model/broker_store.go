package model

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/username/maplefolio/backend/src/models"
)

// UpsertBrokerConnection saves or replaces a user's broker credentials.
func UpsertBrokerConnection(ctx context.Context, db DBTX, conn models.BrokerConnection) error {
	var expires any
	if conn.TokenExpiresAt != nil {
		expires = conn.TokenExpiresAt.UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO broker_connections (user_id, refresh_token, access_token, api_server, token_expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			access_token = excluded.access_token,
			api_server = excluded.api_server,
			token_expires_at = excluded.token_expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		conn.UserID, conn.RefreshToken, conn.AccessToken, conn.APIServer, expires)
	if err != nil {
		return fmt.Errorf("upsert broker connection: %w", err)
	}
	return nil
}

// GetBrokerConnection fetches a user's broker connection, or sql.ErrNoRows.
func GetBrokerConnection(ctx context.Context, db DBTX, userID int64) (models.BrokerConnection, error) {
	var conn models.BrokerConnection
	var expires, lastSync sql.NullTime
	err := db.QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token, access_token, api_server, token_expires_at, last_sync_at
		FROM broker_connections WHERE user_id = ?`, userID).
		Scan(&conn.ID, &conn.UserID, &conn.RefreshToken, &conn.AccessToken, &conn.APIServer, &expires, &lastSync)
	if err != nil {
		return models.BrokerConnection{}, err
	}
	if expires.Valid {
		t := expires.Time
		conn.TokenExpiresAt = &t
	}
	if lastSync.Valid {
		t := lastSync.Time
		conn.LastSyncAt = &t
	}
	return conn, nil
}

// TouchBrokerConnectionSync records the completion time of a sync.
func TouchBrokerConnectionSync(ctx context.Context, db DBTX, userID int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE broker_connections SET last_sync_at = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		at.UTC(), userID)
	if err != nil {
		return fmt.Errorf("touch broker connection: %w", err)
	}
	return nil
}

// DeleteBrokerConnection removes a user's broker credentials.
func DeleteBrokerConnection(ctx context.Context, db DBTX, userID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM broker_connections WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete broker connection: %w", err)
	}
	return nil
}
