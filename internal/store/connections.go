package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetActiveConnection returns the user's active connection for provider
func (s *Store) GetActiveConnection(ctx context.Context, userID int64, provider string) (*Connection, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM connections
		WHERE user_id = ? AND provider = ? AND is_active = 1
	`, userID, provider)
	return scanConnection(row)
}

// GetConnectionByState finds the pending connection carrying the given OAuth state
func (s *Store) GetConnectionByState(ctx context.Context, provider, state string) (*Connection, error) {
	if state == "" {
		return nil, ErrConnectionNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+connectionColumns+`
		FROM connections
		WHERE provider = ? AND json_extract(connection_data, '$.state') = ?
	`, provider, state)
	return scanConnection(row)
}

// ListConnections returns all of a user's connections, newest first
func (s *Store) ListConnections(ctx context.Context, userID int64) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connectionColumns+`
		FROM connections
		WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

// SaveConnection inserts or replaces the user's connection for c.Provider.
// On success c.ID, c.CreatedAt and c.UpdatedAt reflect the stored row.
func (s *Store) SaveConnection(ctx context.Context, c *Connection) error {
	if c.IsActive && c.AccessToken == "" {
		return fmt.Errorf("saving connection: active connection requires an access token")
	}
	data, err := encodeData(c.Data)
	if err != nil {
		return err
	}
	now := s.now()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var id, createdAt int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO connections (user_id, provider, access_token, refresh_token,
				token_expires_at, is_active, connection_data, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, provider) DO UPDATE SET
				access_token = excluded.access_token,
				refresh_token = excluded.refresh_token,
				token_expires_at = excluded.token_expires_at,
				is_active = excluded.is_active,
				connection_data = excluded.connection_data,
				updated_at = excluded.updated_at
			RETURNING id, created_at
		`, c.UserID, c.Provider, nullString(c.AccessToken), nullString(c.RefreshToken),
			nullUnix(c.TokenExpiresAt), c.IsActive, data, now.Unix(), now.Unix()).Scan(&id, &createdAt)
		if err != nil {
			return fmt.Errorf("saving connection: %w", err)
		}
		c.ID = id
		c.CreatedAt = time.Unix(createdAt, 0)
		c.UpdatedAt = time.Unix(now.Unix(), 0)
		return nil
	})
}

// UpdateTokens stores a refreshed token set on an active connection.
// An empty refreshToken keeps the stored refresh token.
func (s *Store) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	if accessToken == "" {
		return fmt.Errorf("updating tokens: access token is required")
	}
	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE connections
			SET access_token = ?,
				refresh_token = COALESCE(?, refresh_token),
				token_expires_at = ?,
				updated_at = ?
			WHERE id = ? AND is_active = 1
		`, accessToken, nullString(refreshToken), nullUnix(exp), s.now().Unix(), id)
		if err != nil {
			return fmt.Errorf("updating tokens: %w", err)
		}
		return requireRow(result)
	})
}

// DeactivateConnection clears all token material and marks the connection
// inactive, both in the database and on c.
func (s *Store) DeactivateConnection(ctx context.Context, c *Connection) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE connections
			SET access_token = NULL,
				refresh_token = NULL,
				token_expires_at = NULL,
				is_active = 0,
				updated_at = ?
			WHERE id = ?
		`, s.now().Unix(), c.ID)
		if err != nil {
			return fmt.Errorf("deactivating connection: %w", err)
		}
		return requireRow(result)
	})
	if err != nil {
		return err
	}
	c.ClearTokens()
	return nil
}

// DeleteConnection removes one of the user's connections
func (s *Store) DeleteConnection(ctx context.Context, userID, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM connections WHERE id = ? AND user_id = ?
		`, id, userID)
		if err != nil {
			return fmt.Errorf("deleting connection: %w", err)
		}
		return requireRow(result)
	})
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConnectionNotFound
	}
	return nil
}
