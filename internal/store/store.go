package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Store is the credential store. Every write runs in its own transaction.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// newStore creates a Store from a database connection.
func newStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: time.Now,
	}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const connectionColumns = `id, user_id, provider, access_token, refresh_token,
	token_expires_at, is_active, connection_data, created_at, updated_at`

func scanConnection(row rowScanner) (*Connection, error) {
	var (
		c            Connection
		accessToken  sql.NullString
		refreshToken sql.NullString
		expiresAt    sql.NullInt64
		data         sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &accessToken, &refreshToken,
		&expiresAt, &c.IsActive, &data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}

	c.AccessToken = accessToken.String
	c.RefreshToken = refreshToken.String
	if expiresAt.Valid {
		t := time.Unix(expiresAt.Int64, 0)
		c.TokenExpiresAt = &t
	}
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &c.Data); err != nil {
			return nil, fmt.Errorf("decoding connection_data for connection %d: %w", c.ID, err)
		}
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func encodeData(data map[string]string) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encoding connection_data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
