package store

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// Provider connections, one row per (user, provider)
		`CREATE TABLE IF NOT EXISTS connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT,
			refresh_token TEXT,
			token_expires_at INTEGER,
			is_active INTEGER NOT NULL DEFAULT 0,
			connection_data TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (user_id, provider),
			CHECK (is_active = 0 OR access_token IS NOT NULL)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_connections_user ON connections(user_id)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
