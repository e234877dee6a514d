package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open connects to the SQLite database and runs schema migrations.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_foreign_keys=1", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	if err := migrate(conn); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return conn, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS decks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			owner_id TEXT NOT NULL DEFAULT 'anonymous',
			total_items INTEGER NOT NULL DEFAULT 0,
			studied_items INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS uploads (
			id TEXT PRIMARY KEY,
			deck_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			mimetype TEXT NOT NULL,
			filepath TEXT NOT NULL,
			text_content TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			deck_id TEXT NOT NULL,
			card_type TEXT NOT NULL CHECK(card_type IN ('mcq','true-false','fill-blank','free')),
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			explanation TEXT,
			choices_json TEXT,
			correct_key TEXT,
			difficulty TEXT,
			source TEXT,
			position INTEGER NOT NULL DEFAULT 0,
			due DATETIME,
			stability REAL NOT NULL DEFAULT 0,
			review_difficulty REAL NOT NULL DEFAULT 0,
			elapsed_days INTEGER NOT NULL DEFAULT 0,
			scheduled_days INTEGER NOT NULL DEFAULT 0,
			reps INTEGER NOT NULL DEFAULT 0,
			lapses INTEGER NOT NULL DEFAULT 0,
			state INTEGER NOT NULL DEFAULT 0,
			last_review DATETIME,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			deck_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK(role IN ('user','assistant')),
			content TEXT NOT NULL,
			card_id TEXT,
			session_id TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS quiz_sessions (
			id TEXT PRIMARY KEY,
			deck_id TEXT NOT NULL,
			total INTEGER NOT NULL DEFAULT 0,
			current_idx INTEGER NOT NULL DEFAULT 0,
			num_correct INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS quiz_answers (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			user_answer TEXT NOT NULL,
			is_correct INTEGER NOT NULL,
			feedback TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY(session_id) REFERENCES quiz_sessions(id) ON DELETE CASCADE,
			FOREIGN KEY(card_id) REFERENCES cards(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_decks_updated ON decks(updated_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_uploads_deck ON uploads(deck_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id, position);`,
		`CREATE INDEX IF NOT EXISTS idx_cards_due ON cards(due);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_deck ON chat_messages(deck_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_answers_session ON quiz_answers(session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("execute %q: %w", stmt, err)
		}
	}

	return nil
}
