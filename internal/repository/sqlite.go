package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			body BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(collection, updated_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetDocument reads a document, returning nil when it does not exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, collection, key string) ([]byte, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, key, err)
	}
	return body, nil
}

// PutDocument inserts or replaces a document in a single statement.
func (s *SQLiteStore) PutDocument(ctx context.Context, collection, key string, body []byte) error {
	if key == "" {
		return fmt.Errorf("%s: %w", collection, ErrInvalidKey)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, key, body, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", collection, key, err)
	}
	return nil
}

// DeleteDocument removes a document and reports whether it existed.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, collection, key string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND key = ?`,
		collection, key,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListDocuments returns every document of a collection ordered by key.
func (s *SQLiteStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, body FROM documents WHERE collection = ? ORDER BY key`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.Key, &doc.Body); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
