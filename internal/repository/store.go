// Package repository persists chat documents.
package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Collections of documents kept by a Store.
const (
	CollectionSessions = "sessions"
	CollectionMessages = "messages"
	CollectionSettings = "settings"
)

// KeyAdminPassword is the settings key that holds the admin password hash.
const KeyAdminPassword = "admin_password"

// ErrInvalidKey is returned when a document key cannot be stored safely.
var ErrInvalidKey = errors.New("invalid document key")

// Document is a raw persisted document.
type Document struct {
	Key  string
	Body []byte
}

// Store persists opaque documents grouped into collections.
// Get returns nil, nil when the document does not exist.
type Store interface {
	GetDocument(ctx context.Context, collection, key string) ([]byte, error)
	PutDocument(ctx context.Context, collection, key string, body []byte) error
	DeleteDocument(ctx context.Context, collection, key string) (bool, error)
	ListDocuments(ctx context.Context, collection string) ([]Document, error)
	Close() error
}

// Open selects a backend by name. Unknown names fall back to the file store.
func Open(backend, dataDir, databaseURL string) (Store, error) {
	if backend != "sqlite" {
		return NewFileStore(dataDir)
	}
	if databaseURL != ":memory:" && !strings.HasPrefix(databaseURL, "file:") {
		if err := os.MkdirAll(filepath.Dir(databaseURL), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	return NewSQLiteStore(databaseURL)
}
