package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xiaot623/gogo/chatroom/internal/domain"
	"github.com/xiaot623/gogo/chatroom/internal/observability"
)

// FileStore implements Store with one JSON file per document:
// <root>/sessions/<id>.json, <root>/messages/<id>.json and <root>/<setting>.
type FileStore struct {
	root string
}

// NewFileStore creates the directory layout under root.
func NewFileStore(root string) (*FileStore, error) {
	for _, dir := range []string{root, filepath.Join(root, CollectionSessions), filepath.Join(root, CollectionMessages)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) path(collection, key string) (string, error) {
	if !domain.ValidID(key) {
		return "", fmt.Errorf("%s/%q: %w", collection, key, ErrInvalidKey)
	}
	if collection == CollectionSettings {
		return filepath.Join(s.root, key), nil
	}
	return filepath.Join(s.root, collection, key+".json"), nil
}

// GetDocument reads a document. Invalid keys read as absent.
func (s *FileStore) GetDocument(ctx context.Context, collection, key string) ([]byte, error) {
	path, err := s.path(collection, key)
	if err != nil {
		return nil, nil
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", collection, key, err)
	}
	return body, nil
}

// PutDocument replaces a document atomically: a reader sees the old or the new body, never a partial one.
func (s *FileStore) PutDocument(ctx context.Context, collection, key string, body []byte) error {
	path, err := s.path(collection, key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s/%s: %w", collection, key, err)
	}
	return nil
}

// DeleteDocument removes a document and reports whether it existed.
func (s *FileStore) DeleteDocument(ctx context.Context, collection, key string) (bool, error) {
	path, err := s.path(collection, key)
	if err != nil {
		return false, nil
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, key, err)
	}
	return true, nil
}

// ListDocuments returns every document of a collection ordered by key.
// Unreadable files are logged and skipped.
func (s *FileStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	if collection == CollectionSettings {
		return nil, fmt.Errorf("collection %s cannot be listed", collection)
	}
	entries, err := os.ReadDir(filepath.Join(s.root, collection))
	if errors.Is(err, fs.ErrNotExist) {
		return []Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.root, collection, name))
		if err != nil {
			observability.Logger().Warn("skipping unreadable document", "collection", collection, "file", name, "error", err)
			continue
		}
		docs = append(docs, Document{Key: strings.TrimSuffix(name, ".json"), Body: body})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}
