package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps each user's documents as JSON files under
// <basePath>/users/<userID>/.
type FileStore struct {
	basePath string
}

// NewFileStore creates a new FileStore and ensures the base directory exists.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &FileStore{basePath: basePath}, nil
}

// sanitizeUserID makes the user id safe for use as a directory name.
func sanitizeUserID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.', r == '@':
			return r
		}
		return '_'
	}, id)
}

// UserDir returns the state root of a user.
func (s *FileStore) UserDir(userID string) string {
	dir := sanitizeUserID(userID)
	if dir == "." || dir == ".." {
		dir = "_"
	}
	return filepath.Join(s.basePath, "users", dir)
}

func (s *FileStore) path(userID string, doc Document) string {
	return filepath.Join(s.UserDir(userID), string(doc))
}

// Get reads a document.
func (s *FileStore) Get(_ context.Context, userID string, doc Document) ([]byte, error) {
	data, err := os.ReadFile(s.path(userID, doc))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document file: %w", err)
	}
	return data, nil
}

// Put writes a document through a temp file and rename so readers never see
// a half-written file.
func (s *FileStore) Put(_ context.Context, userID string, doc Document, data []byte) error {
	dir := s.UserDir(userID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create user directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+string(doc)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close document file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(userID, doc)); err != nil {
		return fmt.Errorf("failed to replace document file: %w", err)
	}
	return nil
}

// Delete removes a document file.
func (s *FileStore) Delete(_ context.Context, userID string, doc Document) error {
	err := os.Remove(s.path(userID, doc))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove document file: %w", err)
	}
	return nil
}

// Exists checks if a document file exists.
func (s *FileStore) Exists(_ context.Context, userID string, doc Document) (bool, error) {
	_, err := os.Stat(s.path(userID, doc))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat document file: %w", err)
	}
	return true, nil
}

// Users lists the state roots under the base directory.
func (s *FileStore) Users(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, "users"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []string
	for _, e := range entries {
		if e.IsDir() {
			users = append(users, e.Name())
		}
	}
	return users, nil
}
