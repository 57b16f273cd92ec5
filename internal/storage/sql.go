package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ai-meal-calendar/internal/database"
)

// SQLStore keeps documents in the documents table, one row per user and name.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore initializes the SQLStore with an existing database connection.
func NewSQLStore(db *database.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Get(ctx context.Context, userID string, doc Document) ([]byte, error) {
	var data string
	err := s.db.SQL.QueryRowContext(ctx,
		s.db.Rebind(`SELECT data FROM documents WHERE user_id = ? AND name = ?`),
		sanitizeUserID(userID), string(doc),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return []byte(data), nil
}

func (s *SQLStore) Put(ctx context.Context, userID string, doc Document, data []byte) error {
	_, err := s.db.SQL.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO documents (user_id, name, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, name) DO UPDATE
		SET data = excluded.data, updated_at = excluded.updated_at`),
		sanitizeUserID(userID), string(doc), string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, userID string, doc Document) error {
	_, err := s.db.SQL.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM documents WHERE user_id = ? AND name = ?`),
		sanitizeUserID(userID), string(doc),
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (s *SQLStore) Exists(ctx context.Context, userID string, doc Document) (bool, error) {
	var n int
	err := s.db.SQL.QueryRowContext(ctx,
		s.db.Rebind(`SELECT COUNT(*) FROM documents WHERE user_id = ? AND name = ?`),
		sanitizeUserID(userID), string(doc),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check document: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.SQL.QueryContext(ctx, `SELECT DISTINCT user_id FROM documents ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
