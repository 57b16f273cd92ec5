// Package storage provides the per-user document area every other store is
// built on. Each user owns a small set of named JSON documents that are always
// loaded and saved whole.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Document names a persisted document inside a user's state root.
type Document string

const (
	Calendar       Document = "calendar.json"
	ScheduleConfig Document = "schedule_config.json"
	History        Document = "history.json"
	ActivePlan     Document = "active_plan.json"
	CurrentDraft   Document = "current_draft.json"
)

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Store is a load/save-whole-document key-value area partitioned by user.
type Store interface {
	Get(ctx context.Context, userID string, doc Document) ([]byte, error)
	Put(ctx context.Context, userID string, doc Document, data []byte) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, userID string, doc Document) error
	Exists(ctx context.Context, userID string, doc Document) (bool, error)
}

// Lister is implemented by stores that can enumerate the users they hold.
type Lister interface {
	Users(ctx context.Context) ([]string, error)
}

// Status tells a caller how a document load went.
type Status int

const (
	Missing Status = iota
	Loaded
	Corrupt
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Corrupt:
		return "corrupt"
	}
	return "missing"
}

// LoadJSON decodes a document into a T. A missing document yields the zero T
// and Missing; undecodable content yields the zero T and Corrupt and is logged.
// The error is only set when the backend itself failed.
func LoadJSON[T any](ctx context.Context, s Store, userID string, doc Document) (T, Status, error) {
	var v T
	data, err := s.Get(ctx, userID, doc)
	if errors.Is(err, ErrNotFound) {
		return v, Missing, nil
	}
	if err != nil {
		return v, Missing, fmt.Errorf("failed to read %s: %w", doc, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		slog.Warn("storage: corrupt document, using defaults", "user", userID, "document", doc, "error", err)
		var zero T
		return zero, Corrupt, nil
	}
	return v, Loaded, nil
}

// SaveJSON encodes v and stores it as doc.
func SaveJSON(ctx context.Context, s Store, userID string, doc Document, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", doc, err)
	}
	if err := s.Put(ctx, userID, doc, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", doc, err)
	}
	return nil
}

// Snapshot holds the raw content of a set of documents so a multi-document
// update can be undone.
type Snapshot struct {
	userID string
	docs   map[Document][]byte
}

// TakeSnapshot captures the current content of docs. Missing documents are
// remembered as missing and removed again on Restore.
func TakeSnapshot(ctx context.Context, s Store, userID string, docs ...Document) (*Snapshot, error) {
	snap := &Snapshot{userID: userID, docs: make(map[Document][]byte, len(docs))}
	for _, doc := range docs {
		data, err := s.Get(ctx, userID, doc)
		switch {
		case errors.Is(err, ErrNotFound):
			snap.docs[doc] = nil
		case err != nil:
			return nil, fmt.Errorf("failed to snapshot %s: %w", doc, err)
		default:
			snap.docs[doc] = data
		}
	}
	return snap, nil
}

// Restore writes every captured document back.
func (snap *Snapshot) Restore(ctx context.Context, s Store) error {
	var errs []error
	for doc, data := range snap.docs {
		var err error
		if data == nil {
			err = s.Delete(ctx, snap.userID, doc)
		} else {
			err = s.Put(ctx, snap.userID, doc, data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", doc, err))
		}
	}
	return errors.Join(errs...)
}
