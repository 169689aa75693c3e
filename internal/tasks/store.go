package tasks

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("task not found")
	ErrTitleMissing = errors.New("title can't be blank")
)

// Store persists task lists. Every call is scoped by list id.
type Store interface {
	List(ctx context.Context, listID string) ([]Task, error)
	Get(ctx context.Context, listID, id string) (Task, error)
	Create(ctx context.Context, listID, title string) (Task, error)
	Update(ctx context.Context, listID, id string, patch Patch) (Task, error)
	Delete(ctx context.Context, listID, id string) (Task, error)
	// Move places an open task at position (clamped to 1..open count) and
	// returns the moved task together with its previous position.
	Move(ctx context.Context, listID, id string, position int) (Task, int, error)
	CountOpen(ctx context.Context, listID string) (int, error)
	// ClearOpen deletes every open task and returns what was deleted.
	ClearOpen(ctx context.Context, listID string) ([]Task, error)
	Close() error
}

// NewStore returns a Postgres store when databaseURL is set and an in-memory
// store otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrTitleMissing
	}
	return title, nil
}
