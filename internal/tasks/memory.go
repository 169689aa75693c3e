package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][]*Task
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists: make(map[string][]*Task),
		now:   time.Now,
	}
}

func (s *MemoryStore) List(_ context.Context, listID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.openLocked(listID)), nil
}

func (s *MemoryStore) Get(_ context.Context, listID, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.findLocked(listID, id)
	if t == nil {
		return Task{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) Create(_ context.Context, listID, title string) (Task, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	t := &Task{
		ID:        uuid.NewString(),
		ListID:    listID,
		Title:     title,
		Position:  len(s.openLocked(listID)) + 1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.lists[listID] = append(s.lists[listID], t)
	return *t, nil
}

func (s *MemoryStore) Update(_ context.Context, listID, id string, patch Patch) (Task, error) {
	var title string
	if patch.Title != nil {
		var err error
		if title, err = normalizeTitle(*patch.Title); err != nil {
			return Task{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(listID, id)
	if t == nil {
		return Task{}, ErrNotFound
	}
	if patch.Title != nil {
		t.Title = title
	}
	if patch.Completed != nil && *patch.Completed != t.Completed {
		if *patch.Completed {
			t.Completed = true
			t.Position = 0
		} else {
			t.Position = len(s.openLocked(listID)) + 1
			t.Completed = false
		}
		s.renumberLocked(listID)
	}
	t.UpdatedAt = s.now().UTC()
	return *t, nil
}

func (s *MemoryStore) Delete(_ context.Context, listID, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.lists[listID]
	for i, t := range all {
		if t.ID != id {
			continue
		}
		s.lists[listID] = append(all[:i:i], all[i+1:]...)
		s.renumberLocked(listID)
		return *t, nil
	}
	return Task{}, ErrNotFound
}

func (s *MemoryStore) Move(_ context.Context, listID, id string, position int) (Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(listID, id)
	if t == nil {
		return Task{}, 0, ErrNotFound
	}
	previous := t.Position
	if t.Completed {
		return *t, previous, nil
	}

	open := s.openLocked(listID)
	position = clampPosition(position, len(open))
	ordered := make([]*Task, 0, len(open))
	for _, o := range open {
		if o.ID != id {
			ordered = append(ordered, o)
		}
	}
	ordered = append(ordered[:position-1], append([]*Task{t}, ordered[position-1:]...)...)
	now := s.now().UTC()
	for i, o := range ordered {
		if o.Position != i+1 {
			o.Position = i + 1
			o.UpdatedAt = now
		}
	}
	return *t, previous, nil
}

func (s *MemoryStore) CountOpen(_ context.Context, listID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.openLocked(listID)), nil
}

func (s *MemoryStore) ClearOpen(_ context.Context, listID string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := cloneAll(s.openLocked(listID))
	kept := make([]*Task, 0, len(s.lists[listID]))
	for _, t := range s.lists[listID] {
		if t.Completed {
			kept = append(kept, t)
		}
	}
	s.lists[listID] = kept
	return deleted, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) findLocked(listID, id string) *Task {
	for _, t := range s.lists[listID] {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// openLocked returns the open tasks of a list ordered by position.
func (s *MemoryStore) openLocked(listID string) []*Task {
	open := make([]*Task, 0, len(s.lists[listID]))
	for _, t := range s.lists[listID] {
		if !t.Completed {
			open = append(open, t)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].Position < open[j].Position
	})
	return open
}

func (s *MemoryStore) renumberLocked(listID string) {
	for i, t := range s.openLocked(listID) {
		t.Position = i + 1
	}
}

func clampPosition(position, openCount int) int {
	if position < 1 {
		return 1
	}
	if openCount > 0 && position > openCount {
		return openCount
	}
	return position
}

func cloneAll(in []*Task) []Task {
	out := make([]Task, 0, len(in))
	for _, t := range in {
		out = append(out, *t)
	}
	return out
}
