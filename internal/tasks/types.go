package tasks

import "time"

// Task is one entry of a task list. Open tasks carry contiguous 1-based
// positions; completed tasks drop out of the ordering.
type Task struct {
	ID        string    `json:"id"`
	ListID    string    `json:"-"`
	Title     string    `json:"title"`
	Completed bool      `json:"completed"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title     *string
	Completed *bool
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Completed == nil
}

// ResolvePosition turns a requested reorder position into an absolute 1-based
// one. Negative values count from the end of the open tasks, so -1 is last.
// The result is never below 1.
func ResolvePosition(requested, openCount int) int {
	pos := requested
	if pos < 0 {
		pos = openCount + pos + 1
	}
	if pos < 1 {
		pos = 1
	}
	return pos
}
