package rooms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIssued  Status = "issued"
	StatusExpired Status = "expired"
)

var ErrNotFound = errors.New("room not found")

// Room is one issued room: the names handed to the client plus the tool token
// the dispatched agent uses against the task API.
type Room struct {
	Name      string    `json:"room_name"`
	Identity  string    `json:"identity"`
	ListID    string    `json:"list_id"`
	ToolToken string    `json:"-"`
	Status    Status    `json:"status"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Registry tracks issued rooms until their retention window lapses.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*Room
	retention time.Duration
	onExpire  func(*Room)
}

func NewRegistry(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 30 * time.Minute
	}
	return &Registry{
		rooms:     make(map[string]*Room),
		retention: retention,
	}
}

func (r *Registry) SetExpireHook(hook func(*Room)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

// Issue allocates a fresh room name ("agent-room-<hex>") and participant
// identity ("user-<hex>") for listID.
func (r *Registry) Issue(listID, toolToken string) *Room {
	now := time.Now().UTC()
	room := &Room{
		Name:      "agent-room-" + randomHex(16),
		Identity:  "user-" + randomHex(8),
		ListID:    listID,
		ToolToken: toolToken,
		Status:    StatusIssued,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.retention),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[room.Name] = room
	return clone(room)
}

func (r *Registry) Get(name string) (*Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[name]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(room), nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, room := range r.rooms {
		if room.Status == StatusIssued {
			count++
		}
	}
	return count
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expire()
			}
		}
	}()
}

func (r *Registry) expire() {
	now := time.Now().UTC()
	var expired []*Room

	r.mu.Lock()
	for name, room := range r.rooms {
		switch {
		case room.Status == StatusExpired:
			delete(r.rooms, name)
		case !now.Before(room.ExpiresAt):
			room.Status = StatusExpired
			expired = append(expired, clone(room))
		}
	}
	hook := r.onExpire
	r.mu.Unlock()

	if hook != nil {
		for _, room := range expired {
			hook(room)
		}
	}
}

func randomHex(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func clone(r *Room) *Room {
	c := *r
	return &c
}
