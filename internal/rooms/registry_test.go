package rooms

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistryIssueGet(t *testing.T) {
	r := NewRegistry(time.Minute)
	room := r.Issue("default", "tok")
	if !strings.HasPrefix(room.Name, "agent-room-") || len(room.Name) != len("agent-room-")+16 {
		t.Fatalf("room name = %q", room.Name)
	}
	if !strings.HasPrefix(room.Identity, "user-") {
		t.Fatalf("identity = %q", room.Identity)
	}

	got, err := r.Get(room.Name)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ListID != "default" || got.ToolToken != "tok" || got.Status != StatusIssued {
		t.Fatalf("unexpected room: %+v", got)
	}
	if other := r.Issue("default", "tok2"); other.Name == room.Name {
		t.Fatalf("room names repeat: %q", other.Name)
	}
	if r.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", r.ActiveCount())
	}
	if _, err := r.Get("nope"); err != ErrNotFound {
		t.Fatalf("Get(nope) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryJanitorExpiresRooms(t *testing.T) {
	r := NewRegistry(30 * time.Millisecond)
	var hooked atomic.Int32
	r.SetExpireHook(func(room *Room) {
		if room.Status != StatusExpired {
			t.Errorf("hook saw status %q", room.Status)
		}
		hooked.Add(1)
	})
	room := r.Issue("default", "tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	if hooked.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", hooked.Load())
	}
	if r.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", r.ActiveCount())
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := r.Get(room.Name); err != ErrNotFound {
		t.Fatalf("Get() after sweep error = %v, want ErrNotFound", err)
	}
}
