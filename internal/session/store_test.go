package session

import (
	"context"
	"testing"

	"github.com/olavhq/olav/internal/olaverr"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	th, err := store.Create(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if th.State != StateIdle {
		t.Fatalf("expected Idle, got %v", th.State)
	}

	got, err := store.Get(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != th.ID || got.ClientID != "client-1" {
		t.Fatalf("unexpected thread: %+v", got)
	}
}

func TestMemoryStore_GetMissingNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nonexistent")
	if olaverr.KindOf(err) != olaverr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestMemoryStore_SaveIsolatesCallerMutation(t *testing.T) {
	store := NewMemoryStore()
	th, err := store.Create(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	th.Messages = append(th.Messages, Message{Role: RoleUser, Content: "hello"})
	if err := store.Save(context.Background(), th); err != nil {
		t.Fatalf("save: %v", err)
	}

	th.Messages[0].Content = "mutated after save"

	got, err := store.Get(context.Background(), th.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Messages[0].Content != "hello" {
		t.Fatalf("expected stored copy to be unaffected by later caller mutation, got %q", got.Messages[0].Content)
	}
}

func TestMemoryStore_SaveUnknownThreadNotFound(t *testing.T) {
	store := NewMemoryStore()
	err := store.Save(context.Background(), &Thread{ID: "ghost"})
	if olaverr.KindOf(err) != olaverr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
