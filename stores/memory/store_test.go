package memory

import (
	"context"
	"encoding/json"
	"testing"

	"tomoboard-server/core"
	"tomoboard-server/stores/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return NewStore() })
}

func TestNewStore(t *testing.T) {
	if NewStore() == nil {
		t.Fatal("NewStore() returned nil")
	}
}

func TestGetWhiteboard_ReturnsCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	wb := storetest.NewWhiteboard("alice", false)
	if err := s.CreateWhiteboard(ctx, wb); err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}

	got, _ := s.GetWhiteboard(ctx, wb.ID)
	got.CanvasData[0] = 'X'
	got.Title = "mutated"

	again, _ := s.GetWhiteboard(ctx, wb.ID)
	if again.Title == "mutated" || !json.Valid(again.CanvasData) {
		t.Error("caller mutation leaked into the store")
	}
}

func TestStoreIsolation(t *testing.T) {
	a := NewStore()
	b := NewStore()
	ctx := context.Background()

	wb := storetest.NewWhiteboard("alice", false)
	if err := a.CreateWhiteboard(ctx, wb); err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}
	if _, err := b.GetWhiteboard(ctx, wb.ID); err == nil {
		t.Error("stores share state")
	}
}
