package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tomoboard-server/core"
	"tomoboard-server/stores/storetest"
)

func TestMain(m *testing.M) {
	if !CGOEnabled {
		fmt.Println("skipping sqlite store tests: CGO disabled")
		os.Exit(0)
	}

	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() { s.(*store).Close() })
	return s.(*store)
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return setupTestDB(t) })
}

func TestNewStore_CreatesFileAndTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	defer s.(*store).db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("NewStore() did not create database file")
	}

	for _, table := range []string{"whiteboards", "collaborators", "chat_messages", "rooms"} {
		var name string
		err := s.(*store).db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("%s table not created: %v", table, err)
		}
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	first, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	wb := storetest.NewWhiteboard("alice", true)
	if err := first.CreateWhiteboard(ctx, wb); err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}
	first.(*store).db.Close()

	second, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore() on existing file failed: %v", err)
	}
	defer second.(*store).db.Close()

	got, err := second.GetWhiteboard(ctx, wb.ID)
	if err != nil {
		t.Fatalf("GetWhiteboard() after reopen failed: %v", err)
	}
	if !got.CreatedAt.Equal(wb.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, wb.CreatedAt)
	}
}

func TestCreateChatMessage_MissingBoard(t *testing.T) {
	s := setupTestDB(t)
	err := s.CreateChatMessage(context.Background(), &core.ChatMessage{
		ID: "m1", WhiteboardID: "missing", UserID: "alice", Content: "hi", Type: core.MessageText, CreatedAt: time.Now(),
	})
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("CreateChatMessage() error = %v, want ErrNotFound", err)
	}
}

func TestTouchRoom_UpdatesLastActive(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, err := s.db.Exec("INSERT INTO rooms (room_id, last_active) VALUES ('r1', 1)"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := s.TouchRoom(ctx, "r1"); err != nil {
		t.Fatalf("TouchRoom() failed: %v", err)
	}

	rooms, err := s.ListRooms(ctx)
	if err != nil || len(rooms) != 1 {
		t.Fatalf("ListRooms() = %v, %v", rooms, err)
	}
	if rooms[0].LastActive <= 1 {
		t.Errorf("LastActive = %d, want refreshed", rooms[0].LastActive)
	}
}
