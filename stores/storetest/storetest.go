// Package storetest holds the behaviour every core.Store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tomoboard-server/core"

	"github.com/oklog/ulid/v2"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) core.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, newStore(t)) })
	t.Run("CreateDuplicate", func(t *testing.T) { testCreateDuplicate(t, newStore(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("PartialUpdateKeepsCanvas", func(t *testing.T) { testPartialUpdate(t, newStore(t)) })
	t.Run("SaveCanvas", func(t *testing.T) { testSaveCanvas(t, newStore(t)) })
	t.Run("ListForUser", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Collaborators", func(t *testing.T) { testCollaborators(t, newStore(t)) })
	t.Run("ChatHistory", func(t *testing.T) { testChat(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("Rooms", func(t *testing.T) { testRooms(t, newStore(t)) })
	t.Run("ConcurrentCanvasWrites", func(t *testing.T) { testConcurrentSave(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
}

func NewWhiteboard(owner string, public bool) *core.Whiteboard {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &core.Whiteboard{
		ID:          ulid.Make().String(),
		OwnerID:     owner,
		Title:       "Board of " + owner,
		Description: "test board",
		IsPublic:    public,
		CanvasData:  core.DefaultCanvasData,
		Settings:    core.DefaultSettings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func mustCreate(t *testing.T, s core.Store, wb *core.Whiteboard) {
	t.Helper()
	if err := s.CreateWhiteboard(context.Background(), wb); err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}
}

func sameJSON(t *testing.T, got, want json.RawMessage) bool {
	t.Helper()
	var a, b any
	if err := json.Unmarshal(got, &a); err != nil {
		t.Fatalf("stored JSON is invalid: %v (%s)", err, got)
	}
	if err := json.Unmarshal(want, &b); err != nil {
		t.Fatalf("expected JSON is invalid: %v", err)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	return string(ja) == string(jb)
}

func testCreateGet(t *testing.T, s core.Store) {
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	got, err := s.GetWhiteboard(context.Background(), wb.ID)
	if err != nil {
		t.Fatalf("GetWhiteboard() failed: %v", err)
	}
	if got.OwnerID != "alice" || got.Title != wb.Title || got.IsPublic {
		t.Errorf("GetWhiteboard() = %+v", got)
	}
	if !sameJSON(t, got.CanvasData, core.DefaultCanvasData) {
		t.Errorf("canvas data = %s, want default", got.CanvasData)
	}
	if !sameJSON(t, got.Settings, core.DefaultSettings) {
		t.Errorf("settings = %s, want default", got.Settings)
	}
}

func testGetNotFound(t *testing.T, s core.Store) {
	_, err := s.GetWhiteboard(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetWhiteboard() error = %v, want ErrNotFound", err)
	}
	if err := s.SaveCanvas(context.Background(), "missing", json.RawMessage(`{}`)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("SaveCanvas() error = %v, want ErrNotFound", err)
	}
}

func testCreateDuplicate(t *testing.T, s core.Store) {
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)
	if err := s.CreateWhiteboard(context.Background(), wb); !errors.Is(err, core.ErrAlreadyExists) {
		t.Errorf("CreateWhiteboard() duplicate error = %v, want ErrAlreadyExists", err)
	}
}

func testUpdate(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	title := "Renamed"
	public := true
	updatedAt := wb.UpdatedAt.Add(time.Minute)
	got, err := s.UpdateWhiteboard(ctx, wb.ID, core.WhiteboardPatch{
		Title:     &title,
		IsPublic:  &public,
		Settings:  json.RawMessage(`{"grid":false}`),
		UpdatedAt: updatedAt,
	})
	if err != nil {
		t.Fatalf("UpdateWhiteboard() failed: %v", err)
	}
	if got.Title != "Renamed" || !got.IsPublic || !got.UpdatedAt.Equal(updatedAt) {
		t.Errorf("UpdateWhiteboard() returned %+v", got)
	}

	stored, err := s.GetWhiteboard(ctx, wb.ID)
	if err != nil {
		t.Fatalf("GetWhiteboard() failed: %v", err)
	}
	if stored.Title != "Renamed" || !stored.IsPublic || !sameJSON(t, stored.Settings, json.RawMessage(`{"grid":false}`)) {
		t.Errorf("updated whiteboard = %+v", stored)
	}
	if stored.Description != wb.Description {
		t.Errorf("description = %q, want it untouched", stored.Description)
	}

	if _, err := s.UpdateWhiteboard(ctx, "missing", core.WhiteboardPatch{Title: &title}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("UpdateWhiteboard() of missing board error = %v, want ErrNotFound", err)
	}
}

// testPartialUpdate checks that fields left out of a patch keep a value written after the
// caller last read the board.
func testPartialUpdate(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	live := json.RawMessage(`{"objects":["live"]}`)
	if err := s.SaveCanvas(ctx, wb.ID, live); err != nil {
		t.Fatalf("SaveCanvas() failed: %v", err)
	}

	title := "Title only"
	got, err := s.UpdateWhiteboard(ctx, wb.ID, core.WhiteboardPatch{Title: &title, UpdatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("UpdateWhiteboard() failed: %v", err)
	}
	if got.Title != title {
		t.Errorf("title = %q, want %q", got.Title, title)
	}

	stored, err := s.GetWhiteboard(ctx, wb.ID)
	if err != nil {
		t.Fatalf("GetWhiteboard() failed: %v", err)
	}
	if !sameJSON(t, stored.CanvasData, live) {
		t.Errorf("canvas after title-only update = %s, want %s", stored.CanvasData, live)
	}
	if !sameJSON(t, stored.Settings, core.DefaultSettings) {
		t.Errorf("settings after title-only update = %s", stored.Settings)
	}
	if stored.IsPublic {
		t.Error("title-only update changed visibility")
	}
}

func testUsers(t *testing.T, s core.Store) {
	ctx := context.Background()
	for _, u := range []*core.UserProfile{
		{ID: "u1", Username: "alice", FirstName: "Alice", LastName: "Liddell"},
		{ID: "u2", Username: "alicia", FirstName: "Alicia", LastName: "Keys"},
		{ID: "u3", Username: "bob", FirstName: "Robert", LastName: "Alison"},
		{ID: "u4", Username: "carol_x", FirstName: "Carol"},
	} {
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser(%s) failed: %v", u.ID, err)
		}
	}

	if err := s.UpsertUser(ctx, &core.UserProfile{ID: "u1", Username: "alice", Avatar: "/a.png"}); err != nil {
		t.Fatalf("second UpsertUser() failed: %v", err)
	}
	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() failed: %v", err)
	}
	if got.Avatar != "/a.png" || got.FirstName != "" {
		t.Errorf("GetUser() after upsert = %+v, want the latest profile", got)
	}
	if _, err := s.GetUser(ctx, "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetUser() of unknown user error = %v, want ErrNotFound", err)
	}

	found, err := s.SearchUsers(ctx, "ALI", "u1", 10)
	if err != nil {
		t.Fatalf("SearchUsers() failed: %v", err)
	}
	ids := make([]string, 0, len(found))
	for _, u := range found {
		ids = append(ids, u.ID)
	}
	if len(ids) != 2 || ids[0] != "u2" || ids[1] != "u3" {
		t.Errorf("SearchUsers(ALI) = %v, want [u2 u3] without the caller", ids)
	}

	if found, _ := s.SearchUsers(ctx, "ali", "", 1); len(found) != 1 {
		t.Errorf("SearchUsers() with limit 1 returned %d", len(found))
	}
	if found, _ := s.SearchUsers(ctx, "l_x", "", 10); len(found) != 1 || found[0].ID != "u4" {
		t.Errorf("SearchUsers(l_x) = %v, want only carol_x", found)
	}
	if found, _ := s.SearchUsers(ctx, "a%", "", 10); len(found) != 0 {
		t.Errorf("SearchUsers() treated %% as a wildcard: %v", found)
	}
}

func testSaveCanvas(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	canvas := json.RawMessage(`{"version":"5.3.0","objects":[{"type":"rect","left":10}]}`)
	if err := s.SaveCanvas(ctx, wb.ID, canvas); err != nil {
		t.Fatalf("SaveCanvas() failed: %v", err)
	}

	got, err := s.GetWhiteboard(ctx, wb.ID)
	if err != nil {
		t.Fatalf("GetWhiteboard() failed: %v", err)
	}
	if !sameJSON(t, got.CanvasData, canvas) {
		t.Errorf("canvas data = %s, want %s", got.CanvasData, canvas)
	}
	if got.Title != wb.Title {
		t.Errorf("SaveCanvas() changed title to %q", got.Title)
	}
}

func testList(t *testing.T, s core.Store) {
	ctx := context.Background()
	own := NewWhiteboard("alice", false)
	shared := NewWhiteboard("bob", false)
	public := NewWhiteboard("carol", true)
	hidden := NewWhiteboard("dave", false)
	for _, wb := range []*core.Whiteboard{own, shared, public, hidden} {
		mustCreate(t, s, wb)
	}
	if err := s.AddCollaborator(ctx, &core.Collaborator{
		ID: ulid.Make().String(), WhiteboardID: shared.ID, UserID: "alice", Role: core.RoleViewer, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AddCollaborator() failed: %v", err)
	}

	list, err := s.ListWhiteboards(ctx, "alice")
	if err != nil {
		t.Fatalf("ListWhiteboards() failed: %v", err)
	}

	seen := make(map[string]bool)
	for _, wb := range list {
		seen[wb.ID] = true
		if len(wb.CanvasData) != 0 {
			t.Errorf("ListWhiteboards() included canvas data for %s", wb.ID)
		}
	}
	if len(list) != 3 || !seen[own.ID] || !seen[shared.ID] || !seen[public.ID] {
		t.Errorf("ListWhiteboards() = %d boards, want own, shared and public", len(list))
	}
	if seen[hidden.ID] {
		t.Error("ListWhiteboards() leaked a private board")
	}
}

func testCollaborators(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	c := &core.Collaborator{ID: ulid.Make().String(), WhiteboardID: wb.ID, UserID: "bob", Role: core.RoleEditor, CreatedAt: time.Now().UTC()}
	if err := s.AddCollaborator(ctx, c); err != nil {
		t.Fatalf("AddCollaborator() failed: %v", err)
	}
	if err := s.AddCollaborator(ctx, c); !errors.Is(err, core.ErrAlreadyExists) {
		t.Errorf("duplicate AddCollaborator() error = %v, want ErrAlreadyExists", err)
	}

	got, err := s.GetCollaborator(ctx, wb.ID, "bob")
	if err != nil {
		t.Fatalf("GetCollaborator() failed: %v", err)
	}
	if got.Role != core.RoleEditor {
		t.Errorf("GetCollaborator() role = %q, want EDITOR", got.Role)
	}

	list, err := s.ListCollaborators(ctx, wb.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListCollaborators() = %v, %v; want one entry", list, err)
	}

	if err := s.RemoveCollaborator(ctx, wb.ID, "bob"); err != nil {
		t.Fatalf("RemoveCollaborator() failed: %v", err)
	}
	if _, err := s.GetCollaborator(ctx, wb.ID, "bob"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetCollaborator() after removal error = %v, want ErrNotFound", err)
	}
	if err := s.RemoveCollaborator(ctx, wb.ID, "bob"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second RemoveCollaborator() error = %v, want ErrNotFound", err)
	}
}

func testChat(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		msg := &core.ChatMessage{
			ID:           fmt.Sprintf("m%d-%s", i, ulid.Make().String()),
			WhiteboardID: wb.ID,
			UserID:       "alice",
			Content:      fmt.Sprintf("message %d", i),
			Type:         core.MessageText,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
			User:         &core.UserProfile{ID: "alice", Username: "alice"},
		}
		if err := s.CreateChatMessage(ctx, msg); err != nil {
			t.Fatalf("CreateChatMessage() failed: %v", err)
		}
	}

	got, err := s.ListChatMessages(ctx, wb.ID, 3)
	if err != nil {
		t.Fatalf("ListChatMessages() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ListChatMessages() returned %d, want 3", len(got))
	}
	for i, want := range []string{"message 2", "message 3", "message 4"} {
		if got[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Content, want)
		}
	}
	if got[0].User == nil || got[0].User.Username != "alice" {
		t.Errorf("message author = %+v, want alice", got[0].User)
	}
}

func testDelete(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)
	_ = s.AddCollaborator(ctx, &core.Collaborator{ID: ulid.Make().String(), WhiteboardID: wb.ID, UserID: "bob", Role: core.RoleViewer, CreatedAt: time.Now().UTC()})
	_ = s.CreateChatMessage(ctx, &core.ChatMessage{ID: ulid.Make().String(), WhiteboardID: wb.ID, UserID: "alice", Content: "hi", Type: core.MessageText, CreatedAt: time.Now().UTC()})

	if err := s.DeleteWhiteboard(ctx, wb.ID); err != nil {
		t.Fatalf("DeleteWhiteboard() failed: %v", err)
	}
	if _, err := s.GetWhiteboard(ctx, wb.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetWhiteboard() after delete error = %v, want ErrNotFound", err)
	}
	if list, _ := s.ListCollaborators(ctx, wb.ID); len(list) != 0 {
		t.Errorf("collaborators survived delete: %d", len(list))
	}
	if msgs, _ := s.ListChatMessages(ctx, wb.ID, 10); len(msgs) != 0 {
		t.Errorf("messages survived delete: %d", len(msgs))
	}
	if err := s.DeleteWhiteboard(ctx, wb.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second DeleteWhiteboard() error = %v, want ErrNotFound", err)
	}
}

func testRooms(t *testing.T, s core.Store) {
	ctx := context.Background()
	if err := s.TouchRoom(ctx, "room-a"); err != nil {
		t.Fatalf("TouchRoom() failed: %v", err)
	}
	if err := s.TouchRoom(ctx, "room-b"); err != nil {
		t.Fatalf("TouchRoom() failed: %v", err)
	}
	if err := s.TouchRoom(ctx, ""); err == nil {
		t.Error("TouchRoom() accepted an empty room id")
	}

	rooms, err := s.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms() failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("ListRooms() returned %d rooms, want 2", len(rooms))
	}
	for _, room := range rooms {
		if room.LastActive == 0 {
			t.Errorf("room %s has no last-active time", room.ID)
		}
	}
}

func testConcurrentSave(t *testing.T, s core.Store) {
	ctx := context.Background()
	wb := NewWhiteboard("alice", false)
	mustCreate(t, s, wb)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.SaveCanvas(ctx, wb.ID, json.RawMessage(fmt.Sprintf(`{"rev":%d}`, i))); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent SaveCanvas() failed: %v", err)
	}
	if _, err := s.GetWhiteboard(ctx, wb.ID); err != nil {
		t.Errorf("GetWhiteboard() after concurrent writes failed: %v", err)
	}
}
