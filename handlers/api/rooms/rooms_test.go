package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tomoboard-server/collab"
	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"
)

type staticLive map[string]int

func (s staticLive) ActiveRooms() map[string]int { return s }

type mockRegistry struct {
	rooms   []core.Room
	listErr error
}

func (m *mockRegistry) ListRooms(ctx context.Context) ([]core.Room, error) {
	return m.rooms, m.listErr
}

func (m *mockRegistry) TouchRoom(ctx context.Context, roomID string) error { return nil }

func list(t *testing.T, live LiveRooms, registry core.RoomRegistry) []RoomInfo {
	t.Helper()
	rr := httptest.NewRecorder()
	HandleList(live, registry, nil)(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rooms []RoomInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rooms
}

func TestHandleList_MergesAndSorts(t *testing.T) {
	live := staticLive{"busy": 3, "quiet": 1}
	registry := &mockRegistry{rooms: []core.Room{
		{ID: "quiet", LastActive: 100},
		{ID: "old", LastActive: 50},
		{ID: "recent", LastActive: 500},
	}}

	rooms := list(t, live, registry)
	want := []string{"busy", "quiet", "recent", "old"}
	if len(rooms) != len(want) {
		t.Fatalf("got %d rooms, want %d", len(rooms), len(want))
	}
	for i, id := range want {
		if rooms[i].ID != id {
			t.Errorf("rooms[%d] = %s, want %s", i, rooms[i].ID, id)
		}
	}
	if rooms[1].LastActive == nil || *rooms[1].LastActive != 100 {
		t.Errorf("quiet lastActive = %v, want 100", rooms[1].LastActive)
	}
	if rooms[0].LastActive != nil {
		t.Error("busy room should have no persisted activity")
	}
}

func TestHandleList_RegistryError(t *testing.T) {
	rooms := list(t, staticLive{"a": 1}, &mockRegistry{listErr: errors.New("down")})
	if len(rooms) != 1 || rooms[0].ID != "a" {
		t.Errorf("rooms = %+v, want live rooms only", rooms)
	}
}

func TestHandleList_Empty(t *testing.T) {
	if rooms := list(t, staticLive{}, nil); len(rooms) != 0 {
		t.Errorf("rooms = %+v, want none", rooms)
	}
}

type fixedGate map[string]bool

func (g fixedGate) CanAccess(ctx context.Context, roomID, userID string) (collab.Decision, error) {
	if roomID == "broken" {
		return collab.Decision{}, errors.New("db down")
	}
	return collab.Decision{Allowed: g[roomID]}, nil
}

func TestHandleList_FiltersByAccess(t *testing.T) {
	live := staticLive{"mine": 2, "private": 1, "broken": 1}
	gate := fixedGate{"mine": true}
	h := HandleList(live, &mockRegistry{}, gate)

	req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.AppClaims{UserID: "alice"}))
	rr := httptest.NewRecorder()
	h(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var rooms []RoomInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "mine" {
		t.Errorf("rooms = %+v, want only the accessible one", rooms)
	}

	rr = httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}
}
