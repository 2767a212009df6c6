package collab

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRoomRegistry_JoinIdempotent(t *testing.T) {
	registry := NewRoomRegistry(NewCursorTracker())

	if !registry.Join("r1", "c1") {
		t.Error("first Join() should report a new member")
	}
	if registry.Join("r1", "c1") {
		t.Error("second Join() should be idempotent")
	}

	members := registry.MembersOf("r1")
	if len(members) != 1 || members[0] != "c1" {
		t.Errorf("MembersOf() = %v, want [c1]", members)
	}
}

func TestRoomRegistry_LeaveRemovesEmptyRoomAndCursors(t *testing.T) {
	cursors := NewCursorTracker()
	registry := NewRoomRegistry(cursors)

	registry.Join("r1", "c1")
	registry.Join("r1", "c2")
	cursors.SetCursor("r1", "u1", 1, 2, time.Now())
	cursors.SetCursor("r1", "u2", 3, 4, time.Now())

	removed, empty := registry.Leave("r1", "c1")
	if !removed || empty {
		t.Fatalf("Leave() = (%v, %v), want (true, false)", removed, empty)
	}

	removed, empty = registry.Leave("r1", "c2")
	if !removed || !empty {
		t.Fatalf("Leave() = (%v, %v), want (true, true)", removed, empty)
	}

	if members := registry.MembersOf("r1"); len(members) != 0 {
		t.Errorf("MembersOf() after last leave = %v, want empty", members)
	}
	if _, ok := registry.ActiveRooms()["r1"]; ok {
		t.Error("empty room still listed in ActiveRooms()")
	}
	if cursors.hasRoom("r1") {
		t.Error("cursor map of empty room was not removed")
	}
	if got := cursors.AllCursors("r1"); len(got) != 0 {
		t.Errorf("AllCursors() after room emptied = %v, want empty", got)
	}
}

func TestRoomRegistry_LeaveNotMember(t *testing.T) {
	registry := NewRoomRegistry(nil)
	registry.Join("r1", "c1")

	if removed, _ := registry.Leave("r1", "c2"); removed {
		t.Error("Leave() of non-member reported removal")
	}
	if removed, _ := registry.Leave("r2", "c1"); removed {
		t.Error("Leave() of unknown room reported removal")
	}
	if !registry.IsMember("r1", "c1") {
		t.Error("unrelated Leave() removed an existing member")
	}
}

func TestRoomRegistry_Concurrent(t *testing.T) {
	registry := NewRoomRegistry(NewCursorTracker())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c%d", i)
			registry.Join("r1", conn)
			registry.MembersOf("r1")
			registry.Leave("r1", conn)
		}(i)
	}
	wg.Wait()

	if rooms := registry.ActiveRooms(); len(rooms) != 0 {
		t.Errorf("ActiveRooms() = %v, want none", rooms)
	}
}
