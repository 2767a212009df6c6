package collab

import (
	"testing"
	"time"
)

func TestCursorTracker_SetOverwrites(t *testing.T) {
	tracker := NewCursorTracker()
	now := time.UnixMilli(1000)

	tracker.SetCursor("r1", "u1", 1, 1, now)
	tracker.SetCursor("r1", "u1", 5, 6, now.Add(time.Second))

	got := tracker.AllCursors("r1")
	if len(got) != 1 {
		t.Fatalf("AllCursors() returned %d entries, want 1", len(got))
	}
	if got[0].X != 5 || got[0].Y != 6 {
		t.Errorf("cursor = (%v, %v), want (5, 6)", got[0].X, got[0].Y)
	}
	if got[0].Timestamp != 2000 {
		t.Errorf("cursor timestamp = %d, want 2000", got[0].Timestamp)
	}
}

func TestCursorTracker_ClearAndOrder(t *testing.T) {
	tracker := NewCursorTracker()
	now := time.Now()

	tracker.SetCursor("r1", "zed", 1, 1, now)
	tracker.SetCursor("r1", "amy", 2, 2, now)
	tracker.SetCursor("r2", "amy", 3, 3, now)

	got := tracker.AllCursors("r1")
	if len(got) != 2 || got[0].UserID != "amy" || got[1].UserID != "zed" {
		t.Fatalf("AllCursors() = %+v, want amy then zed", got)
	}

	tracker.ClearCursor("r1", "amy")
	tracker.ClearCursor("r1", "zed")
	tracker.ClearCursor("r1", "missing")

	if tracker.hasRoom("r1") {
		t.Error("room entry kept after last cursor cleared")
	}
	if got := tracker.AllCursors("r2"); len(got) != 1 {
		t.Errorf("clearing r1 affected r2: %+v", got)
	}
}
