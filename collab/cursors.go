package collab

import (
	"sort"
	"sync"
	"time"
)

type CursorPosition struct {
	UserID    string  `json:"userId"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// CursorTracker keeps the last known pointer position per user and room. Nothing is persisted.
type CursorTracker struct {
	mu    sync.RWMutex
	rooms map[string]map[string]CursorPosition
}

func NewCursorTracker() *CursorTracker {
	return &CursorTracker{rooms: make(map[string]map[string]CursorPosition)}
}

func (c *CursorTracker) SetCursor(roomID, userID string, x, y float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cursors, ok := c.rooms[roomID]
	if !ok {
		cursors = make(map[string]CursorPosition)
		c.rooms[roomID] = cursors
	}
	cursors[userID] = CursorPosition{UserID: userID, X: x, Y: y, Timestamp: at.UnixMilli()}
}

func (c *CursorTracker) ClearCursor(roomID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cursors, ok := c.rooms[roomID]
	if !ok {
		return
	}
	delete(cursors, userID)
	if len(cursors) == 0 {
		delete(c.rooms, roomID)
	}
}

// AllCursors returns the room's cursors ordered by user id.
func (c *CursorTracker) AllCursors(roomID string) []CursorPosition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cursors := c.rooms[roomID]
	result := make([]CursorPosition, 0, len(cursors))
	for _, pos := range cursors {
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result
}

func (c *CursorTracker) dropRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

func (c *CursorTracker) hasRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}
