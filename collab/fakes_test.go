package collab

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"tomoboard-server/core"
)

type emitted struct {
	Event    string
	Payload  any
	Volatile bool
}

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []emitted
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{Event: event, Payload: payload})
	return nil
}

func (c *fakeConn) EmitVolatile(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{Event: event, Payload: payload, Volatile: true})
	return nil
}

func (c *fakeConn) named(event string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []emitted
	for _, e := range c.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type canvasWrite struct {
	RoomID string
	Doc    json.RawMessage
}

type fakeBackend struct {
	mu            sync.Mutex
	whiteboards   map[string]*core.Whiteboard
	collaborators map[string]map[string]*core.Collaborator
	messages      []*core.ChatMessage
	writes        []canvasWrite
	touched       map[string]int

	getErr    error
	collabErr error
	chatErr   error
	saveErr   error

	// touchGate, when set, holds TouchRoom until it is closed.
	touchGate chan struct{}
	written   chan canvasWrite
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		whiteboards:   make(map[string]*core.Whiteboard),
		collaborators: make(map[string]map[string]*core.Collaborator),
		touched:       make(map[string]int),
		written:       make(chan canvasWrite, 16),
	}
}

func (b *fakeBackend) addBoard(id, owner string, public bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.whiteboards[id] = &core.Whiteboard{ID: id, OwnerID: owner, IsPublic: public, Title: id}
}

func (b *fakeBackend) addCollaborator(boardID, userID string, role core.Role) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.collaborators[boardID] == nil {
		b.collaborators[boardID] = make(map[string]*core.Collaborator)
	}
	b.collaborators[boardID][userID] = &core.Collaborator{WhiteboardID: boardID, UserID: userID, Role: role}
}

func (b *fakeBackend) GetWhiteboard(ctx context.Context, id string) (*core.Whiteboard, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	wb, ok := b.whiteboards[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	copied := *wb
	return &copied, nil
}

func (b *fakeBackend) GetCollaborator(ctx context.Context, whiteboardID, userID string) (*core.Collaborator, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.collabErr != nil {
		return nil, b.collabErr
	}
	c, ok := b.collaborators[whiteboardID][userID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return c, nil
}

func (b *fakeBackend) CreateChatMessage(ctx context.Context, message *core.ChatMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chatErr != nil {
		return b.chatErr
	}
	b.messages = append(b.messages, message)
	return nil
}

func (b *fakeBackend) SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error {
	b.mu.Lock()
	err := b.saveErr
	w := canvasWrite{RoomID: id, Doc: canvasData}
	if err == nil {
		b.writes = append(b.writes, w)
	}
	b.mu.Unlock()

	b.written <- w
	return err
}

func (b *fakeBackend) TouchRoom(ctx context.Context, roomID string) error {
	if b.touchGate != nil {
		<-b.touchGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched[roomID]++
	return nil
}

func (b *fakeBackend) touchCount(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touched[roomID]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (b *fakeBackend) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.writes)
}

func fixedClock() func() time.Time {
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return t }
}
