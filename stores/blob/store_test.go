package blob

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"tomoboard-server/core"
	"tomoboard-server/stores/storetest"

	logtest "github.com/sirupsen/logrus/hooks/test"
)

type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memBucket) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	b.objects[key] = append([]byte(nil), data...)
	return nil
}

func (b *memBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *memBucket) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return NewStore(newMemBucket()) })
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"01HZX3", false},
		{"7c9e6679-7425-40de-944b-e07fc1f90ae7", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc", true},
		{"a/b", true},
		{`a\b`, true},
	}
	for _, tt := range tests {
		if err := ValidateName(tt.id); (err != nil) != tt.wantErr {
			t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
		}
	}
}

func TestStore_Layout(t *testing.T) {
	bucket := newMemBucket()
	s := NewStore(bucket)
	ctx := context.Background()

	wb := storetest.NewWhiteboard("alice", false)
	if err := s.CreateWhiteboard(ctx, wb); err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}
	if err := s.CreateChatMessage(ctx, &core.ChatMessage{ID: "m1", WhiteboardID: wb.ID, Content: "hi", Type: core.MessageText}); err != nil {
		t.Fatalf("CreateChatMessage() failed: %v", err)
	}
	if err := s.TouchRoom(ctx, wb.ID); err != nil {
		t.Fatalf("TouchRoom() failed: %v", err)
	}

	for _, key := range []string{whiteboardKey(wb.ID), messageKey(wb.ID, "m1"), roomKey(wb.ID)} {
		if _, ok := bucket.objects[key]; !ok {
			t.Errorf("missing object %s", key)
		}
	}

	if err := s.DeleteWhiteboard(ctx, wb.ID); err != nil {
		t.Fatalf("DeleteWhiteboard() failed: %v", err)
	}
	if len(bucket.objects) != 0 {
		t.Errorf("objects left after delete: %d", len(bucket.objects))
	}
}

func TestStore_RejectsPathIDs(t *testing.T) {
	s := NewStore(newMemBucket())
	ctx := context.Background()

	wb := storetest.NewWhiteboard("alice", false)
	wb.ID = "../escape"
	if err := s.CreateWhiteboard(ctx, wb); err == nil {
		t.Error("CreateWhiteboard() accepted a path id")
	}
	if _, err := s.GetWhiteboard(ctx, "../escape"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetWhiteboard() error = %v, want ErrNotFound", err)
	}
}

func TestStore_PutFailure(t *testing.T) {
	bucket := newMemBucket()
	s := NewStore(bucket)
	ctx := context.Background()

	wb := storetest.NewWhiteboard("alice", false)
	if err := s.CreateWhiteboard(ctx, wb); err != nil {
		t.Fatalf("CreateWhiteboard() failed: %v", err)
	}

	hook := logtest.NewGlobal()
	defer hook.Reset()

	bucket.putErr = errors.New("disk full")
	if err := s.SaveCanvas(ctx, wb.ID, []byte(`{}`)); err == nil {
		t.Error("SaveCanvas() should surface bucket errors")
	}
	if n := len(hook.AllEntries()); n != 0 {
		t.Errorf("SaveCanvas() logged %d entries, want the caller to report the failure", n)
	}
}
