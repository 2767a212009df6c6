package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"tomoboard-server/core"

	"github.com/sirupsen/logrus"
)

type store struct {
	mu            sync.RWMutex
	whiteboards   map[string]core.Whiteboard
	collaborators map[string]map[string]core.Collaborator
	messages      map[string][]core.ChatMessage
	rooms         map[string]int64
	users         map[string]core.UserProfile
}

func NewStore() core.Store {
	return &store{
		whiteboards:   make(map[string]core.Whiteboard),
		collaborators: make(map[string]map[string]core.Collaborator),
		messages:      make(map[string][]core.ChatMessage),
		rooms:         make(map[string]int64),
		users:         make(map[string]core.UserProfile),
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func (s *store) CreateWhiteboard(ctx context.Context, whiteboard *core.Whiteboard) error {
	if whiteboard.ID == "" {
		return fmt.Errorf("whiteboard id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.whiteboards[whiteboard.ID]; exists {
		return fmt.Errorf("whiteboard %s: %w", whiteboard.ID, core.ErrAlreadyExists)
	}
	stored := *whiteboard
	stored.CanvasData = cloneRaw(whiteboard.CanvasData)
	stored.Settings = cloneRaw(whiteboard.Settings)
	s.whiteboards[whiteboard.ID] = stored

	logrus.WithField("whiteboard_id", whiteboard.ID).Debug("Whiteboard created")
	return nil
}

func (s *store) GetWhiteboard(ctx context.Context, id string) (*core.Whiteboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wb, ok := s.whiteboards[id]
	if !ok {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	wb.CanvasData = cloneRaw(wb.CanvasData)
	wb.Settings = cloneRaw(wb.Settings)
	return &wb, nil
}

func (s *store) ListWhiteboards(ctx context.Context, userID string) ([]*core.Whiteboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*core.Whiteboard, 0)
	for id, wb := range s.whiteboards {
		_, collaborates := s.collaborators[id][userID]
		if wb.OwnerID != userID && !wb.IsPublic && !collaborates {
			continue
		}
		wb.CanvasData = nil
		wb.Settings = cloneRaw(wb.Settings)
		entry := wb
		result = append(result, &entry)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *store) UpdateWhiteboard(ctx context.Context, id string, patch core.WhiteboardPatch) (*core.Whiteboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wb, ok := s.whiteboards[id]
	if !ok {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	patch.Apply(&wb)
	s.whiteboards[id] = wb

	updated := wb
	updated.CanvasData = cloneRaw(wb.CanvasData)
	updated.Settings = cloneRaw(wb.Settings)
	return &updated, nil
}

func (s *store) DeleteWhiteboard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whiteboards[id]; !ok {
		return fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	delete(s.whiteboards, id)
	delete(s.collaborators, id)
	delete(s.messages, id)
	delete(s.rooms, id)
	return nil
}

func (s *store) SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wb, ok := s.whiteboards[id]
	if !ok {
		return fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	wb.CanvasData = cloneRaw(canvasData)
	wb.UpdatedAt = time.Now().UTC()
	s.whiteboards[id] = wb
	return nil
}

func (s *store) AddCollaborator(ctx context.Context, collaborator *core.Collaborator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whiteboards[collaborator.WhiteboardID]; !ok {
		return fmt.Errorf("whiteboard %s: %w", collaborator.WhiteboardID, core.ErrNotFound)
	}
	members, ok := s.collaborators[collaborator.WhiteboardID]
	if !ok {
		members = make(map[string]core.Collaborator)
		s.collaborators[collaborator.WhiteboardID] = members
	}
	if _, exists := members[collaborator.UserID]; exists {
		return fmt.Errorf("collaborator %s: %w", collaborator.UserID, core.ErrAlreadyExists)
	}
	members[collaborator.UserID] = *collaborator
	return nil
}

func (s *store) GetCollaborator(ctx context.Context, whiteboardID, userID string) (*core.Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collaborators[whiteboardID][userID]
	if !ok {
		return nil, fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
	}
	return &c, nil
}

func (s *store) ListCollaborators(ctx context.Context, whiteboardID string) ([]*core.Collaborator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*core.Collaborator, 0, len(s.collaborators[whiteboardID]))
	for _, c := range s.collaborators[whiteboardID] {
		entry := c
		result = append(result, &entry)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *store) RemoveCollaborator(ctx context.Context, whiteboardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collaborators[whiteboardID][userID]; !ok {
		return fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
	}
	delete(s.collaborators[whiteboardID], userID)
	return nil
}

func (s *store) CreateChatMessage(ctx context.Context, message *core.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.whiteboards[message.WhiteboardID]; !ok {
		return fmt.Errorf("whiteboard %s: %w", message.WhiteboardID, core.ErrNotFound)
	}
	stored := *message
	if message.User != nil {
		author := *message.User
		stored.User = &author
	}
	s.messages[message.WhiteboardID] = append(s.messages[message.WhiteboardID], stored)
	return nil
}

func (s *store) ListChatMessages(ctx context.Context, whiteboardID string, limit int) ([]*core.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[whiteboardID]
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	result := make([]*core.ChatMessage, 0, len(messages))
	for _, m := range messages {
		entry := m
		result = append(result, &entry)
	}
	return result, nil
}

func (s *store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}

func (s *store) UpsertUser(ctx context.Context, user *core.UserProfile) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}

	s.mu.Lock()
	s.users[user.ID] = *user
	s.mu.Unlock()
	return nil
}

func (s *store) GetUser(ctx context.Context, id string) (*core.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	return &u, nil
}

func (s *store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*core.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*core.UserProfile, 0)
	for id, u := range s.users {
		if id == excludeID || !u.Matches(query) {
			continue
		}
		entry := u
		result = append(result, &entry)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Username == result[j].Username {
			return result[i].ID < result[j].ID
		}
		return result[i].Username < result[j].Username
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
