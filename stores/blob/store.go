package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tomoboard-server/core"

	"github.com/sirupsen/logrus"
)

type whiteboardRecord struct {
	Whiteboard    *core.Whiteboard     `json:"whiteboard"`
	Collaborators []*core.Collaborator `json:"collaborators,omitempty"`
}

type roomRecord struct {
	ID         string `json:"id"`
	LastActive int64  `json:"lastActive"`
}

type store struct {
	bucket Bucket
	// mu serializes read-modify-write cycles on whiteboard records.
	mu sync.Mutex
}

func NewStore(bucket Bucket) core.Store {
	return &store{bucket: bucket}
}

func (s *store) load(ctx context.Context, id string) (*whiteboardRecord, error) {
	if err := ValidateName(id); err != nil {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	data, err := s.bucket.Get(ctx, whiteboardKey(id))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var rec whiteboardRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal whiteboard %s: %w", id, err)
	}
	if rec.Whiteboard == nil {
		return nil, fmt.Errorf("whiteboard %s: corrupt record", id)
	}
	return &rec, nil
}

func (s *store) save(ctx context.Context, rec *whiteboardRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal whiteboard: %w", err)
	}
	return s.bucket.Put(ctx, whiteboardKey(rec.Whiteboard.ID), data)
}

func (s *store) CreateWhiteboard(ctx context.Context, wb *core.Whiteboard) error {
	if err := ValidateName(wb.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(ctx, wb.ID); err == nil {
		return fmt.Errorf("whiteboard %s: %w", wb.ID, core.ErrAlreadyExists)
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	copied := *wb
	if err := s.save(ctx, &whiteboardRecord{Whiteboard: &copied}); err != nil {
		logrus.WithField("whiteboard_id", wb.ID).WithError(err).Error("Failed to create whiteboard")
		return err
	}
	return nil
}

func (s *store) GetWhiteboard(ctx context.Context, id string) (*core.Whiteboard, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Whiteboard, nil
}

func (s *store) ListWhiteboards(ctx context.Context, userID string) ([]*core.Whiteboard, error) {
	keys, err := s.bucket.List(ctx, "whiteboards/")
	if err != nil {
		return nil, fmt.Errorf("failed to list whiteboards: %w", err)
	}

	log := logrus.WithField("user_id", userID)
	result := make([]*core.Whiteboard, 0, len(keys))
	for _, key := range keys {
		data, err := s.bucket.Get(ctx, key)
		if err != nil {
			log.WithError(err).Warnf("Failed to read %s, skipping", key)
			continue
		}
		var rec whiteboardRecord
		if err := json.Unmarshal(data, &rec); err != nil || rec.Whiteboard == nil {
			log.WithError(err).Warnf("Failed to unmarshal %s, skipping", key)
			continue
		}
		if !visibleTo(&rec, userID) {
			continue
		}
		wb := rec.Whiteboard
		wb.CanvasData = nil
		result = append(result, wb)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.After(result[j].UpdatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func visibleTo(rec *whiteboardRecord, userID string) bool {
	if rec.Whiteboard.OwnerID == userID || rec.Whiteboard.IsPublic {
		return true
	}
	for _, c := range rec.Collaborators {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (s *store) UpdateWhiteboard(ctx context.Context, id string, patch core.WhiteboardPatch) (*core.Whiteboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(rec.Whiteboard)
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec.Whiteboard, nil
}

func (s *store) DeleteWhiteboard(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.load(ctx, id); err != nil {
		return err
	}

	keys, err := s.bucket.List(ctx, messagePrefix(id))
	if err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := s.bucket.Delete(ctx, roomKey(id)); err != nil {
		return err
	}
	return s.bucket.Delete(ctx, whiteboardKey(id))
}

func (s *store) SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	rec.Whiteboard.CanvasData = append(json.RawMessage(nil), canvasData...)
	rec.Whiteboard.UpdatedAt = time.Now().UTC()
	return s.save(ctx, rec)
}

func (s *store) AddCollaborator(ctx context.Context, c *core.Collaborator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, c.WhiteboardID)
	if err != nil {
		return err
	}
	for _, existing := range rec.Collaborators {
		if existing.UserID == c.UserID {
			return fmt.Errorf("collaborator %s: %w", c.UserID, core.ErrAlreadyExists)
		}
	}
	copied := *c
	rec.Collaborators = append(rec.Collaborators, &copied)
	return s.save(ctx, rec)
}

func (s *store) GetCollaborator(ctx context.Context, whiteboardID, userID string) (*core.Collaborator, error) {
	rec, err := s.load(ctx, whiteboardID)
	if err != nil {
		return nil, err
	}
	for _, c := range rec.Collaborators {
		if c.UserID == userID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
}

func (s *store) ListCollaborators(ctx context.Context, whiteboardID string) ([]*core.Collaborator, error) {
	rec, err := s.load(ctx, whiteboardID)
	if errors.Is(err, core.ErrNotFound) {
		return []*core.Collaborator{}, nil
	}
	if err != nil {
		return nil, err
	}
	return append([]*core.Collaborator{}, rec.Collaborators...), nil
}

func (s *store) RemoveCollaborator(ctx context.Context, whiteboardID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(ctx, whiteboardID)
	if err != nil {
		return err
	}
	for i, c := range rec.Collaborators {
		if c.UserID == userID {
			rec.Collaborators = append(rec.Collaborators[:i], rec.Collaborators[i+1:]...)
			return s.save(ctx, rec)
		}
	}
	return fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
}

func (s *store) CreateChatMessage(ctx context.Context, m *core.ChatMessage) error {
	if err := ValidateName(m.ID); err != nil {
		return err
	}
	if _, err := s.load(ctx, m.WhiteboardID); err != nil {
		return err
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.bucket.Put(ctx, messageKey(m.WhiteboardID, m.ID), data); err != nil {
		logrus.WithField("whiteboard_id", m.WhiteboardID).WithError(err).Error("Failed to store chat message")
		return err
	}
	return nil
}

func (s *store) ListChatMessages(ctx context.Context, whiteboardID string, limit int) ([]*core.ChatMessage, error) {
	if ValidateName(whiteboardID) != nil {
		return []*core.ChatMessage{}, nil
	}
	keys, err := s.bucket.List(ctx, messagePrefix(whiteboardID))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	messages := make([]*core.ChatMessage, 0, len(keys))
	for _, key := range keys {
		data, err := s.bucket.Get(ctx, key)
		if err != nil {
			logrus.WithError(err).Warnf("Failed to read %s, skipping", key)
			continue
		}
		var m core.ChatMessage
		if err := json.Unmarshal(data, &m); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal %s, skipping", key)
			continue
		}
		messages = append(messages, &m)
	}

	sort.Slice(messages, func(i, j int) bool {
		if !messages[i].CreatedAt.Equal(messages[j].CreatedAt) {
			return messages[i].CreatedAt.Before(messages[j].CreatedAt)
		}
		return messages[i].ID < messages[j].ID
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

func (s *store) TouchRoom(ctx context.Context, roomID string) error {
	if err := ValidateName(roomID); err != nil {
		return err
	}
	data, err := json.Marshal(roomRecord{ID: roomID, LastActive: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return s.bucket.Put(ctx, roomKey(roomID), data)
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	keys, err := s.bucket.List(ctx, "rooms/")
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	rooms := make([]core.Room, 0, len(keys))
	for _, key := range keys {
		data, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec roomRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal %s, skipping", key)
			continue
		}
		rooms = append(rooms, core.Room{ID: rec.ID, LastActive: rec.LastActive})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive != rooms[j].LastActive {
			return rooms[i].LastActive > rooms[j].LastActive
		}
		return rooms[i].ID < rooms[j].ID
	})
	return rooms, nil
}

func (s *store) UpsertUser(ctx context.Context, u *core.UserProfile) error {
	if err := ValidateName(u.ID); err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return s.bucket.Put(ctx, userKey(u.ID), data)
}

func (s *store) GetUser(ctx context.Context, id string) (*core.UserProfile, error) {
	if ValidateName(id) != nil {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	data, err := s.bucket.Get(ctx, userKey(id))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var u core.UserProfile
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", id, err)
	}
	return &u, nil
}

func (s *store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*core.UserProfile, error) {
	keys, err := s.bucket.List(ctx, "users/")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	result := make([]*core.UserProfile, 0)
	for _, key := range keys {
		data, err := s.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var u core.UserProfile
		if err := json.Unmarshal(data, &u); err != nil {
			logrus.WithError(err).Warnf("Failed to unmarshal %s, skipping", key)
			continue
		}
		if u.ID == excludeID || !u.Matches(query) {
			continue
		}
		result = append(result, &u)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Username != result[j].Username {
			return result[i].Username < result[j].Username
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
