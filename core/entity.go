package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleEditor Role = "EDITOR"
	RoleViewer Role = "VIEWER"
)

// Rank orders roles for permission checks. Unknown roles rank zero.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

func (r Role) AtLeast(required Role) bool {
	return r.Rank() >= required.Rank() && r.Rank() > 0
}

// Valid reports whether r may be granted to a collaborator.
func (r Role) Valid() bool {
	return r == RoleEditor || r == RoleViewer
}

type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

// Matches reports whether u's username, first or last name contains query, ignoring case.
func (u *UserProfile) Matches(query string) bool {
	q := strings.ToLower(query)
	for _, field := range []string{u.Username, u.FirstName, u.LastName} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile, MessageSystem:
		return true
	}
	return false
}

var (
	DefaultCanvasData = json.RawMessage(`{"version":"5.3.0","objects":[]}`)
	DefaultSettings   = json.RawMessage(`{"backgroundColor":"#ffffff","grid":true,"gridSize":20,"zoom":1}`)
)

type (
	// UserProfile is the public part of an authenticated user, as carried by the bearer token.
	UserProfile struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"firstName,omitempty"`
		LastName  string `json:"lastName,omitempty"`
		Avatar    string `json:"avatar,omitempty"`
	}

	Whiteboard struct {
		ID          string          `json:"id"`
		OwnerID     string          `json:"ownerId"`
		Title       string          `json:"title"`
		Description string          `json:"description,omitempty"`
		IsPublic    bool            `json:"isPublic"`
		CanvasData  json.RawMessage `json:"canvasData,omitempty"`
		Settings    json.RawMessage `json:"settings,omitempty"`
		CreatedAt   time.Time       `json:"createdAt"`
		UpdatedAt   time.Time       `json:"updatedAt"`
	}

	Collaborator struct {
		ID           string    `json:"id"`
		WhiteboardID string    `json:"whiteboardId"`
		UserID       string    `json:"userId"`
		Role         Role      `json:"role"`
		CreatedAt    time.Time `json:"createdAt"`
	}

	ChatMessage struct {
		ID           string       `json:"id"`
		WhiteboardID string       `json:"whiteboardId"`
		UserID       string       `json:"userId"`
		Content      string       `json:"content"`
		Type         MessageType  `json:"type"`
		CreatedAt    time.Time    `json:"createdAt"`
		User         *UserProfile `json:"user,omitempty"`
	}

	Room struct {
		ID         string
		LastActive int64
	}

	// WhiteboardPatch is a partial update. Nil or empty fields keep their stored value.
	WhiteboardPatch struct {
		Title       *string
		Description *string
		IsPublic    *bool
		CanvasData  json.RawMessage
		Settings    json.RawMessage
		UpdatedAt   time.Time
	}
)

// Apply copies the set fields of p onto wb.
func (p WhiteboardPatch) Apply(wb *Whiteboard) {
	if p.Title != nil {
		wb.Title = *p.Title
	}
	if p.Description != nil {
		wb.Description = *p.Description
	}
	if p.IsPublic != nil {
		wb.IsPublic = *p.IsPublic
	}
	if len(p.CanvasData) > 0 {
		wb.CanvasData = append(json.RawMessage(nil), p.CanvasData...)
	}
	if len(p.Settings) > 0 {
		wb.Settings = append(json.RawMessage(nil), p.Settings...)
	}
	if !p.UpdatedAt.IsZero() {
		wb.UpdatedAt = p.UpdatedAt
	}
}

type (
	WhiteboardStore interface {
		CreateWhiteboard(ctx context.Context, whiteboard *Whiteboard) error
		GetWhiteboard(ctx context.Context, id string) (*Whiteboard, error)
		// ListWhiteboards returns boards the user owns, collaborates on, or that are public.
		// Canvas data is omitted.
		ListWhiteboards(ctx context.Context, userID string) ([]*Whiteboard, error)
		// UpdateWhiteboard writes only the fields set in patch and returns the stored board.
		UpdateWhiteboard(ctx context.Context, id string, patch WhiteboardPatch) (*Whiteboard, error)
		DeleteWhiteboard(ctx context.Context, id string) error
		SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error
	}

	CollaboratorStore interface {
		AddCollaborator(ctx context.Context, collaborator *Collaborator) error
		GetCollaborator(ctx context.Context, whiteboardID, userID string) (*Collaborator, error)
		ListCollaborators(ctx context.Context, whiteboardID string) ([]*Collaborator, error)
		RemoveCollaborator(ctx context.Context, whiteboardID, userID string) error
	}

	ChatStore interface {
		CreateChatMessage(ctx context.Context, message *ChatMessage) error
		// ListChatMessages returns the newest limit messages, oldest first.
		ListChatMessages(ctx context.Context, whiteboardID string, limit int) ([]*ChatMessage, error)
	}

	RoomRegistry interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}

	// UserStore is the directory of users seen with a valid token.
	UserStore interface {
		UpsertUser(ctx context.Context, user *UserProfile) error
		GetUser(ctx context.Context, id string) (*UserProfile, error)
		// SearchUsers matches query case-insensitively against username, first and last name,
		// leaving out excludeID.
		SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*UserProfile, error)
	}

	Store interface {
		WhiteboardStore
		CollaboratorStore
		ChatStore
		RoomRegistry
		UserStore
	}
)
