package collab

import (
	"bytes"
	"encoding/json"
	"strings"

	"tomoboard-server/core"
)

// Client to server events.
const (
	EventJoin          = "join-whiteboard"
	EventLeave         = "leave-whiteboard"
	EventCanvasUpdate  = "canvas-update"
	EventCanvasSync    = "canvas-sync"
	EventCursorMove    = "cursor-move"
	EventChatMessage   = "chat-message"
	EventTypingStart   = "typing-start"
	EventTypingStop    = "typing-stop"
	EventObjectSelect  = "object-select"
	EventObjectEditing = "object-editing"
)

// Server to client events. Content events reuse the names above.
const (
	EventUserJoined  = "user-joined"
	EventUserLeft    = "user-left"
	EventActiveUsers = "active-users"
	EventRoomCursors = "room-cursors"
	EventErrorOut    = "error"
)

// ClientEvents lists every event a connection may send.
var ClientEvents = []string{
	EventJoin, EventLeave,
	EventCanvasUpdate, EventCanvasSync,
	EventCursorMove, EventChatMessage,
	EventTypingStart, EventTypingStop,
	EventObjectSelect, EventObjectEditing,
}

const MaxChatContentBytes = 5000

type (
	canvasUpdateIn struct {
		WhiteboardID string          `json:"whiteboardId"`
		Operation    string          `json:"operation"`
		ObjectData   json.RawMessage `json:"objectData"`
	}

	canvasSyncIn struct {
		WhiteboardID string          `json:"whiteboardId"`
		CanvasData   json.RawMessage `json:"canvasData"`
	}

	cursorMoveIn struct {
		WhiteboardID string   `json:"whiteboardId"`
		X            *float64 `json:"x"`
		Y            *float64 `json:"y"`
	}

	chatMessageIn struct {
		WhiteboardID string           `json:"whiteboardId"`
		Content      string           `json:"content"`
		Type         core.MessageType `json:"type"`
	}

	roomOnlyIn struct {
		WhiteboardID string `json:"whiteboardId"`
	}

	objectIn struct {
		WhiteboardID string `json:"whiteboardId"`
		ObjectID     string `json:"objectId"`
		IsEditing    *bool  `json:"isEditing"`
	}
)

type (
	PublicUser struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"firstName,omitempty"`
		LastName  string `json:"lastName,omitempty"`
		Avatar    string `json:"avatar,omitempty"`
	}

	UserJoinedOut struct {
		User      PublicUser `json:"user"`
		Timestamp int64      `json:"timestamp"`
	}

	UserLeftOut struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
		Timestamp int64 `json:"timestamp"`
	}

	ActiveUser struct {
		PublicUser
		ConnectedAt int64 `json:"connectedAt"`
	}

	CanvasUpdateOut struct {
		Operation  string          `json:"operation"`
		ObjectData json.RawMessage `json:"objectData,omitempty"`
		UserID     string          `json:"userId"`
		Timestamp  int64           `json:"timestamp"`
	}

	CanvasSyncOut struct {
		CanvasData json.RawMessage `json:"canvasData"`
		UserID     string          `json:"userId"`
		Timestamp  int64           `json:"timestamp"`
	}

	CursorMoveOut struct {
		UserID    string  `json:"userId"`
		Username  string  `json:"username"`
		Avatar    string  `json:"avatar,omitempty"`
		X         float64 `json:"x"`
		Y         float64 `json:"y"`
		Timestamp int64   `json:"timestamp"`
	}

	TypingOut struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}

	ObjectOut struct {
		ObjectID  string `json:"objectId"`
		UserID    string `json:"userId"`
		Username  string `json:"username"`
		IsEditing *bool  `json:"isEditing,omitempty"`
		Timestamp int64  `json:"timestamp"`
	}

	ErrorOut struct {
		Message string    `json:"message"`
		Code    ErrorCode `json:"code"`
	}
)

func publicUser(p core.UserProfile) PublicUser {
	return PublicUser{
		ID:        p.ID,
		Username:  p.Username,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Avatar:    p.Avatar,
	}
}

// decodePayload converts a transport argument (already decoded into maps, strings and
// numbers, or raw JSON bytes) into dst.
func decodePayload(arg any, dst any) error {
	var raw []byte
	switch v := arg.(type) {
	case nil:
		return errMalformed("missing payload")
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	case string:
		if !json.Valid([]byte(v)) {
			return errMalformed("payload is not an object")
		}
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return errMalformed("unencodable payload")
		}
		raw = b
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return errMalformed("payload is not an object")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errMalformed("%v", err)
	}
	return nil
}

// decodeRoomID accepts either a bare string or an object with whiteboardId.
func decodeRoomID(arg any) (string, error) {
	if s, ok := arg.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" && !strings.HasPrefix(s, "{") {
			return s, nil
		}
	}

	var in roomOnlyIn
	if err := decodePayload(arg, &in); err != nil {
		return "", err
	}
	return requireRoom(in.WhiteboardID)
}

func requireRoom(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", errMalformed("whiteboardId is required")
	}
	return roomID, nil
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 1 && raw[0] == '{'
}

func validateChat(in *chatMessageIn) error {
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return errMalformed("content is required")
	}
	if len(in.Content) > MaxChatContentBytes {
		return errMalformed("content exceeds %d bytes", MaxChatContentBytes)
	}
	if in.Type == "" {
		in.Type = core.MessageText
	}
	if !in.Type.Valid() {
		return errMalformed("unknown message type %q", in.Type)
	}
	return nil
}
