package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tomoboard-server/core"
	"tomoboard-server/telemetry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Backend is what the hub needs from storage.
type Backend interface {
	AccessReader
	CreateChatMessage(ctx context.Context, message *core.ChatMessage) error
	SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error
	TouchRoom(ctx context.Context, roomID string) error
}

type Options struct {
	SaveDelay      time.Duration
	PersistTimeout time.Duration
	// EphemeralRate limits cursor, typing and object events per connection. Zero disables it.
	EphemeralRate  rate.Limit
	EphemeralBurst int
	Now            func() time.Time
}

func DefaultOptions() Options {
	return Options{
		SaveDelay:      2 * time.Second,
		PersistTimeout: 10 * time.Second,
		EphemeralRate:  60,
		EphemeralBurst: 120,
		Now:            time.Now,
	}
}

// Hub routes inbound events of every connection to the right recipients. Events of a single
// connection are handled one at a time, in arrival order.
type Hub struct {
	presence *PresenceStore
	rooms    *RoomRegistry
	cursors  *CursorTracker
	gate     *AccessGate
	saver    *Debouncer
	store    Backend
	opts     Options

	background sync.WaitGroup
}

func NewHub(store Backend, opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	defaults := DefaultOptions()
	if opts.SaveDelay <= 0 {
		opts.SaveDelay = defaults.SaveDelay
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = defaults.PersistTimeout
	}

	cursors := NewCursorTracker()
	return &Hub{
		presence: NewPresenceStore(),
		rooms:    NewRoomRegistry(cursors),
		cursors:  cursors,
		gate:     NewAccessGate(store),
		saver:    NewDebouncer(opts.SaveDelay, opts.PersistTimeout, store.SaveCanvas),
		store:    store,
		opts:     opts,
	}
}

func (h *Hub) Presence() *PresenceStore { return h.presence }
func (h *Hub) Rooms() *RoomRegistry      { return h.rooms }
func (h *Hub) Cursors() *CursorTracker   { return h.cursors }
func (h *Hub) Gate() *AccessGate         { return h.gate }
func (h *Hub) Saver() *Debouncer         { return h.saver }

func (h *Hub) now() int64 { return h.opts.Now().UnixMilli() }

// Connect registers an authenticated connection.
func (h *Hub) Connect(conn Conn, user core.UserProfile) *Session {
	session := NewSession(conn, user, h.opts.Now())
	if h.opts.EphemeralRate > 0 {
		session.limiter = rate.NewLimiter(h.opts.EphemeralRate, h.opts.EphemeralBurst)
	}
	h.presence.Register(session)

	logrus.WithFields(logrus.Fields{
		"conn_id": session.ConnID,
		"user_id": user.ID,
	}).Info("User connected")
	return session
}

// Disconnect leaves the connection's room, if any, and forgets the session.
func (h *Hub) Disconnect(connID string) {
	session, ok := h.presence.Get(connID)
	if !ok {
		return
	}

	session.handling.Lock()
	defer session.handling.Unlock()

	session.closed = true
	if roomID := session.Room(); roomID != "" {
		h.leaveRoom(session, roomID)
	}
	h.presence.Unregister(connID)

	logrus.WithFields(logrus.Fields{
		"conn_id": connID,
		"user_id": session.User.ID,
	}).Info("User disconnected")
}

// Dispatch handles one inbound event. Any error is also reported to the sender as an
// "error" event; nothing is sent to the rest of the room in that case.
func (h *Hub) Dispatch(ctx context.Context, connID, event string, arg any) error {
	session, ok := h.presence.Get(connID)
	if !ok {
		return &EventError{Code: CodeAuthenticationRequired, Message: "Authentication required"}
	}

	session.handling.Lock()
	if session.closed {
		session.handling.Unlock()
		return nil
	}
	err := h.handle(ctx, session, event, arg)
	session.handling.Unlock()

	if err != nil {
		evErr := AsEventError(err)
		logrus.WithFields(logrus.Fields{
			"conn_id": connID,
			"user_id": session.User.ID,
			"event":   event,
			"code":    evErr.Code,
		}).WithError(err).Warn("Event rejected")
		h.send(session, EventErrorOut, ErrorOut{Message: evErr.Message, Code: evErr.Code}, false)
		return evErr
	}
	return nil
}

func (h *Hub) handle(ctx context.Context, s *Session, event string, arg any) error {
	switch event {
	case EventJoin:
		return h.join(ctx, s, arg)
	case EventLeave:
		return h.leave(s, arg)
	case EventCanvasUpdate:
		return h.canvasUpdate(s, arg)
	case EventCanvasSync:
		return h.canvasSync(s, arg)
	case EventCursorMove:
		return h.cursorMove(s, arg)
	case EventChatMessage:
		return h.chat(ctx, s, arg)
	case EventTypingStart, EventTypingStop:
		return h.typing(s, event, arg)
	case EventObjectSelect, EventObjectEditing:
		return h.object(s, event, arg)
	}
	return errMalformed("unknown event %q", event)
}

func (h *Hub) join(ctx context.Context, s *Session, arg any) error {
	roomID, err := decodeRoomID(arg)
	if err != nil {
		return err
	}

	// A refused join leaves the connection where it was.
	decision, err := h.gate.CanAccess(ctx, roomID, s.User.ID)
	if err != nil {
		return errJoinFailed(err)
	}
	if !decision.Allowed {
		return errAccessDenied()
	}

	if current := s.Room(); current != "" && current != roomID {
		h.leaveRoom(s, current)
	}

	added := h.rooms.Join(roomID, s.ConnID)
	s.setRoom(roomID)
	h.touchRoom(roomID)

	if added {
		h.broadcast(roomID, s.ConnID, EventUserJoined, UserJoinedOut{
			User:      publicUser(s.User),
			Timestamp: h.now(),
		}, false)
	}

	members := h.presence.ListInRoom(roomID)
	active := make([]ActiveUser, 0, len(members))
	for _, member := range members {
		active = append(active, ActiveUser{
			PublicUser:  publicUser(member.User),
			ConnectedAt: member.ConnectedAt.UnixMilli(),
		})
	}
	h.send(s, EventActiveUsers, active, false)
	h.send(s, EventRoomCursors, h.cursors.AllCursors(roomID), false)

	logrus.WithFields(logrus.Fields{
		"conn_id":       s.ConnID,
		"user_id":       s.User.ID,
		"whiteboard_id": roomID,
		"role":          decision.Role,
	}).Info("User joined whiteboard")
	return nil
}

func (h *Hub) leave(s *Session, arg any) error {
	roomID, err := decodeRoomID(arg)
	if err != nil {
		return err
	}
	if s.Room() != roomID {
		return nil
	}
	h.leaveRoom(s, roomID)
	return nil
}

// leaveRoom removes the session from roomID before anything is sent, so the session never
// receives or causes traffic for the room afterwards.
func (h *Hub) leaveRoom(s *Session, roomID string) {
	removed, empty := h.rooms.Leave(roomID, s.ConnID)
	s.setRoom("")
	if !removed {
		return
	}

	if !empty {
		h.cursors.ClearCursor(roomID, s.User.ID)
		left := UserLeftOut{Timestamp: h.now()}
		left.User.ID = s.User.ID
		left.User.Username = s.User.Username
		h.broadcast(roomID, s.ConnID, EventUserLeft, left, false)
	} else {
		h.saver.Flush(roomID)
	}

	logrus.WithFields(logrus.Fields{
		"conn_id":       s.ConnID,
		"user_id":       s.User.ID,
		"whiteboard_id": roomID,
		"room_empty":    empty,
	}).Info("User left whiteboard")
}

// touchRoom records room activity in the background; joins never wait on it.
func (h *Hub) touchRoom(roomID string) {
	h.background.Add(1)
	go func() {
		defer h.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), h.opts.PersistTimeout)
		defer cancel()
		if err := h.store.TouchRoom(ctx, roomID); err != nil {
			logrus.WithField("whiteboard_id", roomID).WithError(err).Warn("Failed to record room activity")
		}
	}()
}

func (h *Hub) requireMember(s *Session, roomID string) error {
	if !h.rooms.IsMember(roomID, s.ConnID) {
		return errNotAMember()
	}
	return nil
}

func (h *Hub) canvasUpdate(s *Session, arg any) error {
	var in canvasUpdateIn
	if err := decodePayload(arg, &in); err != nil {
		return err
	}
	roomID, err := requireRoom(in.WhiteboardID)
	if err != nil {
		return err
	}
	if in.Operation == "" {
		return errMalformed("operation is required")
	}
	if err := h.requireMember(s, roomID); err != nil {
		return err
	}

	h.broadcast(roomID, s.ConnID, EventCanvasUpdate, CanvasUpdateOut{
		Operation:  in.Operation,
		ObjectData: in.ObjectData,
		UserID:     s.User.ID,
		Timestamp:  h.now(),
	}, false)
	return nil
}

func (h *Hub) canvasSync(s *Session, arg any) error {
	var in canvasSyncIn
	if err := decodePayload(arg, &in); err != nil {
		return err
	}
	roomID, err := requireRoom(in.WhiteboardID)
	if err != nil {
		return err
	}
	if !isJSONObject(in.CanvasData) {
		return errMalformed("canvasData must be an object")
	}
	if err := h.requireMember(s, roomID); err != nil {
		return err
	}

	h.broadcast(roomID, s.ConnID, EventCanvasSync, CanvasSyncOut{
		CanvasData: in.CanvasData,
		UserID:     s.User.ID,
		Timestamp:  h.now(),
	}, false)
	h.saver.Schedule(roomID, in.CanvasData)
	return nil
}

func (h *Hub) cursorMove(s *Session, arg any) error {
	var in cursorMoveIn
	if err := decodePayload(arg, &in); err != nil {
		return err
	}
	roomID, err := requireRoom(in.WhiteboardID)
	if err != nil {
		return err
	}
	if in.X == nil || in.Y == nil {
		return errMalformed("x and y are required")
	}
	if err := h.requireMember(s, roomID); err != nil {
		return err
	}
	if !s.allowEphemeral() {
		return nil
	}

	at := h.opts.Now()
	h.cursors.SetCursor(roomID, s.User.ID, *in.X, *in.Y, at)
	h.broadcast(roomID, s.ConnID, EventCursorMove, CursorMoveOut{
		UserID:    s.User.ID,
		Username:  s.User.Username,
		Avatar:    s.User.Avatar,
		X:         *in.X,
		Y:         *in.Y,
		Timestamp: at.UnixMilli(),
	}, true)
	return nil
}

func (h *Hub) chat(ctx context.Context, s *Session, arg any) error {
	var in chatMessageIn
	if err := decodePayload(arg, &in); err != nil {
		return err
	}
	roomID, err := requireRoom(in.WhiteboardID)
	if err != nil {
		return err
	}
	if err := validateChat(&in); err != nil {
		return err
	}
	if err := h.requireMember(s, roomID); err != nil {
		return err
	}

	author := s.User
	message := &core.ChatMessage{
		ID:           uuid.NewString(),
		WhiteboardID: roomID,
		UserID:       s.User.ID,
		Content:      in.Content,
		Type:         in.Type,
		CreatedAt:    h.opts.Now().UTC(),
		User:         &author,
	}

	ctx, span := telemetry.StartSpan(ctx, "Hub.chat",
		attribute.String("whiteboard.id", roomID),
		attribute.String("message.id", message.ID),
	)
	defer span.End()

	if err := h.store.CreateChatMessage(ctx, message); err != nil {
		telemetry.RecordError(ctx, err)
		logrus.WithFields(logrus.Fields{
			"whiteboard_id": roomID,
			"user_id":       s.User.ID,
		}).WithError(err).Error("Failed to store chat message")
		return errSendFailed(err)
	}

	h.broadcast(roomID, "", EventChatMessage, message, false)
	return nil
}

func (h *Hub) typing(s *Session, event string, arg any) error {
	roomID, err := decodeRoomID(arg)
	if err != nil {
		return err
	}
	if err := h.requireMember(s, roomID); err != nil {
		return err
	}
	if !s.allowEphemeral() {
		return nil
	}

	h.broadcast(roomID, s.ConnID, event, TypingOut{
		UserID:   s.User.ID,
		Username: s.User.Username,
	}, true)
	return nil
}

func (h *Hub) object(s *Session, event string, arg any) error {
	var in objectIn
	if err := decodePayload(arg, &in); err != nil {
		return err
	}
	roomID, err := requireRoom(in.WhiteboardID)
	if err != nil {
		return err
	}
	if in.ObjectID == "" {
		return errMalformed("objectId is required")
	}
	if err := h.requireMember(s, roomID); err != nil {
		return err
	}
	if !s.allowEphemeral() {
		return nil
	}

	out := ObjectOut{
		ObjectID:  in.ObjectID,
		UserID:    s.User.ID,
		Username:  s.User.Username,
		Timestamp: h.now(),
	}
	if event == EventObjectEditing {
		editing := in.IsEditing != nil && *in.IsEditing
		out.IsEditing = &editing
	}
	h.broadcast(roomID, s.ConnID, event, out, true)
	return nil
}

// broadcast sends to every member of roomID except the connection except ("" sends to all).
func (h *Hub) broadcast(roomID, except, event string, payload any, volatile bool) {
	for _, connID := range h.rooms.MembersOf(roomID) {
		if connID == except {
			continue
		}
		session, ok := h.presence.Get(connID)
		if !ok {
			continue
		}
		h.send(session, event, payload, volatile)
	}
}

func (h *Hub) send(s *Session, event string, payload any, volatile bool) {
	var err error
	if volatile {
		err = s.conn.EmitVolatile(event, payload)
	} else {
		err = s.conn.Emit(event, payload)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"conn_id": s.ConnID,
			"event":   event,
		}).WithError(err).Debug("Failed to emit event")
	}
}

// Shutdown writes every pending canvas snapshot and waits for background room bookkeeping.
func (h *Hub) Shutdown(ctx context.Context) error {
	if err := h.saver.Close(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
