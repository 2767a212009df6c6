package collab

import (
	"sort"
	"sync"
	"time"

	"tomoboard-server/core"

	"golang.org/x/time/rate"
)

// Conn is the outbound side of one live connection.
type Conn interface {
	ID() string
	Emit(event string, payload any) error
	// EmitVolatile sends a message the transport may drop under load.
	EmitVolatile(event string, payload any) error
}

// Session is the runtime identity of one authenticated connection.
type Session struct {
	ConnID      string
	User        core.UserProfile
	ConnectedAt time.Time

	conn    Conn
	limiter *rate.Limiter

	// handling serializes event processing for this connection and guards closed.
	handling sync.Mutex
	closed   bool

	mu   sync.RWMutex
	room string
}

func NewSession(conn Conn, user core.UserProfile, connectedAt time.Time) *Session {
	return &Session{
		ConnID:      conn.ID(),
		User:        user,
		ConnectedAt: connectedAt,
		conn:        conn,
	}
}

// Room returns the room the session is currently in, or "".
func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	s.room = roomID
	s.mu.Unlock()
}

// allowEphemeral reports whether a droppable event fits the connection's rate budget.
func (s *Session) allowEphemeral() bool {
	if s.limiter == nil {
		return true
	}
	return s.limiter.Allow()
}

// PresenceStore maps connection ids to live sessions.
type PresenceStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewPresenceStore() *PresenceStore {
	return &PresenceStore{sessions: make(map[string]*Session)}
}

func (p *PresenceStore) Register(session *Session) {
	p.mu.Lock()
	p.sessions[session.ConnID] = session
	p.mu.Unlock()
}

// Unregister removes the session. Unknown ids are ignored.
func (p *PresenceStore) Unregister(connID string) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()

	session, ok := p.sessions[connID]
	if !ok {
		return nil
	}
	delete(p.sessions, connID)
	return session
}

func (p *PresenceStore) Get(connID string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	session, ok := p.sessions[connID]
	return session, ok
}

// ListInRoom returns the sessions currently in roomID, earliest connection first.
func (p *PresenceStore) ListInRoom(roomID string) []*Session {
	p.mu.RLock()
	sessions := make([]*Session, 0)
	for _, session := range p.sessions {
		if session.Room() == roomID {
			sessions = append(sessions, session)
		}
	}
	p.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].ConnectedAt.Equal(sessions[j].ConnectedAt) {
			return sessions[i].ConnID < sessions[j].ConnID
		}
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})
	return sessions
}

func (p *PresenceStore) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}
