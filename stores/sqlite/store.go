package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tomoboard-server/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS whiteboards (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	is_public INTEGER NOT NULL DEFAULT 0,
	canvas_data BLOB,
	settings BLOB,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_whiteboards_owner ON whiteboards(owner_id);

CREATE TABLE IF NOT EXISTS collaborators (
	id TEXT PRIMARY KEY,
	whiteboard_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (whiteboard_id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_collaborators_user ON collaborators(user_id);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	whiteboard_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	author BLOB,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_board ON chat_messages(whiteboard_id, created_at);

CREATE TABLE IF NOT EXISTS rooms (
	room_id TEXT PRIMARY KEY,
	last_active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	first_name TEXT NOT NULL DEFAULT '',
	last_name TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`

type store struct {
	db *sql.DB
}

func NewStore(dataSourceName string) (core.Store, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids "database is locked" under concurrent canvas saves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}

	return &store{db: db}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *store) CreateWhiteboard(ctx context.Context, wb *core.Whiteboard) error {
	log := logrus.WithField("whiteboard_id", wb.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO whiteboards (id, owner_id, title, description, is_public, canvas_data, settings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wb.ID, wb.OwnerID, wb.Title, wb.Description, wb.IsPublic,
		[]byte(wb.CanvasData), []byte(wb.Settings), toMillis(wb.CreatedAt), toMillis(wb.UpdatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("whiteboard %s: %w", wb.ID, core.ErrAlreadyExists)
	}
	if err != nil {
		log.WithError(err).Error("Failed to create whiteboard")
		return err
	}

	log.Debug("Whiteboard created")
	return nil
}

func (s *store) GetWhiteboard(ctx context.Context, id string) (*core.Whiteboard, error) {
	var (
		wb                  core.Whiteboard
		canvas, settings    []byte
		createdAt, updateAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, description, is_public, canvas_data, settings, created_at, updated_at
		 FROM whiteboards WHERE id = ?`, id).
		Scan(&wb.ID, &wb.OwnerID, &wb.Title, &wb.Description, &wb.IsPublic, &canvas, &settings, &createdAt, &updateAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		logrus.WithField("whiteboard_id", id).WithError(err).Error("Failed to retrieve whiteboard")
		return nil, err
	}

	wb.CanvasData = canvas
	wb.Settings = settings
	wb.CreatedAt = fromMillis(createdAt)
	wb.UpdatedAt = fromMillis(updateAt)
	return &wb, nil
}

func (s *store) ListWhiteboards(ctx context.Context, userID string) ([]*core.Whiteboard, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.owner_id, w.title, w.description, w.is_public, w.settings, w.created_at, w.updated_at
		 FROM whiteboards w
		 WHERE w.owner_id = ? OR w.is_public = 1
		    OR EXISTS (SELECT 1 FROM collaborators c WHERE c.whiteboard_id = w.id AND c.user_id = ?)
		 ORDER BY w.updated_at DESC, w.id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("Failed to close whiteboard rows")
		}
	}()

	result := make([]*core.Whiteboard, 0)
	for rows.Next() {
		var (
			wb                   core.Whiteboard
			settings             []byte
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&wb.ID, &wb.OwnerID, &wb.Title, &wb.Description, &wb.IsPublic, &settings, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		wb.Settings = settings
		wb.CreatedAt = fromMillis(createdAt)
		wb.UpdatedAt = fromMillis(updatedAt)
		result = append(result, &wb)
	}
	return result, rows.Err()
}

// blobParam maps an empty document to NULL so COALESCE keeps the stored one.
func blobParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (s *store) UpdateWhiteboard(ctx context.Context, id string, patch core.WhiteboardPatch) (*core.Whiteboard, error) {
	var updatedAt any
	if !patch.UpdatedAt.IsZero() {
		updatedAt = toMillis(patch.UpdatedAt)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE whiteboards SET
			title = COALESCE(?, title),
			description = COALESCE(?, description),
			is_public = COALESCE(?, is_public),
			canvas_data = COALESCE(?, canvas_data),
			settings = COALESCE(?, settings),
			updated_at = COALESCE(?, updated_at)
		 WHERE id = ?`,
		patch.Title, patch.Description, patch.IsPublic,
		blobParam(patch.CanvasData), blobParam(patch.Settings), updatedAt, id)
	if err != nil {
		return nil, err
	}
	if err := expectAffected(result, "whiteboard", id); err != nil {
		return nil, err
	}
	return s.GetWhiteboard(ctx, id)
}

func (s *store) DeleteWhiteboard(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM whiteboards WHERE id = ?", id)
	if err != nil {
		return err
	}
	if err := expectAffected(result, "whiteboard", id); err != nil {
		return err
	}
	for _, stmt := range []string{
		"DELETE FROM collaborators WHERE whiteboard_id = ?",
		"DELETE FROM chat_messages WHERE whiteboard_id = ?",
		"DELETE FROM rooms WHERE room_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *store) SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE whiteboards SET canvas_data = ?, updated_at = ? WHERE id = ?",
		[]byte(canvasData), toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	return expectAffected(result, "whiteboard", id)
}

func (s *store) AddCollaborator(ctx context.Context, c *core.Collaborator) error {
	if _, err := s.GetWhiteboard(ctx, c.WhiteboardID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO collaborators (id, whiteboard_id, user_id, role, created_at) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.WhiteboardID, c.UserID, string(c.Role), toMillis(c.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("collaborator %s: %w", c.UserID, core.ErrAlreadyExists)
	}
	return err
}

func (s *store) GetCollaborator(ctx context.Context, whiteboardID, userID string) (*core.Collaborator, error) {
	var (
		c         core.Collaborator
		role      string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, whiteboard_id, user_id, role, created_at FROM collaborators WHERE whiteboard_id = ? AND user_id = ?",
		whiteboardID, userID).Scan(&c.ID, &c.WhiteboardID, &c.UserID, &role, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.Role = core.Role(role)
	c.CreatedAt = fromMillis(createdAt)
	return &c, nil
}

func (s *store) ListCollaborators(ctx context.Context, whiteboardID string) ([]*core.Collaborator, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, whiteboard_id, user_id, role, created_at FROM collaborators WHERE whiteboard_id = ? ORDER BY created_at, user_id",
		whiteboardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*core.Collaborator, 0)
	for rows.Next() {
		var (
			c         core.Collaborator
			role      string
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.WhiteboardID, &c.UserID, &role, &createdAt); err != nil {
			return nil, err
		}
		c.Role = core.Role(role)
		c.CreatedAt = fromMillis(createdAt)
		result = append(result, &c)
	}
	return result, rows.Err()
}

func (s *store) RemoveCollaborator(ctx context.Context, whiteboardID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM collaborators WHERE whiteboard_id = ? AND user_id = ?", whiteboardID, userID)
	if err != nil {
		return err
	}
	return expectAffected(result, "collaborator", userID)
}

func (s *store) CreateChatMessage(ctx context.Context, m *core.ChatMessage) error {
	var author []byte
	if m.User != nil {
		b, err := json.Marshal(m.User)
		if err != nil {
			return err
		}
		author = b
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, whiteboard_id, user_id, content, type, author, created_at)
		 SELECT ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM whiteboards WHERE id = ?)`,
		m.ID, m.WhiteboardID, m.UserID, m.Content, string(m.Type), author, toMillis(m.CreatedAt), m.WhiteboardID)
	if err != nil {
		logrus.WithField("whiteboard_id", m.WhiteboardID).WithError(err).Error("Failed to store chat message")
		return err
	}
	return expectAffected(result, "whiteboard", m.WhiteboardID)
}

func (s *store) ListChatMessages(ctx context.Context, whiteboardID string, limit int) ([]*core.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, whiteboard_id, user_id, content, type, author, created_at FROM (
			SELECT * FROM chat_messages WHERE whiteboard_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		 ) ORDER BY created_at ASC, id ASC`, whiteboardID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*core.ChatMessage, 0)
	for rows.Next() {
		var (
			m         core.ChatMessage
			msgType   string
			author    []byte
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.WhiteboardID, &m.UserID, &m.Content, &msgType, &author, &createdAt); err != nil {
			return nil, err
		}
		m.Type = core.MessageType(msgType)
		m.CreatedAt = fromMillis(createdAt)
		if len(author) > 0 {
			var profile core.UserProfile
			if err := json.Unmarshal(author, &profile); err == nil {
				m.User = &profile
			}
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

func (s *store) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (room_id, last_active) VALUES (?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET last_active = excluded.last_active`,
		roomID, time.Now().UnixMilli())
	return err
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]core.Room, 0)
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (s *store) UpsertUser(ctx context.Context, u *core.UserProfile) error {
	if u.ID == "" {
		return fmt.Errorf("user id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, first_name, last_name, avatar, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			avatar = excluded.avatar,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Avatar, time.Now().UnixMilli())
	return err
}

func (s *store) GetUser(ctx context.Context, id string) (*core.UserProfile, error) {
	var u core.UserProfile
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, first_name, last_name, avatar FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// likePattern escapes LIKE wildcards in q and wraps it for a substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(q)) + "%"
}

func (s *store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*core.UserProfile, error) {
	if limit <= 0 {
		limit = -1
	}
	pattern := likePattern(query)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, first_name, last_name, avatar FROM users
		 WHERE id != ?
		   AND (lower(username) LIKE ? ESCAPE '\' OR lower(first_name) LIKE ? ESCAPE '\' OR lower(last_name) LIKE ? ESCAPE '\')
		 ORDER BY username, id LIMIT ?`,
		excludeID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*core.UserProfile, 0)
	for rows.Next() {
		var u core.UserProfile
		if err := rows.Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Avatar); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}

// Close releases the database handle.
func (s *store) Close() error {
	return s.db.Close()
}

func expectAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}
