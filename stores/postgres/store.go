package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tomoboard-server/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

type store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) core.Store {
	return &store{pool: pool}
}

// jsonParam maps an empty document to SQL NULL.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *store) CreateWhiteboard(ctx context.Context, wb *core.Whiteboard) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO whiteboards (id, owner_id, title, description, is_public, canvas_data, settings, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		wb.ID, wb.OwnerID, wb.Title, wb.Description, wb.IsPublic,
		jsonParam(wb.CanvasData), jsonParam(wb.Settings), wb.CreatedAt, wb.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("whiteboard %s: %w", wb.ID, core.ErrAlreadyExists)
	}
	if err != nil {
		logrus.WithField("whiteboard_id", wb.ID).WithError(err).Error("Failed to create whiteboard")
	}
	return err
}

func (s *store) GetWhiteboard(ctx context.Context, id string) (*core.Whiteboard, error) {
	var (
		wb               core.Whiteboard
		canvas, settings []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, title, description, is_public, canvas_data, settings, created_at, updated_at
		 FROM whiteboards WHERE id = $1`, id).
		Scan(&wb.ID, &wb.OwnerID, &wb.Title, &wb.Description, &wb.IsPublic, &canvas, &settings, &wb.CreatedAt, &wb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	wb.CanvasData = canvas
	wb.Settings = settings
	return &wb, nil
}

func (s *store) ListWhiteboards(ctx context.Context, userID string) ([]*core.Whiteboard, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT w.id, w.owner_id, w.title, w.description, w.is_public, w.settings, w.created_at, w.updated_at
		 FROM whiteboards w
		 WHERE w.owner_id = $1 OR w.is_public
		    OR EXISTS (SELECT 1 FROM collaborators c WHERE c.whiteboard_id = w.id AND c.user_id = $1)
		 ORDER BY w.updated_at DESC, w.id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*core.Whiteboard, 0)
	for rows.Next() {
		var (
			wb       core.Whiteboard
			settings []byte
		)
		if err := rows.Scan(&wb.ID, &wb.OwnerID, &wb.Title, &wb.Description, &wb.IsPublic, &settings, &wb.CreatedAt, &wb.UpdatedAt); err != nil {
			return nil, err
		}
		wb.Settings = settings
		result = append(result, &wb)
	}
	return result, rows.Err()
}

func (s *store) UpdateWhiteboard(ctx context.Context, id string, patch core.WhiteboardPatch) (*core.Whiteboard, error) {
	var updatedAt any
	if !patch.UpdatedAt.IsZero() {
		updatedAt = patch.UpdatedAt
	}

	var (
		wb               core.Whiteboard
		canvas, settings []byte
	)
	err := s.pool.QueryRow(ctx,
		`UPDATE whiteboards SET
			title = COALESCE($1::text, title),
			description = COALESCE($2::text, description),
			is_public = COALESCE($3::boolean, is_public),
			canvas_data = COALESCE($4::jsonb, canvas_data),
			settings = COALESCE($5::jsonb, settings),
			updated_at = COALESCE($6::timestamptz, updated_at)
		 WHERE id = $7
		 RETURNING id, owner_id, title, description, is_public, canvas_data, settings, created_at, updated_at`,
		patch.Title, patch.Description, patch.IsPublic,
		jsonParam(patch.CanvasData), jsonParam(patch.Settings), updatedAt, id).
		Scan(&wb.ID, &wb.OwnerID, &wb.Title, &wb.Description, &wb.IsPublic, &canvas, &settings, &wb.CreatedAt, &wb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	wb.CanvasData = canvas
	wb.Settings = settings
	return &wb, nil
}

func (s *store) DeleteWhiteboard(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "DELETE FROM whiteboards WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM rooms WHERE room_id = $1", id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *store) SaveCanvas(ctx context.Context, id string, canvasData json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE whiteboards SET canvas_data = $1, updated_at = $2 WHERE id = $3",
		jsonParam(canvasData), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("whiteboard %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (s *store) AddCollaborator(ctx context.Context, c *core.Collaborator) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO collaborators (id, whiteboard_id, user_id, role, created_at) VALUES ($1, $2, $3, $4, $5)",
		c.ID, c.WhiteboardID, c.UserID, string(c.Role), c.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("collaborator %s: %w", c.UserID, core.ErrAlreadyExists)
	case isForeignKeyViolation(err):
		return fmt.Errorf("whiteboard %s: %w", c.WhiteboardID, core.ErrNotFound)
	}
	return err
}

func (s *store) GetCollaborator(ctx context.Context, whiteboardID, userID string) (*core.Collaborator, error) {
	var (
		c    core.Collaborator
		role string
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, whiteboard_id, user_id, role, created_at FROM collaborators WHERE whiteboard_id = $1 AND user_id = $2",
		whiteboardID, userID).Scan(&c.ID, &c.WhiteboardID, &c.UserID, &role, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	c.Role = core.Role(role)
	return &c, nil
}

func (s *store) ListCollaborators(ctx context.Context, whiteboardID string) ([]*core.Collaborator, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, whiteboard_id, user_id, role, created_at FROM collaborators WHERE whiteboard_id = $1 ORDER BY created_at, user_id",
		whiteboardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*core.Collaborator, 0)
	for rows.Next() {
		var (
			c    core.Collaborator
			role string
		)
		if err := rows.Scan(&c.ID, &c.WhiteboardID, &c.UserID, &role, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Role = core.Role(role)
		result = append(result, &c)
	}
	return result, rows.Err()
}

func (s *store) RemoveCollaborator(ctx context.Context, whiteboardID, userID string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM collaborators WHERE whiteboard_id = $1 AND user_id = $2", whiteboardID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collaborator %s: %w", userID, core.ErrNotFound)
	}
	return nil
}

func (s *store) CreateChatMessage(ctx context.Context, m *core.ChatMessage) error {
	var author any
	if m.User != nil {
		b, err := json.Marshal(m.User)
		if err != nil {
			return err
		}
		author = string(b)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (id, whiteboard_id, user_id, content, type, author, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.WhiteboardID, m.UserID, m.Content, string(m.Type), author, m.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("whiteboard %s: %w", m.WhiteboardID, core.ErrNotFound)
	}
	if err != nil {
		logrus.WithField("whiteboard_id", m.WhiteboardID).WithError(err).Error("Failed to store chat message")
	}
	return err
}

func (s *store) ListChatMessages(ctx context.Context, whiteboardID string, limit int) ([]*core.ChatMessage, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, whiteboard_id, user_id, content, type, author, created_at FROM (
			SELECT * FROM chat_messages WHERE whiteboard_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2
		 ) recent ORDER BY created_at ASC, id ASC`, whiteboardID, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*core.ChatMessage, 0)
	for rows.Next() {
		var (
			m       core.ChatMessage
			msgType string
			author  []byte
		)
		if err := rows.Scan(&m.ID, &m.WhiteboardID, &m.UserID, &m.Content, &msgType, &author, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Type = core.MessageType(msgType)
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (room_id, last_active) VALUES ($1, $2)
		 ON CONFLICT (room_id) DO UPDATE SET last_active = EXCLUDED.last_active`,
		roomID, time.Now().UnixMilli())
	return err
}

func (s *store) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.pool.Query(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, first_name, last_name, avatar, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			avatar = EXCLUDED.avatar,
			updated_at = EXCLUDED.updated_at`,
		u.ID, u.Username, u.FirstName, u.LastName, u.Avatar, time.Now().UTC())
	return err
}

func (s *store) GetUser(ctx context.Context, id string) (*core.UserProfile, error) {
	var u core.UserProfile
	err := s.pool.QueryRow(ctx,
		"SELECT id, username, first_name, last_name, avatar FROM users WHERE id = $1", id).
		Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.Avatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// likePattern escapes ILIKE wildcards in q and wraps it for a substring match.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func (s *store) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*core.UserProfile, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, first_name, last_name, avatar FROM users
		 WHERE id <> $1 AND (username ILIKE $2 OR first_name ILIKE $2 OR last_name ILIKE $2)
		 ORDER BY username, id LIMIT $3`,
		excludeID, likePattern(query), limitArg)
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
