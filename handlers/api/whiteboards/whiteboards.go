package whiteboards

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"tomoboard-server/collab"
	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 500
	maxMessagesLimit     = 200
)

type (
	CreateRequest struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		IsPublic    bool   `json:"isPublic"`
	}

	UpdateRequest struct {
		Title       *string         `json:"title"`
		Description *string         `json:"description"`
		IsPublic    *bool           `json:"isPublic"`
		CanvasData  json.RawMessage `json:"canvasData,omitempty"`
		Settings    json.RawMessage `json:"settings,omitempty"`
	}

	AddCollaboratorRequest struct {
		UserID string    `json:"userId"`
		Role   core.Role `json:"role"`
	}

	DetailResponse struct {
		*core.Whiteboard
		UserRole      core.Role            `json:"userRole"`
		Collaborators []*core.Collaborator `json:"collaborators"`
		Messages      []*core.ChatMessage  `json:"messages"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
)

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message, Code: code})
}

func currentUser(w http.ResponseWriter, r *http.Request) (core.UserProfile, bool) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
		return core.UserProfile{}, false
	}
	return claims.Profile(), true
}

// authorize resolves the caller's role on the {id} board and writes the error response
// when it is below required.
func authorize(w http.ResponseWriter, r *http.Request, gate *collab.AccessGate, userID string, required core.Role) (*core.Whiteboard, core.Role, bool) {
	id := chi.URLParam(r, "id")
	whiteboard, role, err := gate.Authorize(r.Context(), id, userID, required)
	switch {
	case err == nil:
		return whiteboard, role, true
	case errors.Is(err, core.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Whiteboard not found")
	case errors.Is(err, collab.ErrInsufficientRole):
		writeError(w, r, http.StatusForbidden, "ACCESS_DENIED", "Access denied")
	default:
		logrus.WithField("whiteboard_id", id).WithError(err).Error("Failed to authorize request")
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
	return nil, "", false
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}

// HandleList lists the boards the caller owns, collaborates on, or that are public.
func HandleList(store core.WhiteboardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		list, err := store.ListWhiteboards(r.Context(), user.ID)
		if err != nil {
			logrus.WithField("user_id", user.ID).WithError(err).Error("Failed to list whiteboards")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list whiteboards")
			return
		}
		render.JSON(w, r, map[string]any{"whiteboards": list})
	}
}

func HandleCreate(store core.WhiteboardStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if msg := validateMeta(req.Title, req.Description); msg != "" {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", msg)
			return
		}

		now := time.Now().UTC()
		whiteboard := &core.Whiteboard{
			ID:          ulid.Make().String(),
			OwnerID:     user.ID,
			Title:       req.Title,
			Description: req.Description,
			IsPublic:    req.IsPublic,
			CanvasData:  core.DefaultCanvasData,
			Settings:    core.DefaultSettings,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := store.CreateWhiteboard(r.Context(), whiteboard); err != nil {
			logrus.WithField("user_id", user.ID).WithError(err).Error("Failed to create whiteboard")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create whiteboard")
			return
		}

		logrus.WithFields(logrus.Fields{"user_id": user.ID, "whiteboard_id": whiteboard.ID}).Info("Whiteboard created")
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, whiteboard)
	}
}

func validateMeta(title, description string) string {
	if n := utf8.RuneCountInString(title); n < 1 || n > maxTitleLength {
		return "Title must be between 1 and 100 characters"
	}
	if utf8.RuneCountInString(description) > maxDescriptionLength {
		return "Description must be at most 500 characters"
	}
	return ""
}

// HandleGet returns the board with the caller's role, its collaborators and recent chat.
func HandleGet(store core.Store, gate *collab.AccessGate, historyLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		whiteboard, role, ok := authorize(w, r, gate, user.ID, core.RoleViewer)
		if !ok {
			return
		}

		log := logrus.WithField("whiteboard_id", whiteboard.ID)
		collaborators, err := store.ListCollaborators(r.Context(), whiteboard.ID)
		if err != nil {
			log.WithError(err).Error("Failed to list collaborators")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load whiteboard")
			return
		}
		messages, err := store.ListChatMessages(r.Context(), whiteboard.ID, historyLimit)
		if err != nil {
			log.WithError(err).Error("Failed to list chat messages")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load whiteboard")
			return
		}

		render.JSON(w, r, DetailResponse{
			Whiteboard:    whiteboard,
			UserRole:      role,
			Collaborators: collaborators,
			Messages:      messages,
		})
	}
}

// HandleUpdate writes only the fields present in the request body.
func HandleUpdate(store core.WhiteboardStore, gate *collab.AccessGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
			return
		}
		patch, msg := req.patch()
		if msg != "" {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", msg)
			return
		}

		whiteboard, _, ok := authorize(w, r, gate, user.ID, core.RoleEditor)
		if !ok {
			return
		}

		updated, err := store.UpdateWhiteboard(r.Context(), whiteboard.ID, patch)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Whiteboard not found")
				return
			}
			logrus.WithField("whiteboard_id", whiteboard.ID).WithError(err).Error("Failed to update whiteboard")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update whiteboard")
			return
		}
		render.JSON(w, r, updated)
	}
}

// patch validates the fields present in req and turns them into a partial update.
func (req *UpdateRequest) patch() (core.WhiteboardPatch, string) {
	patch := core.WhiteboardPatch{
		Description: req.Description,
		IsPublic:    req.IsPublic,
		UpdatedAt:   time.Now().UTC(),
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if n := utf8.RuneCountInString(title); n < 1 || n > maxTitleLength {
			return patch, "Title must be between 1 and 100 characters"
		}
		patch.Title = &title
	}
	if req.Description != nil && utf8.RuneCountInString(*req.Description) > maxDescriptionLength {
		return patch, "Description must be at most 500 characters"
	}
	if len(req.CanvasData) > 0 {
		if !isJSONObject(req.CanvasData) {
			return patch, "canvasData must be an object"
		}
		patch.CanvasData = req.CanvasData
	}
	if len(req.Settings) > 0 {
		if !isJSONObject(req.Settings) {
			return patch, "settings must be an object"
		}
		patch.Settings = req.Settings
	}
	return patch, ""
}

func HandleDelete(store core.WhiteboardStore, gate *collab.AccessGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		whiteboard, _, ok := authorize(w, r, gate, user.ID, core.RoleOwner)
		if !ok {
			return
		}

		if err := store.DeleteWhiteboard(r.Context(), whiteboard.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			logrus.WithField("whiteboard_id", whiteboard.ID).WithError(err).Error("Failed to delete whiteboard")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete whiteboard")
			return
		}

		logrus.WithFields(logrus.Fields{"user_id": user.ID, "whiteboard_id": whiteboard.ID}).Info("Whiteboard deleted")
		w.WriteHeader(http.StatusNoContent)
	}
}

// CollaboratorDirectory is what adding a collaborator needs: the membership table and the
// user directory to check the invitee against.
type CollaboratorDirectory interface {
	core.CollaboratorStore
	core.UserStore
}

func HandleAddCollaborator(store CollaboratorDirectory, gate *collab.AccessGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		var req AddCollaboratorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "userId is required")
			return
		}
		if !req.Role.Valid() {
			writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "role must be EDITOR or VIEWER")
			return
		}

		whiteboard, _, ok := authorize(w, r, gate, user.ID, core.RoleEditor)
		if !ok {
			return
		}
		if _, err := store.GetUser(r.Context(), req.UserID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
				return
			}
			logrus.WithField("user_id", req.UserID).WithError(err).Error("Failed to look up collaborator")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to add collaborator")
			return
		}
		if req.UserID == whiteboard.OwnerID {
			writeError(w, r, http.StatusConflict, "ALREADY_COLLABORATOR", "User is the owner of this whiteboard")
			return
		}

		collaborator := &core.Collaborator{
			ID:           uuid.NewString(),
			WhiteboardID: whiteboard.ID,
			UserID:       req.UserID,
			Role:         req.Role,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.AddCollaborator(r.Context(), collaborator); err != nil {
			switch {
			case errors.Is(err, core.ErrAlreadyExists):
				writeError(w, r, http.StatusConflict, "ALREADY_COLLABORATOR", "User is already a collaborator")
			case errors.Is(err, core.ErrNotFound):
				writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Whiteboard not found")
			default:
				logrus.WithField("whiteboard_id", whiteboard.ID).WithError(err).Error("Failed to add collaborator")
				writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to add collaborator")
			}
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, collaborator)
	}
}

// HandleRemoveCollaborator lets editors remove anyone, and any collaborator remove themself.
func HandleRemoveCollaborator(store core.CollaboratorStore, gate *collab.AccessGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}
		target := chi.URLParam(r, "userId")

		required := core.RoleEditor
		if target == user.ID {
			required = core.RoleViewer
		}
		whiteboard, _, ok := authorize(w, r, gate, user.ID, required)
		if !ok {
			return
		}

		if err := store.RemoveCollaborator(r.Context(), whiteboard.ID, target); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Collaborator not found")
				return
			}
			logrus.WithField("whiteboard_id", whiteboard.ID).WithError(err).Error("Failed to remove collaborator")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to remove collaborator")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleMessages(store core.ChatStore, gate *collab.AccessGate, defaultLimit int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r)
		if !ok {
			return
		}

		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxMessagesLimit {
				writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be between 1 and 200")
				return
			}
			limit = n
		}

		whiteboard, _, ok := authorize(w, r, gate, user.ID, core.RoleViewer)
		if !ok {
			return
		}

		messages, err := store.ListChatMessages(r.Context(), whiteboard.ID, limit)
		if err != nil {
			logrus.WithField("whiteboard_id", whiteboard.ID).WithError(err).Error("Failed to list chat messages")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list messages")
			return
		}
		render.JSON(w, r, map[string]any{"messages": messages})
	}
}
