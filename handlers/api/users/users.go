package users

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const (
	minSearchLength  = 2
	maxSearchResults = 10
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: message, Code: code})
}

// Recorder keeps the user directory in step with verified tokens. A profile is written
// again only when it differs from the last one recorded for that user.
type Recorder struct {
	store core.UserStore
	seen  sync.Map
}

func NewRecorder(store core.UserStore) *Recorder {
	return &Recorder{store: store}
}

func (rec *Recorder) Record(ctx context.Context, profile core.UserProfile) error {
	if last, ok := rec.seen.Load(profile.ID); ok && last.(core.UserProfile) == profile {
		return nil
	}
	if err := rec.store.UpsertUser(ctx, &profile); err != nil {
		return err
	}
	rec.seen.Store(profile.ID, profile)
	return nil
}

// Middleware records the caller of every authenticated request. A failed write is logged
// and the request goes on.
func (rec *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
			profile := claims.Profile()
			if err := rec.Record(r.Context(), profile); err != nil {
				logrus.WithField("user_id", profile.ID).WithError(err).Warn("Failed to record user")
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HandleProfile returns the caller's directory entry.
func HandleProfile(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
			return
		}

		id := claims.Profile().ID
		user, err := store.GetUser(r.Context(), id)
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		if err != nil {
			logrus.WithField("user_id", id).WithError(err).Error("Failed to load user")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user")
			return
		}
		render.JSON(w, r, map[string]any{"user": user})
	}
}

// HandleSearch finds users to invite as collaborators. Queries shorter than two characters
// return no users, and the caller is never listed.
func HandleSearch(store core.UserStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "AUTHENTICATION_REQUIRED", "Authentication required")
			return
		}

		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if utf8.RuneCountInString(q) < minSearchLength {
			render.JSON(w, r, map[string]any{"users": []*core.UserProfile{}})
			return
		}

		found, err := store.SearchUsers(r.Context(), q, claims.Profile().ID, maxSearchResults)
		if err != nil {
			logrus.WithField("query", q).WithError(err).Error("Failed to search users")
			writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to search users")
			return
		}
		render.JSON(w, r, map[string]any{"users": found})
	}
}
