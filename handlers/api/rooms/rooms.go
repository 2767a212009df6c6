package rooms

import (
	"context"
	"net/http"
	"sort"

	"tomoboard-server/collab"
	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

// LiveRooms reports the current member count of every occupied room.
type LiveRooms interface {
	ActiveRooms() map[string]int
}

type RoomInfo struct {
	ID         string `json:"id"`
	Users      int    `json:"users"`
	LastActive *int64 `json:"lastActive,omitempty"`
}

// Gate decides whether a user may see a room.
type Gate interface {
	CanAccess(ctx context.Context, roomID, userID string) (collab.Decision, error)
}

// HandleList merges live membership with persisted activity. Rooms are ordered by users,
// then most recent activity, then id. With a gate, only rooms the caller may join are listed.
func HandleList(live LiveRooms, registry core.RoomRegistry, gate Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if gate != nil {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, map[string]string{"error": "Authentication required", "code": "AUTHENTICATION_REQUIRED"})
				return
			}
			userID = claims.Profile().ID
		}

		roomMap := make(map[string]*RoomInfo)
		for id, count := range live.ActiveRooms() {
			roomMap[id] = &RoomInfo{ID: id, Users: count}
		}

		if registry != nil {
			if storedRooms, err := registry.ListRooms(r.Context()); err != nil {
				logrus.WithError(err).Warn("failed to list rooms from registry")
			} else {
				for _, room := range storedRooms {
					entry, exists := roomMap[room.ID]
					if !exists {
						entry = &RoomInfo{ID: room.ID}
						roomMap[room.ID] = entry
					}
					if room.LastActive > 0 {
						lastActive := room.LastActive
						entry.LastActive = &lastActive
					}
				}
			}
		}

		roomList := make([]RoomInfo, 0, len(roomMap))
		for id, entry := range roomMap {
			if gate != nil && !visible(r.Context(), gate, id, userID) {
				continue
			}
			roomList = append(roomList, *entry)
		}
		sortRooms(roomList)

		render.JSON(w, r, roomList)
	}
}

func visible(ctx context.Context, gate Gate, roomID, userID string) bool {
	decision, err := gate.CanAccess(ctx, roomID, userID)
	if err != nil {
		logrus.WithField("whiteboard_id", roomID).WithError(err).Warn("failed to check room access")
		return false
	}
	return decision.Allowed
}

func sortRooms(rooms []RoomInfo) {
	lastActive := func(room RoomInfo) int64 {
		if room.LastActive == nil {
			return 0
		}
		return *room.LastActive
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].Users != rooms[j].Users {
			return rooms[i].Users > rooms[j].Users
		}
		li, lj := lastActive(rooms[i]), lastActive(rooms[j])
		if li != lj {
			return li > lj
		}
		return rooms[i].ID < rooms[j].ID
	})
}
