package collab

import (
	"context"
	"errors"
	"fmt"

	"tomoboard-server/core"
	"tomoboard-server/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

// AccessReader is the slice of the store the gate needs.
type AccessReader interface {
	GetWhiteboard(ctx context.Context, id string) (*core.Whiteboard, error)
	GetCollaborator(ctx context.Context, whiteboardID, userID string) (*core.Collaborator, error)
}

type Decision struct {
	Allowed bool
	Role    core.Role
}

var ErrInsufficientRole = errors.New("insufficient permissions")

// AccessGate decides who may enter a whiteboard. Results are never cached, so a revoked
// collaborator is refused on their next join.
type AccessGate struct {
	store AccessReader
}

func NewAccessGate(store AccessReader) *AccessGate {
	return &AccessGate{store: store}
}

// CanAccess evaluates owner, then public, then collaborator. A missing whiteboard is a denial.
func (g *AccessGate) CanAccess(ctx context.Context, roomID, userID string) (Decision, error) {
	ctx, span := telemetry.StartSpan(ctx, "AccessGate.CanAccess",
		attribute.String("whiteboard.id", roomID),
		attribute.String("user.id", userID),
	)
	defer span.End()

	whiteboard, err := g.store.GetWhiteboard(ctx, roomID)
	if errors.Is(err, core.ErrNotFound) {
		return Decision{}, nil
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return Decision{}, fmt.Errorf("load whiteboard %s: %w", roomID, err)
	}

	if whiteboard.OwnerID == userID {
		return Decision{Allowed: true, Role: core.RoleOwner}, nil
	}
	if whiteboard.IsPublic {
		return Decision{Allowed: true, Role: core.RoleViewer}, nil
	}

	collaborator, err := g.store.GetCollaborator(ctx, roomID, userID)
	if errors.Is(err, core.ErrNotFound) {
		return Decision{}, nil
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		return Decision{}, fmt.Errorf("load collaborator: %w", err)
	}
	return Decision{Allowed: true, Role: collaborator.Role}, nil
}

// Authorize resolves the caller's role for REST access (owner, then collaborator, then public
// as VIEWER) and checks it against required. It returns core.ErrNotFound for a missing board
// and ErrInsufficientRole when access is refused.
func (g *AccessGate) Authorize(ctx context.Context, whiteboardID, userID string, required core.Role) (*core.Whiteboard, core.Role, error) {
	whiteboard, err := g.store.GetWhiteboard(ctx, whiteboardID)
	if err != nil {
		return nil, "", err
	}

	var role core.Role
	switch {
	case whiteboard.OwnerID == userID:
		role = core.RoleOwner
	default:
		collaborator, err := g.store.GetCollaborator(ctx, whiteboardID, userID)
		switch {
		case err == nil:
			role = collaborator.Role
		case errors.Is(err, core.ErrNotFound):
			if whiteboard.IsPublic {
				role = core.RoleViewer
			}
		default:
			return nil, "", err
		}
	}

	if role == "" || !role.AtLeast(required) {
		return whiteboard, role, ErrInsufficientRole
	}
	return whiteboard, role, nil
}
