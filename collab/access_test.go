package collab

import (
	"context"
	"errors"
	"testing"

	"tomoboard-server/core"
)

func TestCanAccess_Precedence(t *testing.T) {
	backend := newFakeBackend()
	backend.addBoard("private", "owner", false)
	backend.addBoard("public", "owner", true)
	backend.addCollaborator("private", "editor", core.RoleEditor)
	backend.addCollaborator("private", "viewer", core.RoleViewer)
	backend.addCollaborator("public", "editor", core.RoleEditor)
	backend.addCollaborator("public", "owner", core.RoleViewer)

	gate := NewAccessGate(backend)

	tests := []struct {
		name    string
		room    string
		user    string
		allowed bool
		role    core.Role
	}{
		{"owner of private board", "private", "owner", true, core.RoleOwner},
		{"owner also listed as collaborator", "public", "owner", true, core.RoleOwner},
		{"public board stranger", "public", "stranger", true, core.RoleViewer},
		{"public wins over collaborator role", "public", "editor", true, core.RoleViewer},
		{"private editor", "private", "editor", true, core.RoleEditor},
		{"private viewer", "private", "viewer", true, core.RoleViewer},
		{"private stranger", "private", "stranger", false, ""},
		{"missing board", "missing", "owner", false, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := gate.CanAccess(context.Background(), tc.room, tc.user)
			if err != nil {
				t.Fatalf("CanAccess() error: %v", err)
			}
			if decision.Allowed != tc.allowed || decision.Role != tc.role {
				t.Errorf("CanAccess() = %+v, want allowed=%v role=%q", decision, tc.allowed, tc.role)
			}
		})
	}
}

func TestCanAccess_NotCached(t *testing.T) {
	backend := newFakeBackend()
	backend.addBoard("r1", "owner", false)
	backend.addCollaborator("r1", "bob", core.RoleEditor)
	gate := NewAccessGate(backend)

	if d, _ := gate.CanAccess(context.Background(), "r1", "bob"); !d.Allowed {
		t.Fatal("collaborator should be allowed")
	}

	backend.mu.Lock()
	delete(backend.collaborators["r1"], "bob")
	backend.mu.Unlock()

	if d, _ := gate.CanAccess(context.Background(), "r1", "bob"); d.Allowed {
		t.Error("revoked collaborator still allowed")
	}
}

func TestCanAccess_StoreError(t *testing.T) {
	backend := newFakeBackend()
	backend.getErr = errors.New("db down")
	gate := NewAccessGate(backend)

	if _, err := gate.CanAccess(context.Background(), "r1", "u1"); err == nil {
		t.Error("CanAccess() should surface store errors")
	}

	backend.getErr = nil
	backend.addBoard("r1", "owner", false)
	backend.collabErr = errors.New("db down")
	if _, err := gate.CanAccess(context.Background(), "r1", "u1"); err == nil {
		t.Error("CanAccess() should surface collaborator lookup errors")
	}
}

func TestAuthorize(t *testing.T) {
	backend := newFakeBackend()
	backend.addBoard("public", "owner", true)
	backend.addCollaborator("public", "editor", core.RoleEditor)
	backend.addCollaborator("public", "viewer", core.RoleViewer)
	gate := NewAccessGate(backend)

	tests := []struct {
		name     string
		user     string
		required core.Role
		role     core.Role
		wantErr  error
	}{
		{"owner can delete", "owner", core.RoleOwner, core.RoleOwner, nil},
		{"editor edits public board", "editor", core.RoleEditor, core.RoleEditor, nil},
		{"viewer cannot edit", "viewer", core.RoleEditor, core.RoleViewer, ErrInsufficientRole},
		{"stranger reads public board", "stranger", core.RoleViewer, core.RoleViewer, nil},
		{"stranger cannot edit", "stranger", core.RoleEditor, core.RoleViewer, ErrInsufficientRole},
		{"editor cannot delete", "editor", core.RoleOwner, core.RoleEditor, ErrInsufficientRole},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, role, err := gate.Authorize(context.Background(), "public", tc.user, tc.required)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Authorize() error = %v, want %v", err, tc.wantErr)
			}
			if role != tc.role {
				t.Errorf("Authorize() role = %q, want %q", role, tc.role)
			}
		})
	}

	if _, _, err := gate.Authorize(context.Background(), "missing", "owner", core.RoleViewer); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Authorize() on missing board error = %v, want ErrNotFound", err)
	}
}
