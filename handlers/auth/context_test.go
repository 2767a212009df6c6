package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleMe_Success(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(WithClaims(req.Context(), &AppClaims{UserID: "u1", Username: "alice"}))
	w := httptest.NewRecorder()

	HandleMe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleMe() status = %d, want %d", w.Code, http.StatusOK)
	}

	var body struct {
		User struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.User.ID != "u1" || body.User.Username != "alice" {
		t.Errorf("HandleMe() user = %+v", body.User)
	}
}

func TestHandleMe_NoClaims(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	w := httptest.NewRecorder()

	HandleMe(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("HandleMe() status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
