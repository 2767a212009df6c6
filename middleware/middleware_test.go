package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthJWT_MissingHeader(t *testing.T) {
	called := false
	handler := AuthJWT(auth.NewVerifier("secret"))(okHandler(&called))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if called {
		t.Error("next handler called without a token")
	}
}

func TestAuthJWT_BadFormat(t *testing.T) {
	called := false
	handler := AuthJWT(auth.NewVerifier("secret"))(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Token abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || called {
		t.Errorf("status = %d called = %v, want 401 and not called", w.Code, called)
	}
}

func TestAuthJWT_InvalidToken(t *testing.T) {
	called := false
	handler := AuthJWT(auth.NewVerifier("secret"))(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized || called {
		t.Errorf("status = %d called = %v, want 401 and not called", w.Code, called)
	}
}

func TestAuthJWT_ValidToken(t *testing.T) {
	verifier := auth.NewVerifier("secret")
	token, err := verifier.Sign(core.UserProfile{ID: "u1", Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}

	var gotUser string
	handler := AuthJWT(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if ok {
			gotUser = claims.Profile().ID
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUser != "u1" {
		t.Errorf("claims user = %q, want u1", gotUser)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer abc", "abc", true},
		{"Bearer", "", false},
		{"Basic abc", "", false},
		{"Bearer a b", "", false},
	}
	for _, tc := range tests {
		token, ok := BearerToken(tc.header)
		if token != tc.token || ok != tc.ok {
			t.Errorf("BearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

func TestTracing_SetsRequestID(t *testing.T) {
	called := false
	handler := Tracing(okHandler(&called))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if !called {
		t.Fatal("next handler not called")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestIPRateLimiter_Middleware(t *testing.T) {
	limiter := NewIPRateLimiter(1, 2)
	called := false
	handler := limiter.Middleware(okHandler(&called))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first requests = %v, want within burst", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want %d", codes[2], http.StatusTooManyRequests)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	limiter := NewIPRateLimiter(1000, 1)
	limiter.GetLimiter("10.0.0.1")

	if removed := limiter.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1 idle limiter", removed)
	}
}
