package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tomoboard-server/core"
	"tomoboard-server/handlers/auth"
	"tomoboard-server/stores/memory"
)

// countingStore counts directory writes.
type countingStore struct {
	core.Store
	upserts   int
	upsertErr error
}

func (s *countingStore) UpsertUser(ctx context.Context, u *core.UserProfile) error {
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	return s.Store.UpsertUser(ctx, u)
}

func request(t *testing.T, h http.Handler, target, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userID != "" {
		claims := &auth.AppClaims{UserID: userID, Username: userID}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRecorder_SkipsUnchangedProfile(t *testing.T) {
	store := &countingStore{Store: memory.NewStore()}
	rec := NewRecorder(store)
	ctx := context.Background()

	alice := core.UserProfile{ID: "u1", Username: "alice"}
	for i := 0; i < 3; i++ {
		if err := rec.Record(ctx, alice); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}
	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1 for an unchanged profile", store.upserts)
	}

	alice.Avatar = "/a.png"
	if err := rec.Record(ctx, alice); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if store.upserts != 2 {
		t.Errorf("upserts = %d, want a write for the changed profile", store.upserts)
	}
	got, err := store.GetUser(ctx, "u1")
	if err != nil || got.Avatar != "/a.png" {
		t.Errorf("GetUser() = %+v, %v", got, err)
	}
}

func TestRecorder_RetriesAfterFailure(t *testing.T) {
	store := &countingStore{Store: memory.NewStore(), upsertErr: errors.New("db down")}
	rec := NewRecorder(store)

	profile := core.UserProfile{ID: "u1", Username: "alice"}
	if err := rec.Record(context.Background(), profile); err == nil {
		t.Fatal("Record() hid the store error")
	}
	store.upsertErr = nil
	if err := rec.Record(context.Background(), profile); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if store.upserts != 2 {
		t.Errorf("upserts = %d, want the failed write retried", store.upserts)
	}
}

func TestRecorder_Middleware(t *testing.T) {
	store := &countingStore{Store: memory.NewStore(), upsertErr: errors.New("db down")}
	rec := NewRecorder(store)

	called := false
	h := rec.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	request(t, h, "/", "alice")
	if !called || store.upserts != 1 {
		t.Errorf("called=%v upserts=%d, want the request served despite the failed write", called, store.upserts)
	}

	called = false
	request(t, h, "/", "")
	if !called || store.upserts != 1 {
		t.Errorf("anonymous request: called=%v upserts=%d", called, store.upserts)
	}
}

func TestHandleProfile(t *testing.T) {
	store := memory.NewStore()
	_ = store.UpsertUser(context.Background(), &core.UserProfile{ID: "alice", Username: "alice", FirstName: "Alice"})
	h := HandleProfile(store)

	rr := request(t, h, "/api/users/profile", "alice")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var got struct {
		User core.UserProfile `json:"user"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.User.FirstName != "Alice" {
		t.Errorf("profile = %+v", got.User)
	}

	rr = request(t, h, "/api/users/profile", "ghost")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", rr.Code)
	}
	if rr := request(t, h, "/api/users/profile", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	for _, u := range []core.UserProfile{
		{ID: "alice", Username: "alice"},
		{ID: "alicia", Username: "alicia"},
		{ID: "bob", Username: "bob", LastName: "Alison"},
		{ID: "carol", Username: "carol"},
	} {
		u := u
		_ = store.UpsertUser(ctx, &u)
	}
	h := HandleSearch(store)

	search := func(q string) []core.UserProfile {
		t.Helper()
		rr := request(t, h, "/api/users/search?q="+q, "alice")
		if rr.Code != http.StatusOK {
			t.Fatalf("search %q status = %d", q, rr.Code)
		}
		var got struct {
			Users []core.UserProfile `json:"users"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return got.Users
	}

	got := search("ali")
	if len(got) != 2 || got[0].ID != "alicia" || got[1].ID != "bob" {
		t.Errorf("search(ali) = %+v, want alicia and bob without the caller", got)
	}
	if got := search("a"); len(got) != 0 {
		t.Errorf("one-character search returned %d users", len(got))
	}
	if got := search(""); got == nil || len(got) != 0 {
		t.Errorf("empty search = %v, want an empty list", got)
	}
	if rr := request(t, h, "/api/users/search?q=ali", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rr.Code)
	}
}
