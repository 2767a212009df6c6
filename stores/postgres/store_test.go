package postgres

import (
	"context"
	"os"
	"testing"

	"tomoboard-server/core"
	"tomoboard-server/stores/storetest"
)

// Set TEST_DATABASE_URL to a scratch database to run these tests.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := NewPool(context.Background(), dsn)
	if err != nil {
		t.Fatalf("NewPool() failed: %v", err)
	}
	defer pool.Close()

	storetest.Run(t, func(t *testing.T) core.Store {
		for _, table := range []string{"chat_messages", "collaborators", "whiteboards", "rooms"} {
			if _, err := pool.Exec(context.Background(), "DELETE FROM "+table); err != nil {
				t.Fatalf("truncate %s failed: %v", table, err)
			}
		}
		return NewStore(pool)
	})
}

func TestJSONParam(t *testing.T) {
	if jsonParam(nil) != nil {
		t.Error("jsonParam(nil) should map to NULL")
	}
	if got := jsonParam([]byte(`{"a":1}`)); got != `{"a":1}` {
		t.Errorf("jsonParam() = %v", got)
	}
}

func TestIsUniqueViolation_PlainError(t *testing.T) {
	if isUniqueViolation(context.Canceled) || isForeignKeyViolation(context.Canceled) {
		t.Error("non-postgres errors must not classify as constraint violations")
	}
	if isUniqueViolation(nil) {
		t.Error("nil error classified as violation")
	}
}
