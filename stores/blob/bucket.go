// Package blob stores whiteboards as JSON objects in a flat key space, so any
// object store that can get, put, delete and list by prefix can back it.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var ErrObjectNotFound = errors.New("object not found")

// Bucket is a minimal object store. Delete of a missing key is not an error.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	// List returns every key starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// ValidateName rejects ids that would escape their key segment.
func ValidateName(id string) error {
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("invalid id %q: must not be empty or a dot directory", id)
	}
	if path.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid id %q: must not be a path", id)
	}
	return nil
}

func whiteboardKey(id string) string { return "whiteboards/" + id + ".json" }

func messagePrefix(whiteboardID string) string { return "messages/" + whiteboardID + "/" }

func messageKey(whiteboardID, id string) string { return messagePrefix(whiteboardID) + id + ".json" }

func roomKey(id string) string { return "rooms/" + id + ".json" }

func userKey(id string) string { return "users/" + id + ".json" }
