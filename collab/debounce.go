package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"tomoboard-server/telemetry"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// WriteFunc persists a whole canvas document for a room.
type WriteFunc func(ctx context.Context, roomID string, doc json.RawMessage) error

type pendingSave struct {
	timer *time.Timer
	doc   json.RawMessage
}

// Debouncer coalesces bursts of full-canvas snapshots into one delayed write per room.
// Only the last snapshot of a burst is written; failures are logged and not retried.
type Debouncer struct {
	delay   time.Duration
	timeout time.Duration
	write   WriteFunc

	mu      sync.Mutex
	pending map[string]*pendingSave
	wg      sync.WaitGroup
	closed  bool
}

func NewDebouncer(delay, timeout time.Duration, write WriteFunc) *Debouncer {
	return &Debouncer{
		delay:   delay,
		timeout: timeout,
		write:   write,
		pending: make(map[string]*pendingSave),
	}
}

// Schedule replaces any pending save for roomID with doc and restarts the delay.
func (d *Debouncer) Schedule(roomID string, doc json.RawMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	if prev, ok := d.pending[roomID]; ok {
		prev.timer.Stop()
	}

	entry := &pendingSave{doc: doc}
	entry.timer = time.AfterFunc(d.delay, func() { d.fire(roomID, entry) })
	d.pending[roomID] = entry
}

// fire runs on timer expiry. A superseded entry does nothing, which covers the case where
// Stop lost the race against an expiring timer.
func (d *Debouncer) fire(roomID string, entry *pendingSave) {
	d.mu.Lock()
	if d.pending[roomID] != entry {
		d.mu.Unlock()
		return
	}
	delete(d.pending, roomID)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.persist(roomID, entry.doc)
}

// Flush starts the write of the pending snapshot for roomID now, if there is one.
// It reports whether anything was pending.
func (d *Debouncer) Flush(roomID string) bool {
	d.mu.Lock()
	entry, ok := d.pending[roomID]
	if !ok {
		d.mu.Unlock()
		return false
	}
	entry.timer.Stop()
	delete(d.pending, roomID)
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.persist(roomID, entry.doc)
	}()
	return true
}

// Cancel drops the pending snapshot for roomID without writing it.
func (d *Debouncer) Cancel(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.pending[roomID]; ok {
		entry.timer.Stop()
		delete(d.pending, roomID)
	}
}

func (d *Debouncer) Pending(roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pending[roomID]
	return ok
}

// Close writes every pending snapshot and waits for in-flight writes, or until ctx is done.
// Later calls to Schedule are ignored.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	rooms := make([]string, 0, len(d.pending))
	for roomID := range d.pending {
		rooms = append(rooms, roomID)
	}
	d.mu.Unlock()

	for _, roomID := range rooms {
		d.Flush(roomID)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Debouncer) persist(roomID string, doc json.RawMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	ctx, span := telemetry.StartSpan(ctx, "Debouncer.persist",
		attribute.String("whiteboard.id", roomID),
		attribute.Int("canvas.bytes", len(doc)),
	)
	defer span.End()

	log := logrus.WithFields(logrus.Fields{
		"whiteboard_id": roomID,
		"data_length":   len(doc),
	})

	if err := d.write(ctx, roomID, doc); err != nil {
		telemetry.RecordError(ctx, err)
		log.WithError(err).Error("Failed to persist canvas")
		return
	}
	log.Debug("Canvas persisted")
}
