// Package queue defines deferred work messages and the contract for
// scheduling them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidMessage is returned when a message payload cannot be decoded.
	ErrInvalidMessage = errors.New("kvlens: invalid queue message")

	// ErrDuplicate is returned when a message id is already queued.
	ErrDuplicate = errors.New("kvlens: duplicate queue message")
)

// Kind identifies what a message asks the worker to do.
type Kind string

// KindExportCleanup removes an export snapshot and its status record.
const KindExportCleanup Kind = "export.cleanup"

// Message is one unit of deferred work.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Session   string    `json:"session"`
	ExportID  string    `json:"export_id"`
	Path      string    `json:"path,omitempty"`
	NotBefore time.Time `json:"not_before"`
}

// NewCleanup builds an export cleanup message with a fresh id.
func NewCleanup(session, exportID, path string) Message {
	return Message{
		ID:       uuid.NewString(),
		Kind:     KindExportCleanup,
		Session:  session,
		ExportID: exportID,
		Path:     path,
	}
}

// Encode renders msg as JSON.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a JSON payload produced by Encode.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.ID == "" || msg.Kind == "" {
		return Message{}, fmt.Errorf("%w: missing id or kind", ErrInvalidMessage)
	}
	return msg, nil
}

// Enqueuer schedules a message for delivery after delay.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg Message, delay time.Duration) error
}

// Handler processes one delivered message.
type Handler func(ctx context.Context, msg Message) error

// Timer delivers messages in-process with time.AfterFunc. Pending messages are
// lost when the process exits.
type Timer struct {
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

// NewTimer creates a Timer delivering to handler.
// If logger is nil, slog.Default() is used.
func NewTimer(handler Handler, logger *slog.Logger) *Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{handler: handler, logger: logger, pending: make(map[string]*time.Timer)}
}

// SetHandler replaces the delivery handler for messages not yet delivered.
func (t *Timer) SetHandler(handler Handler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

// Enqueue schedules msg. The context only bounds the scheduling call.
func (t *Timer) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if delay < 0 {
		delay = 0
	}
	msg.NotBefore = time.Now().Add(delay)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return errors.New("kvlens: timer queue stopped")
	}
	t.pending[msg.ID] = time.AfterFunc(delay, func() { t.deliver(msg) })
	return nil
}

func (t *Timer) deliver(msg Message) {
	t.mu.Lock()
	delete(t.pending, msg.ID)
	handler := t.handler
	t.mu.Unlock()

	if handler == nil {
		t.logger.Warn("dropping message without handler", "id", msg.ID, "kind", msg.Kind)
		return
	}
	if err := handler(context.Background(), msg); err != nil {
		t.logger.Error("failed to handle message", "id", msg.ID, "kind", msg.Kind, "error", err)
	}
}

// Pending returns the number of messages not yet delivered.
func (t *Timer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Stop cancels every pending delivery and rejects further messages.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, timer := range t.pending {
		timer.Stop()
		delete(t.pending, id)
	}
}
