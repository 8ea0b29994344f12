// Package storage persists the shared conversation as an ordered, append-only
// collection of turns.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
)

// ErrInvalidTurn is returned by Append for an unknown role or empty content.
var ErrInvalidTurn = errors.New("invalid turn")

// Store is the message store contract shared by every backend.
type Store interface {
	// Append assigns ID and Timestamp, persists the turn and returns it.
	Append(ctx context.Context, role chat.Role, content string) (chat.Turn, error)
	// ListAll returns every turn, oldest first.
	ListAll(ctx context.Context) ([]chat.Turn, error)
	// ListRecent returns the n newest turns, oldest first.
	ListRecent(ctx context.Context, n int) ([]chat.Turn, error)
	// ClearAll removes every turn and reports how many were removed.
	ClearAll(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Error reports a backend failure for a store operation.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsStorageError reports whether err carries a *Error.
func IsStorageError(err error) bool {
	var se *Error
	return errors.As(err, &se)
}

func wrapErr(op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: errors.Wrap(err, msg)}
}

func validateTurn(role chat.Role, content string) error {
	if !role.Valid() {
		return errors.Wrapf(ErrInvalidTurn, "unknown role %q", role)
	}
	if strings.TrimSpace(content) == "" {
		return errors.Wrap(ErrInvalidTurn, "empty content")
	}
	return nil
}

// clock hands out UTC timestamps that never go backwards for one store.
type clock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newClock(now func() time.Time) *clock {
	if now == nil {
		now = time.Now
	}
	return &clock{now: now}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// observe moves the clock forward to t, used after reopening a persisted store.
func (c *clock) observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t.UTC()
	}
}

func reverse(turns []chat.Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
