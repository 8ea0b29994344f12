package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/vettalaw/backend/internal/model/chat"
)

// MemoryStore keeps turns in process memory. Suitable for tests and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	turns []chat.Turn
	clock *clock
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return newMemoryStoreWithClock(nil)
}

func newMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		turns: make([]chat.Turn, 0, 16),
		clock: newClock(now),
	}
}

func (s *MemoryStore) Append(_ context.Context, role chat.Role, content string) (chat.Turn, error) {
	if err := validateTurn(role, content); err != nil {
		return chat.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turn := chat.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.clock.next(),
	}
	s.turns = append(s.turns, turn)
	return turn, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Turn, len(s.turns))
	copy(copied, s.turns)
	return copied, nil
}

func (s *MemoryStore) ListRecent(_ context.Context, n int) ([]chat.Turn, error) {
	if n <= 0 {
		return []chat.Turn{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	copied := make([]chat.Turn, len(s.turns)-start)
	copy(copied, s.turns[start:])
	return copied, nil
}

func (s *MemoryStore) ClearAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.turns))
	s.turns = make([]chat.Turn, 0, 16)
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
