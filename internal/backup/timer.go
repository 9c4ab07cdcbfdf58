package backup

import (
	"context"
	"sync"
	"time"
)

// TimerStore persists the time of the last committed backup. ok is false
// when no backup was ever committed.
type TimerStore interface {
	LastBackupTime(ctx context.Context) (t time.Time, ok bool, err error)
	SetLastBackupTime(ctx context.Context, t time.Time) error
}

// MemoryTimer keeps the timer for the life of the process only
type MemoryTimer struct {
	mu  sync.Mutex
	t   time.Time
	set bool
}

// NewMemoryTimer returns an unset timer
func NewMemoryTimer() *MemoryTimer {
	return &MemoryTimer{}
}

func (m *MemoryTimer) LastBackupTime(context.Context) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, m.set, nil
}

func (m *MemoryTimer) SetLastBackupTime(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	m.set = true
	return nil
}
