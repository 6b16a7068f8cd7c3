// Package clockmon watches armed per-game countdowns and fires the
// server-side flag fall. It never decides a game by itself: expiry only
// hands the game id to the session layer's timeout commit, which re-checks
// everything under its own lock.
package clockmon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/models"
)

// TimeoutCommitter is the session-layer entry point for a detected flag
// fall. A commit racing a just-landed move is expected to no-op.
type TimeoutCommitter interface {
	CommitTimeout(ctx context.Context, id uuid.UUID, side models.Side) error
}

// entry is one armed countdown: who is on the clock, how much time they had
// when armed, and when it was armed.
type entry struct {
	side        models.Side
	remainingMS int64
	armedAt     time.Time
}

// Monitor keeps at most one armed entry per game and sweeps them on a fixed
// tick. The lock covers only the entry map; commits run outside it.
type Monitor struct {
	mu      sync.Mutex
	entries map[uuid.UUID]entry

	committer TimeoutCommitter
	interval  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// New builds a monitor sweeping at the given interval (100ms when zero).
func New(committer TimeoutCommitter, logger *logrus.Logger, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Monitor{
		entries:   make(map[uuid.UUID]entry),
		committer: committer,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Arm records the side now on the clock, overwriting any prior entry for the
// game.
func (m *Monitor) Arm(id uuid.UUID, side models.Side, remainingMS int64) {
	m.mu.Lock()
	m.entries[id] = entry{side: side, remainingMS: remainingMS, armedAt: m.now()}
	m.mu.Unlock()
}

// Disarm drops the game's entry, if any.
func (m *Monitor) Disarm(id uuid.UUID) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

// Armed reports whether the game currently has a countdown.
func (m *Monitor) Armed(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Run sweeps until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep fires every expired entry. The commit path disarms the game on a
// real flag fall; an entry that survives a no-op commit (the move won the
// race and re-armed, or persistence hiccuped) is simply seen again next
// tick.
func (m *Monitor) Sweep(ctx context.Context) {
	type expired struct {
		id   uuid.UUID
		side models.Side
	}

	now := m.now()
	m.mu.Lock()
	var due []expired
	for id, e := range m.entries {
		if now.Sub(e.armedAt).Milliseconds() >= e.remainingMS {
			due = append(due, expired{id: id, side: e.side})
		}
	}
	m.mu.Unlock()

	for _, d := range due {
		if err := m.committer.CommitTimeout(ctx, d.id, d.side); err != nil {
			m.logger.WithError(err).WithField("game_id", d.id).Error("timeout commit failed")
		}
	}
}
