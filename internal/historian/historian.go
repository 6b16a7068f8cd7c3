// Package historian drains the Redis action journal and persists accepted
// actions to Postgres in batches, keeping per-action durability off the move
// path.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/cache"
	"github.com/trigrid/trigrid/internal/database"
)

// Inserter is the persistence boundary for flushed batches.
type Inserter interface {
	InsertActions(ctx context.Context, actions []database.ActionRow) error
}

// Service accumulates popped actions and flushes them on size or time.
type Service struct {
	journal *cache.Journal
	db      Inserter
	logger  *logrus.Logger

	batchSize  int
	flushDelay time.Duration
	popTimeout time.Duration

	mu    sync.Mutex
	batch []database.ActionRow
}

// New builds a service. Batch size and flush delay come from
// HISTORIAN_BATCH_SIZE and HISTORIAN_FLUSH_MS when left zero.
func New(journal *cache.Journal, db Inserter, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	size := cache.GetEnvInt("HISTORIAN_BATCH_SIZE", 20)
	flushMS := cache.GetEnvInt("HISTORIAN_FLUSH_MS", 500)
	return &Service{
		journal:    journal,
		db:         db,
		logger:     logger,
		batchSize:  size,
		flushDelay: time.Duration(flushMS) * time.Millisecond,
		popTimeout: 3 * time.Second,
		batch:      make([]database.ActionRow, 0, size),
	}
}

// Run pops until the context ends, flushing on the batch threshold and on a
// timer so quiet periods still drain. A final flush runs on shutdown.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.flushDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush(context.Background())
			return
		case <-ticker.C:
			s.Flush(ctx)
		default:
			rec, err := s.journal.Pop(ctx, s.popTimeout)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				s.logger.WithError(err).Error("journal pop failed")
				continue
			}
			if rec == nil {
				continue
			}
			s.append(ctx, database.ActionRow{
				GameID:     rec.GameID,
				Kind:       rec.Kind,
				Payload:    rec.Payload,
				RecordedAt: rec.Timestamp,
			})
		}
	}
}

func (s *Service) append(ctx context.Context, row database.ActionRow) {
	s.mu.Lock()
	s.batch = append(s.batch, row)
	full := len(s.batch) >= s.batchSize
	s.mu.Unlock()
	if full {
		s.Flush(ctx)
	}
}

// Flush writes the pending batch in one transaction. On failure the rows are
// requeued in memory for the next attempt.
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.batch
	s.batch = make([]database.ActionRow, 0, s.batchSize)
	s.mu.Unlock()

	if err := s.db.InsertActions(ctx, pending); err != nil {
		s.logger.WithError(err).Errorf("flush of %d actions failed", len(pending))
		s.mu.Lock()
		s.batch = append(pending, s.batch...)
		s.mu.Unlock()
		return
	}
	s.logger.Debugf("flushed %d actions", len(pending))
}

// Pending reports the number of buffered, unflushed actions.
func (s *Service) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}
