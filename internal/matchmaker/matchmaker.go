// Package matchmaker resolves seeks into sessions: join the oldest
// compatible open seek, or open a new one when nothing fits.
package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/models"
	"github.com/trigrid/trigrid/internal/session"
)

// SessionStore is the slice of the session store the resolver needs.
type SessionStore interface {
	OpenSeeks() []models.GameRecord
	Join(ctx context.Context, id uuid.UUID, seek models.SeekRequest) (models.GameRecord, error)
	Create(ctx context.Context, seek models.SeekRequest) (models.GameRecord, error)
}

// Matchmaker serializes all seek resolution behind one mutex so a given open
// slot is only ever offered to one seeker at a time. A slot-fill conflict
// from a racing direct join degrades to scanning the next candidate.
type Matchmaker struct {
	mu     sync.Mutex
	store  SessionStore
	logger *logrus.Logger
}

func New(store SessionStore, logger *logrus.Logger) *Matchmaker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Matchmaker{store: store, logger: logger}
}

// Resolve matches the seek against open sessions oldest first and falls back
// to creating a fresh Waiting session. joined reports whether an existing
// session was filled.
func (m *Matchmaker) Resolve(ctx context.Context, seek models.SeekRequest) (rec models.GameRecord, joined bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, candidate := range m.store.OpenSeeks() {
		if !compatible(&candidate, seek) {
			continue
		}
		rec, err = m.store.Join(ctx, candidate.ID, seek)
		if errors.Is(err, session.ErrConflict) || errors.Is(err, session.ErrNotFound) || errors.Is(err, session.ErrIllegalForStatus) {
			m.logger.WithFields(logrus.Fields{
				"game_id": candidate.ID,
				"user":    seek.Username,
			}).Debug("candidate lost to a concurrent join, scanning on")
			continue
		}
		if err != nil {
			return models.GameRecord{}, false, fmt.Errorf("join candidate %s: %w", candidate.ID, err)
		}
		return rec, true, nil
	}

	rec, err = m.store.Create(ctx, seek)
	if err != nil {
		return models.GameRecord{}, false, err
	}
	return rec, false, nil
}

// compatible is the matching predicate: same variant and rated flag,
// exact clock config, a free slot satisfying the seeker's side preference,
// and mutual rating-window containment. Windows are half-open, [min, max).
func compatible(c *models.GameRecord, seek models.SeekRequest) bool {
	if c.Variant != seek.Variant || c.Rated != seek.Rated || c.Clock != seek.Clock {
		return false
	}
	if _, bound := c.SideOf(seek.UserID); bound {
		return false
	}
	switch seek.Side {
	case models.SideFirst:
		if c.First != nil {
			return false
		}
	case models.SideSecond:
		if c.Second != nil {
			return false
		}
	default:
		if c.First != nil && c.Second != nil {
			return false
		}
	}
	if !inWindow(seek.Rating, c.RatingMin, c.RatingMax) {
		return false
	}
	counterpart := c.First
	if counterpart == nil {
		counterpart = c.Second
	}
	if counterpart == nil {
		return false
	}
	return inWindow(counterpart.Rating, seek.RatingMin, seek.RatingMax)
}

func inWindow(rating, min, max int) bool {
	return rating >= min && rating < max
}
