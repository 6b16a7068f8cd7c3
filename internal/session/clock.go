package session

import (
	"time"

	"github.com/trigrid/trigrid/internal/models"
)

// Clock arithmetic. Both sides' first moves are untimed; the countdown
// begins once two moves exist. Stored remaining time is mutated only at move
// commit; reads compute the live value without touching the record.

func remainingOf(r *models.GameRecord, side models.Side) *int64 {
	if side == models.SideFirst {
		return r.RemainingFirstMS
	}
	return r.RemainingSecondMS
}

func setRemaining(r *models.GameRecord, side models.Side, ms int64) {
	v := ms
	if side == models.SideFirst {
		r.RemainingFirstMS = &v
	} else {
		r.RemainingSecondMS = &v
	}
}

// clockRunning reports whether any clock is counting down right now.
func clockRunning(r *models.GameRecord) bool {
	return r.Status == models.StatusStarted && r.Clock.Timed() && len(r.Moves) >= 2
}

// chargeMover folds the mover's think time into their stored remaining and
// applies the increment. Called at commit before the move is appended, so the
// running predicate sees the pre-move count.
func chargeMover(r *models.GameRecord, side models.Side, now time.Time) {
	if !clockRunning(r) {
		return
	}
	stored := remainingOf(r, side)
	if stored == nil {
		return
	}
	rem := *stored - now.Sub(r.LastMoveAt).Milliseconds() + r.Clock.IncrementMS
	if rem < 0 {
		rem = 0
	}
	setRemaining(r, side, rem)
}

// liveRemainingMS is the value shown to viewers and checked at flag fall:
// the on-move side's stored time less wall time since the last move while the
// clock runs, the stored value verbatim otherwise. Never negative, nil for
// untimed games.
func liveRemainingMS(r *models.GameRecord, side models.Side, now time.Time) *int64 {
	stored := remainingOf(r, side)
	if stored == nil {
		return nil
	}
	rem := *stored
	if clockRunning(r) && models.SideOnMove(len(r.Moves)) == side {
		rem -= now.Sub(r.LastMoveAt).Milliseconds()
	}
	if rem < 0 {
		rem = 0
	}
	v := rem
	return &v
}
