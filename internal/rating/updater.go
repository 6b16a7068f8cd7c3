package rating

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/models"
)

// UserStore loads and persists the rating fields of a user row.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	SaveRating(ctx context.Context, u *models.User) error
}

// Updater applies the post-game rating recomputation. The session layer
// guarantees at most one call per game.
type Updater struct {
	users  UserStore
	logger *logrus.Logger
}

func NewUpdater(users UserStore, logger *logrus.Logger) *Updater {
	if logger == nil {
		logger = logrus.New()
	}
	return &Updater{users: users, logger: logger}
}

// Apply recomputes both players' ratings from the game's terminal status.
// Non-terminal or half-seated games are ignored.
func (up *Updater) Apply(ctx context.Context, rec *models.GameRecord) error {
	if rec.First == nil || rec.Second == nil {
		return nil
	}
	var firstScore float64
	switch rec.Status {
	case models.StatusFirstWon:
		firstScore = 1
	case models.StatusSecondWon:
		firstScore = 0
	case models.StatusDraw:
		firstScore = 0.5
	default:
		return nil
	}

	first, err := up.users.GetUser(ctx, rec.First.UserID)
	if err != nil {
		return fmt.Errorf("load first player: %w", err)
	}
	second, err := up.users.GetUser(ctx, rec.Second.UserID)
	if err != nil {
		return fmt.Errorf("load second player: %w", err)
	}

	fg := toGlicko(first.Rating, first.Deviation, first.Volatility)
	sg := toGlicko(second.Rating, second.Deviation, second.Volatility)

	// Both updates read the pre-game states; order does not matter.
	applyResult(first, updateOne(fg, sg, firstScore))
	applyResult(second, updateOne(sg, fg, 1-firstScore))

	if err := up.users.SaveRating(ctx, first); err != nil {
		return fmt.Errorf("save first player rating: %w", err)
	}
	if err := up.users.SaveRating(ctx, second); err != nil {
		return fmt.Errorf("save second player rating: %w", err)
	}
	up.logger.WithFields(logrus.Fields{
		"game_id": rec.ID,
		"first":   first.Rating,
		"second":  second.Rating,
	}).Info("ratings updated")
	return nil
}

func applyResult(u *models.User, g glicko) {
	u.Rating = g.rating()
	u.Deviation = g.deviation()
	u.Volatility = g.sigma
	u.AppendRating(u.Rating)
	u.Provisional = u.Deviation > provisionalDeviation
}
