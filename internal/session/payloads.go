package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/trigrid/trigrid/internal/models"
)

// Event type tags published on game and user topics.
const (
	EventGameState    = "game_state"
	EventGameSnapshot = "game_snapshot"
	EventGameStart    = "game_start"
	EventChat         = "chat"
	EventRematch      = "rematch_created"
)

// StatePayload is the incremental game-state event: clocks as of publish
// time, the moves accepted by this transition, and the offer/status fields a
// viewer needs to render the position.
type StatePayload struct {
	GameID            uuid.UUID      `json:"gameId"`
	RemainingFirstMS  *int64         `json:"remainingFirstMs,omitempty"`
	RemainingSecondMS *int64         `json:"remainingSecondMs,omitempty"`
	NewMoves          []string       `json:"newMoves,omitempty"`
	Status            models.Status  `json:"status"`
	WinType           models.WinType `json:"winType,omitempty"`
	DrawOffer         models.Offer   `json:"drawOffer"`
	RematchOffer      models.Offer   `json:"rematchOffer"`
}

// SnapshotPayload carries the complete session, chat transcript included,
// with clocks already computed live.
type SnapshotPayload struct {
	Game models.GameRecord `json:"game"`
}

// ChatPayload is one transcript line scoped to its game.
type ChatPayload struct {
	GameID  uuid.UUID          `json:"gameId"`
	Message models.ChatMessage `json:"message"`
}

// StartPayload is the per-user notice that a seek resolved into a live game.
type StartPayload struct {
	GameID  uuid.UUID         `json:"gameId"`
	Variant models.VariantKey `json:"variant"`
}

// RematchPayload announces the successor session on the finished game's topic.
type RematchPayload struct {
	GameID    uuid.UUID `json:"gameId"`
	NewGameID uuid.UUID `json:"newGameId"`
}

func statePayload(r *models.GameRecord, newMoves []string, now time.Time) StatePayload {
	return StatePayload{
		GameID:            r.ID,
		RemainingFirstMS:  liveRemainingMS(r, models.SideFirst, now),
		RemainingSecondMS: liveRemainingMS(r, models.SideSecond, now),
		NewMoves:          newMoves,
		Status:            r.Status,
		WinType:           r.WinType,
		DrawOffer:         r.DrawOffer,
		RematchOffer:      r.RematchOffer,
	}
}

// cloneRecord copies a record for hand-out, detaching slices and slot
// pointers and replacing stored clocks with live values.
func cloneRecord(r *models.GameRecord, now time.Time) models.GameRecord {
	c := *r
	c.Moves = append([]string(nil), r.Moves...)
	c.Chat = append([]models.ChatMessage(nil), r.Chat...)
	if r.First != nil {
		f := *r.First
		c.First = &f
	}
	if r.Second != nil {
		s := *r.Second
		c.Second = &s
	}
	c.RemainingFirstMS = liveRemainingMS(r, models.SideFirst, now)
	c.RemainingSecondMS = liveRemainingMS(r, models.SideSecond, now)
	return c
}
