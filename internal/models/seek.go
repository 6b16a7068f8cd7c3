package models

import (
	"time"

	"github.com/google/uuid"
)

// SeekRequest is an ephemeral matchmaking request. It lives only until the
// matchmaker resolves it into a joined or newly created session.
type SeekRequest struct {
	UserID      uuid.UUID   `json:"userId"`
	Username    string      `json:"username"`
	Rating      int         `json:"rating"`
	Deviation   float64     `json:"deviation"`
	Provisional bool        `json:"provisional"`
	RatingMin   int         `json:"ratingMin"`
	RatingMax   int         `json:"ratingMax"`
	Side        Side        `json:"side"` // first, second or random
	Variant     VariantKey  `json:"variant"`
	Clock       ClockConfig `json:"clock"`
	Rated       bool        `json:"rated"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Slot converts the seeker's identity snapshot into a bindable player slot.
func (s SeekRequest) Slot() *PlayerSlot {
	return &PlayerSlot{
		UserID:      s.UserID,
		Username:    s.Username,
		Rating:      s.Rating,
		Deviation:   s.Deviation,
		Provisional: s.Provisional,
	}
}
