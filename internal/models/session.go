package models

import (
	"time"

	"github.com/google/uuid"
)

// VariantKey identifies one of the supported board game rulesets.
type VariantKey string

const (
	VariantSingle VariantKey = "single" // 3x3, three in a row
	VariantNested VariantKey = "nested" // 3x3 grid of 3x3 boards
	VariantDrop   VariantKey = "drop"   // 6x7 gravity drop, four in a row
)

// Valid reports whether the key names a known variant.
func (v VariantKey) Valid() bool {
	switch v {
	case VariantSingle, VariantNested, VariantDrop:
		return true
	}
	return false
}

// Status is a game session's lifecycle state. FirstWon, SecondWon and Draw
// are terminal. Stored as strings in the database; all conversion happens
// through these constants.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusStarted   Status = "started"
	StatusFirstWon  Status = "first_won"
	StatusSecondWon Status = "second_won"
	StatusDraw      Status = "draw"
)

// Terminal reports whether the status ends the game.
func (s Status) Terminal() bool {
	switch s {
	case StatusFirstWon, StatusSecondWon, StatusDraw:
		return true
	}
	return false
}

// Side distinguishes the two seats of a session. First moves on move 0.
type Side string

const (
	SideFirst  Side = "first"
	SideSecond Side = "second"
	SideRandom Side = "random" // seek preference only, resolved at creation
)

// Opponent returns the other seat.
func (s Side) Opponent() Side {
	if s == SideFirst {
		return SideSecond
	}
	return SideFirst
}

// SideOnMove derives whose turn it is from the move count parity.
func SideOnMove(moveCount int) Side {
	if moveCount%2 == 0 {
		return SideFirst
	}
	return SideSecond
}

// Offer is the two-sided offer protocol state used for both draw and
// rematch offers.
type Offer string

const (
	OfferNone   Offer = "none"
	OfferFirst  Offer = "first"
	OfferSecond Offer = "second"
	OfferAgreed Offer = "agreed"
)

// ByOffered returns the pending-offer state for the given side.
func ByOffered(s Side) Offer {
	if s == SideFirst {
		return OfferFirst
	}
	return OfferSecond
}

// WinType records how a decisive game ended.
type WinType string

const (
	WinNormal     WinType = "normal"
	WinResign     WinType = "resign"
	WinTimeout    WinType = "timeout"
	WinDisconnect WinType = "disconnect"
)

// ClockConfig is the time control for a session. A zero InitialMS means the
// game is untimed.
type ClockConfig struct {
	InitialMS   int64 `json:"initialMs"`
	IncrementMS int64 `json:"incrementMs"`
}

// Timed reports whether clocks apply at all.
func (c ClockConfig) Timed() bool { return c.InitialMS > 0 }

// PlayerSlot is the identity and rating snapshot bound to one seat.
type PlayerSlot struct {
	UserID      uuid.UUID `json:"userId"`
	Username    string    `json:"username"`
	Rating      int       `json:"rating"`
	Deviation   float64   `json:"deviation"`
	Provisional bool      `json:"provisional"`
}

// ChatVisibility scopes a chat line to players only or to everyone watching.
type ChatVisibility string

const (
	ChatPlayers    ChatVisibility = "player"
	ChatSpectators ChatVisibility = "spectator"
)

// ChatMessage is one line of a session's append-only transcript.
type ChatMessage struct {
	UserID     uuid.UUID      `json:"userId"`
	Username   string         `json:"username"`
	Text       string         `json:"text"`
	Visibility ChatVisibility `json:"visibility"`
	At         time.Time      `json:"at"`
}

// GameRecord is the persisted shape of a game session: what the store reads
// and writes. The live state machine wraps this with its own locking.
type GameRecord struct {
	ID      uuid.UUID  `json:"id"`
	Variant VariantKey `json:"variant"`
	Rated   bool       `json:"rated"`

	Clock ClockConfig `json:"clock"`

	First  *PlayerSlot `json:"first,omitempty"`
	Second *PlayerSlot `json:"second,omitempty"`

	Moves []string `json:"moves"`

	// Remaining times are nil for untimed games.
	RemainingFirstMS  *int64 `json:"remainingFirstMs,omitempty"`
	RemainingSecondMS *int64 `json:"remainingSecondMs,omitempty"`

	Status       Status  `json:"status"`
	DrawOffer    Offer   `json:"drawOffer"`
	RematchOffer Offer   `json:"rematchOffer"`
	WinType      WinType `json:"winType,omitempty"`

	LastMoveAt time.Time `json:"lastMoveAt"`
	CreatedAt  time.Time `json:"createdAt"`
	RandomSide bool      `json:"randomSide"`

	// Rating window the session was seeded with; future seekers must fall
	// strictly inside it.
	RatingMin int `json:"ratingMin"`
	RatingMax int `json:"ratingMax"`

	Chat []ChatMessage `json:"chat,omitempty"`

	// RatingsApplied guards against double rating updates on the terminal
	// transition.
	RatingsApplied bool `json:"-"`
}

// Slot returns the player bound to the given side, or nil.
func (r *GameRecord) Slot(s Side) *PlayerSlot {
	if s == SideFirst {
		return r.First
	}
	return r.Second
}

// SideOf resolves which seat a user occupies, if any.
func (r *GameRecord) SideOf(userID uuid.UUID) (Side, bool) {
	if r.First != nil && r.First.UserID == userID {
		return SideFirst, true
	}
	if r.Second != nil && r.Second.UserID == userID {
		return SideSecond, true
	}
	return "", false
}
