package models

import "github.com/google/uuid"

// RatingHistoryLimit bounds the per-user rating history window. Older entries
// are dropped from the front when a new rating is appended.
const RatingHistoryLimit = 20

type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	IsEphemeral bool `json:"is_ephemeral"`
	IsAdmin     bool `json:"is_admin"`

	Rating      int     `json:"rating"`
	Deviation   float64 `json:"deviation"`
	Volatility  float64 `json:"volatility"`
	Provisional bool    `json:"provisional"`

	// RatingHistory holds the most recent post-game ratings, newest last.
	RatingHistory []int `json:"rating_history,omitempty"`
}

// AppendRating pushes a new rating onto the bounded history window.
func (u *User) AppendRating(r int) {
	u.RatingHistory = append(u.RatingHistory, r)
	if len(u.RatingHistory) > RatingHistoryLimit {
		u.RatingHistory = u.RatingHistory[len(u.RatingHistory)-RatingHistoryLimit:]
	}
}
