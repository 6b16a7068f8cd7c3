package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/trigrid/trigrid/internal/events"
	"github.com/trigrid/trigrid/internal/models"
)

type seekPayload struct {
	Variant   models.VariantKey  `json:"variant"`
	Clock     models.ClockConfig `json:"clock"`
	Rated     bool               `json:"rated"`
	Side      models.Side        `json:"side"`
	RatingMin int                `json:"ratingMin"`
	RatingMax int                `json:"ratingMax"`
}

// seekFrom binds the request payload to the caller's identity and rating
// snapshot. A missing window defaults to accepting anyone.
func seekFrom(user *models.User, p seekPayload) models.SeekRequest {
	min, max := p.RatingMin, p.RatingMax
	if min == 0 && max == 0 {
		min, max = 0, 1<<30
	}
	return models.SeekRequest{
		UserID:      user.ID,
		Username:    user.Username,
		Rating:      user.Rating,
		Deviation:   user.Deviation,
		Provisional: user.Provisional,
		RatingMin:   min,
		RatingMax:   max,
		Side:        p.Side,
		Variant:     p.Variant,
		Clock:       p.Clock,
		Rated:       p.Rated,
		CreatedAt:   time.Now(),
	}
}

// SeekHandler is create-or-join: the matchmaker either fills a compatible
// open seek or opens a new one.
func (s *Server) SeekHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.ensureIdentity(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var p seekPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if !p.Variant.Valid() {
		http.Error(w, "unknown variant", http.StatusBadRequest)
		return
	}
	rec, joined, err := s.Matchmaker.Resolve(r.Context(), seekFrom(user, p))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if joined {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"game": rec, "joined": joined})
}

// ChallengeHandler opens a session and notifies a named opponent directly,
// bypassing window matching. The opponent answers with a plain join.
func (s *Server) ChallengeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.ensureIdentity(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var p struct {
		seekPayload
		Opponent string `json:"opponent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if !p.Variant.Valid() || p.Opponent == "" {
		http.Error(w, "variant and opponent are required", http.StatusBadRequest)
		return
	}
	if _, err := s.Users.GetUserByUsername(r.Context(), p.Opponent); err != nil {
		http.Error(w, "opponent not found", http.StatusNotFound)
		return
	}
	rec, err := s.Sessions.Create(r.Context(), seekFrom(user, p.seekPayload))
	if err != nil {
		writeError(w, err)
		return
	}
	s.Bus.Publish(events.TopicUser(p.Opponent), events.Event{
		Type: "challenge",
		Payload: map[string]any{
			"gameId":  rec.ID,
			"from":    user.Username,
			"variant": rec.Variant,
			"clock":   rec.Clock,
			"rated":   rec.Rated,
		},
	})
	writeJSON(w, http.StatusCreated, map[string]any{"game": rec})
}

// JoinHandler seats the caller in an open session directly by id.
func (s *Server) JoinHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.ensureIdentity(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	seek := seekFrom(user, seekPayload{Side: models.SideRandom})
	rec, err := s.Sessions.Join(r.Context(), id, seek)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"game": rec})
}

// CancelSeekHandler withdraws the caller's open seek.
func (s *Server) CancelSeekHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.ensureIdentity(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	if err := s.Sessions.CancelSeek(r.Context(), id, user.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GameHandler returns the current session state with live clocks.
func (s *Server) GameHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	rec, err := s.Sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
