// Package handlers is the HTTP and websocket surface: account endpoints,
// seek resolution, and the three live topic sockets. It also owns the wiring
// between the session store and the event bus.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/events"
	"github.com/trigrid/trigrid/internal/matchmaker"
	"github.com/trigrid/trigrid/internal/models"
	"github.com/trigrid/trigrid/internal/session"
)

// UserDirectory is the account storage the handlers need.
type UserDirectory interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	EnsureEphemeralUser(ctx context.Context) (*models.User, error)
}

// Server bundles the live components behind the HTTP surface.
type Server struct {
	Logger     *logrus.Logger
	Sessions   *session.Store
	Matchmaker *matchmaker.Matchmaker
	Bus        *events.Bus
	Users      UserDirectory
}

// New wires the store's fan-out callbacks into the bus and the bus's
// snapshot source back into the store, then returns the assembled server.
func New(logger *logrus.Logger, sessions *session.Store, mm *matchmaker.Matchmaker, bus *events.Bus, users UserDirectory) *Server {
	s := &Server{
		Logger:     logger,
		Sessions:   sessions,
		Matchmaker: mm,
		Bus:        bus,
		Users:      users,
	}
	sessions.BroadcastGame = func(id uuid.UUID, ev events.Event) {
		bus.Publish(events.TopicGame(id), ev)
	}
	sessions.BroadcastUser = func(username string, ev events.Event) {
		bus.Publish(events.TopicUser(username), ev)
	}
	sessions.NotifyLobby = s.publishLobbyState
	bus.Snapshot = func(topic string) (events.Event, bool) {
		if id, ok := gameTopicID(topic); ok {
			return sessions.Snapshot(id)
		}
		if topic == events.TopicLobby {
			return s.lobbyEvent(), true
		}
		return events.Event{}, false
	}
	return s
}

// Routes builds the full endpoint set.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /user/create", s.CreateUserHandler)
	mux.HandleFunc("POST /user/login", s.LoginHandler)
	mux.HandleFunc("POST /seek", s.SeekHandler)
	mux.HandleFunc("POST /challenge", s.ChallengeHandler)
	mux.HandleFunc("POST /game/{id}/join", s.JoinHandler)
	mux.HandleFunc("DELETE /game/{id}/seek", s.CancelSeekHandler)
	mux.HandleFunc("GET /game/{id}", s.GameHandler)
	mux.HandleFunc("GET /ws/lobby", s.LobbyWSHandler)
	mux.HandleFunc("GET /ws/game/{id}", s.GameWSHandler)
	mux.HandleFunc("GET /ws/user", s.UserWSHandler)
	return mux
}

// SeekSummary is one open seek as shown in the lobby.
type SeekSummary struct {
	GameID    uuid.UUID          `json:"gameId"`
	Variant   models.VariantKey  `json:"variant"`
	Rated     bool               `json:"rated"`
	Clock     models.ClockConfig `json:"clock"`
	RatingMin int                `json:"ratingMin"`
	RatingMax int                `json:"ratingMax"`
	Username  string             `json:"username"`
	Rating    int                `json:"rating"`
	CreatedAt time.Time          `json:"createdAt"`
}

// LobbyPayload is the lobby topic's state event: open seeks plus live
// counters.
type LobbyPayload struct {
	Seeks     []SeekSummary `json:"seeks"`
	OpenSeeks int           `json:"openSeeks"`
	LiveGames int           `json:"liveGames"`
	Viewers   int           `json:"viewers"`
}

const EventLobbyState = "lobby_state"

func (s *Server) lobbyEvent() events.Event {
	open := s.Sessions.OpenSeeks()
	seeks := make([]SeekSummary, 0, len(open))
	for _, rec := range open {
		creator := rec.First
		if creator == nil {
			creator = rec.Second
		}
		if creator == nil {
			continue
		}
		seeks = append(seeks, SeekSummary{
			GameID:    rec.ID,
			Variant:   rec.Variant,
			Rated:     rec.Rated,
			Clock:     rec.Clock,
			RatingMin: rec.RatingMin,
			RatingMax: rec.RatingMax,
			Username:  creator.Username,
			Rating:    creator.Rating,
			CreatedAt: rec.CreatedAt,
		})
	}
	waiting, started := s.Sessions.Counts()
	return events.Event{Type: EventLobbyState, Payload: LobbyPayload{
		Seeks:     seeks,
		OpenSeeks: waiting,
		LiveGames: started,
		Viewers:   s.Bus.SubscriberCount(events.TopicLobby),
	}}
}

func (s *Server) publishLobbyState() {
	s.Bus.Publish(events.TopicLobby, s.lobbyEvent())
}

func gameTopicID(topic string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(topic, "game:")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
