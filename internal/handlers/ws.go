package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/trigrid/trigrid/internal/events"
	"github.com/trigrid/trigrid/internal/middleware"
	"github.com/trigrid/trigrid/internal/models"
	"github.com/trigrid/trigrid/internal/session"
)

// GameMessage is the envelope for client messages on a game socket. Action
// selects the operation; the remaining fields are action-specific.
type GameMessage struct {
	Action     string `json:"action"`
	Token      string `json:"token,omitempty"`      // move token, action "move"
	Accept     *bool  `json:"accept,omitempty"`     // draw_offer and rematch_offer, defaults to true
	Visibility string `json:"visibility,omitempty"` // chat scope
	Text       string `json:"text,omitempty"`       // chat body
}

const wsSubprotocol = "trigrid.v1"

// acceptSocket upgrades the connection and enforces the subprotocol.
func (s *Server) acceptSocket(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{wsSubprotocol},
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, err
	}
	if c.Subprotocol() != wsSubprotocol {
		c.Close(websocket.StatusCode(BadSubprotocolError), "client must speak "+wsSubprotocol)
		return nil, session.ErrUnauthorized
	}
	return c, nil
}

// writePump drains the subscription and the per-connection error channel
// into the socket until the context ends or a write fails.
func (s *Server) writePump(ctx context.Context, c *websocket.Conn, sub *events.Subscriber, errCh <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				c.Close(websocket.StatusNormalClosure, "subscription closed")
				return
			}
			if err := wsjson.Write(ctx, c, ev); err != nil {
				return
			}
		case ev := <-errCh:
			if err := wsjson.Write(ctx, c, ev); err != nil {
				return
			}
		}
	}
}

// LobbyWSHandler streams open seeks and live counters. Client messages are
// ignored; the read loop only watches for disconnect.
func (s *Server) LobbyWSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.acceptSocket(w, r)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler exit")

	if _, err := s.ensureIdentity(w, r); err != nil {
		c.Close(websocket.StatusCode(InvalidAuthTokenError), "authentication failed")
		return
	}
	s.streamTopic(r, c, events.TopicLobby)
}

// UserWSHandler streams direct notifications for the authenticated user,
// challenges included.
func (s *Server) UserWSHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.acceptSocket(w, r)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler exit")

	user, err := s.ensureIdentity(w, r)
	if err != nil {
		c.Close(websocket.StatusCode(InvalidAuthTokenError), "authentication failed")
		return
	}
	s.streamTopic(r, c, events.TopicUser(user.Username))
}

// streamTopic is the shared tail for the broadcast-only sockets: subscribe,
// pump, and discard anything the client sends.
func (s *Server) streamTopic(r *http.Request, c *websocket.Conn, topic string) {
	middleware.LogSocketOpen(s.Logger, r.RemoteAddr, r.URL.Path)
	sub := s.Bus.Subscribe(topic)
	defer s.Bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.writePump(ctx, c, sub, nil)

	var readErr error
	for {
		if _, _, readErr = c.Read(ctx); readErr != nil {
			break
		}
	}
	middleware.LogSocketClose(s.Logger, r.RemoteAddr, r.URL.Path, readErr)
	c.Close(websocket.StatusNormalClosure, "")
}

// GameWSHandler attaches a client to one game topic and accepts the in-game
// actions: moves, resignation, offers, timeout reports and chat. Both
// players and spectators connect here; authorization is enforced per action
// by the session store.
func (s *Server) GameWSHandler(w http.ResponseWriter, r *http.Request) {
	gameID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid game id", http.StatusBadRequest)
		return
	}
	if _, err := s.Sessions.Get(gameID); err != nil {
		writeError(w, err)
		return
	}

	c, err := s.acceptSocket(w, r)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler exit")

	user, err := s.ensureIdentity(w, r)
	if err != nil {
		c.Close(websocket.StatusCode(InvalidAuthTokenError), "authentication failed")
		return
	}

	middleware.LogSocketOpen(s.Logger, r.RemoteAddr, r.URL.Path)
	sub := s.Bus.Subscribe(events.TopicGame(gameID))
	defer s.Bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Action errors go back to this connection only, not the topic.
	errCh := make(chan events.Event, 8)
	go s.writePump(ctx, c, sub, errCh)

	var readErr error
	for {
		var msg GameMessage
		if readErr = wsjson.Read(ctx, c, &msg); readErr != nil {
			break
		}
		if err := s.dispatchGameAction(ctx, gameID, user, msg); err != nil {
			select {
			case errCh <- events.Event{Type: "error", Payload: map[string]any{
				"code":    statusFor(err),
				"message": publicMessage(err),
			}}:
			default:
			}
		}
	}
	middleware.LogSocketClose(s.Logger, r.RemoteAddr, r.URL.Path, readErr)
	c.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) dispatchGameAction(ctx context.Context, gameID uuid.UUID, user *models.User, msg GameMessage) error {
	accept := true
	if msg.Accept != nil {
		accept = *msg.Accept
	}
	switch msg.Action {
	case "move":
		_, err := s.Sessions.Move(ctx, gameID, user.ID, msg.Token)
		return err
	case "resign":
		return s.Sessions.Resign(ctx, gameID, user.ID)
	case "draw_offer":
		return s.Sessions.OfferDraw(ctx, gameID, user.ID, accept)
	case "rematch_offer":
		_, err := s.Sessions.OfferRematch(ctx, gameID, user.ID, accept)
		return err
	case "timeout":
		return s.Sessions.ReportTimeout(ctx, gameID, user.ID)
	case "chat":
		return s.Sessions.AddChat(ctx, gameID, user.ID, user.Username, models.ChatVisibility(msg.Visibility), msg.Text)
	default:
		return fmt.Errorf("unknown action %q: %w", msg.Action, session.ErrInvalidMove)
	}
}
