// Package session owns the live game state machine: a per-id serialized
// store of game records, the authorization-checked transitions that mutate
// them, and the clock arithmetic those transitions apply. Every successful
// transition persists first and publishes second.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/trigrid/trigrid/internal/engine"
	"github.com/trigrid/trigrid/internal/events"
	"github.com/trigrid/trigrid/internal/models"
)

// Persister is the durable storage boundary for game rows.
type Persister interface {
	SaveGame(ctx context.Context, rec *models.GameRecord) error
	DeleteGame(ctx context.Context, id uuid.UUID) error
}

// RatingApplier recomputes both players' ratings for a finished rated game.
// Called at most once per session.
type RatingApplier interface {
	Apply(ctx context.Context, rec *models.GameRecord) error
}

// Journal receives the append-only action stream consumed asynchronously by
// the historian.
type Journal interface {
	Append(ctx context.Context, gameID uuid.UUID, kind string, payload any) error
}

// Loader rehydrates sessions from durable storage: after a restart the
// in-memory map starts empty, and a miss falls through to the persisted row.
type Loader interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.GameRecord, error)
}

// session pairs a record with the mutex serializing its transitions.
type session struct {
	mu  sync.Mutex
	rec *models.GameRecord
}

// Store holds every live session and applies all transitions against them.
// Wiring is by function field so the fan-out and timeout layers can sit on
// either side without an import cycle; nil fields are skipped.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	Persist Persister
	Ratings RatingApplier
	Journal Journal
	Load    Loader

	BroadcastGame func(id uuid.UUID, ev events.Event)
	BroadcastUser func(username string, ev events.Event)
	NotifyLobby   func()

	// Rearm and Disarm drive the timeout monitor. Rearm records the side now
	// on the clock and its remaining time; Disarm drops the game's entry.
	Rearm  func(id uuid.UUID, side models.Side, remainingMS int64)
	Disarm func(id uuid.UUID)

	logger *logrus.Logger
	now    func() time.Time
}

// NewStore builds an empty store. Collaborator fields are assigned by the
// caller before traffic starts.
func NewStore(logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		sessions: make(map[uuid.UUID]*session),
		logger:   logger,
		now:      time.Now,
	}
}

func (st *Store) withSession(ctx context.Context, id uuid.UUID, fn func(*session) error) error {
	s, err := st.lookup(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

// lookup finds the live session, falling back to the Loader on a miss so a
// restarted process can pick up persisted games. A rehydrated running game
// re-arms the timeout monitor for the side on move.
func (st *Store) lookup(ctx context.Context, id uuid.UUID) (*session, error) {
	st.mu.Lock()
	s, ok := st.sessions[id]
	st.mu.Unlock()
	if ok {
		return s, nil
	}
	if st.Load == nil {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	rec, err := st.Load.GetGame(ctx, id)
	if err != nil || rec == nil {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	st.mu.Lock()
	if existing, ok := st.sessions[id]; ok {
		st.mu.Unlock()
		return existing, nil
	}
	s = &session{rec: rec}
	st.sessions[id] = s
	st.mu.Unlock()

	if rec.Status == models.StatusStarted && clockRunning(rec) && st.Rearm != nil {
		side := models.SideOnMove(len(rec.Moves))
		if rem := liveRemainingMS(rec, side, st.now()); rem != nil {
			st.Rearm(rec.ID, side, *rem)
		}
	}
	return s, nil
}

// Create opens a new Waiting session seeded from the seek: the seeker is
// bound to their (possibly randomly resolved) slot and the seek's rating
// window becomes the session's matching window.
func (st *Store) Create(ctx context.Context, seek models.SeekRequest) (models.GameRecord, error) {
	if !seek.Variant.Valid() {
		return models.GameRecord{}, fmt.Errorf("variant %q: %w", seek.Variant, ErrInvalidMove)
	}
	now := st.now()
	rec := &models.GameRecord{
		ID:           uuid.New(),
		Variant:      seek.Variant,
		Rated:        seek.Rated,
		Clock:        seek.Clock,
		Status:       models.StatusWaiting,
		DrawOffer:    models.OfferNone,
		RematchOffer: models.OfferNone,
		CreatedAt:    now,
		LastMoveAt:   now,
		RatingMin:    seek.RatingMin,
		RatingMax:    seek.RatingMax,
	}
	side := seek.Side
	if side == models.SideRandom || side == "" {
		rec.RandomSide = true
		side = models.SideFirst
		if rand.Intn(2) == 1 {
			side = models.SideSecond
		}
	}
	if side == models.SideFirst {
		rec.First = seek.Slot()
	} else {
		rec.Second = seek.Slot()
	}

	s := &session{rec: rec}
	st.mu.Lock()
	st.sessions[rec.ID] = s
	st.mu.Unlock()

	if err := st.persist(ctx, rec); err != nil {
		return models.GameRecord{}, err
	}
	st.notifyLobby()
	return cloneRecord(rec, now), nil
}

// Join binds the seeker to the open slot and starts the game. A side
// preference pointing at an occupied slot loses the race as ErrConflict; the
// caller falls back to creating a fresh session.
func (st *Store) Join(ctx context.Context, id uuid.UUID, seek models.SeekRequest) (models.GameRecord, error) {
	var out models.GameRecord
	err := st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		if rec.Status != models.StatusWaiting {
			return fmt.Errorf("join game %s: %w", id, ErrIllegalForStatus)
		}
		if _, bound := rec.SideOf(seek.UserID); bound {
			return fmt.Errorf("already seated in game %s: %w", id, ErrConflict)
		}
		side := openSide(rec)
		if side == "" {
			return fmt.Errorf("no open slot in game %s: %w", id, ErrConflict)
		}
		if (seek.Side == models.SideFirst || seek.Side == models.SideSecond) && seek.Side != side {
			return fmt.Errorf("slot %s taken in game %s: %w", seek.Side, id, ErrConflict)
		}
		if side == models.SideFirst {
			rec.First = seek.Slot()
		} else {
			rec.Second = seek.Slot()
		}

		now := st.now()
		rec.Status = models.StatusStarted
		rec.LastMoveAt = now
		if rec.Clock.Timed() {
			setRemaining(rec, models.SideFirst, rec.Clock.InitialMS)
			setRemaining(rec, models.SideSecond, rec.Clock.InitialMS)
		}
		if err := st.persist(ctx, rec); err != nil {
			return err
		}
		st.publishGame(rec.ID, events.Event{Type: EventGameState, Payload: statePayload(rec, nil, now)})
		st.publishStart(rec)
		out = cloneRecord(rec, now)
		return nil
	})
	if err != nil {
		return models.GameRecord{}, err
	}
	st.notifyLobby()
	return out, nil
}

func openSide(rec *models.GameRecord) models.Side {
	if rec.First == nil {
		return models.SideFirst
	}
	if rec.Second == nil {
		return models.SideSecond
	}
	return ""
}

// Move validates and commits one move token for the acting user. A pending
// draw offer by the opponent is declined by the accepted move.
func (st *Store) Move(ctx context.Context, id, userID uuid.UUID, token string) (models.GameRecord, error) {
	var out models.GameRecord
	err := st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		side, bound := rec.SideOf(userID)
		if !bound {
			return fmt.Errorf("game %s: %w", id, ErrUnauthorized)
		}
		if rec.Status != models.StatusStarted {
			return fmt.Errorf("move in game %s: %w", id, ErrIllegalForStatus)
		}
		if models.SideOnMove(len(rec.Moves)) != side {
			return fmt.Errorf("not on move: %w", ErrInvalidMove)
		}
		variant, ok := engine.ForKey(rec.Variant)
		if !ok {
			return fmt.Errorf("no rules for variant %q", rec.Variant)
		}
		if !variant.Validate(rec.Moves, token) {
			return fmt.Errorf("token %q: %w", token, ErrInvalidMove)
		}

		now := st.now()
		chargeMover(rec, side, now)
		rec.Moves = append(rec.Moves, token)
		rec.LastMoveAt = now
		if rec.DrawOffer == models.ByOffered(side.Opponent()) {
			rec.DrawOffer = models.OfferNone
		}

		switch variant.Outcome(rec.Moves) {
		case engine.OutcomeFirstWin:
			st.finishLocked(ctx, rec, models.StatusFirstWon, models.WinNormal)
		case engine.OutcomeSecondWin:
			st.finishLocked(ctx, rec, models.StatusSecondWon, models.WinNormal)
		case engine.OutcomeDraw:
			st.finishLocked(ctx, rec, models.StatusDraw, "")
		}

		if err := st.persist(ctx, rec); err != nil {
			return err
		}
		// The monitor is re-armed only once the move has durably committed, so
		// a failed persist leaves the previous countdown in place.
		if !rec.Status.Terminal() && clockRunning(rec) && st.Rearm != nil {
			next := side.Opponent()
			if rem := remainingOf(rec, next); rem != nil {
				st.Rearm(rec.ID, next, *rem)
			}
		}
		st.journal(ctx, rec.ID, "move", map[string]any{"userId": userID, "token": token, "ply": len(rec.Moves)})
		st.publishGame(rec.ID, events.Event{Type: EventGameState, Payload: statePayload(rec, []string{token}, now)})
		if rec.Status.Terminal() {
			st.journalResult(ctx, rec)
		}
		out = cloneRecord(rec, now)
		return nil
	})
	return out, err
}

// Resign ends the game in the opponent's favor. Rated games with no moves
// played keep both ratings untouched.
func (st *Store) Resign(ctx context.Context, id, userID uuid.UUID) error {
	return st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		side, bound := rec.SideOf(userID)
		if !bound {
			return fmt.Errorf("game %s: %w", id, ErrUnauthorized)
		}
		if rec.Status != models.StatusStarted {
			return fmt.Errorf("resign game %s: %w", id, ErrIllegalForStatus)
		}
		st.finishLocked(ctx, rec, wonBy(side.Opponent()), models.WinResign)
		if err := st.persist(ctx, rec); err != nil {
			return err
		}
		st.publishGame(rec.ID, events.Event{Type: EventGameState, Payload: statePayload(rec, nil, st.now())})
		st.journalResult(ctx, rec)
		return nil
	})
}

// OfferDraw advances the two-sided draw protocol for the acting side.
// accept=true places or accepts an offer; accept=false declines the
// opponent's pending offer. Redundant calls are no-ops.
func (st *Store) OfferDraw(ctx context.Context, id, userID uuid.UUID, accept bool) error {
	return st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		side, bound := rec.SideOf(userID)
		if !bound {
			return fmt.Errorf("game %s: %w", id, ErrUnauthorized)
		}
		if rec.Status != models.StatusStarted {
			return fmt.Errorf("draw offer in game %s: %w", id, ErrIllegalForStatus)
		}
		mine, theirs := models.ByOffered(side), models.ByOffered(side.Opponent())
		switch {
		case accept && rec.DrawOffer == models.OfferNone:
			rec.DrawOffer = mine
		case accept && rec.DrawOffer == theirs:
			rec.DrawOffer = models.OfferAgreed
			st.finishLocked(ctx, rec, models.StatusDraw, "")
		case !accept && rec.DrawOffer == theirs:
			rec.DrawOffer = models.OfferNone
		default:
			// Repeating one's own offer or declining nothing changes nothing.
			return nil
		}
		if err := st.persist(ctx, rec); err != nil {
			return err
		}
		st.publishGame(rec.ID, events.Event{Type: EventGameState, Payload: statePayload(rec, nil, st.now())})
		if rec.Status.Terminal() {
			st.journalResult(ctx, rec)
		}
		return nil
	})
}

// OfferRematch runs the same protocol on a finished session. Agreement
// spawns a successor session with sides swapped and fresh clocks, announced
// on the old game's topic.
func (st *Store) OfferRematch(ctx context.Context, id, userID uuid.UUID, accept bool) (models.GameRecord, error) {
	var successor models.GameRecord
	var started bool
	err := st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		side, bound := rec.SideOf(userID)
		if !bound {
			return fmt.Errorf("game %s: %w", id, ErrUnauthorized)
		}
		if !rec.Status.Terminal() {
			return fmt.Errorf("rematch offer in game %s: %w", id, ErrIllegalForStatus)
		}
		mine, theirs := models.ByOffered(side), models.ByOffered(side.Opponent())
		switch {
		case accept && rec.RematchOffer == models.OfferNone:
			rec.RematchOffer = mine
		case accept && rec.RematchOffer == theirs:
			rec.RematchOffer = models.OfferAgreed
			started = true
		case !accept && rec.RematchOffer == theirs:
			rec.RematchOffer = models.OfferNone
		default:
			return nil
		}
		now := st.now()
		if started {
			next := st.spawnRematchLocked(rec, now)
			if err := st.persist(ctx, next); err != nil {
				return err
			}
			successor = cloneRecord(next, now)
		}
		if err := st.persist(ctx, rec); err != nil {
			return err
		}
		st.publishGame(rec.ID, events.Event{Type: EventGameState, Payload: statePayload(rec, nil, now)})
		if started {
			st.publishGame(rec.ID, events.Event{Type: EventRematch, Payload: RematchPayload{GameID: rec.ID, NewGameID: successor.ID}})
		}
		return nil
	})
	if err != nil {
		return models.GameRecord{}, err
	}
	if started {
		st.notifyLobby()
	}
	return successor, nil
}

// spawnRematchLocked builds the successor record: sides swapped, same
// variant, clock config and rated flag, immediately Started.
func (st *Store) spawnRematchLocked(rec *models.GameRecord, now time.Time) *models.GameRecord {
	next := &models.GameRecord{
		ID:           uuid.New(),
		Variant:      rec.Variant,
		Rated:        rec.Rated,
		Clock:        rec.Clock,
		Status:       models.StatusStarted,
		DrawOffer:    models.OfferNone,
		RematchOffer: models.OfferNone,
		CreatedAt:    now,
		LastMoveAt:   now,
		RatingMin:    rec.RatingMin,
		RatingMax:    rec.RatingMax,
	}
	if rec.Second != nil {
		f := *rec.Second
		next.First = &f
	}
	if rec.First != nil {
		s := *rec.First
		next.Second = &s
	}
	if next.Clock.Timed() {
		setRemaining(next, models.SideFirst, next.Clock.InitialMS)
		setRemaining(next, models.SideSecond, next.Clock.InitialMS)
	}
	st.mu.Lock()
	st.sessions[next.ID] = &session{rec: next}
	st.mu.Unlock()
	st.publishStart(next)
	return next
}

// CommitTimeout is the server-initiated flag-fall path, bypassing client
// authorization. It re-validates status, turn and live remaining time under
// the session lock, so the loser of a move/timeout race degrades to a no-op.
func (st *Store) CommitTimeout(ctx context.Context, id uuid.UUID, side models.Side) error {
	return st.withSession(ctx, id, func(s *session) error {
		return st.commitTimeoutLocked(ctx, s, side)
	})
}

func (st *Store) commitTimeoutLocked(ctx context.Context, s *session, side models.Side) error {
	rec := s.rec
	if !clockRunning(rec) {
		return nil
	}
	if models.SideOnMove(len(rec.Moves)) != side {
		return nil
	}
	now := st.now()
	rem := liveRemainingMS(rec, side, now)
	if rem == nil || *rem > 0 {
		return nil
	}
	setRemaining(rec, side, 0)
	st.finishLocked(ctx, rec, wonBy(side.Opponent()), models.WinTimeout)
	if err := st.persist(ctx, rec); err != nil {
		return err
	}
	st.publishGame(rec.ID, events.Event{Type: EventGameState, Payload: statePayload(rec, nil, now)})
	st.journalResult(ctx, rec)
	return nil
}

// ReportTimeout is the client hint: it only points the store at the game,
// the authoritative recomputation still decides.
func (st *Store) ReportTimeout(ctx context.Context, id, userID uuid.UUID) error {
	return st.withSession(ctx, id, func(s *session) error {
		if _, bound := s.rec.SideOf(userID); !bound {
			return fmt.Errorf("game %s: %w", id, ErrUnauthorized)
		}
		return st.commitTimeoutLocked(ctx, s, models.SideOnMove(len(s.rec.Moves)))
	})
}

// AddChat appends one transcript line. Users not seated in the game are
// forced to spectator visibility.
func (st *Store) AddChat(ctx context.Context, id, userID uuid.UUID, username string, vis models.ChatVisibility, text string) error {
	if text == "" {
		return fmt.Errorf("empty chat text: %w", ErrInvalidMove)
	}
	return st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		if _, bound := rec.SideOf(userID); !bound {
			vis = models.ChatSpectators
		}
		if vis != models.ChatPlayers && vis != models.ChatSpectators {
			vis = models.ChatSpectators
		}
		msg := models.ChatMessage{
			UserID:     userID,
			Username:   username,
			Text:       text,
			Visibility: vis,
			At:         st.now(),
		}
		rec.Chat = append(rec.Chat, msg)
		if err := st.persist(ctx, rec); err != nil {
			return err
		}
		st.journal(ctx, rec.ID, "chat", msg)
		st.publishGame(rec.ID, events.Event{Type: EventChat, Payload: ChatPayload{GameID: rec.ID, Message: msg}})
		return nil
	})
}

// CancelSeek withdraws a still-Waiting session created by the acting user.
func (st *Store) CancelSeek(ctx context.Context, id, userID uuid.UUID) error {
	err := st.withSession(ctx, id, func(s *session) error {
		rec := s.rec
		if _, bound := rec.SideOf(userID); !bound {
			return fmt.Errorf("game %s: %w", id, ErrUnauthorized)
		}
		if rec.Status != models.StatusWaiting {
			return fmt.Errorf("cancel game %s: %w", id, ErrIllegalForStatus)
		}
		if st.Persist != nil {
			if err := st.Persist.DeleteGame(ctx, id); err != nil {
				return fmt.Errorf("delete game %s: %w", id, err)
			}
		}
		st.mu.Lock()
		delete(st.sessions, id)
		st.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	st.notifyLobby()
	return nil
}

// Get returns a detached copy of the record with clocks computed live. A
// point read carries no caller deadline, so the rehydration fallback runs on
// the background context.
func (st *Store) Get(id uuid.UUID) (models.GameRecord, error) {
	var out models.GameRecord
	err := st.withSession(context.Background(), id, func(s *session) error {
		out = cloneRecord(s.rec, st.now())
		return nil
	})
	return out, err
}

// Snapshot builds the full-state event served to late subscribers of a game
// topic. Shaped to plug straight into the event bus as its snapshot source.
func (st *Store) Snapshot(id uuid.UUID) (events.Event, bool) {
	rec, err := st.Get(id)
	if err != nil {
		return events.Event{}, false
	}
	return events.Event{Type: EventGameSnapshot, Payload: SnapshotPayload{Game: rec}}, true
}

// OpenSeeks lists Waiting sessions oldest first, the matchmaker's FIFO scan
// order and the lobby's open-seek list.
func (st *Store) OpenSeeks() []models.GameRecord {
	st.mu.Lock()
	candidates := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		candidates = append(candidates, s)
	}
	st.mu.Unlock()

	now := st.now()
	var open []models.GameRecord
	for _, s := range candidates {
		s.mu.Lock()
		if s.rec.Status == models.StatusWaiting {
			open = append(open, cloneRecord(s.rec, now))
		}
		s.mu.Unlock()
	}
	sort.Slice(open, func(i, j int) bool { return open[i].CreatedAt.Before(open[j].CreatedAt) })
	return open
}

// Counts reports open seeks and running games for the lobby counters.
func (st *Store) Counts() (waiting, started int) {
	st.mu.Lock()
	candidates := make([]*session, 0, len(st.sessions))
	for _, s := range st.sessions {
		candidates = append(candidates, s)
	}
	st.mu.Unlock()
	for _, s := range candidates {
		s.mu.Lock()
		switch s.rec.Status {
		case models.StatusWaiting:
			waiting++
		case models.StatusStarted:
			started++
		}
		s.mu.Unlock()
	}
	return waiting, started
}

// finishLocked applies a terminal transition: status, win type, monitor
// disarm and the once-only rating update. Zero-move rated games are treated
// as aborts and leave ratings untouched.
func (st *Store) finishLocked(ctx context.Context, rec *models.GameRecord, status models.Status, wt models.WinType) {
	rec.Status = status
	rec.WinType = wt
	rec.DrawOffer = models.OfferNone
	if st.Disarm != nil {
		st.Disarm(rec.ID)
	}
	if rec.Rated && len(rec.Moves) > 0 && !rec.RatingsApplied && st.Ratings != nil {
		if err := st.Ratings.Apply(ctx, rec); err != nil {
			st.logger.WithError(err).WithField("game_id", rec.ID).Error("rating update failed")
		}
		rec.RatingsApplied = true
	}
}

func wonBy(side models.Side) models.Status {
	if side == models.SideFirst {
		return models.StatusFirstWon
	}
	return models.StatusSecondWon
}

func (st *Store) persist(ctx context.Context, rec *models.GameRecord) error {
	if st.Persist == nil {
		return nil
	}
	if err := st.Persist.SaveGame(ctx, rec); err != nil {
		return fmt.Errorf("persist game %s: %w", rec.ID, err)
	}
	return nil
}

func (st *Store) journal(ctx context.Context, id uuid.UUID, kind string, payload any) {
	if st.Journal == nil {
		return
	}
	if err := st.Journal.Append(ctx, id, kind, payload); err != nil {
		st.logger.WithError(err).WithField("game_id", id).Warn("journal append failed")
	}
}

func (st *Store) journalResult(ctx context.Context, rec *models.GameRecord) {
	st.journal(ctx, rec.ID, "result", map[string]any{
		"status":  rec.Status,
		"winType": rec.WinType,
		"plies":   len(rec.Moves),
	})
}

func (st *Store) publishGame(id uuid.UUID, ev events.Event) {
	if st.BroadcastGame != nil {
		st.BroadcastGame(id, ev)
	}
}

func (st *Store) publishStart(rec *models.GameRecord) {
	if st.BroadcastUser == nil {
		return
	}
	payload := StartPayload{GameID: rec.ID, Variant: rec.Variant}
	for _, slot := range []*models.PlayerSlot{rec.First, rec.Second} {
		if slot != nil {
			st.BroadcastUser(slot.Username, events.Event{Type: EventGameStart, Payload: payload})
		}
	}
}

func (st *Store) notifyLobby() {
	if st.NotifyLobby != nil {
		st.NotifyLobby()
	}
}
