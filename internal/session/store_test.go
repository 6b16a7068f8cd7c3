package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigrid/trigrid/internal/events"
	"github.com/trigrid/trigrid/internal/models"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type stubPersister struct {
	saves   int
	deletes int
	fail    bool
}

func (p *stubPersister) SaveGame(context.Context, *models.GameRecord) error {
	if p.fail {
		return errors.New("storage down")
	}
	p.saves++
	return nil
}

func (p *stubPersister) DeleteGame(context.Context, uuid.UUID) error {
	p.deletes++
	return nil
}

type stubRatings struct{ applied int }

func (r *stubRatings) Apply(context.Context, *models.GameRecord) error {
	r.applied++
	return nil
}

type stubJournal struct{ kinds []string }

func (j *stubJournal) Append(_ context.Context, _ uuid.UUID, kind string, _ any) error {
	j.kinds = append(j.kinds, kind)
	return nil
}

// stubLoader serves a single persisted record, as a restarted process would
// find it.
type stubLoader struct {
	rec   *models.GameRecord
	loads int
}

func (l *stubLoader) GetGame(_ context.Context, id uuid.UUID) (*models.GameRecord, error) {
	l.loads++
	if l.rec == nil || l.rec.ID != id {
		return nil, errors.New("no rows in result set")
	}
	c := *l.rec
	c.Moves = append([]string(nil), l.rec.Moves...)
	return &c, nil
}

type fixture struct {
	store    *Store
	clock    *fakeClock
	persist  *stubPersister
	ratings  *stubRatings
	journal  *stubJournal
	game     []events.Event
	user     map[string][]events.Event
	lobby    int
	armed    map[uuid.UUID]models.Side
	disarmed int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := &fixture{
		clock:   &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		persist: &stubPersister{},
		ratings: &stubRatings{},
		journal: &stubJournal{},
		user:    make(map[string][]events.Event),
		armed:   make(map[uuid.UUID]models.Side),
	}
	st := NewStore(logger)
	st.now = f.clock.now
	st.Persist = f.persist
	st.Ratings = f.ratings
	st.Journal = f.journal
	st.BroadcastGame = func(_ uuid.UUID, ev events.Event) { f.game = append(f.game, ev) }
	st.BroadcastUser = func(name string, ev events.Event) { f.user[name] = append(f.user[name], ev) }
	st.NotifyLobby = func() { f.lobby++ }
	st.Rearm = func(id uuid.UUID, side models.Side, _ int64) { f.armed[id] = side }
	st.Disarm = func(id uuid.UUID) { delete(f.armed, id); f.disarmed++ }
	f.store = st
	return f
}

func seekFor(name string, side models.Side, clock models.ClockConfig, rated bool) models.SeekRequest {
	return models.SeekRequest{
		UserID:    uuid.New(),
		Username:  name,
		Rating:    1500,
		Deviation: 120,
		RatingMin: 1000,
		RatingMax: 2000,
		Side:      side,
		Variant:   models.VariantSingle,
		Clock:     clock,
		Rated:     rated,
	}
}

// startedGame creates and joins a single-variant session, returning the
// record plus both user ids (first mover then second).
func startedGame(t *testing.T, f *fixture, clock models.ClockConfig, rated bool) (models.GameRecord, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	a := seekFor("alice", models.SideFirst, clock, rated)
	b := seekFor("bob", models.SideSecond, clock, rated)
	created, err := f.store.Create(ctx, a)
	require.NoError(t, err)
	rec, err := f.store.Join(ctx, created.ID, b)
	require.NoError(t, err)
	require.Equal(t, models.StatusStarted, rec.Status)
	return rec, a.UserID, b.UserID
}

func TestCreateBindsSeekerAndWindow(t *testing.T) {
	f := newFixture(t)
	seek := seekFor("alice", models.SideSecond, models.ClockConfig{}, false)
	rec, err := f.store.Create(context.Background(), seek)
	require.NoError(t, err)

	assert.Equal(t, models.StatusWaiting, rec.Status)
	assert.Nil(t, rec.First)
	require.NotNil(t, rec.Second)
	assert.Equal(t, "alice", rec.Second.Username)
	assert.Equal(t, 1000, rec.RatingMin)
	assert.Equal(t, 2000, rec.RatingMax)
	assert.Nil(t, rec.RemainingFirstMS, "untimed game carries no clocks")
	assert.Equal(t, 1, f.lobby, "open-seek list changed")
	assert.Equal(t, 1, f.persist.saves)
}

func TestCreateResolvesRandomSide(t *testing.T) {
	f := newFixture(t)
	rec, err := f.store.Create(context.Background(), seekFor("alice", models.SideRandom, models.ClockConfig{}, false))
	require.NoError(t, err)
	assert.True(t, rec.RandomSide)
	assert.True(t, (rec.First != nil) != (rec.Second != nil), "exactly one slot bound")
}

func TestCreateRejectsUnknownVariant(t *testing.T) {
	f := newFixture(t)
	seek := seekFor("alice", models.SideFirst, models.ClockConfig{}, false)
	seek.Variant = "chess"
	_, err := f.store.Create(context.Background(), seek)
	assert.ErrorIs(t, err, ErrInvalidMove)
}

func TestJoinStartsGameAndInitializesClocks(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 60000, IncrementMS: 1000}
	rec, _, _ := startedGame(t, f, cfg, false)

	require.NotNil(t, rec.RemainingFirstMS)
	require.NotNil(t, rec.RemainingSecondMS)
	assert.Equal(t, int64(60000), *rec.RemainingFirstMS)
	assert.Equal(t, int64(60000), *rec.RemainingSecondMS)

	assert.NotEmpty(t, f.user["alice"], "game-start notice for the creator")
	assert.NotEmpty(t, f.user["bob"], "game-start notice for the joiner")
	assert.Empty(t, f.armed, "clocks are not armed before both sides have moved")
}

func TestJoinRaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := seekFor("alice", models.SideFirst, models.ClockConfig{}, false)
	rec, err := f.store.Create(ctx, creator)
	require.NoError(t, err)

	_, err = f.store.Join(ctx, rec.ID, seekFor("carol", models.SideFirst, models.ClockConfig{}, false))
	assert.ErrorIs(t, err, ErrConflict, "preferred slot already taken")

	_, err = f.store.Join(ctx, rec.ID, creator)
	assert.ErrorIs(t, err, ErrConflict, "creator cannot seat both sides")

	_, err = f.store.Join(ctx, rec.ID, seekFor("bob", models.SideSecond, models.ClockConfig{}, false))
	require.NoError(t, err)

	_, err = f.store.Join(ctx, rec.ID, seekFor("dave", models.SideSecond, models.ClockConfig{}, false))
	assert.ErrorIs(t, err, ErrIllegalForStatus, "no joining a started game")

	_, err = f.store.Join(ctx, uuid.New(), seekFor("eve", models.SideSecond, models.ClockConfig{}, false))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMoveAuthorizationAndValidation(t *testing.T) {
	f := newFixture(t)
	rec, first, second := startedGame(t, f, models.ClockConfig{}, false)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, uuid.New(), "a1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.store.Move(ctx, rec.ID, second, "a1")
	assert.ErrorIs(t, err, ErrInvalidMove, "second is not on move")

	_, err = f.store.Move(ctx, rec.ID, first, "z9")
	assert.ErrorIs(t, err, ErrInvalidMove)

	got, err := f.store.Move(ctx, rec.ID, first, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a1"}, got.Moves)

	_, err = f.store.Move(ctx, rec.ID, second, "a1")
	assert.ErrorIs(t, err, ErrInvalidMove, "cell occupied")
}

func TestMoveToWinAppliesRatingsOnce(t *testing.T) {
	f := newFixture(t)
	rec, first, second := startedGame(t, f, models.ClockConfig{}, true)
	ctx := context.Background()

	moves := []string{"a1", "a2", "b1", "b2", "c1"}
	users := []uuid.UUID{first, second, first, second, first}
	var got models.GameRecord
	var err error
	for i, mv := range moves {
		got, err = f.store.Move(ctx, rec.ID, users[i], mv)
		require.NoError(t, err, "move %d", i)
	}

	assert.Equal(t, models.StatusFirstWon, got.Status)
	assert.Equal(t, models.WinNormal, got.WinType)
	assert.Equal(t, 1, f.ratings.applied)

	_, err = f.store.Move(ctx, rec.ID, second, "c3")
	assert.ErrorIs(t, err, ErrIllegalForStatus)
	assert.Equal(t, 1, f.ratings.applied, "terminal transition rates exactly once")
	assert.Contains(t, f.journal.kinds, "result")
}

func TestClockChargeAndIncrement(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 60000, IncrementMS: 1000}
	rec, first, second := startedGame(t, f, cfg, false)
	ctx := context.Background()

	// Each side's first move is free no matter how long it takes.
	f.clock.advance(30 * time.Second)
	got, err := f.store.Move(ctx, rec.ID, first, "b2")
	require.NoError(t, err)
	assert.Equal(t, int64(60000), *got.RemainingFirstMS)

	f.clock.advance(20 * time.Second)
	got, err = f.store.Move(ctx, rec.ID, second, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(60000), *got.RemainingSecondMS)
	assert.Equal(t, models.SideFirst, f.armed[rec.ID], "countdown armed once both sides moved")

	// From here first is on the clock: five seconds of thought costs five
	// seconds and earns the increment back.
	f.clock.advance(5 * time.Second)
	got, err = f.store.Move(ctx, rec.ID, first, "a2")
	require.NoError(t, err)
	assert.Equal(t, int64(56000), *got.RemainingFirstMS)
	assert.Equal(t, models.SideSecond, f.armed[rec.ID])

	// Live read for the side on move falls with wall time without mutation.
	f.clock.advance(2 * time.Second)
	read, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(58000), *read.RemainingSecondMS)
	assert.Equal(t, int64(56000), *read.RemainingFirstMS, "off-move clock is frozen")

	read2, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, *read.RemainingSecondMS, *read2.RemainingSecondMS, "reads do not charge")
}

func TestClockNeverNegative(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 5000, IncrementMS: 0}
	rec, first, second := startedGame(t, f, cfg, false)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, first, "b2")
	require.NoError(t, err)
	_, err = f.store.Move(ctx, rec.ID, second, "a1")
	require.NoError(t, err)

	// First overstays the clock but wins the race against the sweep; the
	// move is accepted and the remaining time clamps at zero.
	f.clock.advance(10 * time.Second)
	read, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), *read.RemainingFirstMS, "live value clamps at zero")

	got, err := f.store.Move(ctx, rec.ID, first, "a2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), *got.RemainingFirstMS)
	assert.Equal(t, models.StatusStarted, got.Status)
}

func TestTimeoutCommitAndRace(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 5000, IncrementMS: 0}
	rec, first, second := startedGame(t, f, cfg, true)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, first, "b2")
	require.NoError(t, err)
	_, err = f.store.Move(ctx, rec.ID, second, "a1")
	require.NoError(t, err)

	// Not yet expired: commit is a no-op.
	f.clock.advance(2 * time.Second)
	require.NoError(t, f.store.CommitTimeout(ctx, rec.ID, models.SideFirst))
	read, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, read.Status)

	// Wrong side: no-op even when the named clock looks low.
	f.clock.advance(4 * time.Second)
	require.NoError(t, f.store.CommitTimeout(ctx, rec.ID, models.SideSecond))
	read, err = f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, read.Status)

	// Expired for the side on move: flag falls, opponent wins on time.
	require.NoError(t, f.store.CommitTimeout(ctx, rec.ID, models.SideFirst))
	read, err = f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSecondWon, read.Status)
	assert.Equal(t, models.WinTimeout, read.WinType)
	assert.Equal(t, int64(0), *read.RemainingFirstMS)
	assert.Equal(t, 1, f.ratings.applied)

	// The race loser degrades to a no-op: neither a second timeout nor a
	// late move double-applies a result.
	require.NoError(t, f.store.CommitTimeout(ctx, rec.ID, models.SideFirst))
	_, err = f.store.Move(ctx, rec.ID, first, "a2")
	assert.ErrorIs(t, err, ErrIllegalForStatus)
	assert.Equal(t, 1, f.ratings.applied)
}

func TestReportTimeoutIsGatedByRecomputation(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 5000, IncrementMS: 0}
	rec, first, second := startedGame(t, f, cfg, false)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, first, "b2")
	require.NoError(t, err)
	_, err = f.store.Move(ctx, rec.ID, second, "a1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.store.ReportTimeout(ctx, rec.ID, uuid.New()), ErrUnauthorized)

	// The hint alone proves nothing.
	require.NoError(t, f.store.ReportTimeout(ctx, rec.ID, second))
	read, _ := f.store.Get(rec.ID)
	assert.Equal(t, models.StatusStarted, read.Status)

	// First is the side on move, so first's flag falls and second wins.
	f.clock.advance(6 * time.Second)
	require.NoError(t, f.store.ReportTimeout(ctx, rec.ID, second))
	read, _ = f.store.Get(rec.ID)
	assert.Equal(t, models.StatusSecondWon, read.Status)
	assert.Equal(t, models.WinTimeout, read.WinType)
}

func TestDrawOfferProtocol(t *testing.T) {
	f := newFixture(t)
	rec, first, second := startedGame(t, f, models.ClockConfig{}, false)
	ctx := context.Background()

	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, first, true))
	read, _ := f.store.Get(rec.ID)
	assert.Equal(t, models.OfferFirst, read.DrawOffer)

	// Repeating one's own offer is a no-op, declining it is too.
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, first, true))
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, first, false))
	read, _ = f.store.Get(rec.ID)
	assert.Equal(t, models.OfferFirst, read.DrawOffer)

	// Decline clears the offer and play continues.
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, second, false))
	read, _ = f.store.Get(rec.ID)
	assert.Equal(t, models.OfferNone, read.DrawOffer)
	assert.Equal(t, models.StatusStarted, read.Status)

	// Acceptance forces the draw.
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, second, true))
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, first, true))
	read, _ = f.store.Get(rec.ID)
	assert.Equal(t, models.OfferAgreed, read.DrawOffer)
	assert.Equal(t, models.StatusDraw, read.Status)

	assert.ErrorIs(t, f.store.OfferDraw(ctx, rec.ID, first, true), ErrIllegalForStatus)
}

func TestMoveDeclinesPendingDrawOffer(t *testing.T) {
	f := newFixture(t)
	rec, first, second := startedGame(t, f, models.ClockConfig{}, false)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, first, "b2")
	require.NoError(t, err)
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, first, true))

	// Second answers the offer with a move: the offer is declined.
	got, err := f.store.Move(ctx, rec.ID, second, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.OfferNone, got.DrawOffer)

	// A mover's own standing offer survives their move for the opponent to
	// answer.
	require.NoError(t, f.store.OfferDraw(ctx, rec.ID, first, true))
	got, err = f.store.Move(ctx, rec.ID, first, "a2")
	require.NoError(t, err)
	assert.Equal(t, models.OfferFirst, got.DrawOffer)
}

func TestResignAndZeroMoveRatingSkip(t *testing.T) {
	f := newFixture(t)
	rec, first, _ := startedGame(t, f, models.ClockConfig{}, true)
	ctx := context.Background()

	// Rated game abandoned before any move: no rating change.
	require.NoError(t, f.store.Resign(ctx, rec.ID, first))
	read, _ := f.store.Get(rec.ID)
	assert.Equal(t, models.StatusSecondWon, read.Status)
	assert.Equal(t, models.WinResign, read.WinType)
	assert.Equal(t, 0, f.ratings.applied)

	// With moves on the board the resignation rates normally.
	rec2, first2, second2 := startedGame(t, f, models.ClockConfig{}, true)
	_, err := f.store.Move(ctx, rec2.ID, first2, "b2")
	require.NoError(t, err)
	require.NoError(t, f.store.Resign(ctx, rec2.ID, second2))
	read, _ = f.store.Get(rec2.ID)
	assert.Equal(t, models.StatusFirstWon, read.Status)
	assert.Equal(t, 1, f.ratings.applied)
}

func TestRematchSpawnsSwappedSession(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 30000, IncrementMS: 500}
	rec, first, second := startedGame(t, f, cfg, true)
	ctx := context.Background()

	_, err := f.store.OfferRematch(ctx, rec.ID, first, true)
	assert.ErrorIs(t, err, ErrIllegalForStatus, "rematch only once terminal")

	require.NoError(t, f.store.Resign(ctx, rec.ID, second))

	_, err = f.store.OfferRematch(ctx, rec.ID, second, true)
	require.NoError(t, err)
	next, err := f.store.OfferRematch(ctx, rec.ID, first, true)
	require.NoError(t, err)

	require.NotEqual(t, uuid.Nil, next.ID)
	assert.NotEqual(t, rec.ID, next.ID)
	assert.Equal(t, models.StatusStarted, next.Status)
	assert.Equal(t, rec.Variant, next.Variant)
	assert.Equal(t, cfg, next.Clock)
	assert.True(t, next.Rated)
	require.NotNil(t, next.First)
	require.NotNil(t, next.Second)
	assert.Equal(t, "bob", next.First.Username, "sides swap for the rematch")
	assert.Equal(t, "alice", next.Second.Username)
	assert.Equal(t, int64(30000), *next.RemainingFirstMS, "fresh clocks")
	assert.Empty(t, next.Moves)

	read, _ := f.store.Get(rec.ID)
	assert.Equal(t, models.OfferAgreed, read.RematchOffer)
}

func TestChatTranscript(t *testing.T) {
	f := newFixture(t)
	rec, first, _ := startedGame(t, f, models.ClockConfig{}, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.store.AddChat(ctx, rec.ID, first, "alice", models.ChatPlayers, ""), ErrInvalidMove)

	require.NoError(t, f.store.AddChat(ctx, rec.ID, first, "alice", models.ChatPlayers, "gl hf"))
	watcher := uuid.New()
	require.NoError(t, f.store.AddChat(ctx, rec.ID, watcher, "mallory", models.ChatPlayers, "hi"))

	read, _ := f.store.Get(rec.ID)
	require.Len(t, read.Chat, 2)
	assert.Equal(t, models.ChatPlayers, read.Chat[0].Visibility)
	assert.Equal(t, models.ChatSpectators, read.Chat[1].Visibility, "non-players cannot reach player chat")
	assert.Contains(t, f.journal.kinds, "chat")
}

func TestCancelSeek(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seek := seekFor("alice", models.SideFirst, models.ClockConfig{}, false)
	rec, err := f.store.Create(ctx, seek)
	require.NoError(t, err)

	assert.ErrorIs(t, f.store.CancelSeek(ctx, rec.ID, uuid.New()), ErrUnauthorized)
	require.NoError(t, f.store.CancelSeek(ctx, rec.ID, seek.UserID))
	assert.Equal(t, 1, f.persist.deletes)
	assert.Empty(t, f.store.OpenSeeks())

	assert.ErrorIs(t, f.store.CancelSeek(ctx, rec.ID, seek.UserID), ErrNotFound)

	// A started game cannot be cancelled.
	rec2, first, _ := startedGame(t, f, models.ClockConfig{}, false)
	assert.ErrorIs(t, f.store.CancelSeek(ctx, rec2.ID, first), ErrIllegalForStatus)
}

func TestOpenSeeksFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.store.Create(ctx, seekFor("alice", models.SideFirst, models.ClockConfig{}, false))
	require.NoError(t, err)
	f.clock.advance(time.Second)
	b, err := f.store.Create(ctx, seekFor("bob", models.SideFirst, models.ClockConfig{}, false))
	require.NoError(t, err)
	f.clock.advance(time.Second)
	c, err := f.store.Create(ctx, seekFor("carol", models.SideFirst, models.ClockConfig{}, false))
	require.NoError(t, err)

	open := f.store.OpenSeeks()
	require.Len(t, open, 3)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, []uuid.UUID{open[0].ID, open[1].ID, open[2].ID})

	waiting, started := f.store.Counts()
	assert.Equal(t, 3, waiting)
	assert.Equal(t, 0, started)
}

func TestSnapshotCarriesFullState(t *testing.T) {
	f := newFixture(t)
	rec, first, _ := startedGame(t, f, models.ClockConfig{InitialMS: 60000}, false)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, first, "b2")
	require.NoError(t, err)
	require.NoError(t, f.store.AddChat(ctx, rec.ID, first, "alice", models.ChatSpectators, "here we go"))

	ev, ok := f.store.Snapshot(rec.ID)
	require.True(t, ok)
	assert.Equal(t, EventGameSnapshot, ev.Type)
	snap, ok := ev.Payload.(SnapshotPayload)
	require.True(t, ok)
	assert.Equal(t, []string{"b2"}, snap.Game.Moves)
	assert.Len(t, snap.Game.Chat, 1)
	require.NotNil(t, snap.Game.RemainingFirstMS)

	_, ok = f.store.Snapshot(uuid.New())
	assert.False(t, ok)
}

func TestPersistFailureSuppressesPublish(t *testing.T) {
	f := newFixture(t)
	rec, first, _ := startedGame(t, f, models.ClockConfig{}, false)
	published := len(f.game)

	f.persist.fail = true
	_, err := f.store.Move(context.Background(), rec.ID, first, "a1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidMove)
	assert.Len(t, f.game, published, "no event without a durable commit")
}

func TestConcurrentMovesSerializePerSession(t *testing.T) {
	f := newFixture(t)
	f.store.now = time.Now
	rec, first, second := startedGame(t, f, models.ClockConfig{}, false)
	ctx := context.Background()

	// Both players hammer the same session concurrently; per-id locking must
	// keep the move log a legal alternation with no duplicates.
	tokens := []string{"a1", "a2", "b1", "b3", "c2"}
	users := []uuid.UUID{first, second, first, second, first}
	done := make(chan struct{})
	deadline := time.Now().Add(5 * time.Second)
	for i := range tokens {
		go func(u uuid.UUID, tok string) {
			defer func() { done <- struct{}{} }()
			for time.Now().Before(deadline) {
				if _, err := f.store.Move(ctx, rec.ID, u, tok); err == nil {
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(users[i], tokens[i])
	}
	for range tokens {
		<-done
	}

	read, err := f.store.Get(rec.ID)
	require.NoError(t, err)
	assert.Len(t, read.Moves, len(tokens))
	seen := make(map[string]bool)
	for _, mv := range read.Moves {
		assert.False(t, seen[mv], "duplicate move %s", mv)
		seen[mv] = true
	}
}

func TestGetUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, fmt.Sprintf("%v", err), "not found")
}

func TestMissingSessionRehydratesFromStorage(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	firstID, secondID := uuid.New(), uuid.New()
	r1, r2 := int64(60000), int64(60000)
	loader := &stubLoader{rec: &models.GameRecord{
		ID:      id,
		Variant: models.VariantSingle,
		Clock:   models.ClockConfig{InitialMS: 60000},
		First:   &models.PlayerSlot{UserID: firstID, Username: "alice", Rating: 1500},
		Second:  &models.PlayerSlot{UserID: secondID, Username: "bob", Rating: 1500},
		Moves:   []string{"a1", "b1"},

		RemainingFirstMS:  &r1,
		RemainingSecondMS: &r2,

		Status:       models.StatusStarted,
		DrawOffer:    models.OfferNone,
		RematchOffer: models.OfferNone,
		LastMoveAt:   f.clock.now().Add(-5 * time.Second),
		CreatedAt:    f.clock.now().Add(-time.Minute),
	}}
	f.store.Load = loader

	// The in-memory map is empty, as after a restart; the read falls through
	// to storage and seeds a live session.
	read, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStarted, read.Status)
	assert.Equal(t, []string{"a1", "b1"}, read.Moves)
	assert.Equal(t, models.SideFirst, f.armed[id], "running clock re-armed for the side on move")

	// Subsequent reads hit the live session, not storage.
	_, err = f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads)

	// Play continues on the rehydrated session.
	_, err = f.store.Move(context.Background(), id, firstID, "a2")
	require.NoError(t, err)
	read, err = f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "b1", "a2"}, read.Moves)

	// Ids absent from storage still miss.
	_, err = f.store.Get(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistFailureLeavesMonitorUntouched(t *testing.T) {
	f := newFixture(t)
	cfg := models.ClockConfig{InitialMS: 60000}
	rec, first, second := startedGame(t, f, cfg, false)
	ctx := context.Background()

	_, err := f.store.Move(ctx, rec.ID, first, "a1")
	require.NoError(t, err)
	_, err = f.store.Move(ctx, rec.ID, second, "b1")
	require.NoError(t, err)
	require.Equal(t, models.SideFirst, f.armed[rec.ID])

	// The rejected commit must not hand the countdown to the opponent.
	f.persist.fail = true
	_, err = f.store.Move(ctx, rec.ID, first, "a2")
	require.Error(t, err)
	assert.Equal(t, models.SideFirst, f.armed[rec.ID], "monitor only moves on a durable commit")
}
