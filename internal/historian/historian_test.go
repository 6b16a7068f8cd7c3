package historian

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trigrid/trigrid/internal/cache"
	"github.com/trigrid/trigrid/internal/database"
)

type memInserter struct {
	mu   sync.Mutex
	rows []database.ActionRow
	fail bool
}

func (m *memInserter) InsertActions(ctx context.Context, actions []database.ActionRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("db unavailable")
	}
	m.rows = append(m.rows, actions...)
	return nil
}

func (m *memInserter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func newService(t *testing.T, db Inserter) (*Service, *cache.Journal) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	journal := cache.NewJournal(rdb, "test_actions")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := New(journal, db, logger)
	svc.flushDelay = 20 * time.Millisecond
	svc.popTimeout = 10 * time.Millisecond
	return svc, journal
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDrainsJournalIntoBatches(t *testing.T) {
	db := &memInserter{}
	svc, journal := newService(t, db)

	gameID := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, journal.Append(ctx, gameID, "move", map[string]string{"token": "a1"}))
	}

	go svc.Run(ctx)
	waitFor(t, func() bool { return db.count() == 5 })

	db.mu.Lock()
	defer db.mu.Unlock()
	for _, row := range db.rows {
		assert.Equal(t, gameID, row.GameID)
		assert.Equal(t, "move", row.Kind)
		assert.NotZero(t, row.RecordedAt)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(row.Payload, &payload))
		assert.Equal(t, "a1", payload["token"])
	}
}

func TestBatchThresholdTriggersImmediateFlush(t *testing.T) {
	db := &memInserter{}
	svc, journal := newService(t, db)
	svc.batchSize = 3
	svc.flushDelay = time.Hour // only the size threshold may flush

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		require.NoError(t, journal.Append(ctx, uuid.New(), "chat", nil))
	}

	go svc.Run(ctx)
	waitFor(t, func() bool { return db.count() == 3 })
}

func TestFailedFlushRequeuesRows(t *testing.T) {
	db := &memInserter{fail: true}
	svc, journal := newService(t, db)

	ctx := context.Background()
	require.NoError(t, journal.Append(ctx, uuid.New(), "result", nil))

	rec, err := journal.Pop(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, rec)
	svc.append(ctx, database.ActionRow{GameID: rec.GameID, Kind: rec.Kind, Payload: rec.Payload, RecordedAt: rec.Timestamp})

	svc.Flush(ctx)
	assert.Equal(t, 0, db.count())
	assert.Equal(t, 1, svc.Pending())

	db.mu.Lock()
	db.fail = false
	db.mu.Unlock()

	svc.Flush(ctx)
	assert.Equal(t, 1, db.count())
	assert.Equal(t, 0, svc.Pending())
}

func TestShutdownFlushesRemainder(t *testing.T) {
	db := &memInserter{}
	svc, journal := newService(t, db)
	svc.flushDelay = time.Hour
	svc.batchSize = 100

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, journal.Append(ctx, uuid.New(), "move", nil))

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	waitFor(t, func() bool { return svc.Pending() == 1 })

	cancel()
	<-done
	assert.Equal(t, 1, db.count())
	assert.Equal(t, 0, svc.Pending())
}
