package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbenson/condorbot/internal/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedPosition(id string) *models.Position {
	return &models.Position{
		ID:             id,
		Bot:            "spy-condor",
		Symbol:         "SPY",
		IdempotencyKey: "key-" + id,
		EntryOrderID:   "ord-1",
		Status:         models.StateOpen,
		Source:         models.SourceStdDev,
		Expiration:     time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC),
		OpenedAt:       time.Now().UTC(),
		ShortPut:       582,
		LongPut:        580,
		ShortCall:      588,
		LongCall:       590,
		SpreadWidth:    2,
		CreditReceived: 0.60,
		Contracts:      3,
	}
}

func TestPositionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pos := storedPosition("p1")
	require.NoError(t, s.SavePosition(ctx, pos))

	got, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, pos.Symbol, got.Symbol)
	assert.Equal(t, pos.ShortPut, got.ShortPut)
	assert.Equal(t, pos.CreditReceived, got.CreditReceived)
	assert.Equal(t, models.StateOpen, got.Status)
	assert.Equal(t, models.SourceStdDev, got.Source)
}

func TestGetPosition_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPosition(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSavePosition_InvalidRejected(t *testing.T) {
	s := newTestStore(t)
	pos := storedPosition("bad")
	pos.ShortPut = 589 // above short call
	assert.Error(t, s.SavePosition(context.Background(), pos))
}

func TestGetOpenPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := storedPosition("a")
	b := storedPosition("b")
	b.Bot = "ndx-condor"
	b.Symbol = "NDX"
	require.NoError(t, s.SavePosition(ctx, a))
	require.NoError(t, s.SavePosition(ctx, b))
	require.NoError(t, s.ClosePosition(ctx, "a", models.StateClosed, models.ConditionManualClose, 42, "ord-x"))

	open, err := s.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "b", open[0].ID)

	byBot, err := s.GetOpenPositionsByBot(ctx, "ndx-condor")
	require.NoError(t, err)
	assert.Len(t, byBot, 1)

	byBot, err = s.GetOpenPositionsByBot(ctx, "spy-condor")
	require.NoError(t, err)
	assert.Empty(t, byBot)
}

func TestFindPositionByKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePosition(ctx, storedPosition("p1")))

	got, err := s.FindPositionByKey(ctx, "key-p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	_, err = s.FindPositionByKey(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindKeyByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.FindKeyByHash(ctx, "spy-condor", "fp-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	older := testKey("k-old")
	older.RequestHash = "fp-1"
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	_, err = s.MarkPending(ctx, older)
	require.NoError(t, err)

	newer := testKey("k-new")
	newer.RequestHash = "fp-1"
	newer.CreatedAt = time.Now().UTC()
	_, err = s.MarkPending(ctx, newer)
	require.NoError(t, err)

	rec, err = s.FindKeyByHash(ctx, "spy-condor", "fp-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "k-new", rec.Key, "newest record wins")

	rec, err = s.FindKeyByHash(ctx, "ndx-condor", "fp-1")
	require.NoError(t, err)
	assert.Nil(t, rec, "hash lookup is scoped per bot")
}

func TestClosePosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePosition(ctx, storedPosition("p1")))

	require.NoError(t, s.ClosePosition(ctx, "p1", models.StateClosed, models.ConditionExitFilled, 120.0, "exit-1"))

	got, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.StateClosed, got.Status)
	assert.Equal(t, models.ConditionExitFilled, got.ExitReason)
	assert.Equal(t, 120.0, got.RealizedPnL)
	assert.Equal(t, "exit-1", got.ExitOrderID)
	assert.False(t, got.ClosedAt.IsZero())
}

func TestClosePosition_TerminalIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePosition(ctx, storedPosition("p1")))
	require.NoError(t, s.ClosePosition(ctx, "p1", models.StateStopped, models.ConditionStopTriggered, -50, ""))

	err := s.ClosePosition(ctx, "p1", models.StateClosed, models.ConditionExitFilled, 10, "")
	require.Error(t, err)

	got, err := s.GetPosition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, got.Status)
	assert.Equal(t, -50.0, got.RealizedPnL)
}

func TestClosePosition_InvalidCondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SavePosition(ctx, storedPosition("p1")))

	// Expired state requires the held-to-expiration condition.
	err := s.ClosePosition(ctx, "p1", models.StateExpired, models.ConditionExitFilled, 0, "")
	assert.Error(t, err)
}

func testKey(key string) *IdempotencyRecord {
	return &IdempotencyRecord{
		Key:         key,
		Bot:         "spy-condor",
		RequestHash: "hash-" + key,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}
}

func TestMarkPending_FirstWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.MarkPending(ctx, testKey("k1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkPending(ctx, testKey("k1"))
	require.NoError(t, err)
	assert.False(t, ok, "second mark_pending for the same key must lose")

	rec, err := s.CheckKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, KeyStatusPending, rec.Status)
}

func TestMarkPending_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	wins := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.MarkPending(ctx, testKey("race"))
			if err == nil && ok {
				wins <- true
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	assert.Equal(t, 1, won, "exactly one concurrent caller may win the key")
}

func TestMarkCompleted_TerminalOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.MarkPending(ctx, testKey("k1"))
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, "k1", `{"order_id":"42"}`))
	// Re-marking with the same outcome is idempotent.
	require.NoError(t, s.MarkCompleted(ctx, "k1", `{"order_id":"42"}`))

	// Flipping to failed is rejected.
	err = s.MarkFailed(ctx, "k1", "late failure")
	assert.ErrorIs(t, err, ErrTerminalConflict)

	rec, err := s.CheckKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, KeyStatusCompleted, rec.Status)
	assert.Contains(t, rec.Result, "42")
}

func TestMarkFailed_ReleasesKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.MarkPending(ctx, testKey("k1"))
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(ctx, "k1", "broker rejected"))

	rec, err := s.CheckKey(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, KeyStatusFailed, rec.Status)
	assert.Equal(t, "broker rejected", rec.Error)
}

func TestMarkTerminal_MissingKey(t *testing.T) {
	s := newTestStore(t)
	err := s.MarkCompleted(context.Background(), "ghost", "{}")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := testKey("old")
	first.CreatedAt = time.Now().UTC().Add(-time.Hour)
	_, err := s.MarkPending(ctx, first)
	require.NoError(t, err)
	_, err = s.MarkPending(ctx, testKey("new"))
	require.NoError(t, err)

	other := testKey("other-bot")
	other.Bot = "ndx-condor"
	_, err = s.MarkPending(ctx, other)
	require.NoError(t, err)

	require.NoError(t, s.MarkCompleted(ctx, "new", "{}"))

	pending, err := s.PendingKeys(ctx, "spy-condor")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "old", pending[0].Key)

	all, err := s.PendingKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteExpiredKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expired := testKey("gone")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	_, err := s.MarkPending(ctx, expired)
	require.NoError(t, err)
	_, err = s.MarkPending(ctx, testKey("kept"))
	require.NoError(t, err)

	n, err := s.DeleteExpiredKeys(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err := s.CheckKey(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = s.CheckKey(ctx, "kept")
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestRiskConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadRiskConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveRiskConfig(ctx, &RiskConfig{
		Capital:         100_000,
		RiskPerTradePct: 0.02,
		MaxContracts:    10,
	}))

	cfg, err := s.LoadRiskConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100_000.0, cfg.Capital)

	cfg.Capital = 110_000
	require.NoError(t, s.SaveRiskConfig(ctx, cfg))
	cfg, err = s.LoadRiskConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 110_000.0, cfg.Capital)
}

func TestExpiredHelper(t *testing.T) {
	rec := IdempotencyRecord{ExpiresAt: time.Now().Add(-time.Second)}
	assert.True(t, rec.Expired(time.Now()))
	rec.ExpiresAt = time.Now().Add(time.Hour)
	assert.False(t, rec.Expired(time.Now()))
	assert.False(t, (&IdempotencyRecord{}).Expired(time.Now()))

	assert.False(t, (&IdempotencyRecord{Status: KeyStatusPending}).Terminal())
	assert.True(t, (&IdempotencyRecord{Status: KeyStatusFailed}).Terminal())
}

func TestMarkPendingError_IsStorageUnavailable(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.MarkPending(context.Background(), testKey("k"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStorageUnavailable))
}
