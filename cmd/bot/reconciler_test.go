package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/executor"
	"github.com/sbenson/condorbot/internal/idempotency"
	"github.com/sbenson/condorbot/internal/mock"
	"github.com/sbenson/condorbot/internal/storage"
)

type reconcilerFixture struct {
	rec    *Reconciler
	broker *mock.Broker
	store  *storage.GormStore
	idem   *idempotency.Manager
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	logger := zerolog.Nop()
	store, err := storage.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	brk := mock.NewBroker()
	idem := idempotency.NewManager(store, idempotency.NewMemoryCache(), time.Hour, logger)
	return &reconcilerFixture{
		rec:    newReconciler(brk, store, idem, logger),
		broker: brk,
		store:  store,
		idem:   idem,
	}
}

// stalePendingKey inserts a pending record old enough for the reconciler to
// act on.
func (f *reconcilerFixture) stalePendingKey(t *testing.T, key string) {
	t.Helper()
	won, err := f.store.MarkPending(context.Background(), &storage.IdempotencyRecord{
		Key:         key,
		Bot:         "spy-condor",
		RequestHash: "hash-" + key,
		Status:      storage.KeyStatusPending,
		CreatedAt:   time.Now().UTC().Add(-10 * time.Minute),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
	})
	require.NoError(t, err)
	require.True(t, won)
}

func (f *reconcilerFixture) keyStatus(t *testing.T, key string) string {
	t.Helper()
	rec, err := f.store.CheckKey(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec.Status
}

func mockCondorOrder(tag string) broker.CondorOrder {
	return broker.CondorOrder{
		Symbol:     "SPY",
		ShortPut:   574,
		LongPut:    572,
		ShortCall:  586,
		LongCall:   588,
		Expiration: time.Now().UTC().AddDate(0, 0, 1),
		Quantity:   1,
		LimitPrice: 0.60,
		Tag:        tag,
	}
}

func TestReconciler_NoOrderReleasesKey(t *testing.T) {
	f := newReconcilerFixture(t)
	f.stalePendingKey(t, "key-lost")

	f.rec.Run(context.Background())

	assert.Equal(t, storage.KeyStatusFailed, f.keyStatus(t, "key-lost"))
}

func TestReconciler_FreshKeyLeftAlone(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	won, err := f.idem.MarkPending(ctx, "key-fresh", "spy-condor", "hash-fresh")
	require.NoError(t, err)
	require.True(t, won)

	f.rec.Run(ctx)

	// Still within the grace window: the submission may be in flight.
	assert.Equal(t, storage.KeyStatusPending, f.keyStatus(t, "key-fresh"))
}

func TestReconciler_FilledOrderWithPositionCompletes(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.stalePendingKey(t, "key-filled")

	// Simulate a crash between SavePosition and MarkCompleted: the broker has
	// the filled order and the position row exists.
	order := mockCondorOrder("key-filled")
	res, err := f.broker.PlaceIronCondor(ctx, order)
	require.NoError(t, err)

	pos := condorPosition("spy-condor", 572, 574, 586, 588, 0.60, time.Now().UTC().AddDate(0, 0, 1))
	pos.IdempotencyKey = "key-filled"
	pos.EntryOrderID = res.ID
	require.NoError(t, f.store.SavePosition(ctx, pos))

	f.rec.Run(ctx)

	rec, err := f.store.CheckKey(ctx, "key-filled")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, storage.KeyStatusCompleted, rec.Status)

	var result executor.Result
	require.NoError(t, json.Unmarshal([]byte(rec.Result), &result))
	assert.Equal(t, res.ID, result.OrderID)
	assert.Equal(t, pos.ID, result.PositionID)
}

func TestReconciler_RejectedOrderReleasesKey(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.stalePendingKey(t, "key-rejected")

	f.broker.PlaceStatus = "rejected"
	_, err := f.broker.PlaceIronCondor(ctx, mockCondorOrder("key-rejected"))
	require.NoError(t, err)

	f.rec.Run(ctx)

	assert.Equal(t, storage.KeyStatusFailed, f.keyStatus(t, "key-rejected"))
}

func TestReconciler_LiveOrderWithoutPositionStaysPending(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.stalePendingKey(t, "key-orphan")

	_, err := f.broker.PlaceIronCondor(ctx, mockCondorOrder("key-orphan"))
	require.NoError(t, err)

	var logBuf bytes.Buffer
	rec := newReconciler(f.broker, f.store, f.idem, zerolog.New(&logBuf))
	rec.Run(ctx)

	// A live order with no position row needs an operator; the key must not
	// be silently failed or completed, and the missing row must surface as a
	// recovery call-out rather than a lookup error.
	assert.Equal(t, storage.KeyStatusPending, f.keyStatus(t, "key-orphan"))
	assert.Contains(t, logBuf.String(), "manual recovery required")
	assert.NotContains(t, logBuf.String(), "position lookup failed")
}

func TestReconciler_RunAfterRestartResolvesEverything(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()
	f.stalePendingKey(t, "key-a")
	f.stalePendingKey(t, "key-b")

	// key-a's order was rejected; key-b never made it out.
	f.broker.PlaceStatus = "rejected"
	_, err := f.broker.PlaceIronCondor(ctx, mockCondorOrder("key-a"))
	require.NoError(t, err)

	f.rec.Run(ctx)

	assert.Equal(t, storage.KeyStatusFailed, f.keyStatus(t, "key-a"))
	assert.Equal(t, storage.KeyStatusFailed, f.keyStatus(t, "key-b"))
	pending, err := f.store.PendingKeys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}
