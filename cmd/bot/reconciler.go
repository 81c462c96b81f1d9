package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/executor"
	"github.com/sbenson/condorbot/internal/idempotency"
	"github.com/sbenson/condorbot/internal/storage"
)

// reconcileGrace is how long a pending key is left alone before the
// reconciler touches it. Keys younger than this usually belong to a
// submission that is still in flight.
const reconcileGrace = 2 * time.Minute

// Reconciler resolves idempotency keys stranded in pending: submissions whose
// outcome was unknown at the time (timeouts, crashes mid-handshake). Every
// entry order is tagged with its key, so the broker's order list is the source
// of truth.
type Reconciler struct {
	broker broker.Broker
	store  storage.Interface
	idem   *idempotency.Manager
	logger zerolog.Logger
}

func newReconciler(b broker.Broker, store storage.Interface, idem *idempotency.Manager, logger zerolog.Logger) *Reconciler {
	return &Reconciler{broker: b, store: store, idem: idem, logger: logger.With().Str("component", "reconciler").Logger()}
}

// Run resolves all stale pending keys across every bot.
func (r *Reconciler) Run(ctx context.Context) {
	pending, err := r.store.PendingKeys(ctx, "")
	if err != nil {
		r.logger.Error().Err(err).Msg("cannot list pending keys")
		return
	}
	if len(pending) == 0 {
		return
	}

	r.logger.Info().Int("pending", len(pending)).Msg("reconciling pending keys")
	for i := range pending {
		rec := &pending[i]
		if time.Since(rec.CreatedAt) < reconcileGrace {
			continue
		}
		r.resolve(ctx, rec)
	}
}

func (r *Reconciler) resolve(ctx context.Context, rec *storage.IdempotencyRecord) {
	log := r.logger.With().Str("key", shortID(rec.Key)).Str("bot", rec.Bot).Logger()

	res, err := r.broker.FindOrderByTag(ctx, rec.Key)
	if errors.Is(err, broker.ErrOrderNotFound) {
		// The submission never reached the broker; the intent is safe to retry
		// under a fresh key.
		if err := r.idem.MarkFailed(ctx, rec.Key, "order never reached broker"); err != nil {
			log.Error().Err(err).Msg("cannot release key")
			return
		}
		log.Info().Msg("no order at broker, key released")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("order lookup failed, will retry")
		return
	}

	if res.IsTerminal() && !res.IsFilled() {
		if err := r.idem.MarkFailed(ctx, rec.Key, "order "+res.Status+" at broker"); err != nil {
			log.Error().Err(err).Msg("cannot release key")
			return
		}
		log.Info().Str("status", res.Status).Msg("order dead at broker, key released")
		return
	}

	// Order is live or filled. If the position row exists the crash happened
	// between SavePosition and MarkCompleted; finishing the handshake is all
	// that's left.
	pos, err := r.store.FindPositionByKey(ctx, rec.Key)
	if errors.Is(err, storage.ErrNotFound) {
		// Live order with no position row: the crash predates SavePosition and
		// the order legs are not recoverable from the order summary. Flag for
		// operator action rather than guessing.
		log.Error().
			Str("order", res.ID).
			Str("status", res.Status).
			Msg("live order has no position row, manual recovery required")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("position lookup failed")
		return
	}

	payload, _ := json.Marshal(executor.Result{
		OrderID:      res.ID,
		PositionID:   pos.ID,
		AvgFillPrice: res.AvgFillPrice,
	})
	if err := r.idem.MarkCompleted(ctx, rec.Key, string(payload)); err != nil {
		log.Error().Err(err).Msg("cannot complete key")
		return
	}
	log.Info().Str("order", res.ID).Str("position", shortID(pos.ID)).Msg("key reconciled to completed")
}
