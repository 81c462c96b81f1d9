// Package executor turns approved signals into broker orders and position
// rows, honoring the idempotency contract: at most one live submission per
// claimed key, and no position row without a broker order id.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/idempotency"
	"github.com/sbenson/condorbot/internal/models"
	"github.com/sbenson/condorbot/internal/retry"
	"github.com/sbenson/condorbot/internal/storage"
)

// Result is the serialized outcome stored against a completed idempotency
// key, letting a retried caller short-circuit to the original submission.
type Result struct {
	OrderID      string  `json:"order_id"`
	PositionID   string  `json:"position_id"`
	AvgFillPrice float64 `json:"avg_fill_price"`
}

// Executor submits entry and exit orders.
type Executor struct {
	broker broker.Broker
	store  storage.Interface
	idem   *idempotency.Manager
	closer *retry.Client
	logger zerolog.Logger
}

// New creates an executor.
func New(b broker.Broker, store storage.Interface, idem *idempotency.Manager, closer *retry.Client, logger zerolog.Logger) *Executor {
	return &Executor{broker: b, store: store, idem: idem, closer: closer, logger: logger}
}

// Open submits one multi-leg entry order for a signal whose idempotency key
// the caller has already claimed via MarkPending. Outcomes:
//   - broker rejection: key marked failed, no position row, ErrBrokerRejected
//   - timeout or ambiguous transport failure: key stays pending for the
//     reconciler, ErrUnknownOutcome
//   - success: position row written, key marked completed
func (e *Executor) Open(ctx context.Context, bot string, sig *models.TradeSignal, contracts int, key string) (*models.Position, error) {
	order := broker.CondorOrder{
		Symbol:     sig.Symbol,
		ShortPut:   sig.ShortPut,
		LongPut:    sig.LongPut,
		ShortCall:  sig.ShortCall,
		LongCall:   sig.LongCall,
		Expiration: sig.Expiration,
		Quantity:   contracts,
		LimitPrice: sig.TotalCredit,
		Tag:        key,
	}

	res, err := e.broker.PlaceIronCondor(ctx, order)
	if err != nil {
		if broker.IsPermanentAPIError(err) {
			e.failKey(ctx, key, err.Error())
			return nil, fmt.Errorf("%w: %v", models.ErrBrokerRejected, err)
		}
		// The order may or may not have reached the broker. The key stays
		// pending; only reconciliation against the order tag may resolve it.
		e.logger.Error().Err(err).Str("key", key).Msg("entry submission outcome unknown")
		return nil, fmt.Errorf("%w: %v", models.ErrUnknownOutcome, err)
	}

	if res.ID == "" || (res.IsTerminal() && !res.IsFilled()) {
		reason := fmt.Sprintf("order not accepted: status=%s id=%q", res.Status, res.ID)
		e.failKey(ctx, key, reason)
		return nil, fmt.Errorf("%w: %s", models.ErrBrokerRejected, reason)
	}

	credit := sig.TotalCredit
	if res.IsFilled() && res.AvgFillPrice > 0 {
		credit = res.AvgFillPrice
	}

	pos := models.NewPosition(uuid.NewString(), bot, sig, contracts)
	pos.IdempotencyKey = key
	pos.EntryOrderID = res.ID
	pos.CreditReceived = credit

	if err := e.store.SavePosition(ctx, pos); err != nil {
		// The order is live at the broker. Leave the key pending so the
		// reconciler rebuilds the position from the order tag.
		return nil, err
	}

	payload, _ := json.Marshal(Result{OrderID: res.ID, PositionID: pos.ID, AvgFillPrice: credit})
	if err := e.idem.MarkCompleted(ctx, key, string(payload)); err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("mark completed failed, reconciler will resolve")
	}

	e.logger.Info().
		Str("bot", bot).
		Str("position_id", pos.ID).
		Str("order_id", res.ID).
		Float64("credit", credit).
		Int("contracts", contracts).
		Msg("position opened")
	return pos, nil
}

// failKey marks the key failed so a future cycle may retry with a fresh key.
func (e *Executor) failKey(ctx context.Context, key, reason string) {
	if err := e.idem.MarkFailed(ctx, key, reason); err != nil && !errors.Is(err, storage.ErrNotFound) {
		e.logger.Error().Err(err).Str("key", key).Msg("failed to release idempotency key")
	}
}

// Close exits an open position at the given max debit and applies the
// terminal transition. The close order is tagged with the position id so an
// ambiguous close failure is reconcilable.
func (e *Executor) Close(ctx context.Context, pos *models.Position, maxDebit float64, state models.PositionState, condition string) error {
	order := broker.CondorOrder{
		Symbol:     pos.Symbol,
		ShortPut:   pos.ShortPut,
		LongPut:    pos.LongPut,
		ShortCall:  pos.ShortCall,
		LongCall:   pos.LongCall,
		Expiration: pos.Expiration,
		Quantity:   pos.Contracts,
		LimitPrice: maxDebit,
		Tag:        "close-" + pos.ID,
	}

	res, err := e.closer.CloseWithRetry(ctx, order)
	if err != nil {
		return fmt.Errorf("close position %s: %w", pos.ID, err)
	}

	debit := maxDebit
	if res.IsFilled() && res.AvgFillPrice > 0 {
		debit = res.AvgFillPrice
	}
	pnl := pos.ClosePnL(debit)

	if err := e.store.ClosePosition(ctx, pos.ID, state, condition, pnl, res.ID); err != nil {
		return err
	}

	e.logger.Info().
		Str("position_id", pos.ID).
		Str("state", string(state)).
		Str("condition", condition).
		Float64("debit", debit).
		Float64("pnl", pnl).
		Msg("position closed")
	return nil
}

// Expire settles a position held through expiration at intrinsic value. No
// broker order is involved; the options settle by exercise or expiry.
func (e *Executor) Expire(ctx context.Context, pos *models.Position, settlementPrice float64) error {
	pnl := pos.SettlementPnL(settlementPrice)
	if err := e.store.ClosePosition(ctx, pos.ID, models.StateExpired, models.ConditionHeldToExpiration, pnl, ""); err != nil {
		return err
	}
	e.logger.Info().
		Str("position_id", pos.ID).
		Float64("settlement", settlementPrice).
		Float64("pnl", pnl).
		Msg("position expired and settled")
	return nil
}
