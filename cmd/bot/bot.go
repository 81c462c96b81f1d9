package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/config"
	"github.com/sbenson/condorbot/internal/executor"
	"github.com/sbenson/condorbot/internal/idempotency"
	"github.com/sbenson/condorbot/internal/market"
	"github.com/sbenson/condorbot/internal/models"
	"github.com/sbenson/condorbot/internal/risk"
	"github.com/sbenson/condorbot/internal/storage"
	"github.com/sbenson/condorbot/internal/strategy"
	"github.com/sbenson/condorbot/internal/util"
)

const (
	// cycleTimeout bounds one full entry/exit cycle.
	cycleTimeout = 2 * time.Minute
	// exitTick is the price increment exit limit debits are rounded to.
	exitTick = 0.01
)

// Bot runs one symbol's condor strategy: exit management for open positions
// followed by at most one entry attempt per cycle.
type Bot struct {
	cfg      config.BotConfig
	provider *market.SnapshotProvider
	advisor  strategy.Advisor
	selector *strategy.Selector
	pricer   *strategy.Pricer
	sizer    *risk.Sizer
	gate     *risk.Gate
	idem     *idempotency.Manager
	exec     *executor.Executor
	broker   broker.Broker
	store    storage.Interface
	logger   zerolog.Logger

	// mu prevents overlapping cycles for the same bot when a cron tick fires
	// while the previous run is still in flight.
	mu sync.Mutex
}

func newBot(
	cfg config.BotConfig,
	global *config.Config,
	b broker.Broker,
	store storage.Interface,
	idem *idempotency.Manager,
	exec *executor.Executor,
	sizer *risk.Sizer,
	gate *risk.Gate,
	logger zerolog.Logger,
) *Bot {
	log := logger.With().Str("bot", cfg.Name).Str("symbol", cfg.Symbol).Logger()

	var walls market.WallSource
	if cfg.GEXEnabled {
		walls = market.NewHTTPWallSource(cfg.GEXURL)
	}

	var adv strategy.Advisor = strategy.NoopAdvisor{}
	if cfg.AdvisorURL != "" {
		adv = strategy.NewHTTPAdvisor(cfg.AdvisorURL)
	}

	return &Bot{
		cfg:      cfg,
		provider: market.NewSnapshotProvider(b, walls, log),
		advisor:  adv,
		selector: strategy.NewSelector(strategy.SelectorConfig{
			SDMultiplier:    cfg.SDMultiplier,
			SpreadWidth:     cfg.SpreadWidth,
			StrikeIncrement: cfg.StrikeIncrement,
		}, log),
		pricer: strategy.NewPricer(b, strategy.EstimatorConfig{
			BasePremiumFrac: global.Estimator.BasePremiumFrac,
			VolNormalizer:   global.Estimator.VolNormalizer,
		}, log),
		sizer:  sizer,
		gate:   gate,
		idem:   idem,
		exec:   exec,
		broker: b,
		store:  store,
		logger: log,
	}
}

// RunCycle executes one scheduled trading cycle. Exits are always managed
// first so a stop or expiration is never delayed by entry work.
func (b *Bot) RunCycle(ctx context.Context) {
	if !b.mu.TryLock() {
		b.logger.Warn().Msg("previous cycle still running, skipping tick")
		return
	}
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	b.logger.Info().Msg("cycle start")
	b.manageExits(ctx)

	if err := b.tryEntry(ctx); err != nil {
		b.logEntryAbort(err)
	}
}

// tryEntry runs the signal-to-execution pipeline for one entry attempt.
func (b *Bot) tryEntry(ctx context.Context) error {
	open, err := b.store.GetOpenPositionsByBot(ctx, b.cfg.Name)
	if err != nil {
		return fmt.Errorf("listing open positions: %w", err)
	}
	if len(open) > 0 {
		b.logger.Debug().Int("open", len(open)).Msg("position already open, skipping entry")
		return nil
	}

	snap, err := b.provider.Snapshot(ctx, b.cfg.Symbol, b.cfg.VolSymbol)
	if err != nil {
		return err
	}

	em := strategy.ExpectedMove(snap.Spot, snap.VIX, float64(b.cfg.TradingDays))
	b.logger.Info().
		Float64("spot", snap.Spot).
		Float64("vix", snap.VIX).
		Float64("expected_move", em).
		Msg("market snapshot")

	suggestion, err := b.advisor.Suggest(ctx, snap, em)
	if err != nil {
		// The advisor is an enhancement, never a dependency.
		b.logger.Warn().Err(err).Msg("advisor unavailable, falling back")
		suggestion = nil
	}

	sig, err := b.selector.Select(snap, em, suggestion, b.expiration())
	if err != nil {
		return err
	}

	if err := b.pricer.Price(ctx, sig, snap); err != nil {
		return err
	}
	if sig.TotalCredit < b.cfg.MinCredit {
		b.logger.Info().
			Float64("credit", sig.TotalCredit).
			Float64("min_credit", b.cfg.MinCredit).
			Str("credit_source", string(sig.CreditSource)).
			Msg("credit below floor, no trade")
		return nil
	}

	balance, err := b.broker.GetAccountBalance(ctx)
	if err != nil {
		return fmt.Errorf("%w: account balance: %v", models.ErrDataUnavailable, err)
	}
	if err := b.store.SaveRiskConfig(ctx, &storage.RiskConfig{
		Capital:         balance,
		RiskPerTradePct: b.sizer.RiskPerTradePct(),
		MaxContracts:    b.sizer.MaxContracts(),
	}); err != nil {
		b.logger.Warn().Err(err).Msg("risk config snapshot not persisted")
	}

	maxLoss := (sig.Width() - sig.TotalCredit) * models.SharesPerContract
	contracts, err := b.sizer.Size(balance, maxLoss)
	if err != nil {
		return err
	}

	allOpen, err := b.store.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("listing portfolio positions: %w", err)
	}
	proposedRisk := maxLoss * float64(contracts)
	if decision := b.gate.Check(sig, proposedRisk, balance, allOpen); !decision.Pass {
		return fmt.Errorf("%w: %s", models.ErrRiskGateRejected, decision.Reason)
	}

	return b.submit(ctx, sig, contracts)
}

// submit runs the dedup handshake and hands the signal to the executor.
// Storage failures abort the attempt outright: trading without the dedup
// record is how double fills happen.
func (b *Bot) submit(ctx context.Context, sig *models.TradeSignal, contracts int) error {
	now := time.Now().UTC()
	fingerprint := idempotency.Fingerprint(b.cfg.Name, now, sig)

	prior, err := b.idem.CheckIntent(ctx, b.cfg.Name, fingerprint)
	if err != nil {
		return fmt.Errorf("intent check: %w", err)
	}
	if prior != nil {
		if prior.Status == storage.KeyStatusCompleted {
			b.logger.Info().
				Str("key", shortID(prior.Key)).
				Str("result", prior.Result).
				Msg("identical trade already executed today, skipping")
			return nil
		}
		return fmt.Errorf("%w: key %s still %s", models.ErrDuplicateSubmission, shortID(prior.Key), prior.Status)
	}

	key := idempotency.GenerateKey(b.cfg.Name, now, sig)
	won, err := b.idem.MarkPending(ctx, key, b.cfg.Name, fingerprint)
	if err != nil {
		return fmt.Errorf("claiming idempotency key: %w", err)
	}
	if !won {
		return fmt.Errorf("%w: lost claim on key %s to a concurrent cycle", models.ErrDuplicateSubmission, shortID(key))
	}

	b.logger.Info().
		Str("key", shortID(key)).
		Str("source", string(sig.Source)).
		Str("credit_source", string(sig.CreditSource)).
		Float64("short_put", sig.ShortPut).
		Float64("short_call", sig.ShortCall).
		Float64("credit", sig.TotalCredit).
		Int("contracts", contracts).
		Msg("submitting iron condor")

	pos, err := b.exec.Open(ctx, b.cfg.Name, sig, contracts, key)
	if err != nil {
		return err
	}
	b.logger.Info().
		Str("position", shortID(pos.ID)).
		Str("order", pos.EntryOrderID).
		Float64("credit", pos.CreditReceived).
		Msg("position opened")
	return nil
}

// manageExits walks this bot's open positions and applies, in priority order:
// expiration settlement, stop loss, profit target.
func (b *Bot) manageExits(ctx context.Context) {
	open, err := b.store.GetOpenPositionsByBot(ctx, b.cfg.Name)
	if err != nil {
		b.logger.Error().Err(err).Msg("cannot list open positions for exit management")
		return
	}

	for i := range open {
		pos := &open[i]
		log := b.logger.With().Str("position", shortID(pos.ID)).Logger()

		if expired(pos, time.Now().UTC()) {
			b.settleExpired(ctx, pos, log)
			continue
		}

		cost, err := b.closeCost(ctx, pos)
		if err != nil {
			log.Warn().Err(err).Msg("no close quote, holding")
			continue
		}

		stopLevel := pos.CreditReceived * b.cfg.StopLossPct
		targetLevel := pos.CreditReceived * (1 - b.cfg.ProfitTarget)
		log.Debug().
			Float64("cost", cost).
			Float64("stop_level", stopLevel).
			Float64("target_level", targetLevel).
			Msg("exit check")

		switch {
		case cost >= stopLevel:
			// Pay up to get out; a stop that doesn't fill is worse than
			// slippage. Round the debit up to a valid tick.
			maxDebit := util.CeilToTick(cost*1.10, exitTick)
			log.Warn().Float64("cost", cost).Float64("max_debit", maxDebit).Msg("stop loss triggered")
			if err := b.exec.Close(ctx, pos, maxDebit, models.StateStopped, models.ConditionStopTriggered); err != nil {
				log.Error().Err(err).Msg("stop loss close failed, will retry next cycle")
			}
		case cost <= targetLevel:
			// Round down so the limit never pays past the target level.
			maxDebit := util.FloorToTick(targetLevel, exitTick)
			log.Info().Float64("cost", cost).Float64("max_debit", maxDebit).Msg("profit target reached")
			if err := b.exec.Close(ctx, pos, maxDebit, models.StateClosed, models.ConditionExitFilled); err != nil {
				log.Error().Err(err).Msg("profit target close failed, will retry next cycle")
			}
		}
	}
}

// settleExpired books the settlement P&L for a position whose expiration has
// passed without an exit fill.
func (b *Bot) settleExpired(ctx context.Context, pos *models.Position, log zerolog.Logger) {
	quote, err := b.broker.GetQuote(ctx, pos.Symbol)
	if err != nil || quote.Last <= 0 {
		log.Error().Err(err).Msg("no settlement quote for expired position")
		return
	}
	if err := b.exec.Expire(ctx, pos, quote.Last); err != nil {
		log.Error().Err(err).Msg("expiration settlement failed")
	}
}

// closeCost returns the current per-spread debit to buy the condor back:
// short ask minus long bid on each side, floored at zero per side.
func (b *Bot) closeCost(ctx context.Context, pos *models.Position) (float64, error) {
	chain, err := b.broker.GetOptionChain(ctx, pos.Symbol, pos.Expiration)
	if err != nil {
		return 0, fmt.Errorf("%w: option chain: %v", models.ErrDataUnavailable, err)
	}

	shortPut := broker.GetOptionByStrike(chain, pos.ShortPut, broker.OptionTypePut)
	longPut := broker.GetOptionByStrike(chain, pos.LongPut, broker.OptionTypePut)
	shortCall := broker.GetOptionByStrike(chain, pos.ShortCall, broker.OptionTypeCall)
	longCall := broker.GetOptionByStrike(chain, pos.LongCall, broker.OptionTypeCall)
	if shortPut == nil || longPut == nil || shortCall == nil || longCall == nil {
		return 0, fmt.Errorf("%w: position strikes missing from chain", models.ErrDataUnavailable)
	}

	putCost := math.Max(0, shortPut.Ask-longPut.Bid)
	callCost := math.Max(0, shortCall.Ask-longCall.Bid)
	return putCost + callCost, nil
}

// expiration returns the target expiration date: TradingDays business days out
// counting today, so TradingDays=1 means same-day expiry.
func (b *Bot) expiration() time.Time {
	day := time.Now().UTC()
	for !isTradingDay(day) {
		day = day.AddDate(0, 0, 1)
	}
	for remaining := b.cfg.TradingDays - 1; remaining > 0; remaining-- {
		day = day.AddDate(0, 0, 1)
		for !isTradingDay(day) {
			day = day.AddDate(0, 0, 1)
		}
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

// logEntryAbort maps pipeline errors onto log levels. Expected no-trade
// conditions are informational; anything ambiguous or structural is an error.
func (b *Bot) logEntryAbort(err error) {
	switch {
	case errors.Is(err, models.ErrDataUnavailable):
		b.logger.Warn().Err(err).Msg("market data unavailable, no trade this cycle")
	case errors.Is(err, models.ErrInvalidSignal):
		b.logger.Info().Err(err).Msg("no valid signal, no trade this cycle")
	case errors.Is(err, models.ErrSizingFailure):
		b.logger.Warn().Err(err).Msg("sizing failed, no trade this cycle")
	case errors.Is(err, models.ErrRiskGateRejected):
		b.logger.Info().Err(err).Msg("risk gate rejected trade")
	case errors.Is(err, models.ErrDuplicateSubmission):
		b.logger.Warn().Err(err).Msg("duplicate intent, backing off without resubmitting")
	case errors.Is(err, models.ErrBrokerRejected):
		b.logger.Error().Err(err).Msg("broker rejected order")
	case errors.Is(err, models.ErrUnknownOutcome):
		b.logger.Error().Err(err).Msg("order outcome unknown, awaiting reconciliation")
	default:
		b.logger.Error().Err(err).Msg("entry cycle failed")
	}
}

// expired reports whether the position's expiration date is strictly in the
// past, by calendar day. Same-day positions settle on the next cycle after
// midnight UTC rather than intraday.
func expired(pos *models.Position, now time.Time) bool {
	exp := pos.Expiration.UTC()
	expDay := time.Date(exp.Year(), exp.Month(), exp.Day(), 0, 0, 0, 0, time.UTC)
	nowDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return nowDay.After(expDay)
}

func isTradingDay(t time.Time) bool {
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday
}
