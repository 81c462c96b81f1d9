package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/models"
	"github.com/sbenson/condorbot/internal/util"
)

// maxEstimateFraction caps a synthetic per-side credit at 35% of spread width.
const maxEstimateFraction = 0.35

// EstimatorConfig tunes the synthetic credit fallback used when no quote
// source is reachable.
type EstimatorConfig struct {
	BasePremiumFrac float64 // base credit as a fraction of spread width
	VolNormalizer   float64 // volatility level treated as 1.0x premium
}

// Pricer computes the net credit for a condor's four legs. Live bid/ask
// quotes are preferred; mids are a fallback; the estimator is a last resort
// that must be flagged as such.
type Pricer struct {
	broker broker.Broker
	est    EstimatorConfig
	logger zerolog.Logger
}

// NewPricer creates a credit pricer.
func NewPricer(b broker.Broker, est EstimatorConfig, logger zerolog.Logger) *Pricer {
	return &Pricer{broker: b, est: est, logger: logger}
}

// Price fills in PutCredit, CallCredit, TotalCredit, and CreditSource on the
// signal. A reachable chain with non-positive credits fails the signal; only
// an unreachable chain (or missing legs) falls through to the estimator.
func (p *Pricer) Price(ctx context.Context, sig *models.TradeSignal, snap *models.MarketSnapshot) error {
	chain, err := p.broker.GetOptionChain(ctx, sig.Symbol, sig.Expiration)
	if err != nil {
		p.logger.Warn().Err(err).Str("symbol", sig.Symbol).Msg("option chain unavailable, estimating credit")
		return p.estimate(sig, snap)
	}

	shortPut := broker.GetOptionByStrike(chain, sig.ShortPut, broker.OptionTypePut)
	longPut := broker.GetOptionByStrike(chain, sig.LongPut, broker.OptionTypePut)
	shortCall := broker.GetOptionByStrike(chain, sig.ShortCall, broker.OptionTypeCall)
	longCall := broker.GetOptionByStrike(chain, sig.LongCall, broker.OptionTypeCall)
	if shortPut == nil || longPut == nil || shortCall == nil || longCall == nil {
		p.logger.Warn().
			Float64("short_put", sig.ShortPut).Float64("short_call", sig.ShortCall).
			Msg("chain missing condor legs, estimating credit")
		return p.estimate(sig, snap)
	}

	putCredit := shortPut.Bid - longPut.Ask
	callCredit := shortCall.Bid - longCall.Ask
	source := models.CreditSourceQuotes

	if putCredit <= 0 || callCredit <= 0 {
		putCredit = shortPut.Mid() - longPut.Mid()
		callCredit = shortCall.Mid() - longCall.Mid()
		source = models.CreditSourceMid
	}
	if putCredit <= 0 || callCredit <= 0 {
		return fmt.Errorf("%w: non-positive credit (put %.2f, call %.2f) from live quotes",
			models.ErrInvalidSignal, putCredit, callCredit)
	}

	sig.PutCredit = putCredit
	sig.CallCredit = callCredit
	sig.TotalCredit = putCredit + callCredit
	sig.CreditSource = source
	return nil
}

// estimate synthesizes a credit from spread width, volatility, and strike
// distance. Each side is clamped to [0, width * 0.35] and the result is
// flagged ESTIMATED so downstream consumers treat it as lower confidence.
func (p *Pricer) estimate(sig *models.TradeSignal, snap *models.MarketSnapshot) error {
	width := sig.Width()
	if width <= 0 {
		return fmt.Errorf("%w: non-positive spread width", models.ErrInvalidSignal)
	}

	volScale := 1.0
	if p.est.VolNormalizer > 0 && snap.VIX > 0 {
		volScale = snap.VIX / p.est.VolNormalizer
	}

	putCredit := p.estimateSide(width, volScale, sig.Spot-sig.ShortPut, sig.ExpectedMove)
	callCredit := p.estimateSide(width, volScale, sig.ShortCall-sig.Spot, sig.ExpectedMove)
	if putCredit <= 0 || callCredit <= 0 {
		return fmt.Errorf("%w: estimator produced non-positive credit (put %.2f, call %.2f)",
			models.ErrInvalidSignal, putCredit, callCredit)
	}

	sig.PutCredit = putCredit
	sig.CallCredit = callCredit
	sig.TotalCredit = putCredit + callCredit
	sig.CreditSource = models.CreditSourceEstimated
	return nil
}

// estimateSide prices one side. Credit shrinks as the short strike moves
// further out relative to the expected move.
func (p *Pricer) estimateSide(width, volScale, distance, expectedMove float64) float64 {
	if distance <= 0 {
		distance = expectedMove
	}
	distScale := 1.0
	if expectedMove > 0 {
		distScale = math.Min(1.0, expectedMove/distance)
	}
	credit := width * p.est.BasePremiumFrac * volScale * distScale
	return util.Clamp(credit, 0, width*maxEstimateFraction)
}
