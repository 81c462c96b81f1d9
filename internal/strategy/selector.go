package strategy

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/models"
	"github.com/sbenson/condorbot/internal/util"
)

// SelectorConfig holds per-bot strike geometry parameters.
type SelectorConfig struct {
	SDMultiplier    float64 // standard-deviation multiplier for the fallback band
	SpreadWidth     float64 // distance between short and long strike, per side
	StrikeIncrement float64 // listed strike spacing, e.g. 1 or 5
}

// Selector produces four condor strikes from the best available source.
// Sources are tried in priority order (advisor, GEX walls, standard
// deviation) and any source whose short strikes land inside the one
// expected-move band around spot is rejected.
type Selector struct {
	cfg    SelectorConfig
	logger zerolog.Logger
}

// NewSelector creates a strike selector.
func NewSelector(cfg SelectorConfig, logger zerolog.Logger) *Selector {
	return &Selector{cfg: cfg, logger: logger}
}

// Select builds a TradeSignal for the snapshot. suggestion may be nil when no
// advisor is configured or the advisor declined. The returned signal carries
// no credit; the pricer fills that in.
func (s *Selector) Select(snap *models.MarketSnapshot, expectedMove float64, suggestion *models.StrikeSuggestion, expiration time.Time) (*models.TradeSignal, error) {
	if expectedMove <= 0 {
		return nil, fmt.Errorf("%w: non-positive expected move %.4f", models.ErrInvalidSignal, expectedMove)
	}

	minPutShort := snap.Spot - expectedMove
	minCallShort := snap.Spot + expectedMove

	sig := &models.TradeSignal{
		Symbol:       snap.Symbol,
		Expiration:   expiration,
		Spot:         snap.Spot,
		ExpectedMove: expectedMove,
	}

	if suggestion != nil {
		put := util.RoundToIncrement(suggestion.PutStrike, s.cfg.StrikeIncrement)
		call := util.RoundToIncrement(suggestion.CallStrike, s.cfg.StrikeIncrement)
		if put <= minPutShort && call >= minCallShort {
			sig.ShortPut, sig.ShortCall = put, call
			sig.Source = sourceForSuggestion(suggestion)
			sig.WinProbability = suggestion.WinProbability
			return s.finish(sig)
		}
		s.logger.Info().
			Str("source", suggestion.SourceName).
			Float64("put", put).Float64("call", call).
			Float64("min_put", minPutShort).Float64("min_call", minCallShort).
			Msg("advisor strikes inside expected-move band, rejected")
	}

	if snap.HasWalls() {
		put := util.RoundToIncrement(snap.PutWall, s.cfg.StrikeIncrement)
		call := util.RoundToIncrement(snap.CallWall, s.cfg.StrikeIncrement)
		if put <= minPutShort && call >= minCallShort {
			sig.ShortPut, sig.ShortCall = put, call
			sig.Source = models.SourceGEXWalls
			return s.finish(sig)
		}
		s.logger.Info().
			Float64("put_wall", put).Float64("call_wall", call).
			Msg("GEX walls inside expected-move band, rejected")
	}

	band := s.cfg.SDMultiplier * expectedMove
	put := util.RoundToIncrement(snap.Spot-band, s.cfg.StrikeIncrement)
	call := util.RoundToIncrement(snap.Spot+band, s.cfg.StrikeIncrement)
	// Half-away rounding can pull a strike back inside the band when the
	// increment is coarse; step outward one increment to restore the floor.
	for put > minPutShort {
		put -= s.cfg.StrikeIncrement
	}
	for call < minCallShort {
		call += s.cfg.StrikeIncrement
	}
	sig.ShortPut, sig.ShortCall = put, call
	sig.Source = models.SourceStdDev
	return s.finish(sig)
}

// finish sets the long strikes, validates, and marks the signal valid.
func (s *Selector) finish(sig *models.TradeSignal) (*models.TradeSignal, error) {
	sig.LongPut = sig.ShortPut - s.cfg.SpreadWidth
	sig.LongCall = sig.ShortCall + s.cfg.SpreadWidth

	if sig.LongPut <= 0 {
		return nil, fmt.Errorf("%w: long put strike %.2f not positive", models.ErrInvalidSignal, sig.LongPut)
	}
	if err := sig.CheckDistance(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSignal, err)
	}
	sig.Valid = true
	return sig, nil
}

func sourceForSuggestion(sug *models.StrikeSuggestion) models.SignalSource {
	if sug.SourceName == string(models.SourceML) {
		return models.SourceML
	}
	return models.SourceAdvisor
}
