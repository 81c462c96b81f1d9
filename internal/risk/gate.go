package risk

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/models"
)

// GateConfig caps the exposure a single signal may add.
type GateConfig struct {
	MaxPositionPct   float64             // proposed notional risk over account value
	MaxCorrelatedPct float64             // correlated exposure over account value
	Correlations     map[string][]string // symbol -> correlated symbols
}

// Gate vetoes sized signals before execution. Checks run in order and the
// gate short-circuits on the first failure.
type Gate struct {
	cfg    GateConfig
	logger zerolog.Logger
}

// NewGate creates a risk gate.
func NewGate(cfg GateConfig, logger zerolog.Logger) *Gate {
	return &Gate{cfg: cfg, logger: logger}
}

// Decision is the gate's verdict on one proposed trade.
type Decision struct {
	Pass   bool
	Reason string
}

// Check evaluates a sized signal against account value and currently open
// positions. proposedRisk is the position's total max loss in dollars.
func (g *Gate) Check(sig *models.TradeSignal, proposedRisk, accountValue float64, open []models.Position) Decision {
	if accountValue <= 0 {
		return Decision{Reason: "account value unavailable or non-positive"}
	}

	if d := g.checkPositionSize(proposedRisk, accountValue); !d.Pass {
		return d
	}
	if d := g.checkCorrelation(sig.Symbol, proposedRisk, accountValue, open); !d.Pass {
		return d
	}
	return Decision{Pass: true}
}

// checkPositionSize caps a single position's notional risk relative to the
// account.
func (g *Gate) checkPositionSize(proposedRisk, accountValue float64) Decision {
	frac := proposedRisk / accountValue
	if frac > g.cfg.MaxPositionPct {
		g.logger.Warn().
			Float64("proposed_risk", proposedRisk).
			Float64("account_value", accountValue).
			Float64("cap", g.cfg.MaxPositionPct).
			Msg("position size check failed")
		return Decision{Reason: "position size exceeds account cap"}
	}
	return Decision{Pass: true}
}

// checkCorrelation sums notional risk in the signal's symbol and its
// correlated symbols across open positions, including the proposed trade.
func (g *Gate) checkCorrelation(symbol string, proposedRisk, accountValue float64, open []models.Position) Decision {
	correlated := g.correlatedSet(symbol)

	exposure := proposedRisk
	for i := range open {
		if open[i].Status != models.StateOpen {
			continue
		}
		if _, ok := correlated[strings.ToUpper(open[i].Symbol)]; ok {
			exposure += open[i].NotionalRisk()
		}
	}

	frac := exposure / accountValue
	if frac > g.cfg.MaxCorrelatedPct {
		g.logger.Warn().
			Str("symbol", symbol).
			Float64("correlated_exposure", exposure).
			Float64("account_value", accountValue).
			Float64("cap", g.cfg.MaxCorrelatedPct).
			Msg("correlation check failed")
		return Decision{Reason: "correlated exposure exceeds account cap"}
	}
	return Decision{Pass: true}
}

// correlatedSet returns the symbol itself plus everything the static table
// maps it to, uppercased for comparison.
func (g *Gate) correlatedSet(symbol string) map[string]struct{} {
	set := map[string]struct{}{strings.ToUpper(symbol): {}}
	for _, c := range g.cfg.Correlations[strings.ToUpper(symbol)] {
		set[strings.ToUpper(c)] = struct{}{}
	}
	return set
}
