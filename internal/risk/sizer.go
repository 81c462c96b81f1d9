// Package risk sizes approved signals and vetoes trades that would breach
// account-level exposure limits.
package risk

import (
	"fmt"
	"math"

	"github.com/sbenson/condorbot/internal/models"
)

// SizerConfig bounds position sizing.
type SizerConfig struct {
	RiskPerTradePct float64 // fraction of capital risked per trade
	MaxContracts    int     // hard cap on contracts per position
}

// Sizer converts a risk budget into a contract count.
type Sizer struct {
	cfg SizerConfig
}

// NewSizer creates a position sizer.
func NewSizer(cfg SizerConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// RiskPerTradePct returns the configured per-trade risk fraction.
func (s *Sizer) RiskPerTradePct() float64 { return s.cfg.RiskPerTradePct }

// MaxContracts returns the configured per-position contract cap.
func (s *Sizer) MaxContracts() int { return s.cfg.MaxContracts }

// Size returns floor(capital * riskPct / maxLossPerContract), clamped to
// [1, MaxContracts]. A non-positive max loss means the quote implies credit
// at or above the spread width, which is never tradable.
func (s *Sizer) Size(capital, maxLossPerContract float64) (int, error) {
	if maxLossPerContract <= 0 {
		return 0, fmt.Errorf("%w: max loss per contract %.2f (credit >= width)",
			models.ErrSizingFailure, maxLossPerContract)
	}
	if capital <= 0 {
		return 0, fmt.Errorf("%w: non-positive capital %.2f", models.ErrSizingFailure, capital)
	}

	budget := capital * s.cfg.RiskPerTradePct
	contracts := int(math.Floor(budget / maxLossPerContract))
	if contracts < 1 {
		contracts = 1
	}
	if s.cfg.MaxContracts > 0 && contracts > s.cfg.MaxContracts {
		contracts = s.cfg.MaxContracts
	}
	return contracts, nil
}
