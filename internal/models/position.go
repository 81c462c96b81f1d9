package models

import (
	"fmt"
	"math"
	"time"
)

// SharesPerContract is the contract notional multiplier for equity options.
const SharesPerContract = 100.0

// Position represents a live or settled iron condor. A Position is owned
// exclusively by the bot that opened it; it is created once by the order
// executor and mutated only by lifecycle transitions. Terminal positions are
// append-only history.
type Position struct {
	ID             string        `json:"id"`
	Bot            string        `json:"bot"`
	Symbol         string        `json:"symbol"`
	IdempotencyKey string        `json:"idempotency_key"`
	EntryOrderID   string        `json:"entry_order_id,omitempty"`
	ExitOrderID    string        `json:"exit_order_id,omitempty"`
	Status         PositionState `json:"status"`
	ExitReason     string        `json:"exit_reason,omitempty"`
	Source         SignalSource  `json:"source"`
	Expiration     time.Time     `json:"expiration"`
	OpenedAt       time.Time     `json:"opened_at"`
	ClosedAt       time.Time     `json:"closed_at,omitempty"`
	ShortPut       float64       `json:"short_put"`
	LongPut        float64       `json:"long_put"`
	ShortCall      float64       `json:"short_call"`
	LongCall       float64       `json:"long_call"`
	SpreadWidth    float64       `json:"spread_width"`
	CreditReceived float64       `json:"credit_received"`
	Contracts      int           `json:"contracts"`
	RealizedPnL    float64       `json:"realized_pnl"`
}

// NewPosition creates an open position from an executed signal.
func NewPosition(id, bot string, sig *TradeSignal, contracts int) *Position {
	return &Position{
		ID:             id,
		Bot:            bot,
		Symbol:         sig.Symbol,
		Status:         StateOpen,
		Source:         sig.Source,
		Expiration:     sig.Expiration,
		OpenedAt:       time.Now().UTC(),
		ShortPut:       sig.ShortPut,
		LongPut:        sig.LongPut,
		ShortCall:      sig.ShortCall,
		LongCall:       sig.LongCall,
		SpreadWidth:    sig.Width(),
		CreditReceived: sig.TotalCredit,
		Contracts:      contracts,
	}
}

// MaxLossPerContract returns the defined-risk maximum loss in dollars for one
// contract: (width - credit) * multiplier.
func (p *Position) MaxLossPerContract() float64 {
	return (p.SpreadWidth - p.CreditReceived) * SharesPerContract
}

// MaxProfitPerContract returns the maximum profit in dollars for one contract.
func (p *Position) MaxProfitPerContract() float64 {
	return p.CreditReceived * SharesPerContract
}

// SettlementIntrinsic returns the per-spread intrinsic value owed at
// settlement price settle. Each side pays max(0, short-strike distance ITM),
// capped at the spread width; at most one side can be ITM.
func (p *Position) SettlementIntrinsic(settle float64) float64 {
	putIntrinsic := math.Min(math.Max(0, p.ShortPut-settle), p.SpreadWidth)
	callIntrinsic := math.Min(math.Max(0, settle-p.ShortCall), p.SpreadWidth)
	return putIntrinsic + callIntrinsic
}

// SettlementPnL computes the realized P&L in dollars when the position is held
// to the given settlement price:
// (credit received - settlement intrinsic) * contracts * multiplier.
func (p *Position) SettlementPnL(settle float64) float64 {
	return (p.CreditReceived - p.SettlementIntrinsic(settle)) * float64(p.Contracts) * SharesPerContract
}

// ClosePnL computes the realized P&L when the position is bought back for
// debit per spread.
func (p *Position) ClosePnL(debit float64) float64 {
	return (p.CreditReceived - debit) * float64(p.Contracts) * SharesPerContract
}

// Transition moves the position to a terminal state, recording the reason and
// close timestamp. Transitions are validated against the lifecycle table and
// are strictly one-way.
func (p *Position) Transition(to PositionState, condition string) error {
	if err := ValidateTransition(p.Status, to, condition); err != nil {
		return fmt.Errorf("position %s: %w", p.ID, err)
	}
	p.Status = to
	p.ExitReason = condition
	if to.IsTerminal() && p.ClosedAt.IsZero() {
		p.ClosedAt = time.Now().UTC()
	}
	return nil
}

// Validate enforces the structural invariants of a position row.
func (p *Position) Validate() error {
	if !p.Status.Valid() {
		return fmt.Errorf("position %s: unknown status %q", p.ID, p.Status)
	}
	if p.Contracts <= 0 {
		return fmt.Errorf("position %s: contracts must be > 0 (got %d)", p.ID, p.Contracts)
	}
	if p.CreditReceived <= 0 {
		return fmt.Errorf("position %s: credit must be > 0 (got %.2f)", p.ID, p.CreditReceived)
	}
	if p.SpreadWidth <= 0 {
		return fmt.Errorf("position %s: spread width must be > 0 (got %.2f)", p.ID, p.SpreadWidth)
	}
	if !(p.ShortPut > p.LongPut) || !(p.LongCall > p.ShortCall) || !(p.ShortCall > p.ShortPut) {
		return fmt.Errorf("position %s: strikes out of order (%.2f/%.2f/%.2f/%.2f)",
			p.ID, p.LongPut, p.ShortPut, p.ShortCall, p.LongCall)
	}
	if p.Status.IsTerminal() {
		if p.ClosedAt.IsZero() {
			return fmt.Errorf("position %s: terminal state %s requires ClosedAt", p.ID, p.Status)
		}
		if p.ExitReason == "" {
			return fmt.Errorf("position %s: terminal state %s requires ExitReason", p.ID, p.Status)
		}
	} else if !p.ClosedAt.IsZero() {
		return fmt.Errorf("position %s: open position must not have ClosedAt", p.ID)
	}
	return nil
}

// NotionalRisk returns the total capital at risk in dollars across all
// contracts.
func (p *Position) NotionalRisk() float64 {
	return p.MaxLossPerContract() * float64(p.Contracts)
}
