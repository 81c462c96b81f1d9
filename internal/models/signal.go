package models

import (
	"fmt"
	"time"
)

// SignalSource identifies which layer of the fallback chain produced the strikes.
type SignalSource string

const (
	// SourceML indicates strikes suggested by the ML model
	SourceML SignalSource = "ML"
	// SourceAdvisor indicates strikes suggested by an external advisor service
	SourceAdvisor SignalSource = "ADVISOR"
	// SourceGEXWalls indicates strikes taken from dealer gamma-exposure walls
	SourceGEXWalls SignalSource = "GEX_WALLS"
	// SourceStdDev indicates strikes placed at the standard-deviation fallback
	SourceStdDev SignalSource = "STD_DEV"
)

// CreditSource identifies how the net credit figure was obtained.
type CreditSource string

const (
	// CreditSourceQuotes means the credit came from live bid/ask quotes
	CreditSourceQuotes CreditSource = "QUOTES"
	// CreditSourceMid means the credit came from mid-price fallback
	CreditSourceMid CreditSource = "MID"
	// CreditSourceEstimated means the credit is a synthetic estimate, lower confidence
	CreditSourceEstimated CreditSource = "ESTIMATED"
)

// MarketSnapshot is an immutable read of market conditions, produced fresh each
// cycle. VIX is the annualized volatility proxy in percentage points
// (e.g. 18.5). CallWall/PutWall are optional GEX levels; zero means absent.
type MarketSnapshot struct {
	Symbol    string
	Spot      float64
	VIX       float64
	CallWall  float64
	PutWall   float64
	Timestamp time.Time
}

// HasWalls reports whether both GEX wall levels are present.
func (m *MarketSnapshot) HasWalls() bool {
	return m.CallWall > 0 && m.PutWall > 0
}

// TradeSignal is one cycle's candidate iron condor. It is derived once,
// consumed immediately by the sizer/executor, and never persisted; only the
// resulting Position is.
type TradeSignal struct {
	Symbol         string
	ShortPut       float64
	LongPut        float64
	ShortCall      float64
	LongCall       float64
	Expiration     time.Time
	PutCredit      float64
	CallCredit     float64
	TotalCredit    float64
	CreditSource   CreditSource
	WinProbability float64
	Source         SignalSource
	Spot           float64
	ExpectedMove   float64
	Valid          bool
}

// Width returns the spread width per side. Both sides use the same configured
// width, so the put side is authoritative.
func (s *TradeSignal) Width() float64 {
	return s.ShortPut - s.LongPut
}

// CheckDistance verifies the minimum 1-SD distance invariant: the short put
// must sit at or below spot - expected move and the short call at or above
// spot + expected move, regardless of which source proposed the strikes.
func (s *TradeSignal) CheckDistance() error {
	minPutShort := s.Spot - s.ExpectedMove
	minCallShort := s.Spot + s.ExpectedMove
	if s.ShortPut > minPutShort {
		return fmt.Errorf("short put %.2f inside 1-SD floor %.2f (spot %.2f, move %.2f)",
			s.ShortPut, minPutShort, s.Spot, s.ExpectedMove)
	}
	if s.ShortCall < minCallShort {
		return fmt.Errorf("short call %.2f inside 1-SD ceiling %.2f (spot %.2f, move %.2f)",
			s.ShortCall, minCallShort, s.Spot, s.ExpectedMove)
	}
	return nil
}

// StrikeSuggestion is what an advisor/ML source proposes for the short strikes.
type StrikeSuggestion struct {
	PutStrike      float64
	CallStrike     float64
	WinProbability float64
	Confidence     float64
	SourceName     string
}
