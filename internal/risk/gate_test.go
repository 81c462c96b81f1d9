package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sbenson/condorbot/internal/models"
)

func testGate() *Gate {
	return NewGate(GateConfig{
		MaxPositionPct:   0.20,
		MaxCorrelatedPct: 0.50,
		Correlations: map[string][]string{
			"SPX": {"SPY", "XSP", "ES"},
			"SPY": {"SPX", "XSP", "ES"},
		},
	}, zerolog.Nop())
}

func gateSignal(symbol string) *models.TradeSignal {
	return &models.TradeSignal{
		Symbol:       symbol,
		ShortPut:     582,
		LongPut:      580,
		ShortCall:    588,
		LongCall:     590,
		TotalCredit:  0.60,
		Spot:         585,
		ExpectedMove: 3,
		Valid:        true,
	}
}

// openPosition builds an open condor whose notional risk is exactly
// 100 dollars per contract: (width 2 - credit 1) * 100.
func openPosition(symbol string, contracts int) models.Position {
	return models.Position{
		ID:             symbol + "-pos",
		Bot:            "test-bot",
		Symbol:         symbol,
		Status:         models.StateOpen,
		ShortPut:       582,
		LongPut:        580,
		ShortCall:      588,
		LongCall:       590,
		SpreadWidth:    2,
		CreditReceived: 1.0,
		Contracts:      contracts,
		OpenedAt:       time.Now(),
	}
}

func TestGate_Pass(t *testing.T) {
	d := testGate().Check(gateSignal("SPY"), 1_000, 100_000, nil)
	assert.True(t, d.Pass)
	assert.Empty(t, d.Reason)
}

func TestGate_PositionSizeRejected(t *testing.T) {
	// 25k risk on a 100k account breaches the 20% cap.
	d := testGate().Check(gateSignal("SPY"), 25_000, 100_000, nil)
	assert.False(t, d.Pass)
	assert.Contains(t, d.Reason, "position size")
}

func TestGate_CorrelationRejected(t *testing.T) {
	// 200 + 150 contracts at 100 dollars risk each: 35k of correlated
	// exposure already open.
	open := []models.Position{
		openPosition("SPX", 200),
		openPosition("XSP", 150),
	}

	// 10k proposed + 35k correlated = 45% of a 100k account, under the cap.
	d := testGate().Check(gateSignal("SPY"), 10_000, 100_000, open)
	assert.True(t, d.Pass)

	// 19k proposed + 35k correlated = 54%, over the cap; position-size
	// check alone (19%) would still pass.
	d = testGate().Check(gateSignal("SPY"), 19_000, 100_000, open)
	assert.False(t, d.Pass)
	assert.Contains(t, d.Reason, "correlated exposure")
}

func TestGate_UncorrelatedSymbolsIgnored(t *testing.T) {
	open := []models.Position{
		openPosition("NDX", 400), // 40k risk, not correlated with SPY
	}
	d := testGate().Check(gateSignal("SPY"), 15_000, 100_000, open)
	assert.True(t, d.Pass)
}

func TestGate_ClosedPositionsIgnored(t *testing.T) {
	closed := openPosition("SPX", 400)
	closed.Status = models.StateClosed
	d := testGate().Check(gateSignal("SPY"), 15_000, 100_000, []models.Position{closed})
	assert.True(t, d.Pass)
}

func TestGate_NonPositiveAccountValue(t *testing.T) {
	d := testGate().Check(gateSignal("SPY"), 1_000, 0, nil)
	assert.False(t, d.Pass)
	assert.Contains(t, d.Reason, "account value")
}

func TestGate_ShortCircuitsOnFirstFailure(t *testing.T) {
	// Position-size failure reported even when correlation would also fail.
	open := []models.Position{openPosition("SPX", 600)}
	d := testGate().Check(gateSignal("SPY"), 30_000, 100_000, open)
	assert.False(t, d.Pass)
	assert.Contains(t, d.Reason, "position size")
}
