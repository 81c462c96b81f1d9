// Package mock provides in-memory broker and data-source implementations for
// tests and paper-mode dry runs.
package mock

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sbenson/condorbot/internal/broker"
)

// Broker is an in-memory implementation of broker.Broker. Behavior is
// configurable per call site; all fields are safe for concurrent use.
type Broker struct {
	mu sync.Mutex

	Balance float64
	Quotes  map[string]broker.Quote // keyed by symbol
	Chain   []broker.OptionQuote

	// Per-call error overrides. Nil means succeed.
	QuoteErr   error
	ChainErr   error
	PlaceErr   error
	CloseErr   error
	StatusErr  error
	BalanceErr error

	// PlaceStatus is the status reported for newly placed orders.
	// Defaults to "filled" when empty.
	PlaceStatus string

	nextOrderID int
	orders      map[string]*broker.OrderResult
	placed      []broker.CondorOrder
}

// Compile-time interface check.
var _ broker.Broker = (*Broker)(nil)

// NewBroker returns a mock with a funded account and no market data.
func NewBroker() *Broker {
	return &Broker{
		Balance: 100_000,
		Quotes:  make(map[string]broker.Quote),
		orders:  make(map[string]*broker.OrderResult),
	}
}

// SetQuote installs a quote for a symbol.
func (m *Broker) SetQuote(symbol string, last float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Quotes[symbol] = broker.Quote{Symbol: symbol, Last: last, Bid: last - 0.02, Ask: last + 0.02}
}

// PlacedOrders returns a copy of every condor order submitted so far.
func (m *Broker) PlacedOrders() []broker.CondorOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]broker.CondorOrder, len(m.placed))
	copy(out, m.placed)
	return out
}

func (m *Broker) GetAccountBalance(_ context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BalanceErr != nil {
		return 0, m.BalanceErr
	}
	return m.Balance, nil
}

func (m *Broker) GetQuote(_ context.Context, symbol string) (*broker.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuoteErr != nil {
		return nil, m.QuoteErr
	}
	q, ok := m.Quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote configured for %s", symbol)
	}
	return &q, nil
}

func (m *Broker) GetOptionChain(_ context.Context, _ string, _ time.Time) ([]broker.OptionQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChainErr != nil {
		return nil, m.ChainErr
	}
	out := make([]broker.OptionQuote, len(m.Chain))
	copy(out, m.Chain)
	return out, nil
}

func (m *Broker) PlaceIronCondor(_ context.Context, order broker.CondorOrder) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return nil, m.PlaceErr
	}
	return m.recordOrder(order, order.LimitPrice), nil
}

func (m *Broker) CloseIronCondor(_ context.Context, order broker.CondorOrder) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CloseErr != nil {
		return nil, m.CloseErr
	}
	return m.recordOrder(order, order.LimitPrice), nil
}

// recordOrder must be called with the mutex held.
func (m *Broker) recordOrder(order broker.CondorOrder, fill float64) *broker.OrderResult {
	m.nextOrderID++
	status := m.PlaceStatus
	if status == "" {
		status = "filled"
	}
	res := &broker.OrderResult{
		ID:           fmt.Sprintf("mock-%d", m.nextOrderID),
		Status:       status,
		AvgFillPrice: fill,
		Tag:          order.Tag,
	}
	m.orders[res.ID] = res
	m.placed = append(m.placed, order)
	return res
}

func (m *Broker) GetOrderStatus(_ context.Context, orderID string) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StatusErr != nil {
		return nil, m.StatusErr
	}
	res, ok := m.orders[orderID]
	if !ok {
		return nil, broker.ErrOrderNotFound
	}
	cp := *res
	return &cp, nil
}

func (m *Broker) FindOrderByTag(_ context.Context, tag string) (*broker.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, res := range m.orders {
		if res.Tag == tag {
			cp := *res
			return &cp, nil
		}
	}
	return nil, broker.ErrOrderNotFound
}

// BuildChain populates the mock chain with puts and calls around spot, priced
// with a crude distance-decay premium. Useful for pricer tests that need
// plausible bid/ask levels at every strike.
func (m *Broker) BuildChain(symbol string, spot float64, expiration time.Time, increment float64, span int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Chain = m.Chain[:0]
	center := math.Round(spot/increment) * increment
	for i := -span; i <= span; i++ {
		strike := center + float64(i)*increment
		if strike <= 0 {
			continue
		}
		premium := math.Max(0.10, 4.0*math.Exp(-math.Abs(strike-spot)*0.15))
		for _, ot := range []broker.OptionType{broker.OptionTypePut, broker.OptionTypeCall} {
			m.Chain = append(m.Chain, broker.OptionQuote{
				Symbol:     broker.OCCSymbol(symbol, expiration, ot, strike),
				OptionType: ot,
				Strike:     strike,
				Bid:        premium - 0.05,
				Ask:        premium + 0.05,
			})
		}
	}
}

// WallSource is a fixed-level GEX wall source.
type WallSource struct {
	CallWall float64
	PutWall  float64
	Err      error
}

func (w *WallSource) GetWalls(_ context.Context, _ string) (float64, float64, error) {
	if w.Err != nil {
		return 0, 0, w.Err
	}
	return w.CallWall, w.PutWall, nil
}
