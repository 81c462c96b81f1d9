// Package market assembles per-cycle snapshots of the data the trading
// pipeline needs: underlying spot, volatility index level, and optional
// gamma-exposure walls.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/broker"
	"github.com/sbenson/condorbot/internal/models"
)

// WallSource supplies gamma-exposure wall levels for a symbol. Implementations
// wrap external GEX data providers; absence of walls is not an error.
type WallSource interface {
	GetWalls(ctx context.Context, symbol string) (callWall, putWall float64, err error)
}

// SnapshotProvider builds MarketSnapshots from a broker and an optional
// wall source.
type SnapshotProvider struct {
	broker broker.Broker
	walls  WallSource
	logger zerolog.Logger
}

// NewSnapshotProvider creates a provider. walls may be nil when no GEX data
// source is configured.
func NewSnapshotProvider(b broker.Broker, walls WallSource, logger zerolog.Logger) *SnapshotProvider {
	return &SnapshotProvider{broker: b, walls: walls, logger: logger}
}

// Snapshot fetches spot and volatility quotes and, when available, GEX walls.
// Spot and volatility are required; a missing or non-positive quote makes the
// whole snapshot unavailable. Wall lookup failures degrade to a snapshot
// without walls.
func (p *SnapshotProvider) Snapshot(ctx context.Context, symbol, volSymbol string) (*models.MarketSnapshot, error) {
	spotQuote, err := p.broker.GetQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: spot quote for %s: %v", models.ErrDataUnavailable, symbol, err)
	}
	if spotQuote.Last <= 0 {
		return nil, fmt.Errorf("%w: non-positive spot %.2f for %s", models.ErrDataUnavailable, spotQuote.Last, symbol)
	}

	volQuote, err := p.broker.GetQuote(ctx, volSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: volatility quote for %s: %v", models.ErrDataUnavailable, volSymbol, err)
	}
	if volQuote.Last <= 0 {
		return nil, fmt.Errorf("%w: non-positive volatility %.2f for %s", models.ErrDataUnavailable, volQuote.Last, volSymbol)
	}

	snap := &models.MarketSnapshot{
		Symbol:    symbol,
		Spot:      spotQuote.Last,
		VIX:       volQuote.Last,
		Timestamp: time.Now().UTC(),
	}

	if p.walls != nil {
		callWall, putWall, werr := p.walls.GetWalls(ctx, symbol)
		if werr != nil {
			p.logger.Warn().Err(werr).Str("symbol", symbol).Msg("GEX wall lookup failed, continuing without walls")
		} else if callWall > 0 && putWall > 0 && putWall < callWall {
			snap.CallWall = callWall
			snap.PutWall = putWall
		}
	}

	return snap, nil
}
