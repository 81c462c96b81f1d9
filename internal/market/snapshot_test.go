package market

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbenson/condorbot/internal/mock"
	"github.com/sbenson/condorbot/internal/models"
)

func TestSnapshot_SpotAndVol(t *testing.T) {
	b := mock.NewBroker()
	b.SetQuote("SPY", 585.0)
	b.SetQuote("VIX", 14.5)

	p := NewSnapshotProvider(b, nil, zerolog.Nop())
	snap, err := p.Snapshot(context.Background(), "SPY", "VIX")
	require.NoError(t, err)
	assert.Equal(t, "SPY", snap.Symbol)
	assert.Equal(t, 585.0, snap.Spot)
	assert.Equal(t, 14.5, snap.VIX)
	assert.False(t, snap.HasWalls())
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSnapshot_MissingVolIsDataUnavailable(t *testing.T) {
	b := mock.NewBroker()
	b.SetQuote("SPY", 585.0)

	p := NewSnapshotProvider(b, nil, zerolog.Nop())
	_, err := p.Snapshot(context.Background(), "SPY", "VIX")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))
}

func TestSnapshot_NonPositiveSpot(t *testing.T) {
	b := mock.NewBroker()
	b.SetQuote("SPY", 0)
	b.SetQuote("VIX", 14.5)

	p := NewSnapshotProvider(b, nil, zerolog.Nop())
	_, err := p.Snapshot(context.Background(), "SPY", "VIX")
	assert.True(t, errors.Is(err, models.ErrDataUnavailable))
}

func TestSnapshot_WallsAttached(t *testing.T) {
	b := mock.NewBroker()
	b.SetQuote("SPY", 585.0)
	b.SetQuote("VIX", 14.5)
	walls := &mock.WallSource{CallWall: 590, PutWall: 580}

	p := NewSnapshotProvider(b, walls, zerolog.Nop())
	snap, err := p.Snapshot(context.Background(), "SPY", "VIX")
	require.NoError(t, err)
	assert.True(t, snap.HasWalls())
	assert.Equal(t, 590.0, snap.CallWall)
	assert.Equal(t, 580.0, snap.PutWall)
}

func TestSnapshot_WallErrorDegrades(t *testing.T) {
	b := mock.NewBroker()
	b.SetQuote("SPY", 585.0)
	b.SetQuote("VIX", 14.5)
	walls := &mock.WallSource{Err: errors.New("gex provider down")}

	p := NewSnapshotProvider(b, walls, zerolog.Nop())
	snap, err := p.Snapshot(context.Background(), "SPY", "VIX")
	require.NoError(t, err)
	assert.False(t, snap.HasWalls())
}

func TestSnapshot_InvertedWallsIgnored(t *testing.T) {
	b := mock.NewBroker()
	b.SetQuote("SPY", 585.0)
	b.SetQuote("VIX", 14.5)
	walls := &mock.WallSource{CallWall: 580, PutWall: 590}

	p := NewSnapshotProvider(b, walls, zerolog.Nop())
	snap, err := p.Snapshot(context.Background(), "SPY", "VIX")
	require.NoError(t, err)
	assert.False(t, snap.HasWalls())
}
