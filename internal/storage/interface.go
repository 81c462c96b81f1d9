// Package storage persists positions, idempotency keys, and risk
// configuration behind a narrow repository interface.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sbenson/condorbot/internal/models"
)

// Idempotency key lifecycle statuses. A key transitions once from pending to
// a terminal status and may be garbage-collected after expiry.
const (
	KeyStatusPending   = "pending"
	KeyStatusCompleted = "completed"
	KeyStatusFailed    = "failed"
	KeyStatusExpired   = "expired"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// ErrTerminalConflict is returned when a terminal idempotency key would be
// flipped to a different terminal status.
var ErrTerminalConflict = errors.New("storage: terminal status conflict")

// IdempotencyRecord is one durable dedup entry.
type IdempotencyRecord struct {
	Key         string    `gorm:"primaryKey;size:128"`
	Bot         string    `gorm:"size:64;index"`
	RequestHash string    `gorm:"size:128"`
	Status      string    `gorm:"size:16;index"`
	Result      string    // serialized outcome once completed
	Error       string    // failure detail once failed
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
	CompletedAt *time.Time
}

func (IdempotencyRecord) TableName() string { return "idempotency_keys" }

// Expired reports whether the record's TTL has elapsed at the given instant.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Terminal reports whether the record reached a final status.
func (r *IdempotencyRecord) Terminal() bool {
	return r.Status == KeyStatusCompleted || r.Status == KeyStatusFailed
}

// RiskConfig is the persisted account-level risk state, refreshed at the
// start of each trading cycle.
type RiskConfig struct {
	ID              uint `gorm:"primaryKey"`
	Capital         float64
	RiskPerTradePct float64
	MaxContracts    int
	UpdatedAt       time.Time
}

func (RiskConfig) TableName() string { return "risk_config" }

// Interface is the repository surface the rest of the system depends on.
type Interface interface {
	// Position lifecycle
	SavePosition(ctx context.Context, pos *models.Position) error
	UpdatePosition(ctx context.Context, pos *models.Position) error
	GetPosition(ctx context.Context, id string) (*models.Position, error)
	GetOpenPositions(ctx context.Context) ([]models.Position, error)
	GetOpenPositionsByBot(ctx context.Context, bot string) ([]models.Position, error)
	FindPositionByKey(ctx context.Context, key string) (*models.Position, error)
	ClosePosition(ctx context.Context, id string, state models.PositionState, condition string, pnl float64, exitOrderID string) error

	// Idempotency keys
	CheckKey(ctx context.Context, key string) (*IdempotencyRecord, error)
	FindKeyByHash(ctx context.Context, bot, requestHash string) (*IdempotencyRecord, error)
	MarkPending(ctx context.Context, rec *IdempotencyRecord) (bool, error)
	MarkCompleted(ctx context.Context, key, result string) error
	MarkFailed(ctx context.Context, key, errMsg string) error
	PendingKeys(ctx context.Context, bot string) ([]IdempotencyRecord, error)
	DeleteExpiredKeys(ctx context.Context, now time.Time) (int64, error)

	// Risk configuration
	LoadRiskConfig(ctx context.Context) (*RiskConfig, error)
	SaveRiskConfig(ctx context.Context, cfg *RiskConfig) error

	Close() error
}
