package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sbenson/condorbot/internal/models"
)

// positionRecord is the relational shape of a models.Position.
type positionRecord struct {
	ID             string `gorm:"primaryKey;size:64"`
	Bot            string `gorm:"size:64;index"`
	Symbol         string `gorm:"size:16;index"`
	IdempotencyKey string `gorm:"size:128;index"`
	EntryOrderID   string `gorm:"size:64"`
	ExitOrderID    string `gorm:"size:64"`
	Status         string `gorm:"size:16;index"`
	ExitReason     string `gorm:"size:64"`
	Source         string `gorm:"size:16"`
	Expiration     time.Time
	OpenedAt       time.Time
	ClosedAt       time.Time
	ShortPut       float64
	LongPut        float64
	ShortCall      float64
	LongCall       float64
	SpreadWidth    float64
	CreditReceived float64
	Contracts      int
	RealizedPnl    float64 `gorm:"column:realized_pnl"`
}

func (positionRecord) TableName() string { return "positions" }

func toRecord(p *models.Position) *positionRecord {
	return &positionRecord{
		ID:             p.ID,
		Bot:            p.Bot,
		Symbol:         p.Symbol,
		IdempotencyKey: p.IdempotencyKey,
		EntryOrderID:   p.EntryOrderID,
		ExitOrderID:    p.ExitOrderID,
		Status:         string(p.Status),
		ExitReason:     p.ExitReason,
		Source:         string(p.Source),
		Expiration:     p.Expiration,
		OpenedAt:       p.OpenedAt,
		ClosedAt:       p.ClosedAt,
		ShortPut:       p.ShortPut,
		LongPut:        p.LongPut,
		ShortCall:      p.ShortCall,
		LongCall:       p.LongCall,
		SpreadWidth:    p.SpreadWidth,
		CreditReceived: p.CreditReceived,
		Contracts:      p.Contracts,
		RealizedPnl:    p.RealizedPnL,
	}
}

func (r *positionRecord) toModel() models.Position {
	return models.Position{
		ID:             r.ID,
		Bot:            r.Bot,
		Symbol:         r.Symbol,
		IdempotencyKey: r.IdempotencyKey,
		EntryOrderID:   r.EntryOrderID,
		ExitOrderID:    r.ExitOrderID,
		Status:         models.PositionState(r.Status),
		ExitReason:     r.ExitReason,
		Source:         models.SignalSource(r.Source),
		Expiration:     r.Expiration,
		OpenedAt:       r.OpenedAt,
		ClosedAt:       r.ClosedAt,
		ShortPut:       r.ShortPut,
		LongPut:        r.LongPut,
		ShortCall:      r.ShortCall,
		LongCall:       r.LongCall,
		SpreadWidth:    r.SpreadWidth,
		CreditReceived: r.CreditReceived,
		Contracts:      r.Contracts,
		RealizedPnL:    r.RealizedPnl,
	}
}

// GormStore implements Interface over sqlite or postgres.
type GormStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Compile-time interface check.
var _ Interface = (*GormStore)(nil)

// Open connects to the store selected by DSN scheme. A DSN starting with
// "postgres://" or "postgresql://" opens Postgres; anything else is treated
// as a sqlite path (":memory:" included). Schema migration runs on open.
func Open(dsn string, logger zerolog.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	isSQLite := false
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
		isSQLite = true
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", models.ErrStorageUnavailable, err)
	}

	if isSQLite {
		// One connection serializes writers and keeps ":memory:" databases
		// from splitting across pool connections.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("%w: sql handle: %v", models.ErrStorageUnavailable, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&positionRecord{}, &IdempotencyRecord{}, &RiskConfig{}); err != nil {
		return nil, fmt.Errorf("%w: migrate schema: %v", models.ErrStorageUnavailable, err)
	}

	return &GormStore{db: db, logger: logger}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SavePosition inserts a new position row.
func (s *GormStore) SavePosition(ctx context.Context, pos *models.Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(toRecord(pos)).Error; err != nil {
		return fmt.Errorf("%w: save position %s: %v", models.ErrStorageUnavailable, pos.ID, err)
	}
	return nil
}

// UpdatePosition overwrites an existing position row.
func (s *GormStore) UpdatePosition(ctx context.Context, pos *models.Position) error {
	res := s.db.WithContext(ctx).Model(&positionRecord{}).Where("id = ?", pos.ID).Updates(toRecord(pos))
	if res.Error != nil {
		return fmt.Errorf("%w: update position %s: %v", models.ErrStorageUnavailable, pos.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPosition fetches one position by id.
func (s *GormStore) GetPosition(ctx context.Context, id string) (*models.Position, error) {
	var rec positionRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get position %s: %v", models.ErrStorageUnavailable, id, err)
	}
	pos := rec.toModel()
	return &pos, nil
}

// FindPositionByKey looks up the position created under an idempotency key.
func (s *GormStore) FindPositionByKey(ctx context.Context, key string) (*models.Position, error) {
	var rec positionRecord
	err := s.db.WithContext(ctx).First(&rec, "idempotency_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find position by key: %v", models.ErrStorageUnavailable, err)
	}
	pos := rec.toModel()
	return &pos, nil
}

// GetOpenPositions returns every open position across all bots.
func (s *GormStore) GetOpenPositions(ctx context.Context) ([]models.Position, error) {
	return s.queryPositions(ctx, s.db.WithContext(ctx).Where("status = ?", string(models.StateOpen)))
}

// GetOpenPositionsByBot returns one bot's open positions.
func (s *GormStore) GetOpenPositionsByBot(ctx context.Context, bot string) ([]models.Position, error) {
	return s.queryPositions(ctx, s.db.WithContext(ctx).
		Where("status = ? AND bot = ?", string(models.StateOpen), bot))
}

func (s *GormStore) queryPositions(_ context.Context, tx *gorm.DB) ([]models.Position, error) {
	var recs []positionRecord
	if err := tx.Order("opened_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: query positions: %v", models.ErrStorageUnavailable, err)
	}
	out := make([]models.Position, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

// ClosePosition applies a terminal transition and records realized P&L. The
// transition is validated against the position state machine before writing.
func (s *GormStore) ClosePosition(ctx context.Context, id string, state models.PositionState, condition string, pnl float64, exitOrderID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec positionRecord
		if err := tx.First(&rec, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: load position %s: %v", models.ErrStorageUnavailable, id, err)
		}

		pos := rec.toModel()
		if err := pos.Transition(state, condition); err != nil {
			return err
		}
		pos.RealizedPnL = pnl
		pos.ExitReason = condition
		if exitOrderID != "" {
			pos.ExitOrderID = exitOrderID
		}

		res := tx.Model(&positionRecord{}).Where("id = ? AND status = ?", id, string(models.StateOpen)).
			Updates(map[string]interface{}{
				"status":        string(pos.Status),
				"exit_reason":   pos.ExitReason,
				"exit_order_id": pos.ExitOrderID,
				"closed_at":     pos.ClosedAt,
				"realized_pnl":  pnl,
			})
		if res.Error != nil {
			return fmt.Errorf("%w: close position %s: %v", models.ErrStorageUnavailable, id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("position %s no longer open", id)
		}
		return nil
	})
}
