package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sbenson/condorbot/internal/models"
)

// CheckKey looks up a key. Returns (nil, nil) when absent; expired records
// are returned as-is, the caller decides whether to treat them as absent.
func (s *GormStore) CheckKey(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: check key: %v", models.ErrStorageUnavailable, err)
	}
	return &rec, nil
}

// FindKeyByHash returns the newest record sharing an intent fingerprint.
// Returns (nil, nil) when no record matches.
func (s *GormStore) FindKeyByHash(ctx context.Context, bot, requestHash string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("bot = ? AND request_hash = ?", bot, requestHash).
		Order("created_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find key by hash: %v", models.ErrStorageUnavailable, err)
	}
	return &rec, nil
}

// MarkPending atomically creates the record only if the key is absent.
// INSERT ... ON CONFLICT DO NOTHING keeps check-then-create a single
// operation, so exactly one of any set of concurrent callers wins.
func (s *GormStore) MarkPending(ctx context.Context, rec *IdempotencyRecord) (bool, error) {
	rec.Status = KeyStatusPending
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, fmt.Errorf("%w: mark pending: %v", models.ErrStorageUnavailable, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkCompleted records a successful outcome. Idempotent for repeated
// completed marks; flipping a failed key is rejected.
func (s *GormStore) MarkCompleted(ctx context.Context, key, result string) error {
	return s.markTerminal(ctx, key, KeyStatusCompleted, map[string]interface{}{
		"status":       KeyStatusCompleted,
		"result":       result,
		"completed_at": time.Now().UTC(),
	})
}

// MarkFailed records a failed outcome, releasing the key for a fresh retry
// under a new key next cycle.
func (s *GormStore) MarkFailed(ctx context.Context, key, errMsg string) error {
	return s.markTerminal(ctx, key, KeyStatusFailed, map[string]interface{}{
		"status":       KeyStatusFailed,
		"error":        errMsg,
		"completed_at": time.Now().UTC(),
	})
}

func (s *GormStore) markTerminal(ctx context.Context, key, target string, updates map[string]interface{}) error {
	// Only pending rows (or re-marks with the same terminal status) match;
	// a conflicting terminal row leaves RowsAffected at zero.
	res := s.db.WithContext(ctx).
		Model(&IdempotencyRecord{}).
		Where("key = ? AND status IN ?", key, []string{KeyStatusPending, target}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("%w: mark %s: %v", models.ErrStorageUnavailable, target, res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.CheckKey(ctx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrNotFound
		}
		return fmt.Errorf("%w: key %s is %s, cannot mark %s", ErrTerminalConflict, key, existing.Status, target)
	}
	return nil
}

// PendingKeys returns a bot's unresolved keys, oldest first. Used by the
// reconciler to resolve unknown-outcome submissions against the broker.
func (s *GormStore) PendingKeys(ctx context.Context, bot string) ([]IdempotencyRecord, error) {
	var recs []IdempotencyRecord
	q := s.db.WithContext(ctx).Where("status = ?", KeyStatusPending)
	if bot != "" {
		q = q.Where("bot = ?", bot)
	}
	if err := q.Order("created_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: pending keys: %v", models.ErrStorageUnavailable, err)
	}
	return recs, nil
}

// DeleteExpiredKeys purges records past their TTL. Runs on a schedule, never
// inline with submission.
func (s *GormStore) DeleteExpiredKeys(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&IdempotencyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: delete expired keys: %v", models.ErrStorageUnavailable, res.Error)
	}
	return res.RowsAffected, nil
}

// LoadRiskConfig returns the persisted risk row, or ErrNotFound before first
// save.
func (s *GormStore) LoadRiskConfig(ctx context.Context) (*RiskConfig, error) {
	var cfg RiskConfig
	err := s.db.WithContext(ctx).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load risk config: %v", models.ErrStorageUnavailable, err)
	}
	return &cfg, nil
}

// SaveRiskConfig upserts the singleton risk row.
func (s *GormStore) SaveRiskConfig(ctx context.Context, cfg *RiskConfig) error {
	cfg.ID = 1
	cfg.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(cfg).Error
	if err != nil {
		return fmt.Errorf("%w: save risk config: %v", models.ErrStorageUnavailable, err)
	}
	return nil
}
