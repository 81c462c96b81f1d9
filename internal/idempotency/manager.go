// Package idempotency guarantees at-most-one successful order submission per
// logical trading intent, surviving process restarts and duplicate triggers.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sbenson/condorbot/internal/models"
	"github.com/sbenson/condorbot/internal/storage"
)

// Manager coordinates key lifecycle across the cache and the durable store.
// The store's atomic insert is the single source of truth; the cache only
// short-circuits reads.
type Manager struct {
	store  storage.Interface
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewManager creates a manager. cache may be nil for store-only operation.
func NewManager(store storage.Interface, cache Cache, ttl time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, cache: cache, ttl: ttl, logger: logger}
}

// Fingerprint hashes the intent-defining fields of a signal: bot, trading
// day, normalized strikes, and expiration. Two submissions of the same
// conceptual intent share a fingerprint.
func Fingerprint(bot string, tradingDay time.Time, sig *models.TradeSignal) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%.2f|%.2f|%.2f|%.2f|%s",
		bot,
		tradingDay.Format("2006-01-02"),
		sig.Symbol,
		sig.ShortPut, sig.LongPut, sig.ShortCall, sig.LongCall,
		sig.Expiration.Format("2006-01-02"),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateKey builds a submission key: the deterministic fingerprint prefix
// plus a random disambiguator. Two keys for the same intent do not collide;
// uniqueness of submission is enforced by MarkPending's atomic insert, not
// by key equality.
func GenerateKey(bot string, tradingDay time.Time, sig *models.TradeSignal) string {
	fp := Fingerprint(bot, tradingDay, sig)
	return fmt.Sprintf("%s-%s", fp[:16], uuid.NewString()[:8])
}

// CheckKey reports whether the key exists and is still live. Cache hits past
// their TTL, and store records past expiry, are both treated as absent.
func (m *Manager) CheckKey(ctx context.Context, key string) (bool, *storage.IdempotencyRecord, error) {
	now := time.Now().UTC()

	if m.cache != nil {
		if rec, ok := m.cache.Get(ctx, key); ok {
			if rec.Expired(now) {
				m.cache.Delete(ctx, key)
			} else {
				return true, rec, nil
			}
		}
	}

	rec, err := m.store.CheckKey(ctx, key)
	if err != nil {
		return false, nil, err
	}
	if rec == nil || rec.Expired(now) {
		return false, nil, nil
	}
	if m.cache != nil {
		m.cache.Set(ctx, key, rec, time.Until(rec.ExpiresAt))
	}
	return true, rec, nil
}

// CheckIntent looks for a live record with the same intent fingerprint,
// regardless of its random key suffix. A pending or completed hit means the
// intent was already submitted this TTL window: the caller must reuse the
// cached result or back off, never submit again. Expired and failed records
// do not block a fresh attempt.
func (m *Manager) CheckIntent(ctx context.Context, bot, fingerprint string) (*storage.IdempotencyRecord, error) {
	rec, err := m.store.FindKeyByHash(ctx, bot, fingerprint)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Expired(time.Now().UTC()) || rec.Status == storage.KeyStatusFailed {
		return nil, nil
	}
	return rec, nil
}

// MarkPending atomically claims the key. Returns false when another caller
// already holds it; the caller must back off, never resubmit.
func (m *Manager) MarkPending(ctx context.Context, key, bot, requestHash string) (bool, error) {
	rec := &storage.IdempotencyRecord{
		Key:         key,
		Bot:         bot,
		RequestHash: requestHash,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(m.ttl),
	}
	won, err := m.store.MarkPending(ctx, rec)
	if err != nil {
		return false, err
	}
	if won && m.cache != nil {
		m.cache.Set(ctx, key, rec, m.ttl)
	}
	return won, nil
}

// MarkCompleted records the successful outcome for the key.
func (m *Manager) MarkCompleted(ctx context.Context, key, result string) error {
	if err := m.store.MarkCompleted(ctx, key, result); err != nil {
		return err
	}
	m.refreshCache(ctx, key)
	return nil
}

// MarkFailed records a failed outcome, releasing the intent for a retry
// under a fresh key next cycle.
func (m *Manager) MarkFailed(ctx context.Context, key, reason string) error {
	if err := m.store.MarkFailed(ctx, key, reason); err != nil {
		return err
	}
	m.refreshCache(ctx, key)
	return nil
}

func (m *Manager) refreshCache(ctx context.Context, key string) {
	if m.cache == nil {
		return
	}
	rec, err := m.store.CheckKey(ctx, key)
	if err != nil || rec == nil {
		m.cache.Delete(ctx, key)
		return
	}
	m.cache.Set(ctx, key, rec, time.Until(rec.ExpiresAt))
}

// GetResult returns the stored outcome only when the key completed, letting
// a retried caller short-circuit to the original result.
func (m *Manager) GetResult(ctx context.Context, key string) (string, bool, error) {
	exists, rec, err := m.CheckKey(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !exists || rec.Status != storage.KeyStatusCompleted {
		return "", false, nil
	}
	return rec.Result, true, nil
}

// CleanupExpired purges records past their TTL. Scheduled out of band, never
// inline with submission.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpiredKeys(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Int64("purged", n).Msg("expired idempotency keys removed")
	}
	return n, nil
}

// TTL exposes the configured key lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }
