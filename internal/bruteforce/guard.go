package bruteforce

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	DefaultMaxAttempts = 5
	DefaultBlockTime   = 15 * time.Minute
)

// GuardConfig holds the throttling thresholds.
type GuardConfig struct {
	MaxAttempts int
	BlockTime   time.Duration
}

// Guard decides whether a key may attempt a bind. A Guard without a
// repository is disabled and never blocks.
type Guard struct {
	repo     Repository
	notifier Notifier
	config   GuardConfig
	logger   hclog.Logger
	now      func() time.Time
}

// NewGuard creates a guard. repo may be nil to disable throttling.
func NewGuard(repo Repository, config GuardConfig, notifier Notifier, logger hclog.Logger) *Guard {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BlockTime <= 0 {
		config.BlockTime = DefaultBlockTime
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Guard{
		repo:     repo,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether the guard has a backing repository.
func (g *Guard) Enabled() bool {
	return g != nil && g.repo != nil
}

// IsBlocked reports whether key is currently blocked. An expired block is
// removed and reported as not blocked.
func (g *Guard) IsBlocked(ctx context.Context, key string) (bool, error) {
	if !g.Enabled() {
		return false, nil
	}

	rec, err := g.repo.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read login attempts for %s: %w", key, err)
	}

	now := g.now()
	if rec.Blocked(now) {
		return true, nil
	}
	if rec.Expired(now) {
		g.logger.Debug("block expired", "key", key, "blocked_until", rec.BlockedUntil)
		if err := g.repo.Clear(ctx, key); err != nil {
			return false, fmt.Errorf("clear expired block for %s: %w", key, err)
		}
	}
	return false, nil
}

// RecordFailure counts a failed bind for key and blocks it once the
// configured maximum is reached.
func (g *Guard) RecordFailure(ctx context.Context, key string) error {
	if !g.Enabled() {
		return nil
	}

	now := g.now()
	rec, err := g.repo.RecordFailure(ctx, key, now, g.config.MaxAttempts, g.config.BlockTime)
	if err != nil {
		return fmt.Errorf("record login failure for %s: %w", key, err)
	}

	g.logger.Debug("login failure recorded", "key", key, "attempts", rec.Attempts, "max_attempts", g.config.MaxAttempts)

	if rec.Blocked(now) {
		g.logger.Warn("login blocked", "key", key, "attempts", rec.Attempts, "blocked_until", rec.BlockedUntil)
		if err := g.notifier.NotifyBlocked(ctx, eventFor(rec, now)); err != nil {
			g.logger.Warn("blocked notification failed", "key", key, "error", err)
		}
	}
	return nil
}

// RecordSuccess clears the history of key.
func (g *Guard) RecordSuccess(ctx context.Context, key string) error {
	if !g.Enabled() {
		return nil
	}
	if err := g.repo.Clear(ctx, key); err != nil {
		return fmt.Errorf("clear login attempts for %s: %w", key, err)
	}
	return nil
}

// NotifyBlockedAttempt reports an attempt made against a blocked key.
func (g *Guard) NotifyBlockedAttempt(ctx context.Context, key string) {
	if !g.Enabled() {
		return
	}

	now := g.now()
	rec, err := g.repo.Get(ctx, key)
	if err != nil {
		g.logger.Debug("read blocked record failed", "key", key, "error", err)
	}
	rec.Key = key
	if err := g.notifier.NotifyBlockedAttempt(ctx, eventFor(rec, now)); err != nil {
		g.logger.Warn("blocked attempt notification failed", "key", key, "error", err)
	}
}

func eventFor(rec Record, now time.Time) Event {
	return Event{
		Key:          rec.Key,
		Attempts:     rec.Attempts,
		BlockedUntil: rec.BlockedUntil,
		OccurredAt:   now,
	}
}
