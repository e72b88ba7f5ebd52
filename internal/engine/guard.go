package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/storage"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// TriggerGuard is a Redis-backed safety net against double triggers
// across worker restarts: the store's triggered_today update and the
// trigger itself are independent best-effort operations, so a crash
// between them can leave a rule re-armed. The guard records each
// trigger under a per-day key with SETNX; a duplicate within the same
// trading day is refused.
//
// When Redis is unavailable the guard fails open: one extra duplicate
// square-off attempt is tolerable, a missed one is not.
type TriggerGuard struct {
	redis storage.RedisClient
	now   func() time.Time
}

// NewTriggerGuard creates a TriggerGuard
func NewTriggerGuard(redis storage.RedisClient) *TriggerGuard {
	return &TriggerGuard{
		redis: redis,
		now:   time.Now,
	}
}

// FirstTriggerToday records the trigger and reports whether this is
// the rule's first trigger of the current trading day
func (g *TriggerGuard) FirstTriggerToday(ctx context.Context, ruleID string) bool {
	if g == nil || g.redis == nil {
		return true
	}

	now := g.now()
	key := fmt.Sprintf("squareoff:triggered:%s:%s", ruleID, now.Format("2006-01-02"))

	// Expire at end of day; the external daily reset owns re-arming
	endOfDay := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	ttl := endOfDay.Sub(now)
	if ttl <= 0 {
		ttl = time.Minute
	}

	first, err := g.redis.SetNX(ctx, key, now.Unix(), ttl)
	if err != nil {
		logger.Warn("Trigger guard unavailable, failing open",
			logger.ErrorField(err),
			logger.String("rule_id", ruleID),
		)
		return true
	}

	if !first {
		logger.Warn("Trigger guard refused duplicate trigger",
			logger.String("rule_id", ruleID),
		)
	}
	return first
}
