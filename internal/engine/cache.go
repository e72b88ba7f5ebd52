package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// Snapshot is an immutable point-in-time copy of the active rule set
// plus an instrument-token index built from that same set. It is
// replaced wholesale on refresh, never mutated in place, so readers
// need no lock beyond loading the current pointer.
//
// The one exception to immutability is Rule.TriggeredToday, which the
// evaluator flips on the snapshot's own copy when a rule fires. Only
// the single tick goroutine writes it, and a refresh replaces the
// whole snapshot, so no synchronization is needed.
type Snapshot struct {
	Rules      []*models.Rule
	ByToken    map[string][]*models.Rule
	Tokens     []string
	Generation uint64
	LoadedAt   time.Time
}

// emptySnapshot is what readers see before the first refresh
var emptySnapshot = &Snapshot{
	ByToken: make(map[string][]*models.Rule),
}

// RuleCache is the periodically refreshed, read-mostly view of active
// rules. Refreshes are single-flight: a refresh requested while one is
// in flight coalesces into a no-op.
type RuleCache struct {
	store      rules.Store
	snapshot   atomic.Pointer[Snapshot]
	refreshMu  sync.Mutex
	generation atomic.Uint64
}

// NewRuleCache creates a RuleCache over the given store
func NewRuleCache(store rules.Store) *RuleCache {
	c := &RuleCache{store: store}
	c.snapshot.Store(emptySnapshot)
	return c
}

// Refresh fetches active, non-kill-switched rules from the store and
// atomically replaces the visible snapshot. A failure leaves the
// previous snapshot in place; retry happens on the next scheduled
// interval, never in a tight loop.
func (c *RuleCache) Refresh(ctx context.Context) error {
	if !c.refreshMu.TryLock() {
		logger.Debug("Rule cache refresh already in flight, coalescing")
		return nil
	}
	defer c.refreshMu.Unlock()

	active, err := c.store.ListActive(ctx)
	if err != nil {
		logger.CacheRefreshes.WithLabelValues("error").Inc()
		logger.Warn("Rule cache refresh failed, keeping previous snapshot",
			logger.ErrorField(err),
		)
		return fmt.Errorf("failed to refresh rule cache: %w", err)
	}

	byToken := make(map[string][]*models.Rule, len(active))
	for _, rule := range active {
		byToken[rule.InstrumentToken] = append(byToken[rule.InstrumentToken], rule)
	}

	tokens := make([]string, 0, len(byToken))
	for token := range byToken {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	snap := &Snapshot{
		Rules:      active,
		ByToken:    byToken,
		Tokens:     tokens,
		Generation: c.generation.Add(1),
		LoadedAt:   time.Now(),
	}
	c.snapshot.Store(snap)

	logger.CacheRefreshes.WithLabelValues("ok").Inc()
	logger.CachedRules.Set(float64(len(active)))
	logger.Info("Loaded active rules",
		logger.Int("rules", len(active)),
		logger.Int("instruments", len(tokens)),
		logger.Int64("generation", int64(snap.Generation)),
	)
	return nil
}

// Current returns the latest snapshot without blocking on an in-flight
// refresh
func (c *RuleCache) Current() *Snapshot {
	return c.snapshot.Load()
}

// RulesFor returns the rules referencing the given instrument token in
// the current snapshot; empty when none match
func (c *RuleCache) RulesFor(token string) []*models.Rule {
	return c.snapshot.Load().ByToken[token]
}

// Tokens returns the instrument tokens of the current snapshot
func (c *RuleCache) Tokens() []string {
	return c.snapshot.Load().Tokens
}
