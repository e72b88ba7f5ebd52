package engine

import (
	"context"
	"fmt"

	"github.com/sdcoffey/big"

	"github.com/mohamedkhairy/squareoff-engine/internal/audit"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// SquareOffRunner is the slice of the executor the evaluator drives
type SquareOffRunner interface {
	SquareOffAllOptionPositions(ctx context.Context)
}

// ExecutorFactory builds a runner for one trigger batch. dryRun is the
// batch-wide policy decided by the evaluator.
type ExecutorFactory func(dryRun bool) SquareOffRunner

// Breach kinds, also used as metric labels.
const (
	breachLower = "lower_limit"
	breachUpper = "upper_limit"
)

// Evaluator consumes one tick at a time and fires matching rules at
// most once per trading day. OnTick must be called from a single
// goroutine: evaluation for tick N completes, including marking
// triggered_today, before tick N+1 begins. That ordering is what stops
// a price oscillating across a threshold from double-triggering.
type Evaluator struct {
	cache       *RuleCache
	store       rules.Store
	sink        audit.Sink
	guard       *TriggerGuard
	newExecutor ExecutorFactory
}

// NewEvaluator creates an Evaluator. guard may be nil.
func NewEvaluator(cache *RuleCache, store rules.Store, sink audit.Sink, guard *TriggerGuard, factory ExecutorFactory) *Evaluator {
	return &Evaluator{
		cache:       cache,
		store:       store,
		sink:        sink,
		guard:       guard,
		newExecutor: factory,
	}
}

// OnTick evaluates one price update against the current snapshot
func (e *Evaluator) OnTick(ctx context.Context, tick models.Tick) {
	logger.TicksProcessed.Inc()

	relevant := e.cache.RulesFor(tick.InstrumentToken)
	if len(relevant) == 0 {
		return
	}

	price := big.NewDecimal(tick.LastPrice)
	batch := make([]*models.Rule, 0, len(relevant))

	for _, rule := range relevant {
		// Re-checked here rather than trusting snapshot staleness: an
		// earlier tick in the same refresh window may have fired the
		// rule already.
		if !rule.Armed() {
			continue
		}

		breach := evaluateBreach(rule, price)
		if breach == "" {
			continue
		}

		logger.Warn("Rule triggered",
			logger.String("breach", breach),
			logger.String("rule_id", rule.ID),
			logger.String("symbol", rule.Symbol),
			logger.Float64("price", tick.LastPrice),
		)
		logger.RulesTriggered.WithLabelValues(breach).Inc()

		e.sink.AppendForRule(rule.ID, models.EventTriggerConditionMet,
			fmt.Sprintf("%s price %v triggered rule %s", rule.Symbol, tick.LastPrice, rule.ID),
			map[string]interface{}{
				"rule_id":          rule.ID,
				"instrument_token": tick.InstrumentToken,
				"current_price":    tick.LastPrice,
				"breach":           breach,
			},
		)
		batch = append(batch, rule)
	}

	if len(batch) == 0 {
		return
	}

	// The day-guard drops rules whose trigger was already recorded
	// today (restart window); dropped rules are still disarmed in
	// memory so they stop matching.
	fired := batch[:0]
	for _, rule := range batch {
		if e.guard.FirstTriggerToday(ctx, rule.ID) {
			fired = append(fired, rule)
		} else {
			rule.TriggeredToday = true
		}
	}
	if len(fired) == 0 {
		return
	}

	// One dry-run rule makes the whole batch dry-run: a paired
	// real-money rule never forces execution.
	dryRun := false
	for _, rule := range fired {
		if rule.DryRun {
			dryRun = true
		}
	}

	for _, rule := range fired {
		// Durable flag and the in-memory copy are both set before the
		// executor runs, so re-entrant evaluation cannot double-fire.
		// A store failure is logged and tolerated: the in-memory flag
		// holds until the next refresh, and the day-guard covers the
		// rest of the day.
		if err := e.store.MarkTriggered(ctx, rule.ID); err != nil {
			logger.Error("Failed to persist triggered_today",
				logger.ErrorField(err),
				logger.String("rule_id", rule.ID),
			)
		}
		rule.TriggeredToday = true

		logger.Info("Rule marked as triggered today",
			logger.String("rule_id", rule.ID),
			logger.String("symbol", rule.Symbol),
		)
	}

	e.newExecutor(dryRun).SquareOffAllOptionPositions(ctx)
}

// evaluateBreach returns the breach kind for the rule at this price,
// or empty when no bound is crossed. The lower bound is checked first;
// if both bounds are somehow crossed, lower wins.
func evaluateBreach(rule *models.Rule, price big.Decimal) string {
	if rule.LowerLimit != nil && price.LTE(big.NewDecimal(*rule.LowerLimit)) {
		return breachLower
	}
	if rule.UpperLimit != nil && price.GTE(big.NewDecimal(*rule.UpperLimit)) {
		return breachUpper
	}
	return ""
}
