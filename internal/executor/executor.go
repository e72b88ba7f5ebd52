package executor

import (
	"context"
	"fmt"

	"github.com/mohamedkhairy/squareoff-engine/internal/audit"
	"github.com/mohamedkhairy/squareoff-engine/internal/broker"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// PostBatchHook runs after a square-off batch completes. It is the
// extension seam for partial-fill and retry handling; the default
// implementation only records that the gap exists.
type PostBatchHook func(ctx context.Context, positions []models.Position)

// Executor fetches open positions, filters option contracts and places
// offsetting market orders. Per-position failures are isolated and
// counted; nothing here ever aborts the batch.
type Executor struct {
	broker broker.Client
	sink   audit.Sink
	dryRun bool

	postBatch PostBatchHook
}

// New creates an Executor. dryRun applies to the whole batch: orders
// are logged but never sent.
func New(client broker.Client, sink audit.Sink, dryRun bool) *Executor {
	e := &Executor{
		broker: client,
		sink:   sink,
		dryRun: dryRun,
	}
	e.postBatch = e.defaultPostBatch
	return e
}

// SetPostBatchHook replaces the post-batch extension hook
func (e *Executor) SetPostBatchHook(hook PostBatchHook) {
	if hook != nil {
		e.postBatch = hook
	}
}

// DryRun reports whether the executor is in dry-run mode
func (e *Executor) DryRun() bool {
	return e.dryRun
}

// FetchOpenPositions queries the brokerage for net open positions. A
// query failure degrades to an empty slice plus a POSITION_FETCH_FAILED
// audit record: callers distinguish "flat book" from "query failed"
// through the audit trail, not the return value.
func (e *Executor) FetchOpenPositions(ctx context.Context) []models.Position {
	positions, err := e.broker.Positions(ctx)
	if err != nil {
		logger.Error("Failed to fetch open positions", logger.ErrorField(err))
		e.sink.Append(models.EventPositionFetchFailed, err.Error(), nil)
		return []models.Position{}
	}
	return positions
}

// FilterOptionPositions retains only option positions with non-zero
// quantity. Pure; applying it to its own output is a fixed point.
func FilterOptionPositions(positions []models.Position) []models.Position {
	result := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		if p.IsOption() {
			result = append(result, p)
		}
	}
	return result
}

// PlaceSquareOffOrder places one offsetting market order for the given
// position. Returns true on success (including dry-run). Submission
// failures are swallowed here so one bad position cannot abort the
// batch.
func (e *Executor) PlaceSquareOffOrder(ctx context.Context, position models.Position) bool {
	if position.TradingSymbol == "" || position.Exchange == "" || position.Quantity == 0 {
		logger.Error("Invalid position data",
			logger.String("tradingsymbol", position.TradingSymbol),
			logger.String("exchange", position.Exchange),
			logger.Int64("quantity", position.Quantity),
		)
		return false
	}

	// Short positions buy to close, longs sell to close
	transactionType := models.TransactionSell
	if position.Quantity < 0 {
		transactionType = models.TransactionBuy
	}

	absQuantity := position.Quantity
	if absQuantity < 0 {
		absQuantity = -absQuantity
	}

	params := models.OrderParams{
		Variety:         models.VarietyRegular,
		Exchange:        position.Exchange,
		TradingSymbol:   position.TradingSymbol,
		TransactionType: transactionType,
		Quantity:        absQuantity,
		Product:         models.ProductMIS,
		OrderType:       models.OrderTypeMarket,
		Validity:        models.ValidityDay,
	}

	logger.Info("Square-off attempt",
		logger.String("transaction_type", transactionType),
		logger.Int64("quantity", absQuantity),
		logger.String("tradingsymbol", position.TradingSymbol),
	)

	// The attempt record is written before any broker contact, even in
	// dry-run mode: it is the only trace of intended action when no
	// real order follows.
	e.sink.Append(models.EventOrderAttempt,
		fmt.Sprintf("%s %d %s", transactionType, absQuantity, position.TradingSymbol),
		map[string]interface{}{
			"variety":          params.Variety,
			"exchange":         params.Exchange,
			"tradingsymbol":    params.TradingSymbol,
			"transaction_type": params.TransactionType,
			"quantity":         params.Quantity,
			"product":          params.Product,
			"order_type":       params.OrderType,
			"validity":         params.Validity,
		},
	)

	if e.dryRun {
		logger.Warn("Dry run - order not placed",
			logger.String("tradingsymbol", position.TradingSymbol),
			logger.String("transaction_type", transactionType),
			logger.Int64("quantity", absQuantity),
		)
		logger.OrdersPlaced.WithLabelValues("dry_run").Inc()
		return true
	}

	orderID, err := e.broker.PlaceOrder(ctx, params)
	if err != nil {
		logger.Error("Order placement failed",
			logger.ErrorField(err),
			logger.String("tradingsymbol", position.TradingSymbol),
		)
		e.sink.Append(models.EventOrderFailed, err.Error(), map[string]interface{}{
			"symbol": position.TradingSymbol,
		})
		logger.OrdersPlaced.WithLabelValues("failed").Inc()
		return false
	}

	logger.Info("Order placed",
		logger.String("order_id", orderID),
		logger.String("tradingsymbol", position.TradingSymbol),
	)
	e.sink.Append(models.EventOrderPlaced,
		fmt.Sprintf("Order %s placed", orderID),
		map[string]interface{}{
			"order_id": orderID,
			"symbol":   position.TradingSymbol,
		},
	)
	logger.OrdersPlaced.WithLabelValues("placed").Inc()
	return true
}

// SquareOffAllOptionPositions runs the full pipeline: fetch, filter,
// place one order per position. A SQUARE_OFF_SUMMARY record is always
// written, even for an empty batch.
func (e *Executor) SquareOffAllOptionPositions(ctx context.Context) {
	logger.Info("Starting square-off for all option positions",
		logger.Bool("dry_run", e.dryRun),
	)

	positions := e.FetchOpenPositions(ctx)
	optionPositions := FilterOptionPositions(positions)

	if len(optionPositions) == 0 {
		logger.Info("No option positions to square off")
		e.sink.Append(models.EventSquareOff, "No open option positions", nil)
		return
	}

	success := 0
	for _, position := range optionPositions {
		if e.PlaceSquareOffOrder(ctx, position) {
			success++
		}
	}

	e.sink.Append(models.EventSquareOffSummary,
		fmt.Sprintf("Squared off %d/%d positions", success, len(optionPositions)),
		map[string]interface{}{
			"success": success,
			"total":   len(optionPositions),
			"dry_run": e.dryRun,
		},
	)

	e.postBatch(ctx, optionPositions)
}

// defaultPostBatch is the placeholder partial-fill handler. Retry on
// partial fills is not implemented yet; replacing the hook via
// SetPostBatchHook does not change the batch contract.
func (e *Executor) defaultPostBatch(ctx context.Context, positions []models.Position) {
	logger.Warn("Partial fills and retries not implemented",
		logger.Int("positions", len(positions)),
	)
}
