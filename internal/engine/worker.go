package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/feed"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/internal/storage"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// lastPricesKey is the Redis hash mirroring last traded prices for the
// admin API
const lastPricesKey = "squareoff:last_prices"

// Worker runs the risk engine: a periodic rule cache refresh, the feed
// subscription, and the single sequential tick-evaluation path. Ticks
// are buffered on a channel and consumed by one goroutine; a slow
// square-off back-pressures ingestion so that overlapping square-off
// batches never run concurrently.
type Worker struct {
	cfg       config.WorkerConfig
	cache     *RuleCache
	evaluator *Evaluator
	feed      feed.Feed
	redis     storage.RedisClient

	ticks chan models.Tick

	priceMu    sync.Mutex
	lastPrices map[string]float64

	subMu      sync.Mutex
	subscribed []string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorker creates a Worker. redis may be nil; the last-price mirror
// is then skipped.
func NewWorker(cfg config.WorkerConfig, cache *RuleCache, evaluator *Evaluator, f feed.Feed, redis storage.RedisClient) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:        cfg,
		cache:      cache,
		evaluator:  evaluator,
		feed:       f,
		redis:      redis,
		ticks:      make(chan models.Tick, cfg.TickBufferSize),
		lastPrices: make(map[string]float64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start performs the initial rule load, begins refresh scheduling and
// connects the feed
func (w *Worker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	// Initial load. A failure here is tolerated: the empty snapshot
	// triggers nothing, and the refresh loop retries on schedule.
	if err := w.cache.Refresh(w.ctx); err != nil {
		logger.Warn("Initial rule load failed, starting with empty snapshot",
			logger.ErrorField(err),
		)
	}

	w.feed.SetOnTick(w.enqueueTick)
	w.feed.SetOnConnect(func() {
		tokens := w.cache.Tokens()
		if len(tokens) == 0 {
			logger.Warn("No active instrument tokens found in rules to subscribe")
			return
		}
		if err := w.feed.Subscribe(tokens); err != nil {
			logger.Error("Failed to subscribe to instruments", logger.ErrorField(err))
			return
		}
		w.rememberSubscription(tokens)
	})
	w.feed.SetOnDisconnect(func(err error) {
		logger.Warn("Market feed disconnected", logger.ErrorField(err))
	})

	if err := w.feed.Connect(); err != nil {
		return fmt.Errorf("failed to connect feed: %w", err)
	}

	w.wg.Add(2)
	go w.tickLoop()
	go w.refreshLoop()

	logger.Info("Trading worker started",
		logger.Duration("refresh_interval", w.cfg.RefreshInterval),
	)
	return nil
}

// Stop stops the worker and waits for the tick path to drain
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	logger.Info("Stopping trading worker")
	w.feed.Close()
	w.cancel()
	w.wg.Wait()
	logger.Info("Trading worker stopped")
}

// enqueueTick pushes a tick onto the evaluation channel. The channel
// preserves arrival order; when the buffer is full the feed goroutine
// blocks, which is the intended back-pressure.
func (w *Worker) enqueueTick(tick models.Tick) {
	select {
	case w.ticks <- tick:
	case <-w.ctx.Done():
	}
}

// tickLoop is the single sequential evaluation path
func (w *Worker) tickLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case tick := <-w.ticks:
			w.recordLastPrice(tick)
			w.evaluator.OnTick(w.ctx, tick)
		}
	}
}

// refreshLoop refreshes the rule cache on a fixed interval and
// re-subscribes when the instrument token set changes
func (w *Worker) refreshLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.cache.Refresh(w.ctx); err != nil {
				// Already logged; retried next interval
				continue
			}
			w.resubscribeIfChanged()
		}
	}
}

// resubscribeIfChanged re-declares feed interest when the refresh
// produced a different token set
func (w *Worker) resubscribeIfChanged() {
	tokens := w.cache.Tokens()

	w.subMu.Lock()
	changed := !equalTokens(w.subscribed, tokens)
	w.subMu.Unlock()

	if !changed || !w.feed.IsConnected() {
		return
	}

	logger.Info("Instrument token set changed, resubscribing",
		logger.Int("tokens", len(tokens)),
	)
	if err := w.feed.Subscribe(tokens); err != nil {
		logger.Error("Failed to resubscribe to instruments", logger.ErrorField(err))
		return
	}
	w.rememberSubscription(tokens)
}

func (w *Worker) rememberSubscription(tokens []string) {
	w.subMu.Lock()
	w.subscribed = append([]string(nil), tokens...)
	w.subMu.Unlock()
}

// recordLastPrice keeps the in-process last-price map and mirrors it
// to Redis best-effort for the admin API
func (w *Worker) recordLastPrice(tick models.Tick) {
	w.priceMu.Lock()
	w.lastPrices[tick.InstrumentToken] = tick.LastPrice
	w.priceMu.Unlock()

	if w.redis != nil {
		price := strconv.FormatFloat(tick.LastPrice, 'f', -1, 64)
		if err := w.redis.HSet(w.ctx, lastPricesKey, tick.InstrumentToken, price); err != nil {
			logger.Debug("Failed to mirror last price", logger.ErrorField(err))
		}
	}
}

// LastPrice returns the last seen price for an instrument token
func (w *Worker) LastPrice(token string) (float64, bool) {
	w.priceMu.Lock()
	defer w.priceMu.Unlock()
	price, ok := w.lastPrices[token]
	return price, ok
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LastPricesKey returns the Redis hash key holding mirrored prices
func LastPricesKey() string {
	return lastPricesKey
}
