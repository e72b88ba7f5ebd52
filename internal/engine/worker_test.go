package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/audit"
	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/internal/storage"
)

// fakeFeed is an in-process feed.Feed for worker tests
type fakeFeed struct {
	mu           sync.Mutex
	connected    bool
	subscribed   [][]string
	onTick       func(models.Tick)
	onConnect    func()
	onDisconnect func(error)
}

func (f *fakeFeed) Connect() error {
	f.mu.Lock()
	f.connected = true
	onConnect := f.onConnect
	f.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (f *fakeFeed) Subscribe(tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, append([]string(nil), tokens...))
	return nil
}

func (f *fakeFeed) SetOnTick(fn func(models.Tick)) { f.onTick = fn }
func (f *fakeFeed) SetOnConnect(fn func())         { f.onConnect = fn }
func (f *fakeFeed) SetOnDisconnect(fn func(error)) { f.onDisconnect = fn }

func (f *fakeFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeFeed) push(tick models.Tick) {
	f.onTick(tick)
}

func (f *fakeFeed) subscriptions() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		RefreshInterval: time.Hour, // the test drives refreshes itself
		TickBufferSize:  16,
	}
}

func TestWorker_SubscribesAndEvaluates(t *testing.T) {
	store := rules.NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newTestRule("rule-1", "101")); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	cache := NewRuleCache(store)
	runner := &recordingRunner{}
	evaluator := NewEvaluator(cache, store, audit.NewMemorySink(), nil, runner.run)
	f := &fakeFeed{}
	redis := storage.NewMockRedisClient()

	worker := NewWorker(workerConfig(), cache, evaluator, f, redis)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	subs := f.subscriptions()
	if len(subs) != 1 || len(subs[0]) != 1 || subs[0][0] != "101" {
		t.Fatalf("Expected subscription to token 101, got %v", subs)
	}

	// A breaching tick flows through the channel into the evaluator
	f.push(models.Tick{InstrumentToken: "101", LastPrice: 99.0, Timestamp: time.Now()})

	deadline := time.After(2 * time.Second)
	for runner.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("Timed out waiting for square-off run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The last price is cached in process and mirrored to Redis
	price, ok := worker.LastPrice("101")
	if !ok || price != 99.0 {
		t.Errorf("Expected last price 99.0, got %v (%v)", price, ok)
	}
	mirrored, err := redis.HGetAll(ctx, LastPricesKey())
	if err != nil {
		t.Fatalf("Failed to read mirror: %v", err)
	}
	if mirrored["101"] != "99" {
		t.Errorf("Expected mirrored price 99, got %q", mirrored["101"])
	}
}

func TestWorker_DoubleStartAndStop(t *testing.T) {
	store := rules.NewMemoryStore()
	cache := NewRuleCache(store)
	runner := &recordingRunner{}
	evaluator := NewEvaluator(cache, store, audit.NewMemorySink(), nil, runner.run)
	f := &fakeFeed{}

	worker := NewWorker(workerConfig(), cache, evaluator, f, nil)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := worker.Start(); err == nil {
		t.Error("Expected error on double start")
	}

	worker.Stop()
	if f.IsConnected() {
		t.Error("Expected feed closed after stop")
	}
	// Stop is idempotent
	worker.Stop()
}

func TestWorker_ResubscribesWhenTokensChange(t *testing.T) {
	store := rules.NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, newTestRule("rule-1", "101")); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	cache := NewRuleCache(store)
	runner := &recordingRunner{}
	evaluator := NewEvaluator(cache, store, audit.NewMemorySink(), nil, runner.run)
	f := &fakeFeed{}

	worker := NewWorker(workerConfig(), cache, evaluator, f, nil)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	// Same token set: no extra subscription
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	worker.resubscribeIfChanged()
	if got := len(f.subscriptions()); got != 1 {
		t.Fatalf("Expected no resubscription for unchanged tokens, got %d", got)
	}

	// New rule with a new token: resubscribe
	if err := store.Create(ctx, newTestRule("rule-2", "202")); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}
	if err := cache.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	worker.resubscribeIfChanged()

	subs := f.subscriptions()
	if len(subs) != 2 {
		t.Fatalf("Expected resubscription after token change, got %d", len(subs))
	}
	last := subs[len(subs)-1]
	if len(last) != 2 || last[0] != "101" || last[1] != "202" {
		t.Errorf("Expected sorted tokens [101 202], got %v", last)
	}
}
