package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// Clears the triggered-today flag on every rule. Run once before each
// trading session, typically from cron.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ruleStore, err := rules.NewPostgresStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize rule store", logger.ErrorField(err))
	}
	defer ruleStore.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := ruleStore.ResetTriggeredFlags(ctx)
	if err != nil {
		logger.Fatal("Failed to reset triggered flags", logger.ErrorField(err))
	}

	logger.Info("Reset triggered flags", logger.Int64("rules", count))
}
