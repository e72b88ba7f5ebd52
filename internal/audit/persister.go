package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// Persister writes trade-log records to the trade_logs table through
// an async write queue, so Append never blocks the tick path
type Persister struct {
	db          *sql.DB
	writeConfig WriteConfig

	writeQueue chan models.TradeLog
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
}

// WriteConfig holds configuration for write operations
type WriteConfig struct {
	BatchSize  int
	Interval   time.Duration
	QueueSize  int
	MaxRetries int
	RetryDelay time.Duration
}

// NewPersister opens a connection pool to the trade-log database
func NewPersister(dbConfig config.DatabaseConfig, writeConfig WriteConfig) (*Persister, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.Database,
		dbConfig.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	clientCtx, clientCancel := context.WithCancel(context.Background())

	p := &Persister{
		db:          db,
		writeConfig: writeConfig,
		writeQueue:  make(chan models.TradeLog, writeConfig.QueueSize),
		ctx:         clientCtx,
		cancel:      clientCancel,
	}

	logger.Info("Trade log persister initialized",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return p, nil
}

// NewPersisterWithDB wraps an existing connection (used in tests)
func NewPersisterWithDB(db *sql.DB, writeConfig WriteConfig) *Persister {
	ctx, cancel := context.WithCancel(context.Background())
	return &Persister{
		db:          db,
		writeConfig: writeConfig,
		writeQueue:  make(chan models.TradeLog, writeConfig.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the write queue processor
func (p *Persister) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("persister is already running")
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.processWriteQueue()

	logger.Info("Trade log persister started")
	return nil
}

// Stop stops the write queue processor, flushing queued records
func (p *Persister) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	logger.Info("Stopping trade log persister")
	p.cancel()
	close(p.writeQueue)
	p.wg.Wait()
	logger.Info("Trade log persister stopped")
}

// Append enqueues a record without a rule reference
func (p *Persister) Append(event, message string, data map[string]interface{}) {
	p.AppendForRule("", event, message, data)
}

// AppendForRule enqueues a record. On a full queue the record is
// dropped with a warning; the audit trail is best-effort and must not
// back-pressure evaluation.
func (p *Persister) AppendForRule(ruleID, event, message string, data map[string]interface{}) {
	record := models.TradeLog{
		RuleID:    ruleID,
		Timestamp: time.Now(),
		EventType: event,
		Message:   message,
		Data:      data,
	}

	select {
	case p.writeQueue <- record:
	default:
		logger.AuditRecordsDropped.Inc()
		logger.Warn("Audit write queue full, dropping record",
			logger.String("event_type", event),
			logger.String("message", message),
		)
	}
}

// processWriteQueue drains the queue into batched inserts
func (p *Persister) processWriteQueue() {
	defer p.wg.Done()

	batch := make([]models.TradeLog, 0, p.writeConfig.BatchSize)
	ticker := time.NewTicker(p.writeConfig.Interval)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-p.writeQueue:
			if !ok {
				if len(batch) > 0 {
					p.writeBatch(batch)
				}
				return
			}

			batch = append(batch, record)
			if len(batch) >= p.writeConfig.BatchSize {
				p.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				p.writeBatch(batch)
				batch = batch[:0]
			}
		}
	}
}

// writeBatch writes a batch with bounded retries
func (p *Persister) writeBatch(records []models.TradeLog) {
	if len(records) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	for attempt := 0; attempt < p.writeConfig.MaxRetries; attempt++ {
		err = p.insertBatch(ctx, records)
		if err == nil {
			logger.Debug("Wrote trade log batch",
				logger.Int("count", len(records)),
			)
			return
		}

		if attempt < p.writeConfig.MaxRetries-1 {
			logger.Warn("Failed to write trade log batch, retrying",
				logger.ErrorField(err),
				logger.Int("attempt", attempt+1),
				logger.Int("max_retries", p.writeConfig.MaxRetries),
			)
			time.Sleep(p.writeConfig.RetryDelay)
		}
	}

	logger.Error("Failed to write trade log batch after retries",
		logger.ErrorField(err),
		logger.Int("count", len(records)),
	)
}

// insertBatch inserts a batch of records in one transaction
func (p *Persister) insertBatch(ctx context.Context, records []models.TradeLog) error {
	query := `
		INSERT INTO trade_logs (rule_id, timestamp, event_type, message, data)
		VALUES ($1, $2, $3, $4, $5)
	`

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		dataJSON := []byte("{}")
		if len(record.Data) > 0 {
			dataJSON, err = json.Marshal(record.Data)
			if err != nil {
				logger.Warn("Failed to marshal trade log data, using empty object",
					logger.ErrorField(err),
					logger.String("event_type", record.EventType),
				)
				dataJSON = []byte("{}")
			}
		}

		var ruleID sql.NullString
		if record.RuleID != "" {
			ruleID = sql.NullString{String: record.RuleID, Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			ruleID,
			record.Timestamp,
			record.EventType,
			record.Message,
			string(dataJSON),
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Close closes the database connection
func (p *Persister) Close() error {
	p.Stop()
	return p.db.Close()
}
