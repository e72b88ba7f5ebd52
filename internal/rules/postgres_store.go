package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

const ruleColumns = `id, symbol, instrument_token, lower_limit_price, upper_limit_price,
	active, kill_switch, dry_run, triggered_today, created_at, updated_at`

// PostgresStore is the production Store implementation backed by the
// squareoff_rules table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies it
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Rule store connected",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
		logger.String("database", cfg.Database),
	)

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection (used in tests)
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListActive returns rules with active = true and kill_switch = false
func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM squareoff_rules WHERE active = true AND kill_switch = false ORDER BY id`, ruleColumns)
	return s.queryRules(ctx, query)
}

// List returns all rules
func (s *PostgresStore) List(ctx context.Context) ([]*models.Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM squareoff_rules ORDER BY created_at`, ruleColumns)
	return s.queryRules(ctx, query)
}

func (s *PostgresStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Rule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return result, nil
}

// Get retrieves a rule by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM squareoff_rules WHERE id = $1`, ruleColumns)

	row := s.db.QueryRowContext(ctx, query, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
		}
		return nil, err
	}
	return rule, nil
}

// Create adds a new rule
func (s *PostgresStore) Create(ctx context.Context, rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	now := time.Now()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO squareoff_rules
			(id, symbol, instrument_token, lower_limit_price, upper_limit_price,
			 active, kill_switch, dry_run, triggered_today, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.Symbol,
		rule.InstrumentToken,
		rule.LowerLimit,
		rule.UpperLimit,
		rule.Active,
		rule.KillSwitch,
		rule.DryRun,
		rule.TriggeredToday,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Update replaces an existing rule
func (s *PostgresStore) Update(ctx context.Context, rule *models.Rule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	query := `
		UPDATE squareoff_rules
		SET symbol = $2, instrument_token = $3, lower_limit_price = $4,
		    upper_limit_price = $5, active = $6, kill_switch = $7,
		    dry_run = $8, triggered_today = $9, updated_at = $10
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query,
		rule.ID,
		rule.Symbol,
		rule.InstrumentToken,
		rule.LowerLimit,
		rule.UpperLimit,
		rule.Active,
		rule.KillSwitch,
		rule.DryRun,
		rule.TriggeredToday,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	return requireRow(res, rule.ID)
}

// SetKillSwitch flips the kill switch on a rule
func (s *PostgresStore) SetKillSwitch(ctx context.Context, id string, on bool) error {
	query := `UPDATE squareoff_rules SET kill_switch = $2, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, on, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set kill switch: %w", err)
	}
	return requireRow(res, id)
}

// MarkTriggered sets triggered_today = true on a rule
func (s *PostgresStore) MarkTriggered(ctx context.Context, id string) error {
	query := `UPDATE squareoff_rules SET triggered_today = true, updated_at = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to mark rule triggered: %w", err)
	}
	return requireRow(res, id)
}

// ResetTriggeredFlags clears triggered_today on all active rules
func (s *PostgresStore) ResetTriggeredFlags(ctx context.Context) (int64, error) {
	query := `UPDATE squareoff_rules SET triggered_today = false, updated_at = $1
		WHERE active = true AND triggered_today = true`
	res, err := s.db.ExecContext(ctx, query, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to reset triggered flags: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset rules: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*models.Rule, error) {
	rule := &models.Rule{}
	var lower, upper sql.NullFloat64

	err := row.Scan(
		&rule.ID,
		&rule.Symbol,
		&rule.InstrumentToken,
		&lower,
		&upper,
		&rule.Active,
		&rule.KillSwitch,
		&rule.DryRun,
		&rule.TriggeredToday,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if lower.Valid {
		rule.LowerLimit = &lower.Float64
	}
	if upper.Valid {
		rule.UpperLimit = &upper.Float64
	}
	return rule, nil
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", models.ErrRuleNotFound, id)
	}
	return nil
}
