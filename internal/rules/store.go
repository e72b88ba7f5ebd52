package rules

import (
	"context"

	"github.com/mohamedkhairy/squareoff-engine/internal/models"
)

// Store is the durable home of square-off rules. ListActive is the
// query the cache refreshes from; MarkTriggered is the single-field
// update the evaluator performs when a rule fires.
type Store interface {
	// ListActive returns rules with active = true and kill_switch = false
	ListActive(ctx context.Context) ([]*models.Rule, error)

	// List returns all rules
	List(ctx context.Context) ([]*models.Rule, error)

	// Get retrieves a rule by ID
	Get(ctx context.Context, id string) (*models.Rule, error)

	// Create adds a new rule
	Create(ctx context.Context, rule *models.Rule) error

	// Update replaces an existing rule
	Update(ctx context.Context, rule *models.Rule) error

	// SetKillSwitch flips the kill switch on a rule
	SetKillSwitch(ctx context.Context, id string, on bool) error

	// MarkTriggered sets triggered_today = true on a rule
	MarkTriggered(ctx context.Context, id string) error

	// ResetTriggeredFlags clears triggered_today on all active rules
	// and returns the number of rules reset (daily reset operation)
	ResetTriggeredFlags(ctx context.Context) (int64, error)

	// Close closes the store
	Close() error
}
