package broker

import (
	"context"

	"github.com/mohamedkhairy/squareoff-engine/internal/models"
)

// Client is the brokerage execution capability: position queries and
// order placement. The worker treats it as an opaque external service.
type Client interface {
	// Positions returns all net open positions
	Positions(ctx context.Context) ([]models.Position, error)

	// PlaceOrder submits an order and returns the broker order ID
	PlaceOrder(ctx context.Context, params models.OrderParams) (string, error)

	// VerifySession checks that the configured credentials are valid.
	// Called once at startup; failure is fatal.
	VerifySession(ctx context.Context) error
}
