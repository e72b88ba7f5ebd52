package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohamedkhairy/squareoff-engine/internal/models"
)

// MockClient is a Client for testing. Orders are recorded, not sent.
type MockClient struct {
	mu sync.Mutex

	OpenPositions []models.Position
	PositionsErr  error

	PlacedOrders []models.OrderParams
	PlaceErr     error

	SessionErr error

	nextOrderID int
}

// NewMockClient creates a MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Positions(ctx context.Context) ([]models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PositionsErr != nil {
		return nil, m.PositionsErr
	}
	result := make([]models.Position, len(m.OpenPositions))
	copy(result, m.OpenPositions)
	return result, nil
}

func (m *MockClient) PlaceOrder(ctx context.Context, params models.OrderParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlaceErr != nil {
		return "", m.PlaceErr
	}
	m.PlacedOrders = append(m.PlacedOrders, params)
	m.nextOrderID++
	return fmt.Sprintf("order-%d", m.nextOrderID), nil
}

func (m *MockClient) VerifySession(ctx context.Context) error {
	return m.SessionErr
}

// OrderCount returns the number of orders placed
func (m *MockClient) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PlacedOrders)
}
