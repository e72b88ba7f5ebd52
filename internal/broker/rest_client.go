package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// RESTClient talks to the brokerage REST API. Authentication uses the
// api_key:access_token token header scheme.
type RESTClient struct {
	baseURL     string
	apiKey      string
	accessToken string
	httpClient  *http.Client
}

// NewRESTClient creates a RESTClient from broker configuration
func NewRESTClient(cfg config.BrokerConfig) *RESTClient {
	return &RESTClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		accessToken: cfg.AccessToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// envelope is the standard broker response wrapper
type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// Positions returns all net open positions
func (c *RESTClient) Positions(ctx context.Context) ([]models.Position, error) {
	data, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Net []models.Position `json:"net"`
		Day []models.Position `json:"day"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}
	return payload.Net, nil
}

// PlaceOrder submits an order and returns the broker order ID
func (c *RESTClient) PlaceOrder(ctx context.Context, params models.OrderParams) (string, error) {
	form := url.Values{}
	form.Set("exchange", params.Exchange)
	form.Set("tradingsymbol", params.TradingSymbol)
	form.Set("transaction_type", params.TransactionType)
	form.Set("quantity", strconv.FormatInt(params.Quantity, 10))
	form.Set("product", params.Product)
	form.Set("order_type", params.OrderType)
	form.Set("validity", params.Validity)

	data, err := c.do(ctx, http.MethodPost, "/orders/"+params.Variety, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}

	var payload struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("failed to decode order response: %w", err)
	}
	if payload.OrderID == "" {
		return "", fmt.Errorf("broker returned empty order id")
	}
	return payload.OrderID, nil
}

// VerifySession checks the configured credentials against the profile
// endpoint
func (c *RESTClient) VerifySession(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/user/profile", nil); err != nil {
		return fmt.Errorf("session verification failed: %w", err)
	}
	logger.Info("Broker session verified")
	return nil
}

func (c *RESTClient) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("X-Kite-Version", "3")
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", c.apiKey, c.accessToken))
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to decode broker response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK || env.Status == "error" {
		return nil, fmt.Errorf("broker error (status %d, %s): %s", resp.StatusCode, env.ErrorType, env.Message)
	}

	return env.Data, nil
}
