package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohamedkhairy/squareoff-engine/internal/config"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
)

func testClient(serverURL string) *RESTClient {
	return NewRESTClient(config.BrokerConfig{
		APIKey:      "test-key",
		AccessToken: "test-token",
		BaseURL:     serverURL,
		Timeout:     5 * time.Second,
	})
}

func TestRESTClient_Positions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/portfolio/positions" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token test-key:test-token" {
			t.Errorf("Unexpected authorization header: %s", got)
		}
		if got := r.Header.Get("X-Kite-Version"); got != "3" {
			t.Errorf("Unexpected API version header: %s", got)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"net": []map[string]interface{}{
					{"tradingsymbol": "NIFTY2590224500CE", "exchange": "NFO", "quantity": -50},
					{"tradingsymbol": "RELIANCE", "exchange": "NSE", "quantity": 10},
				},
				"day": []map[string]interface{}{},
			},
		})
	}))
	defer server.Close()

	positions, err := testClient(server.URL).Positions(context.Background())
	if err != nil {
		t.Fatalf("Positions failed: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("Expected 2 net positions, got %d", len(positions))
	}
	if positions[0].TradingSymbol != "NIFTY2590224500CE" || positions[0].Quantity != -50 {
		t.Errorf("Unexpected position: %+v", positions[0])
	}
}

func TestRESTClient_PlaceOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders/regular" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("Unexpected content type: %s", got)
		}

		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if r.PostForm.Get("transaction_type") != "BUY" ||
			r.PostForm.Get("quantity") != "50" ||
			r.PostForm.Get("order_type") != "MARKET" ||
			r.PostForm.Get("product") != "MIS" {
			t.Errorf("Unexpected order form: %v", r.PostForm)
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]string{"order_id": "231201000012345"},
		})
	}))
	defer server.Close()

	orderID, err := testClient(server.URL).PlaceOrder(context.Background(), models.OrderParams{
		Variety:         models.VarietyRegular,
		Exchange:        "NFO",
		TradingSymbol:   "NIFTY2590224500CE",
		TransactionType: models.TransactionBuy,
		Quantity:        50,
		Product:         models.ProductMIS,
		OrderType:       models.OrderTypeMarket,
		Validity:        models.ValidityDay,
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	if orderID != "231201000012345" {
		t.Errorf("Unexpected order ID: %s", orderID)
	}
}

func TestRESTClient_BrokerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "error",
			"message":    "Incorrect `api_key` or `access_token`.",
			"error_type": "TokenException",
		})
	}))
	defer server.Close()

	client := testClient(server.URL)

	if _, err := client.Positions(context.Background()); err == nil {
		t.Error("Expected error from broker failure response")
	} else if !strings.Contains(err.Error(), "TokenException") {
		t.Errorf("Expected error type in message, got %v", err)
	}

	if err := client.VerifySession(context.Background()); err == nil {
		t.Error("Expected session verification to fail")
	}
}

func TestRESTClient_VerifySession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/profile" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]string{"user_id": "AB1234"},
		})
	}))
	defer server.Close()

	if err := testClient(server.URL).VerifySession(context.Background()); err != nil {
		t.Fatalf("VerifySession failed: %v", err)
	}
}

func TestRESTClient_EmptyOrderID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data":   map[string]string{},
		})
	}))
	defer server.Close()

	_, err := testClient(server.URL).PlaceOrder(context.Background(), models.OrderParams{
		Variety: models.VarietyRegular,
	})
	if err == nil || !strings.Contains(err.Error(), "empty order id") {
		t.Fatalf("Expected empty order id error, got %v", err)
	}
}
