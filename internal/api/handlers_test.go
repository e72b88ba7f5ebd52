package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mohamedkhairy/squareoff-engine/internal/broker"
	"github.com/mohamedkhairy/squareoff-engine/internal/engine"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/internal/storage"
)

func newTestRouter(t *testing.T, jwtSecret string) (*rules.MemoryStore, *broker.MockClient, *storage.MockRedisClient, http.Handler) {
	t.Helper()
	store := rules.NewMemoryStore()
	client := broker.NewMockClient()
	redis := storage.NewMockRedisClient()
	router := NewRouter(
		NewRuleHandler(store),
		NewPositionHandler(client, redis),
		NewAuthManager(jwtSecret, time.Hour),
		1000,
	)
	return store, client, redis, router
}

func seedRule(t *testing.T, store *rules.MemoryStore, id string) *models.Rule {
	t.Helper()
	lower := 100.0
	upper := 200.0
	rule := &models.Rule{
		ID:              id,
		Symbol:          "NIFTY25SEP24500CE",
		InstrumentToken: "101",
		LowerLimit:      &lower,
		UpperLimit:      &upper,
		Active:          true,
	}
	if err := store.Create(context.Background(), rule); err != nil {
		t.Fatalf("Failed to seed rule: %v", err)
	}
	return rule
}

func TestAPI_ListRules(t *testing.T) {
	store, _, _, router := newTestRouter(t, "")
	seedRule(t, store, "rule-1")
	seedRule(t, store, "rule-2")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Rules []models.Rule `json:"rules"`
		Count int           `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Count != 2 || len(body.Rules) != 2 {
		t.Errorf("Expected 2 rules, got count=%d len=%d", body.Count, len(body.Rules))
	}
}

func TestAPI_GetRule(t *testing.T) {
	store, _, _, router := newTestRouter(t, "")
	seedRule(t, store, "rule-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules/rule-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/rules/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for missing rule, got %d", rec.Code)
	}
}

func TestAPI_CreateRule(t *testing.T) {
	store, _, _, router := newTestRouter(t, "")

	payload := map[string]interface{}{
		"symbol":            "NIFTY25SEP24500CE",
		"instrument_token":  "101",
		"lower_limit_price": 100.0,
		"upper_limit_price": 200.0,
		"active":            true,
		"triggered_today":   true, // must be ignored
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created models.Rule
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID == "" {
		t.Error("Expected generated rule ID")
	}
	// The worker owns triggered_today; the API must not accept it
	if created.TriggeredToday {
		t.Error("Expected triggered_today to be forced false on create")
	}

	stored, err := store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Failed to get stored rule: %v", err)
	}
	if stored.TriggeredToday {
		t.Error("Expected stored rule with triggered_today false")
	}
}

func TestAPI_CreateRule_Invalid(t *testing.T) {
	_, _, _, router := newTestRouter(t, "")

	payload := map[string]interface{}{
		"symbol":           "NIFTY25SEP24500CE",
		"instrument_token": "101",
		// no limits
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
}

func TestAPI_UpdateRule_PreservesTriggeredFlag(t *testing.T) {
	store, _, _, router := newTestRouter(t, "")
	seedRule(t, store, "rule-1")
	if err := store.MarkTriggered(context.Background(), "rule-1"); err != nil {
		t.Fatalf("Failed to mark triggered: %v", err)
	}

	payload := map[string]interface{}{
		"symbol":            "NIFTY25SEP24500CE",
		"instrument_token":  "101",
		"lower_limit_price": 90.0,
		"upper_limit_price": 210.0,
		"active":            true,
		"triggered_today":   false, // must be ignored
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/rules/rule-1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, _ := store.Get(context.Background(), "rule-1")
	if *stored.LowerLimit != 90.0 {
		t.Errorf("Expected updated lower limit 90, got %v", *stored.LowerLimit)
	}
	if !stored.TriggeredToday {
		t.Error("Expected triggered_today preserved across update")
	}
}

func TestAPI_SetKillSwitch(t *testing.T) {
	store, _, _, router := newTestRouter(t, "")
	seedRule(t, store, "rule-1")

	body := bytes.NewReader([]byte(`{"kill_switch": true}`))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/rules/rule-1/killswitch", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, _ := store.Get(context.Background(), "rule-1")
	if !stored.KillSwitch {
		t.Error("Expected kill switch set")
	}

	body = bytes.NewReader([]byte(`{"kill_switch": true}`))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/missing/killswitch", body)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for missing rule, got %d", rec.Code)
	}
}

func TestAPI_ListPositions(t *testing.T) {
	_, client, _, router := newTestRouter(t, "")
	client.OpenPositions = []models.Position{
		{TradingSymbol: "NIFTY2590224500CE", Exchange: "NFO", Quantity: -50},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	client.PositionsErr = errors.New("gateway timeout")
	req = httptest.NewRequest(http.MethodGet, "/api/v1/positions", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 on broker failure, got %d", rec.Code)
	}
}

func TestAPI_ListPrices(t *testing.T) {
	_, _, redis, router := newTestRouter(t, "")
	ctx := context.Background()
	if err := redis.HSet(ctx, engine.LastPricesKey(), "101", 150.5); err != nil {
		t.Fatalf("Failed to seed price: %v", err)
	}
	if err := redis.HSet(ctx, engine.LastPricesKey(), "202", "not-a-number"); err != nil {
		t.Fatalf("Failed to seed price: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/prices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body struct {
		Prices map[string]float64 `json:"prices"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Prices["101"] != 150.5 {
		t.Errorf("Expected price 150.5 for token 101, got %v", body.Prices["101"])
	}
	if _, ok := body.Prices["202"]; ok {
		t.Error("Expected unparseable price to be skipped")
	}
}

func TestAPI_AuthRequiredForWrites(t *testing.T) {
	const secret = "test-secret"
	store, _, _, router := newTestRouter(t, secret)
	seedRule(t, store, "rule-1")

	// Reads stay open
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected open read, got %d", rec.Code)
	}

	// Writes without a token are refused
	body := bytes.NewReader([]byte(`{"kill_switch": true}`))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/rule-1/killswitch", body)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", rec.Code)
	}

	// Writes with a valid token pass
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "ops",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	body = bytes.NewReader([]byte(`{"kill_switch": true}`))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/rule-1/killswitch", body)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with valid token, got %d: %s", rec.Code, rec.Body.String())
	}

	// A token signed with the wrong key is refused
	badToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": "ops"})
	badSigned, _ := badToken.SignedString([]byte("wrong-secret"))

	body = bytes.NewReader([]byte(`{"kill_switch": false}`))
	req = httptest.NewRequest(http.MethodPost, "/api/v1/rules/rule-1/killswitch", body)
	req.Header.Set("Authorization", "Bearer "+badSigned)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 with bad signature, got %d", rec.Code)
	}
}

func TestAuthManager_ExtractTokenFromHeader(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour)

	token, err := auth.ExtractTokenFromHeader("Bearer abc123")
	if err != nil || token != "abc123" {
		t.Errorf("Expected abc123, got %q (%v)", token, err)
	}

	token, err = auth.ExtractTokenFromHeader("abc123")
	if err != nil || token != "abc123" {
		t.Errorf("Expected bare token accepted, got %q (%v)", token, err)
	}

	if _, err := auth.ExtractTokenFromHeader(""); err == nil {
		t.Error("Expected error for empty header")
	}
	if _, err := auth.ExtractTokenFromHeader("Basic abc123"); err == nil {
		t.Error("Expected error for non-bearer scheme")
	}
}

func TestAuthManager_GenerateToken(t *testing.T) {
	auth := NewAuthManager("secret", time.Hour)

	signed, err := auth.GenerateToken("ops")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	userID, err := auth.ValidateToken(signed)
	if err != nil {
		t.Fatalf("Failed to validate generated token: %v", err)
	}
	if userID != "ops" {
		t.Errorf("Expected user ops, got %q", userID)
	}

	// An already-expired token is refused
	expired := NewAuthManager("secret", -time.Minute)
	signed, err = expired.GenerateToken("ops")
	if err != nil {
		t.Fatalf("Failed to generate token: %v", err)
	}
	if _, err := auth.ValidateToken(signed); err == nil {
		t.Error("Expected expired token to be rejected")
	}

	// No secret configured means no tokens can be issued
	open := NewAuthManager("", time.Hour)
	if _, err := open.GenerateToken("ops"); err == nil {
		t.Error("Expected error generating token without a secret")
	}
}

func TestAPI_Health(t *testing.T) {
	_, _, _, router := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}
