package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/mohamedkhairy/squareoff-engine/internal/broker"
	"github.com/mohamedkhairy/squareoff-engine/internal/engine"
	"github.com/mohamedkhairy/squareoff-engine/internal/models"
	"github.com/mohamedkhairy/squareoff-engine/internal/rules"
	"github.com/mohamedkhairy/squareoff-engine/internal/storage"
	"github.com/mohamedkhairy/squareoff-engine/pkg/logger"
)

// RuleHandler handles rule management endpoints
type RuleHandler struct {
	store rules.Store
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(store rules.Store) *RuleHandler {
	return &RuleHandler{store: store}
}

// ListRules handles GET /api/v1/rules
func (h *RuleHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	allRules, err := h.store.List(r.Context())
	if err != nil {
		logger.Error("Failed to list rules", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to retrieve rules")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"rules": allRules,
		"count": len(allRules),
	})
}

// GetRule handles GET /api/v1/rules/{id}
func (h *RuleHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ruleID := vars["id"]

	rule, err := h.store.Get(r.Context(), ruleID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Rule not found")
		return
	}

	respondWithJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /api/v1/rules
func (h *RuleHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	// triggered_today is managed by the worker, never by the API
	rule.TriggeredToday = false

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := rule.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Create(r.Context(), &rule); err != nil {
		if errors.Is(err, models.ErrRuleAlreadyExists) {
			respondWithError(w, http.StatusConflict, "Rule already exists")
			return
		}
		logger.Error("Failed to create rule", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to create rule")
		return
	}

	logger.Info("Rule created",
		logger.String("rule_id", rule.ID),
		logger.String("symbol", rule.Symbol),
	)

	respondWithJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/v1/rules/{id}
func (h *RuleHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ruleID := vars["id"]

	existing, err := h.store.Get(r.Context(), ruleID)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Rule not found")
		return
	}

	var rule models.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule.ID = ruleID
	// Preserve the worker-managed flag
	rule.TriggeredToday = existing.TriggeredToday

	if err := rule.Validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Update(r.Context(), &rule); err != nil {
		logger.Error("Failed to update rule", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to update rule")
		return
	}

	logger.Info("Rule updated", logger.String("rule_id", ruleID))
	respondWithJSON(w, http.StatusOK, rule)
}

// SetKillSwitch handles POST /api/v1/rules/{id}/killswitch
func (h *RuleHandler) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ruleID := vars["id"]

	var body struct {
		KillSwitch bool `json:"kill_switch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.store.SetKillSwitch(r.Context(), ruleID, body.KillSwitch); err != nil {
		if errors.Is(err, models.ErrRuleNotFound) {
			respondWithError(w, http.StatusNotFound, "Rule not found")
			return
		}
		logger.Error("Failed to set kill switch", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to set kill switch")
		return
	}

	logger.Warn("Kill switch changed",
		logger.String("rule_id", ruleID),
		logger.Bool("kill_switch", body.KillSwitch),
	)
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"id":          ruleID,
		"kill_switch": body.KillSwitch,
	})
}

// PositionHandler exposes broker positions and mirrored prices
type PositionHandler struct {
	broker broker.Client
	redis  storage.RedisClient
}

// NewPositionHandler creates a new position handler. redis may be nil.
func NewPositionHandler(client broker.Client, redis storage.RedisClient) *PositionHandler {
	return &PositionHandler{broker: client, redis: redis}
}

// ListPositions handles GET /api/v1/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.broker.Positions(r.Context())
	if err != nil {
		logger.Error("Failed to fetch positions", logger.ErrorField(err))
		respondWithError(w, http.StatusServiceUnavailable, "Failed to fetch positions")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

// ListPrices handles GET /api/v1/prices, reading the last-price hash
// the worker mirrors to Redis
func (h *PositionHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	if h.redis == nil {
		respondWithJSON(w, http.StatusOK, map[string]interface{}{"prices": map[string]float64{}})
		return
	}

	raw, err := h.redis.HGetAll(r.Context(), engine.LastPricesKey())
	if err != nil {
		logger.Error("Failed to read last prices", logger.ErrorField(err))
		respondWithError(w, http.StatusServiceUnavailable, "Failed to read prices")
		return
	}

	prices := make(map[string]float64, len(raw))
	for token, value := range raw {
		price, err := strconv.ParseFloat(value, 64)
		if err != nil {
			continue
		}
		prices[token] = price
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"prices": prices,
		"count":  len(prices),
	})
}
