package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter builds the admin API router with the standard middleware
// chain
func NewRouter(ruleHandler *RuleHandler, positionHandler *PositionHandler, auth *AuthManager, rateLimitRPS int) *mux.Router {
	router := mux.NewRouter()

	chain := ChainMiddleware(
		RecoveryMiddleware(),
		LoggingMiddleware(),
		CORSMiddleware(),
		AuthMiddleware(auth),
		RateLimitMiddleware(rateLimitRPS),
	)
	router.Use(mux.MiddlewareFunc(chain))

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/rules", ruleHandler.ListRules).Methods(http.MethodGet)
	v1.HandleFunc("/rules", ruleHandler.CreateRule).Methods(http.MethodPost)
	v1.HandleFunc("/rules/{id}", ruleHandler.GetRule).Methods(http.MethodGet)
	v1.HandleFunc("/rules/{id}", ruleHandler.UpdateRule).Methods(http.MethodPut)
	v1.HandleFunc("/rules/{id}/killswitch", ruleHandler.SetKillSwitch).Methods(http.MethodPost)
	v1.HandleFunc("/positions", positionHandler.ListPositions).Methods(http.MethodGet)
	v1.HandleFunc("/prices", positionHandler.ListPrices).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	return router
}
