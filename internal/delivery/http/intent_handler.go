package http

import (
	"encoding/json"
	"net/http"
	"time"

	"trading-backend/internal/domain"
	"trading-backend/internal/usecase"
)

// IntentHandler receives trading intents from the upstream signal engine.
type IntentHandler struct {
	executor *usecase.SignalExecutor
}

func NewIntentHandler(executor *usecase.SignalExecutor) *IntentHandler {
	return &IntentHandler{executor: executor}
}

// HandleIntent handles POST /api/intents
func (h *IntentHandler) HandleIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var intent domain.TradingIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if intent.Symbol == "" {
		http.Error(w, "symbol is required", http.StatusBadRequest)
		return
	}
	switch intent.Direction {
	case domain.OpenLong, domain.OpenShort, domain.CloseLong, domain.CloseShort:
	default:
		http.Error(w, "invalid direction", http.StatusBadRequest)
		return
	}
	if intent.Confidence < 0 || intent.Confidence > 100 {
		http.Error(w, "confidence must be 0-100", http.StatusBadRequest)
		return
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}

	outcome := h.executor.Execute(&intent)

	w.Header().Set("Content-Type", "application/json")
	if outcome.Status == domain.ExecutionFailed {
		w.WriteHeader(http.StatusBadGateway)
	}
	json.NewEncoder(w).Encode(outcome)
}
