package handlers

import (
	"encoding/json"
	"net/http"

	"procurement/internal/order"
	"procurement/models"
)

// providerDecisionEvent is the inbound webhook payload from the external
// provider system.
type providerDecisionEvent struct {
	EventID  string `json:"eventId"`
	OrderID  int    `json:"orderId"`
	Scope    string `json:"scope"`    // ORDER or CHANGE
	Decision string `json:"decision"` // ACCEPTED/APPROVED or REJECTED
	Reason   string `json:"reason,omitempty"`
}

// ProviderDecisionHandler handles POST /api/webhooks/provider-decision.
// Idempotency lives in the core: a duplicate delivery after the decision
// was applied comes back as 409 without touching any state, which the
// provider treats as a terminal acknowledgment.
func (h *Handler) ProviderDecisionHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var event providerDecisionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if event.OrderID <= 0 {
		http.Error(w, "Missing orderId", http.StatusBadRequest)
		return
	}
	decision, err := models.ParseDecision(event.Decision)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scope := order.DecisionScope(event.Scope)
	if scope != order.ScopeOrder && scope != order.ScopeChange {
		http.Error(w, "scope must be ORDER or CHANGE", http.StatusBadRequest)
		return
	}

	o, err := h.Orders.ApplyExternalDecision(r.Context(), event.OrderID, scope, decision, event.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
