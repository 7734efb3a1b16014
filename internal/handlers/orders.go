package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"procurement/internal/order"
)

// orderID pulls the {orderId} route parameter.
func orderID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "orderId"))
	return id, err == nil && id > 0
}

// CreateOrderHandler handles POST /api/orders/new with an offerId body.
func (h *Handler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var input struct {
		OfferID int `json:"offerId"`
	}
	if err := json.Unmarshal(body, &input); err != nil || input.OfferID <= 0 {
		http.Error(w, "Invalid or missing offerId", http.StatusBadRequest)
		return
	}

	created, err := h.Requests.CreateOrderFromOffer(r.Context(), user, input.OfferID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// GetOrderHandler handles GET /api/orders/{orderId}.
func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	o, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ApproveOrderHandler handles PUT /api/orders/{orderId}/approve.
func (h *Handler) ApproveOrderHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	o, err := h.Orders.Approve(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// RejectOrderHandler handles PUT /api/orders/{orderId}/reject.
func (h *Handler) RejectOrderHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	o, err := h.Orders.Reject(r.Context(), user, id, input.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// RequestSubstitutionHandler handles POST /api/orders/{orderId}/substitution.
func (h *Handler) RequestSubstitutionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	var input order.SubstitutionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	o, err := h.Orders.RequestSubstitution(r.Context(), user, id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// RequestExtensionHandler handles POST /api/orders/{orderId}/extension.
func (h *Handler) RequestExtensionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	var input order.ExtensionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	o, err := h.Orders.RequestExtension(r.Context(), user, id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ApproveChangeHandler handles PUT /api/orders/{orderId}/change/approve.
func (h *Handler) ApproveChangeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	o, err := h.Orders.ApproveChange(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// RejectChangeHandler handles PUT /api/orders/{orderId}/change/reject.
func (h *Handler) RejectChangeHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := orderID(r)
	if !ok {
		http.Error(w, "Invalid orderId", http.StatusBadRequest)
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	o, err := h.Orders.RejectChange(r.Context(), user, id, input.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
