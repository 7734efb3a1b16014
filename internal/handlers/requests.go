package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"procurement/internal/request"
	"procurement/models"
)

const maxBodyBytes = 1048576

// CreateRequestHandler handles POST /api/requests/new.
func (h *Handler) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
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

	var input request.CreateInput
	if err := json.Unmarshal(body, &input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}

	created, err := h.Requests.Create(r.Context(), user, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// GetRequestsHandler returns requests, optionally filtered by status.
func (h *Handler) GetRequestsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)

	var statuses []models.RequestStatus
	for _, raw := range r.URL.Query()["status"] {
		st, err := models.ParseRequestStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		statuses = append(statuses, st)
	}

	requests, err := h.Requests.List(r.Context(), statuses, params.Limit, params.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// GetUserRequestsHandler returns the requests owned by username.
func (h *Handler) GetUserRequestsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	params := parsePaginationParams(r)
	requests, err := h.Requests.ListByOwner(r.Context(), user, params.Limit, params.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// requestID pulls the {requestId} route parameter.
func requestID(r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "requestId"))
	return id, err == nil && id > 0
}

// SubmitRequestHandler handles PUT /api/requests/{requestId}/submit.
func (h *Handler) SubmitRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.requestTransition(w, r, h.Requests.SubmitForReview)
}

// ApproveRequestHandler handles PUT /api/requests/{requestId}/approve.
func (h *Handler) ApproveRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.requestTransition(w, r, h.Requests.ApproveForBidding)
}

// CancelRequestHandler handles PUT /api/requests/{requestId}/cancel.
func (h *Handler) CancelRequestHandler(w http.ResponseWriter, r *http.Request) {
	h.requestTransition(w, r, h.Requests.Cancel)
}

// RejectRequestHandler handles PUT /api/requests/{requestId}/reject with a
// reason in the body.
func (h *Handler) RejectRequestHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
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

	updated, err := h.Requests.Reject(r.Context(), user, id, input.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// AddOfferHandler handles POST /api/requests/{requestId}/offers/new.
func (h *Handler) AddOfferHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var input request.OfferInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	offer, err := h.Requests.AddOffer(r.Context(), user, id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// GetOffersHandler handles GET /api/requests/{requestId}/offers.
func (h *Handler) GetOffersHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
		return
	}
	offers, err := h.Requests.ListOffers(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, offers)
}

// EvaluateHandler handles POST /api/requests/{requestId}/evaluate: runs the
// engine and returns the fresh ranked set.
func (h *Handler) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
		return
	}
	evals, err := h.Evaluations.Run(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

// GetEvaluationsHandler returns the persisted ranked set of the last run.
func (h *Handler) GetEvaluationsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
		return
	}
	evals, err := h.Evaluations.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, evals)
}

// SelectOfferHandler handles PUT /api/requests/{requestId}/select_offer.
func (h *Handler) SelectOfferHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
		return
	}
	var input struct {
		OfferID int `json:"offerId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil || input.OfferID <= 0 {
		http.Error(w, "Invalid or missing offerId", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	updated, err := h.Requests.SelectPreferredOffer(r.Context(), user, id, input.OfferID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// requestTransition shares the shape of the simple status-move endpoints.
func (h *Handler) requestTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, user string, id int) (*models.ServiceRequest, error)) {
	user, ok := username(r)
	if !ok {
		http.Error(w, "Missing username", http.StatusBadRequest)
		return
	}
	id, ok := requestID(r)
	if !ok {
		http.Error(w, "Invalid requestId", http.StatusBadRequest)
		return
	}
	updated, err := op(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
