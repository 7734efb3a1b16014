// Package handlers exposes the core services over HTTP and maps the typed
// error taxonomy onto status codes. Authentication happens upstream; the
// authenticated username arrives as a query parameter.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"procurement/internal/apperrors"
	"procurement/internal/evaluation"
	"procurement/internal/order"
	"procurement/internal/request"
)

type Handler struct {
	Requests    *request.Service
	Evaluations *evaluation.Service
	Orders      *order.Service
}

func NewHandler(requests *request.Service, evaluations *evaluation.Service, orders *order.Service) *Handler {
	return &Handler{Requests: requests, Evaluations: evaluations, Orders: orders}
}

// PingHandler answers "ok" for liveness probes.
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type PaginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams parses limit and offset from the query, with
// defaults and bounds.
func parsePaginationParams(r *http.Request) PaginationParams {
	params := PaginationParams{Limit: 20, Offset: 0}
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= 100 {
			params.Limit = l
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if o, err := strconv.Atoi(s); err == nil && o >= 0 {
			params.Offset = o
		}
	}
	return params
}

// username extracts the authenticated actor from the query.
func username(r *http.Request) (string, bool) {
	u := r.URL.Query().Get("username")
	return u, u != ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to HTTP. State conflicts come back as
// 409, bad input as 400, provider failures as 502 with no partial state.
func writeError(w http.ResponseWriter, err error) {
	var (
		notFound     *apperrors.NotFoundError
		invalidState *apperrors.InvalidStateError
		conflict     *apperrors.ConflictError
		forbidden    *apperrors.ForbiddenError
		validation   *apperrors.ValidationError
		precondition *apperrors.PreconditionError
		noPending    *apperrors.NoPendingChangeError
		external     *apperrors.ExternalIntegrationError
	)
	switch {
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalidState), errors.As(err, &conflict), errors.As(err, &noPending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &forbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.As(err, &validation), errors.As(err, &precondition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &external):
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
