// Package testutil provides an in-memory store implementing the service
// storage interfaces with the same invariants as the SQL layer: offer
// intake window and expiry re-check run under one lock.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"procurement/internal/apperrors"
	"procurement/models"
)

type MemStore struct {
	mu       sync.Mutex
	nextID   int
	Users    map[string]*models.User
	Requests map[int]*models.ServiceRequest
	Offers   map[int]*models.Offer
	Orders   map[int]*models.ServiceOrder
	Evals    map[int][]models.OfferEvaluation
}

func NewMemStore() *MemStore {
	return &MemStore{
		Users:    map[string]*models.User{},
		Requests: map[int]*models.ServiceRequest{},
		Offers:   map[int]*models.Offer{},
		Orders:   map[int]*models.ServiceOrder{},
		Evals:    map[int][]models.OfferEvaluation{},
	}
}

// SeedUser registers a user under the given role.
func (m *MemStore) SeedUser(username string, role models.Role) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &models.User{ID: m.nextID, Username: username, Role: role, CreatedAt: time.Now()}
	m.Users[username] = u
	return u
}

func (m *MemStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.Users[username]
	if !ok {
		return nil, &apperrors.NotFoundError{Entity: "user", ID: username}
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = time.Now()
	cp := *r
	m.Requests[r.ID] = &cp
	return nil
}

func (m *MemStore) GetRequest(ctx context.Context, id int) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRequestLocked(id)
}

func (m *MemStore) getRequestLocked(id int) (*models.ServiceRequest, error) {
	r, ok := m.Requests[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Entity: "request", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (m *MemStore) UpdateRequest(ctx context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Requests[r.ID]; !ok {
		return &apperrors.NotFoundError{Entity: "request", ID: r.ID}
	}
	cp := *r
	m.Requests[r.ID] = &cp
	return nil
}

func (m *MemStore) ListRequests(ctx context.Context, statuses []models.RequestStatus, limit, offset int) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ServiceRequest{}
	for _, r := range m.Requests {
		if len(statuses) > 0 && !containsStatus(statuses, r.Status) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), nil
}

func (m *MemStore) GetUserRequests(ctx context.Context, username string, limit, offset int) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ServiceRequest{}
	for _, r := range m.Requests {
		if r.OwnerUsername == username {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, limit, offset), nil
}

func (m *MemStore) AddOffer(ctx context.Context, o *models.Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Requests[o.RequestID]
	if !ok {
		return &apperrors.NotFoundError{Entity: "request", ID: o.RequestID}
	}
	if !r.Status.AllowsOfferIntake() {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("request %d is %s, offers accepted only in DRAFT or BIDDING", r.ID, r.Status)}
	}
	if r.Status == models.RequestBidding && !r.BiddingActive {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("bidding window for request %d is closed", r.ID)}
	}
	if r.MaxOffers > 0 && m.countOffersLocked(o.RequestID) >= r.MaxOffers {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("request %d already holds its maximum of %d offers", r.ID, r.MaxOffers)}
	}
	if o.TotalCost <= 0 {
		o.TotalCost = o.EffectiveTotalCost()
	}
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	cp := *o
	m.Offers[o.ID] = &cp
	if r.Status == models.RequestApprovedForBidding {
		r.Status = models.RequestBidding
	}
	return nil
}

func (m *MemStore) GetOffer(ctx context.Context, id int) (*models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Offers[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Entity: "offer", ID: id}
	}
	cp := *o
	return &cp, nil
}

func (m *MemStore) ListOffersForRequest(ctx context.Context, requestID int) ([]models.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Offer{}
	for _, o := range m.Offers {
		if o.RequestID == requestID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) countOffersLocked(requestID int) int {
	n := 0
	for _, o := range m.Offers {
		if o.RequestID == requestID {
			n++
		}
	}
	return n
}

func (m *MemStore) CreateOrder(ctx context.Context, o *models.ServiceOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Requests[o.RequestID]
	if !ok {
		return &apperrors.NotFoundError{Entity: "request", ID: o.RequestID}
	}
	if r.Status != models.RequestEvaluation {
		return &apperrors.InvalidStateError{Entity: "request", Current: string(r.Status), Required: string(models.RequestEvaluation)}
	}
	m.nextID++
	o.ID = m.nextID
	o.CreatedAt = time.Now()
	cp := *o
	m.Orders[o.ID] = &cp
	r.Status = models.RequestOrdered
	return nil
}

func (m *MemStore) GetOrder(ctx context.Context, id int) (*models.ServiceOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Orders[id]
	if !ok {
		return nil, &apperrors.NotFoundError{Entity: "order", ID: id}
	}
	cp := *o
	return &cp, nil
}

func (m *MemStore) WithOrderUpdate(ctx context.Context, orderID int, fn func(o *models.ServiceOrder) error) (*models.ServiceOrder, error) {
	m.mu.Lock()
	stored, ok := m.Orders[orderID]
	if !ok {
		m.mu.Unlock()
		return nil, &apperrors.NotFoundError{Entity: "order", ID: orderID}
	}
	cp := *stored
	// Release the lock while fn runs: like the SQL store, which only row-locks
	// the order, the callback may read other entities through the store.
	m.mu.Unlock()
	if err := fn(&cp); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Orders[orderID] = &cp
	m.mu.Unlock()
	out := cp
	return &out, nil
}

func (m *MemStore) FindExpiredBiddingIDs(ctx context.Context, now time.Time) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int{}
	for _, r := range m.Requests {
		if r.BiddingActive && r.BiddingEndAt != nil && r.BiddingEndAt.Before(now) {
			ids = append(ids, r.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func (m *MemStore) ExpireBidding(ctx context.Context, requestID int, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Requests[requestID]
	if !ok {
		return false, &apperrors.NotFoundError{Entity: "request", ID: requestID}
	}
	if !r.BiddingActive || r.BiddingEndAt == nil || r.BiddingEndAt.After(now) {
		return false, nil
	}
	r.BiddingActive = false
	if m.countOffersLocked(requestID) == 0 {
		r.Status = models.RequestExpired
		return true, nil
	}
	return false, nil
}

func (m *MemStore) ReplaceEvaluations(ctx context.Context, requestID int, evals []models.OfferEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Requests[requestID]; !ok {
		return &apperrors.NotFoundError{Entity: "request", ID: requestID}
	}
	cp := make([]models.OfferEvaluation, len(evals))
	copy(cp, evals)
	m.Evals[requestID] = cp
	return nil
}

func (m *MemStore) ListEvaluationsForRequest(ctx context.Context, requestID int) ([]models.OfferEvaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.OfferEvaluation, len(m.Evals[requestID]))
	copy(out, m.Evals[requestID])
	return out, nil
}

func containsStatus(set []models.RequestStatus, s models.RequestStatus) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
