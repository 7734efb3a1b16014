// Package request owns the service-request lifecycle: review, bidding,
// offer intake, preferred-offer selection and order creation.
package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"procurement/internal/apperrors"
	"procurement/internal/notify"
	"procurement/models"
)

// Store is the slice of storage the request service needs. AddOffer,
// CreateOrder and ExpireBidding enforce their invariants under a request
// row lock.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	CreateRequest(ctx context.Context, r *models.ServiceRequest) error
	GetRequest(ctx context.Context, id int) (*models.ServiceRequest, error)
	UpdateRequest(ctx context.Context, r *models.ServiceRequest) error
	ListRequests(ctx context.Context, statuses []models.RequestStatus, limit, offset int) ([]models.ServiceRequest, error)
	GetUserRequests(ctx context.Context, username string, limit, offset int) ([]models.ServiceRequest, error)

	AddOffer(ctx context.Context, o *models.Offer) error
	GetOffer(ctx context.Context, id int) (*models.Offer, error)
	ListOffersForRequest(ctx context.Context, requestID int) ([]models.Offer, error)

	CreateOrder(ctx context.Context, o *models.ServiceOrder) error

	FindExpiredBiddingIDs(ctx context.Context, now time.Time) ([]int, error)
	ExpireBidding(ctx context.Context, requestID int, now time.Time) (bool, error)
}

type Service struct {
	store    Store
	notifier notify.Notifier
	log      *zap.Logger
}

func NewService(store Store, notifier notify.Notifier, log *zap.Logger) *Service {
	return &Service{store: store, notifier: notifier, log: log}
}

// CreateInput carries the editable fields of a new request.
type CreateInput struct {
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Type              string     `json:"type"`
	StartDate         time.Time  `json:"startDate"`
	EndDate           time.Time  `json:"endDate"`
	ManDays           int        `json:"manDays"`
	BiddingEndAt      *time.Time `json:"biddingEndAt,omitempty"`
	MaxOffers         int        `json:"maxOffers"`
	MaxAcceptedOffers int        `json:"maxAcceptedOffers"`
}

// Create raises a new request in DRAFT.
func (s *Service) Create(ctx context.Context, username string, in CreateInput) (*models.ServiceRequest, error) {
	actor, err := s.requireRole(ctx, username, "create request", models.RoleProjectManager)
	if err != nil {
		return nil, err
	}

	reqType, err := models.ParseRequestType(in.Type)
	if err != nil {
		return nil, &apperrors.ValidationError{Msg: err.Error()}
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, &apperrors.ValidationError{Msg: "title is required"}
	}
	if !in.EndDate.After(in.StartDate) {
		return nil, &apperrors.ValidationError{Msg: "endDate must be after startDate"}
	}
	if in.ManDays <= 0 {
		return nil, &apperrors.ValidationError{Msg: "manDays must be positive"}
	}
	if in.MaxOffers < 0 || in.MaxAcceptedOffers < 0 {
		return nil, &apperrors.ValidationError{Msg: "offer caps must not be negative"}
	}

	r := &models.ServiceRequest{
		Title:             strings.TrimSpace(in.Title),
		Description:       in.Description,
		Type:              reqType,
		Status:            models.RequestDraft,
		OwnerUsername:     actor.Username,
		StartDate:         in.StartDate,
		EndDate:           in.EndDate,
		ManDays:           in.ManDays,
		BiddingEndAt:      in.BiddingEndAt,
		MaxOffers:         in.MaxOffers,
		MaxAcceptedOffers: in.MaxAcceptedOffers,
	}
	if err := s.store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("request created", zap.Int("requestId", r.ID), zap.String("owner", actor.Username))
	return r, nil
}

// SubmitForReview moves a DRAFT request into review.
func (s *Service) SubmitForReview(ctx context.Context, username string, id int) (*models.ServiceRequest, error) {
	if _, err := s.requireRole(ctx, username, "submit request", models.RoleProjectManager); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, models.RequestDraft, models.RequestInReview, nil)
}

// ApproveForBidding opens the bidding window on a reviewed request.
func (s *Service) ApproveForBidding(ctx context.Context, username string, id int) (*models.ServiceRequest, error) {
	if _, err := s.requireRole(ctx, username, "approve request for bidding", models.RoleResourcePartner); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, models.RequestInReview, models.RequestApprovedForBidding, func(r *models.ServiceRequest) {
		r.BiddingActive = true
	})
}

// Reject moves any non-terminal request to REJECTED and notifies the owner.
func (s *Service) Reject(ctx context.Context, username string, id int, reason string) (*models.ServiceRequest, error) {
	if _, err := s.requireRole(ctx, username, "reject request", models.RoleResourcePartner); err != nil {
		return nil, err
	}
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status.IsRequestTerminal() {
		return nil, &apperrors.InvalidStateError{Entity: "request", Current: string(r.Status), Required: "any non-terminal status"}
	}
	r.Status = models.RequestRejected
	r.BiddingActive = false
	r.RejectionReason = &reason
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, r.OwnerUsername, fmt.Sprintf("Request %d was rejected: %s", r.ID, reason))
	return r, nil
}

// Cancel moves any non-terminal request to CANCELLED. Only the owner or an
// admin may cancel.
func (s *Service) Cancel(ctx context.Context, username string, id int) (*models.ServiceRequest, error) {
	actor, err := s.requireRole(ctx, username, "cancel request", models.RoleProjectManager)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && r.OwnerUsername != actor.Username {
		return nil, &apperrors.ForbiddenError{Username: username, Operation: "cancel request"}
	}
	if r.Status.IsRequestTerminal() {
		return nil, &apperrors.InvalidStateError{Entity: "request", Current: string(r.Status), Required: "any non-terminal status"}
	}
	r.Status = models.RequestCancelled
	r.BiddingActive = false
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// OfferInput carries a supplier's bid against a request.
type OfferInput struct {
	SpecialistName  string  `json:"specialistName"`
	DailyRate       float64 `json:"dailyRate"`
	TravelCost      float64 `json:"travelCost"`
	TotalCost       float64 `json:"totalCost"`
	MustHaveMatch   bool    `json:"mustHaveMatch"`
	NiceToHaveMatch bool    `json:"niceToHaveMatch"`
	LanguageMatch   bool    `json:"languageMatch"`
	ContractType    string  `json:"contractType"`
	ProviderOfferID *string `json:"providerOfferId,omitempty"`
}

// AddOffer attaches an offer while the intake window is open (DRAFT or
// BIDDING; the first offer promotes APPROVED_FOR_BIDDING to BIDDING).
func (s *Service) AddOffer(ctx context.Context, username string, requestID int, in OfferInput) (*models.Offer, error) {
	actor, err := s.requireRole(ctx, username, "submit offer", models.RoleSupplierRepresentative)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.SpecialistName) == "" {
		return nil, &apperrors.ValidationError{Msg: "specialistName is required"}
	}

	o := &models.Offer{
		RequestID:       requestID,
		SpecialistName:  strings.TrimSpace(in.SpecialistName),
		DailyRate:       in.DailyRate,
		TravelCost:      in.TravelCost,
		TotalCost:       in.TotalCost,
		MustHaveMatch:   in.MustHaveMatch,
		NiceToHaveMatch: in.NiceToHaveMatch,
		LanguageMatch:   in.LanguageMatch,
		ContractType:    in.ContractType,
		ProviderOfferID: in.ProviderOfferID,
		CreatorUsername: actor.Username,
	}
	if err := s.store.AddOffer(ctx, o); err != nil {
		return nil, err
	}
	s.log.Info("offer added", zap.Int("requestId", requestID), zap.Int("offerId", o.ID))
	return o, nil
}

// SelectPreferredOffer records the chosen offer and moves the request to
// EVALUATION. Re-selection while already in EVALUATION is allowed.
func (s *Service) SelectPreferredOffer(ctx context.Context, username string, requestID, offerID int) (*models.ServiceRequest, error) {
	if _, err := s.requireRole(ctx, username, "select preferred offer", models.RoleResourcePartner); err != nil {
		return nil, err
	}
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RequestBidding && r.Status != models.RequestEvaluation {
		return nil, &apperrors.InvalidStateError{Entity: "request", Current: string(r.Status), Required: string(models.RequestBidding)}
	}
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.RequestID != requestID {
		return nil, &apperrors.ValidationError{Msg: fmt.Sprintf("offer %d does not belong to request %d", offerID, requestID)}
	}
	r.PreferredOfferID = &offerID
	r.Status = models.RequestEvaluation
	r.BiddingActive = false
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// CreateOrderFromOffer materializes an order from the offer's parent
// request, which moves to ORDERED. The order starts its own machine in
// PENDING_RP_APPROVAL.
func (s *Service) CreateOrderFromOffer(ctx context.Context, username string, offerID int) (*models.ServiceOrder, error) {
	actor, err := s.requireRole(ctx, username, "create order", models.RoleResourcePartner)
	if err != nil {
		return nil, err
	}
	o, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.GetRequest(ctx, o.RequestID)
	if err != nil {
		return nil, err
	}

	order := &models.ServiceOrder{
		RequestID:      r.ID,
		OfferID:        o.ID,
		Status:         models.OrderPendingRPApproval,
		SpecialistName: o.SpecialistName,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		ManDays:        r.ManDays,
		ContractValue:  o.DailyRate*float64(r.ManDays) + o.TravelCost,
		ChangeType:     models.ChangeTypeNone,
		ChangeStatus:   models.ChangeNone,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	s.log.Info("order created",
		zap.Int("orderId", order.ID),
		zap.Int("requestId", r.ID),
		zap.Int("offerId", o.ID),
		zap.String("by", actor.Username))
	s.notifier.Notify(ctx, r.OwnerUsername, fmt.Sprintf("Order %d was created for request %d", order.ID, r.ID))
	return order, nil
}

// ExpireDueBidding deactivates every bidding window whose deadline has
// passed. Requests without a single offer move to EXPIRED; the rest keep
// their status for manual evaluation. Safe to run repeatedly and
// concurrently with offer intake. Returns the number of expired requests.
func (s *Service) ExpireDueBidding(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.store.FindExpiredBiddingIDs(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		didExpire, err := s.store.ExpireBidding(ctx, id, now)
		if err != nil {
			s.log.Warn("bidding expiry failed", zap.Int("requestId", id), zap.Error(err))
			continue
		}
		if didExpire {
			expired++
			if r, err := s.store.GetRequest(ctx, id); err == nil {
				s.notifier.Notify(ctx, r.OwnerUsername, fmt.Sprintf("Request %d expired without offers", id))
			}
		}
	}
	if len(ids) > 0 {
		s.log.Info("bidding expiry sweep", zap.Int("candidates", len(ids)), zap.Int("expired", expired))
	}
	return expired, nil
}

// Read passthroughs.

func (s *Service) Get(ctx context.Context, id int) (*models.ServiceRequest, error) {
	return s.store.GetRequest(ctx, id)
}

func (s *Service) List(ctx context.Context, statuses []models.RequestStatus, limit, offset int) ([]models.ServiceRequest, error) {
	return s.store.ListRequests(ctx, statuses, limit, offset)
}

func (s *Service) ListByOwner(ctx context.Context, username string, limit, offset int) ([]models.ServiceRequest, error) {
	return s.store.GetUserRequests(ctx, username, limit, offset)
}

func (s *Service) ListOffers(ctx context.Context, requestID int) ([]models.Offer, error) {
	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListOffersForRequest(ctx, requestID)
}

// transition performs a single from → to status move, failing with
// InvalidStateError naming the required status.
func (s *Service) transition(ctx context.Context, id int, from, to models.RequestStatus, mutate func(*models.ServiceRequest)) (*models.ServiceRequest, error) {
	r, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != from {
		return nil, &apperrors.InvalidStateError{Entity: "request", Current: string(r.Status), Required: string(from)}
	}
	r.Status = to
	if mutate != nil {
		mutate(r)
	}
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// requireRole resolves the actor and checks it holds the wanted role.
// ADMIN passes every gate.
func (s *Service) requireRole(ctx context.Context, username, operation string, role models.Role) (*models.User, error) {
	actor, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if actor.Role != role && actor.Role != models.RoleAdmin {
		return nil, &apperrors.ForbiddenError{Username: username, Operation: operation}
	}
	return actor, nil
}
