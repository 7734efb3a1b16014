package evaluation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"procurement/internal/apperrors"
	"procurement/models"
)

// Store is the slice of storage the evaluation service needs.
// ReplaceEvaluations must swap the full set atomically under a
// request-scoped lock.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetRequest(ctx context.Context, id int) (*models.ServiceRequest, error)
	ListOffersForRequest(ctx context.Context, requestID int) ([]models.Offer, error)
	ReplaceEvaluations(ctx context.Context, requestID int, evals []models.OfferEvaluation) error
	ListEvaluationsForRequest(ctx context.Context, requestID int) ([]models.OfferEvaluation, error)
}

// Service runs the engine against stored offers and persists the result.
type Service struct {
	store Store
	log   *zap.Logger
}

func NewService(store Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// Run recomputes the evaluation set for a request. The previous set is
// fully replaced; re-running on unchanged offers yields an identical set.
func (s *Service) Run(ctx context.Context, username string, requestID int) ([]models.OfferEvaluation, error) {
	actor, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleResourcePartner && actor.Role != models.RoleAdmin {
		return nil, &apperrors.ForbiddenError{Username: username, Operation: "evaluate offers"}
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestBidding && req.Status != models.RequestEvaluation {
		return nil, &apperrors.InvalidStateError{
			Entity:   "request",
			Current:  string(req.Status),
			Required: string(models.RequestBidding),
		}
	}

	offers, err := s.store.ListOffersForRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	evals := Evaluate(req, offers, time.Now().UTC())
	if err := s.store.ReplaceEvaluations(ctx, requestID, evals); err != nil {
		return nil, err
	}

	s.log.Info("evaluation run complete",
		zap.Int("requestId", requestID),
		zap.Int("offers", len(offers)),
		zap.Int("eligible", countEligible(evals)))
	return evals, nil
}

// List returns the persisted ranked set from the last run.
func (s *Service) List(ctx context.Context, requestID int) ([]models.OfferEvaluation, error) {
	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListEvaluationsForRequest(ctx, requestID)
}

func countEligible(evals []models.OfferEvaluation) int {
	n := 0
	for _, e := range evals {
		if e.Eligible {
			n++
		}
	}
	return n
}
