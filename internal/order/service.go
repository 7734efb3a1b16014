// Package order owns the service-order machine and its embedded
// pending-change sub-machine. A change can be resolved by an internal
// approver or by the external provider's decision callback; both paths run
// the same resolution logic under the order row lock, so exactly one wins.
package order

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

// externalActor is recorded as the decision actor for webhook-driven
// resolutions.
const externalActor = "external-provider"

// Store is the slice of storage the order service needs. WithOrderUpdate
// runs its callback under the order row lock and rolls back on error.
type Store interface {
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetOrder(ctx context.Context, id int) (*models.ServiceOrder, error)
	GetOffer(ctx context.Context, id int) (*models.Offer, error)
	GetRequest(ctx context.Context, id int) (*models.ServiceRequest, error)
	WithOrderUpdate(ctx context.Context, orderID int, fn func(o *models.ServiceOrder) error) (*models.ServiceOrder, error)
}

// DecisionSender is the outbound provider decision channel. A returned
// error must block the local commit.
type DecisionSender interface {
	SendDecision(ctx context.Context, providerOfferID string, decision models.Decision) error
}

type Service struct {
	store    Store
	provider DecisionSender
	notifier notify.Notifier
	log      *zap.Logger
}

func NewService(store Store, provider DecisionSender, notifier notify.Notifier, log *zap.Logger) *Service {
	return &Service{store: store, provider: provider, notifier: notifier, log: log}
}

// Approve submits a PENDING_RP_APPROVAL order to the external provider.
// The ACCEPTED decision is delivered inside the transaction: if the
// provider call fails, the status change is rolled back. On success the
// order waits in SUBMITTED_TO_PROVIDER for the provider's callback.
func (s *Service) Approve(ctx context.Context, username string, orderID int) (*models.ServiceOrder, error) {
	actor, err := s.requireFinalApprover(ctx, username, "approve order")
	if err != nil {
		return nil, err
	}
	o, err := s.store.WithOrderUpdate(ctx, orderID, func(o *models.ServiceOrder) error {
		if o.Status != models.OrderPendingRPApproval {
			return &apperrors.InvalidStateError{Entity: "order", Current: string(o.Status), Required: string(models.OrderPendingRPApproval)}
		}
		providerOfferID, err := s.providerOfferID(ctx, o.OfferID)
		if err != nil {
			return err
		}
		if err := s.provider.SendDecision(ctx, providerOfferID, models.DecisionAccepted); err != nil {
			return &apperrors.ExternalIntegrationError{Op: "approve order", Err: err}
		}
		now := time.Now().UTC()
		o.Status = models.OrderSubmittedToProvider
		o.ApprovedBy = &actor.Username
		o.ApprovedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyOwner(ctx, o, fmt.Sprintf("Order %d was submitted to the provider", o.ID))
	return o, nil
}

// Reject declines a PENDING_RP_APPROVAL order. The REJECTED decision is
// delivered to the provider before the local commit, all-or-nothing like
// Approve. REJECTED is terminal for the order.
func (s *Service) Reject(ctx context.Context, username string, orderID int, reason string) (*models.ServiceOrder, error) {
	actor, err := s.requireFinalApprover(ctx, username, "reject order")
	if err != nil {
		return nil, err
	}
	o, err := s.store.WithOrderUpdate(ctx, orderID, func(o *models.ServiceOrder) error {
		if o.Status != models.OrderPendingRPApproval {
			return &apperrors.InvalidStateError{Entity: "order", Current: string(o.Status), Required: string(models.OrderPendingRPApproval)}
		}
		providerOfferID, err := s.providerOfferID(ctx, o.OfferID)
		if err != nil {
			return err
		}
		if err := s.provider.SendDecision(ctx, providerOfferID, models.DecisionRejected); err != nil {
			return &apperrors.ExternalIntegrationError{Op: "reject order", Err: err}
		}
		now := time.Now().UTC()
		o.Status = models.OrderRejected
		o.RejectedBy = &actor.Username
		o.RejectedAt = &now
		o.RejectionReason = &reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyOwner(ctx, o, fmt.Sprintf("Order %d was rejected: %s", o.ID, reason))
	return o, nil
}

// SubstitutionInput proposes a replacement specialist.
type SubstitutionInput struct {
	SpecialistName   string    `json:"specialistName"`
	SubstitutionDate time.Time `json:"substitutionDate"`
}

// RequestSubstitution opens a pending SUBSTITUTION change on an APPROVED
// order. Only one change may be pending at a time.
func (s *Service) RequestSubstitution(ctx context.Context, username string, orderID int, in SubstitutionInput) (*models.ServiceOrder, error) {
	actor, err := s.requireRole(ctx, username, "request substitution", models.RoleProjectManager)
	if err != nil {
		return nil, err
	}
	return s.store.WithOrderUpdate(ctx, orderID, func(o *models.ServiceOrder) error {
		if err := s.changeWindowOpen(o); err != nil {
			return err
		}
		name := strings.TrimSpace(in.SpecialistName)
		if name == "" {
			return &apperrors.ValidationError{Msg: "new specialist name is required"}
		}
		if in.SubstitutionDate.Before(o.StartDate) || in.SubstitutionDate.After(o.EndDate) {
			return &apperrors.ValidationError{Msg: "substitution date must fall within the order period"}
		}
		now := time.Now().UTC()
		o.ChangeType = models.ChangeTypeSubstitution
		o.ChangeStatus = models.ChangePending
		o.ProposedSpecialist = &name
		o.ProposedSubstitutionAt = &in.SubstitutionDate
		o.ChangeRequestedBy = &actor.Username
		o.ChangeRequestedAt = &now
		o.ChangeDecidedBy = nil
		o.ChangeDecidedAt = nil
		o.ChangeRejectionReason = nil
		return nil
	})
}

// ExtensionInput proposes a longer engagement. An extension must not shrink
// scope or value.
type ExtensionInput struct {
	NewEndDate       time.Time `json:"newEndDate"`
	NewManDays       int       `json:"newManDays"`
	NewContractValue float64   `json:"newContractValue"`
}

// RequestExtension opens a pending EXTENSION change on an APPROVED order.
func (s *Service) RequestExtension(ctx context.Context, username string, orderID int, in ExtensionInput) (*models.ServiceOrder, error) {
	actor, err := s.requireRole(ctx, username, "request extension", models.RoleProjectManager)
	if err != nil {
		return nil, err
	}
	return s.store.WithOrderUpdate(ctx, orderID, func(o *models.ServiceOrder) error {
		if err := s.changeWindowOpen(o); err != nil {
			return err
		}
		if !in.NewEndDate.After(o.EndDate) {
			return &apperrors.ValidationError{Msg: "newEndDate must be after the current end date"}
		}
		if in.NewManDays < o.ManDays {
			return &apperrors.ValidationError{Msg: "newManDays must not be below the current man days"}
		}
		if in.NewContractValue < o.ContractValue {
			return &apperrors.ValidationError{Msg: "newContractValue must not be below the current contract value"}
		}
		now := time.Now().UTC()
		o.ChangeType = models.ChangeTypeExtension
		o.ChangeStatus = models.ChangePending
		o.ProposedEndDate = &in.NewEndDate
		o.ProposedManDays = &in.NewManDays
		o.ProposedContractValue = &in.NewContractValue
		o.ChangeRequestedBy = &actor.Username
		o.ChangeRequestedAt = &now
		o.ChangeDecidedBy = nil
		o.ChangeDecidedAt = nil
		o.ChangeRejectionReason = nil
		return nil
	})
}

// ApproveChange resolves the pending change by an internal approver.
func (s *Service) ApproveChange(ctx context.Context, username string, orderID int) (*models.ServiceOrder, error) {
	actor, err := s.requireFinalApprover(ctx, username, "approve change")
	if err != nil {
		return nil, err
	}
	return s.resolveChange(ctx, orderID, actor.Username, true, "")
}

// RejectChange resolves the pending change negatively by an internal
// approver.
func (s *Service) RejectChange(ctx context.Context, username string, orderID int, reason string) (*models.ServiceOrder, error) {
	actor, err := s.requireFinalApprover(ctx, username, "reject change")
	if err != nil {
		return nil, err
	}
	return s.resolveChange(ctx, orderID, actor.Username, false, reason)
}

// DecisionScope selects what an external decision applies to.
type DecisionScope string

const (
	ScopeOrder  DecisionScope = "ORDER"
	ScopeChange DecisionScope = "CHANGE"
)

// ApplyExternalDecision handles the provider's asynchronous callback. For
// ORDER scope it resolves SUBMITTED_TO_PROVIDER into APPROVED or REJECTED;
// for CHANGE scope it runs the same resolution as ApproveChange/
// RejectChange. A duplicate delivery after resolution fails with
// NoPendingChangeError (change) or InvalidStateError (order) and mutates
// nothing.
func (s *Service) ApplyExternalDecision(ctx context.Context, orderID int, scope DecisionScope, decision models.Decision, reason string) (*models.ServiceOrder, error) {
	switch scope {
	case ScopeOrder:
		o, err := s.store.WithOrderUpdate(ctx, orderID, func(o *models.ServiceOrder) error {
			if o.Status != models.OrderSubmittedToProvider {
				return &apperrors.InvalidStateError{Entity: "order", Current: string(o.Status), Required: string(models.OrderSubmittedToProvider)}
			}
			now := time.Now().UTC()
			if decision == models.DecisionAccepted {
				o.Status = models.OrderApproved
				return nil
			}
			o.Status = models.OrderRejected
			actor := externalActor
			o.RejectedBy = &actor
			o.RejectedAt = &now
			if reason != "" {
				o.RejectionReason = &reason
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		s.notifyOwner(ctx, o, fmt.Sprintf("Order %d was %s by the provider", o.ID, strings.ToLower(string(o.Status))))
		return o, nil
	case ScopeChange:
		return s.resolveChange(ctx, orderID, externalActor, decision == models.DecisionAccepted, reason)
	}
	return nil, &apperrors.ValidationError{Msg: fmt.Sprintf("unknown decision scope %q", scope)}
}

func (s *Service) Get(ctx context.Context, id int) (*models.ServiceOrder, error) {
	return s.store.GetOrder(ctx, id)
}

// resolveChange is the single resolution path shared by internal approval
// and the external callback. On acceptance the proposed values become the
// order's live values; either way the proposal payload is nulled so a stale
// PENDING re-check cannot reapply it, while the decision metadata stays.
func (s *Service) resolveChange(ctx context.Context, orderID int, decidedBy string, accept bool, reason string) (*models.ServiceOrder, error) {
	o, err := s.store.WithOrderUpdate(ctx, orderID, func(o *models.ServiceOrder) error {
		if !o.HasPendingChange() {
			return &apperrors.NoPendingChangeError{OrderID: orderID}
		}
		now := time.Now().UTC()
		if accept {
			switch o.ChangeType {
			case models.ChangeTypeSubstitution:
				if o.ProposedSpecialist != nil {
					o.SpecialistName = *o.ProposedSpecialist
				}
			case models.ChangeTypeExtension:
				if o.ProposedEndDate != nil {
					o.EndDate = *o.ProposedEndDate
				}
				if o.ProposedManDays != nil {
					o.ManDays = *o.ProposedManDays
				}
				if o.ProposedContractValue != nil {
					o.ContractValue = *o.ProposedContractValue
				}
			}
			o.ChangeStatus = models.ChangeApproved
		} else {
			o.ChangeStatus = models.ChangeRejected
			if reason != "" {
				o.ChangeRejectionReason = &reason
			}
		}
		o.ChangeDecidedBy = &decidedBy
		o.ChangeDecidedAt = &now

		o.ProposedSpecialist = nil
		o.ProposedSubstitutionAt = nil
		o.ProposedEndDate = nil
		o.ProposedManDays = nil
		o.ProposedContractValue = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("pending change resolved",
		zap.Int("orderId", o.ID),
		zap.String("type", string(o.ChangeType)),
		zap.String("status", string(o.ChangeStatus)),
		zap.String("decidedBy", decidedBy))
	if o.ChangeRequestedBy != nil {
		verdict := "approved"
		if o.ChangeStatus == models.ChangeRejected {
			verdict = "rejected"
		}
		s.notifier.Notify(ctx, *o.ChangeRequestedBy,
			fmt.Sprintf("%s request on order %d was %s", strings.ToLower(string(o.ChangeType)), o.ID, verdict))
	}
	return o, nil
}

// changeWindowOpen checks that the order accepts new change requests.
func (s *Service) changeWindowOpen(o *models.ServiceOrder) error {
	if o.Status != models.OrderApproved {
		return &apperrors.InvalidStateError{Entity: "order", Current: string(o.Status), Required: string(models.OrderApproved)}
	}
	if o.HasPendingChange() {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("order %d already has a pending %s change", o.ID, o.ChangeType)}
	}
	return nil
}

// providerOfferID loads the provider-facing identifier of the order's
// offer; without one no decision can be addressed to the provider.
func (s *Service) providerOfferID(ctx context.Context, offerID int) (string, error) {
	offer, err := s.store.GetOffer(ctx, offerID)
	if err != nil {
		return "", err
	}
	if offer.ProviderOfferID == nil || strings.TrimSpace(*offer.ProviderOfferID) == "" {
		return "", &apperrors.PreconditionError{Msg: fmt.Sprintf("offer %d has no provider offer id", offerID)}
	}
	return *offer.ProviderOfferID, nil
}

// requireFinalApprover gates the operations reserved for the "final
// approver" capability.
func (s *Service) requireFinalApprover(ctx context.Context, username, operation string) (*models.User, error) {
	return s.requireRole(ctx, username, operation, models.RoleResourcePartner)
}

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

// notifyOwner tells the request owner about an order-level event.
func (s *Service) notifyOwner(ctx context.Context, o *models.ServiceOrder, text string) {
	r, err := s.store.GetRequest(ctx, o.RequestID)
	if err != nil {
		s.log.Warn("owner lookup for notification failed", zap.Int("orderId", o.ID), zap.Error(err))
		return
	}
	s.notifier.Notify(ctx, r.OwnerUsername, text)
}
