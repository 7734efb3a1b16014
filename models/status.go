// Package models defines the procurement entities and their status graphs.
//
// Request status graph:
//
//	DRAFT ──► IN_REVIEW ──► APPROVED_FOR_BIDDING ──► BIDDING ──► EVALUATION ──► ORDERED ──► COMPLETED
//	    │          │                  │                 │  │
//	    │          │                  │                 │  └──► EXPIRED
//	    └──────────┴──────────────────┴─────────────────┴──► REJECTED / CANCELLED
//
// REJECTED, ORDERED, CANCELLED, COMPLETED and EXPIRED are terminal for
// request mutation: they cannot be rejected or cancelled and accept no
// offers. ORDERED keeps the single tabled exit to COMPLETED once the order
// runs its course.
package models

import "fmt"

// RequestStatus values mirror the request_status enum in PostgreSQL.
type RequestStatus string

const (
	RequestDraft              RequestStatus = "DRAFT"
	RequestInReview           RequestStatus = "IN_REVIEW"
	RequestApprovedForBidding RequestStatus = "APPROVED_FOR_BIDDING"
	RequestBidding            RequestStatus = "BIDDING"
	RequestEvaluation         RequestStatus = "EVALUATION"
	RequestOrdered            RequestStatus = "ORDERED"
	RequestRejected           RequestStatus = "REJECTED"
	RequestCancelled          RequestStatus = "CANCELLED"
	RequestExpired            RequestStatus = "EXPIRED"
	RequestCompleted          RequestStatus = "COMPLETED"
)

// requestTransitions lists every allowed (from → to) pair. CANCELLED and
// REJECTED are reachable from any non-terminal state and are handled by
// IsRequestTransitionAllowed directly.
var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestDraft:              {RequestInReview},
	RequestInReview:           {RequestApprovedForBidding},
	RequestApprovedForBidding: {RequestBidding},
	RequestBidding:            {RequestEvaluation, RequestExpired},
	RequestEvaluation:         {RequestOrdered},
	RequestOrdered:            {RequestCompleted},
	// the remaining terminal states have no outgoing transitions
}

// ParseRequestStatus converts a raw string to a RequestStatus, rejecting
// unknown values.
func ParseRequestStatus(s string) (RequestStatus, error) {
	st := RequestStatus(s)
	switch st {
	case RequestDraft, RequestInReview, RequestApprovedForBidding, RequestBidding,
		RequestEvaluation, RequestOrdered, RequestRejected, RequestCancelled,
		RequestExpired, RequestCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown request status %q", s)
}

// IsRequestTerminal reports whether the request no longer accepts workflow
// mutation: no rejection, no cancellation, no offers. A tabled transition
// out of a terminal state (ORDERED to COMPLETED) is still permitted.
func (s RequestStatus) IsRequestTerminal() bool {
	switch s {
	case RequestRejected, RequestCancelled, RequestExpired, RequestCompleted, RequestOrdered:
		return true
	}
	return false
}

// IsRequestTransitionAllowed returns true when moving from → to is permitted
// by the state machine. Tabled transitions win; beyond those, any
// non-terminal state may move to REJECTED or CANCELLED.
func IsRequestTransitionAllowed(from, to RequestStatus) bool {
	for _, s := range requestTransitions[from] {
		if s == to {
			return true
		}
	}
	if from.IsRequestTerminal() {
		return false
	}
	return to == RequestRejected || to == RequestCancelled
}

// AllowsOfferIntake reports whether offers may still be attached: the intake
// window covers DRAFT and BIDDING, plus APPROVED_FOR_BIDDING where the first
// offer auto-promotes the request to BIDDING.
func (s RequestStatus) AllowsOfferIntake() bool {
	switch s {
	case RequestDraft, RequestBidding, RequestApprovedForBidding:
		return true
	}
	return false
}

// RequestType of staffing need.
type RequestType string

const (
	RequestTypeSingle RequestType = "SINGLE"
	RequestTypeMulti  RequestType = "MULTI"
	RequestTypeTeam   RequestType = "TEAM"
)

func ParseRequestType(s string) (RequestType, error) {
	t := RequestType(s)
	switch t {
	case RequestTypeSingle, RequestTypeMulti, RequestTypeTeam:
		return t, nil
	}
	return "", fmt.Errorf("unknown request type %q", s)
}

// OrderStatus graph: PENDING_RP_APPROVAL → SUBMITTED_TO_PROVIDER → APPROVED | REJECTED.
// RP approval submits the order to the external provider; the provider's
// asynchronous decision callback resolves SUBMITTED_TO_PROVIDER. REJECTED is
// terminal for the order.
type OrderStatus string

const (
	OrderPendingRPApproval   OrderStatus = "PENDING_RP_APPROVAL"
	OrderSubmittedToProvider OrderStatus = "SUBMITTED_TO_PROVIDER"
	OrderApproved            OrderStatus = "APPROVED"
	OrderRejected            OrderStatus = "REJECTED"
)

// ChangeType of a post-order change request.
type ChangeType string

const (
	ChangeTypeNone         ChangeType = "NONE"
	ChangeTypeSubstitution ChangeType = "SUBSTITUTION"
	ChangeTypeExtension    ChangeType = "EXTENSION"
)

// ChangeStatus of the pending-change sub-machine.
type ChangeStatus string

const (
	ChangeNone     ChangeStatus = "NONE"
	ChangePending  ChangeStatus = "PENDING"
	ChangeApproved ChangeStatus = "APPROVED"
	ChangeRejected ChangeStatus = "REJECTED"
)

// Role of an authenticated actor.
type Role string

const (
	RoleProjectManager         Role = "PROJECT_MANAGER"
	RoleResourcePartner        Role = "RESOURCE_PARTNER"
	RoleAdmin                  Role = "ADMIN"
	RoleSupplierRepresentative Role = "SUPPLIER_REPRESENTATIVE"
)

// Decision sent to or received from the external provider system.
type Decision string

const (
	DecisionSubmitted Decision = "SUBMITTED"
	DecisionAccepted  Decision = "ACCEPTED"
	DecisionRejected  Decision = "REJECTED"
)

func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	switch d {
	case DecisionSubmitted, DecisionAccepted, DecisionRejected:
		return d, nil
	}
	// The external system spells acceptance of a change APPROVED in some
	// payload versions; normalize it.
	if s == "APPROVED" {
		return DecisionAccepted, nil
	}
	return "", fmt.Errorf("unknown decision %q", s)
}
