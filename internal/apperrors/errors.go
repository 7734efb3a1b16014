// Package apperrors defines the typed errors shared by the core services.
// All of them are recovered at the operation boundary and mapped to HTTP
// responses by the handlers; nothing is retried inside the core.
package apperrors

import "fmt"

// NotFoundError signals a missing request, offer, order or user.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// InvalidStateError signals an illegal transition given the current status.
// Required names the status the operation needs.
type InvalidStateError struct {
	Entity   string
	Current  string
	Required string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is %s, operation requires %s", e.Entity, e.Current, e.Required)
}

// ConflictError signals an operation outside its permitted window, e.g.
// adding an offer once the request has left DRAFT/BIDDING.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// ForbiddenError signals a role or ownership mismatch.
type ForbiddenError struct {
	Username  string
	Operation string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %s is not allowed to %s", e.Username, e.Operation)
}

// ValidationError signals missing or out-of-range input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// PreconditionError signals missing required linkage, e.g. an offer without
// a provider-facing identifier.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }

// NoPendingChangeError signals a change resolution attempted with nothing
// pending. Duplicate webhook deliveries land here.
type NoPendingChangeError struct {
	OrderID int
}

func (e *NoPendingChangeError) Error() string {
	return fmt.Sprintf("order %d has no pending change", e.OrderID)
}

// ExternalIntegrationError signals a failed outbound provider call. The
// local state change it was guarding must not have been committed.
type ExternalIntegrationError struct {
	Op  string
	Err error
}

func (e *ExternalIntegrationError) Error() string {
	return fmt.Sprintf("provider call %s failed: %v", e.Op, e.Err)
}

func (e *ExternalIntegrationError) Unwrap() error { return e.Err }
