package db

import (
	"context"
	"database/sql"
	"errors"

	"procurement/internal/apperrors"
	"procurement/models"
)

// CreateOrder inserts the order and moves the parent request to ORDERED in
// one transaction. The request must currently be in EVALUATION.
func (s *Storage) CreateOrder(ctx context.Context, o *models.ServiceOrder) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	r := &models.ServiceRequest{}
	err = tx.GetContext(ctx, r, `SELECT * FROM service_request WHERE id=$1 FOR UPDATE`, o.RequestID)
	if errors.Is(err, sql.ErrNoRows) {
		return &apperrors.NotFoundError{Entity: "request", ID: o.RequestID}
	}
	if err != nil {
		return err
	}
	if r.Status != models.RequestEvaluation {
		return &apperrors.InvalidStateError{
			Entity:   "request",
			Current:  string(r.Status),
			Required: string(models.RequestEvaluation),
		}
	}

	query := `
        INSERT INTO service_order
            (request_id, offer_id, status, specialist_name, start_date, end_date,
             man_days, contract_value, change_type, change_status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		o.RequestID, o.OfferID, o.Status, o.SpecialistName, o.StartDate, o.EndDate,
		o.ManDays, o.ContractValue, o.ChangeType, o.ChangeStatus).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE service_request SET status=$1, updated_at=NOW() WHERE id=$2`,
		models.RequestOrdered, o.RequestID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Storage) GetOrder(ctx context.Context, id int) (*models.ServiceOrder, error) {
	o := &models.ServiceOrder{}
	query := `SELECT * FROM service_order WHERE id=$1`
	err := s.db.GetContext(ctx, o, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Entity: "order", ID: id}
	}
	return o, err
}

// WithOrderUpdate loads the order under a row lock, runs fn against it and
// persists the mutated row. An error from fn rolls everything back, which is
// what makes the outbound provider call all-or-nothing with the local status
// change: fn sends the decision before returning. Under a race between an
// internal approver and the external webhook, the second caller observes the
// already-resolved state and fails inside fn.
func (s *Storage) WithOrderUpdate(ctx context.Context, orderID int, fn func(o *models.ServiceOrder) error) (*models.ServiceOrder, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	o := &models.ServiceOrder{}
	err = tx.GetContext(ctx, o, `SELECT * FROM service_order WHERE id=$1 FOR UPDATE`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Entity: "order", ID: orderID}
	}
	if err != nil {
		return nil, err
	}

	if err := fn(o); err != nil {
		return nil, err
	}

	query := `
        UPDATE service_order
        SET status=$1, specialist_name=$2, start_date=$3, end_date=$4, man_days=$5,
            contract_value=$6, approved_by=$7, approved_at=$8, rejected_by=$9,
            rejected_at=$10, rejection_reason=$11, change_type=$12, change_status=$13,
            proposed_specialist=$14, proposed_substitution_at=$15, proposed_end_date=$16,
            proposed_man_days=$17, proposed_contract_value=$18, change_requested_by=$19,
            change_requested_at=$20, change_decided_by=$21, change_decided_at=$22,
            change_rejection_reason=$23, updated_at=NOW()
        WHERE id=$24`
	_, err = tx.ExecContext(ctx, query,
		o.Status, o.SpecialistName, o.StartDate, o.EndDate, o.ManDays,
		o.ContractValue, o.ApprovedBy, o.ApprovedAt, o.RejectedBy,
		o.RejectedAt, o.RejectionReason, o.ChangeType, o.ChangeStatus,
		o.ProposedSpecialist, o.ProposedSubstitutionAt, o.ProposedEndDate,
		o.ProposedManDays, o.ProposedContractValue, o.ChangeRequestedBy,
		o.ChangeRequestedAt, o.ChangeDecidedBy, o.ChangeDecidedAt,
		o.ChangeRejectionReason, o.ID)
	if err != nil {
		return nil, err
	}
	return o, tx.Commit()
}
