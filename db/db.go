// Package db implements the relational storage authority over sqlx.
// All invariants that need a lock scope (offer intake window, evaluation
// replace, bidding expiry, order mutation) are enforced here inside a
// single transaction with a row lock on the owning request or order.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"procurement/internal/apperrors"
	"procurement/models"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// Users

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	u := &models.User{}
	query := `SELECT * FROM users WHERE username=$1`
	err := s.db.GetContext(ctx, u, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Entity: "user", ID: username}
	}
	return u, err
}

// Requests

func (s *Storage) CreateRequest(ctx context.Context, r *models.ServiceRequest) error {
	query := `
        INSERT INTO service_request
            (title, description, type, status, owner_username, start_date, end_date,
             man_days, bidding_active, bidding_end_at, max_offers, max_accepted_offers)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		r.Title, r.Description, r.Type, r.Status, r.OwnerUsername, r.StartDate, r.EndDate,
		r.ManDays, r.BiddingActive, r.BiddingEndAt, r.MaxOffers, r.MaxAcceptedOffers).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (s *Storage) GetRequest(ctx context.Context, id int) (*models.ServiceRequest, error) {
	r := &models.ServiceRequest{}
	query := `SELECT * FROM service_request WHERE id=$1`
	err := s.db.GetContext(ctx, r, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Entity: "request", ID: id}
	}
	return r, err
}

func (s *Storage) UpdateRequest(ctx context.Context, r *models.ServiceRequest) error {
	query := `
        UPDATE service_request
        SET title=$1, description=$2, type=$3, status=$4, start_date=$5, end_date=$6,
            man_days=$7, bidding_active=$8, bidding_end_at=$9, max_offers=$10,
            max_accepted_offers=$11, preferred_offer_id=$12, rejection_reason=$13,
            updated_at=NOW()
        WHERE id=$14`
	_, err := s.db.ExecContext(ctx, query,
		r.Title, r.Description, r.Type, r.Status, r.StartDate, r.EndDate,
		r.ManDays, r.BiddingActive, r.BiddingEndAt, r.MaxOffers,
		r.MaxAcceptedOffers, r.PreferredOfferID, r.RejectionReason, r.ID)
	return err
}

func (s *Storage) ListRequests(ctx context.Context, statuses []models.RequestStatus, limit, offset int) ([]models.ServiceRequest, error) {
	baseQuery := `SELECT * FROM service_request`
	var args []interface{}
	filter := ""

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args = append(args, st)
		}
		filter = fmt.Sprintf(" WHERE status IN (%s)", strings.Join(placeholders, ", "))
	}

	query := baseQuery + filter + " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	requests := []models.ServiceRequest{}
	err := s.db.SelectContext(ctx, &requests, query, args...)
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *Storage) GetUserRequests(ctx context.Context, username string, limit, offset int) ([]models.ServiceRequest, error) {
	query := `
        SELECT * FROM service_request
        WHERE owner_username = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`
	requests := []models.ServiceRequest{}
	err := s.db.SelectContext(ctx, &requests, query, username, limit, offset)
	return requests, err
}

// Offers

// AddOffer attaches an offer under a row lock on the parent request so the
// intake-window check and the insert cannot race with an expiry sweep. The
// first offer against an APPROVED_FOR_BIDDING request promotes it to BIDDING.
func (s *Storage) AddOffer(ctx context.Context, o *models.Offer) error {
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

	if !r.Status.AllowsOfferIntake() {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("request %d is %s, offers accepted only in DRAFT or BIDDING", r.ID, r.Status)}
	}
	if r.Status == models.RequestBidding && !r.BiddingActive {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("bidding window for request %d is closed", r.ID)}
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(1) FROM offer WHERE request_id=$1`, o.RequestID); err != nil {
		return err
	}
	if r.MaxOffers > 0 && count >= r.MaxOffers {
		return &apperrors.ConflictError{Msg: fmt.Sprintf("request %d already holds its maximum of %d offers", r.ID, r.MaxOffers)}
	}

	if o.TotalCost <= 0 {
		o.TotalCost = o.EffectiveTotalCost()
	}

	query := `
        INSERT INTO offer
            (request_id, specialist_name, daily_rate, travel_cost, total_cost,
             must_have_match, nice_to_have_match, language_match, contract_type,
             provider_offer_id, creator_username)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id, created_at, updated_at`
	err = tx.QueryRowContext(ctx, query,
		o.RequestID, o.SpecialistName, o.DailyRate, o.TravelCost, o.TotalCost,
		o.MustHaveMatch, o.NiceToHaveMatch, o.LanguageMatch, o.ContractType,
		o.ProviderOfferID, o.CreatorUsername).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}

	if r.Status == models.RequestApprovedForBidding {
		_, err = tx.ExecContext(ctx,
			`UPDATE service_request SET status=$1, updated_at=NOW() WHERE id=$2`,
			models.RequestBidding, r.ID)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Storage) GetOffer(ctx context.Context, id int) (*models.Offer, error) {
	o := &models.Offer{}
	query := `SELECT * FROM offer WHERE id=$1`
	err := s.db.GetContext(ctx, o, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperrors.NotFoundError{Entity: "offer", ID: id}
	}
	return o, err
}

func (s *Storage) ListOffersForRequest(ctx context.Context, requestID int) ([]models.Offer, error) {
	query := `SELECT * FROM offer WHERE request_id=$1 ORDER BY created_at ASC`
	offers := []models.Offer{}
	err := s.db.SelectContext(ctx, &offers, query, requestID)
	return offers, err
}

// Bidding expiry

// FindExpiredBiddingIDs returns requests whose bidding window is still
// active but whose deadline has passed.
func (s *Storage) FindExpiredBiddingIDs(ctx context.Context, now time.Time) ([]int, error) {
	ids := []int{}
	query := `SELECT id FROM service_request WHERE bidding_active = TRUE AND bidding_end_at < $1`
	err := s.db.SelectContext(ctx, &ids, query, now)
	return ids, err
}

// ExpireBidding deactivates the bidding window of one request. The deadline
// and the offer count are re-checked under the row lock, so running the
// sweep twice, or concurrently with AddOffer, is safe. Returns true when the
// request was moved to EXPIRED (no offers arrived).
func (s *Storage) ExpireBidding(ctx context.Context, requestID int, now time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	r := &models.ServiceRequest{}
	err = tx.GetContext(ctx, r, `SELECT * FROM service_request WHERE id=$1 FOR UPDATE`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, &apperrors.NotFoundError{Entity: "request", ID: requestID}
	}
	if err != nil {
		return false, err
	}

	// Already deactivated, or the deadline moved: no-op.
	if !r.BiddingActive || r.BiddingEndAt == nil || r.BiddingEndAt.After(now) {
		return false, nil
	}

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(1) FROM offer WHERE request_id=$1`, requestID); err != nil {
		return false, err
	}

	expired := count == 0
	status := r.Status
	if expired {
		status = models.RequestExpired
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE service_request SET bidding_active=FALSE, status=$1, updated_at=NOW() WHERE id=$2`,
		status, requestID)
	if err != nil {
		return false, err
	}
	return expired, tx.Commit()
}

// Evaluations

// ReplaceEvaluations swaps the full evaluation set of a request in one
// transaction under a request row lock: concurrent runs for the same request
// serialize, different requests do not block each other. Readers never see a
// partially replaced set.
func (s *Storage) ReplaceEvaluations(ctx context.Context, requestID int, evals []models.OfferEvaluation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int
	err = tx.GetContext(ctx, &id, `SELECT id FROM service_request WHERE id=$1 FOR UPDATE`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return &apperrors.NotFoundError{Entity: "request", ID: requestID}
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM offer_evaluation WHERE request_id=$1`, requestID); err != nil {
		return err
	}

	query := `
        INSERT INTO offer_evaluation
            (request_id, offer_id, eligible, disqualified_reason, tech_score,
             commercial_score, final_score, breakdown, recommended, rank, evaluated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for i := range evals {
		e := &evals[i]
		breakdown, err := json.Marshal(e.Breakdown)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, query,
			requestID, e.OfferID, e.Eligible, e.DisqualifiedReason, e.TechScore,
			e.CommercialScore, e.FinalScore, breakdown, e.Recommended, e.Rank, e.EvaluatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListEvaluationsForRequest returns the persisted ranked set, eligible rows
// first by rank, ineligible rows after.
func (s *Storage) ListEvaluationsForRequest(ctx context.Context, requestID int) ([]models.OfferEvaluation, error) {
	query := `
        SELECT * FROM offer_evaluation
        WHERE request_id=$1
        ORDER BY CASE WHEN rank = 0 THEN 1 ELSE 0 END, rank ASC, offer_id ASC`
	evals := []models.OfferEvaluation{}
	if err := s.db.SelectContext(ctx, &evals, query, requestID); err != nil {
		return nil, err
	}
	for i := range evals {
		if len(evals[i].BreakdownJSON) > 0 {
			if err := json.Unmarshal(evals[i].BreakdownJSON, &evals[i].Breakdown); err != nil {
				return nil, fmt.Errorf("decode breakdown for offer %d: %w", evals[i].OfferID, err)
			}
		}
	}
	return evals, nil
}
