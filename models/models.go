package models

import "time"

// User is an already-authenticated actor. Credential handling lives upstream;
// the core only needs the username and role for gating operations.
type User struct {
	ID        int       `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"firstName"`
	LastName  string    `db:"last_name" json:"lastName"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// ServiceRequest is a procurement need raised by a project manager.
type ServiceRequest struct {
	ID                int           `db:"id" json:"id"`
	Title             string        `db:"title" json:"title" validate:"required,max=200"`
	Description       string        `db:"description" json:"description" validate:"max=2000"`
	Type              RequestType   `db:"type" json:"type" validate:"required,oneof=SINGLE MULTI TEAM"`
	Status            RequestStatus `db:"status" json:"status"`
	OwnerUsername     string        `db:"owner_username" json:"ownerUsername"`
	StartDate         time.Time     `db:"start_date" json:"startDate"`
	EndDate           time.Time     `db:"end_date" json:"endDate"`
	ManDays           int           `db:"man_days" json:"manDays"`
	BiddingActive     bool          `db:"bidding_active" json:"biddingActive"`
	BiddingEndAt      *time.Time    `db:"bidding_end_at" json:"biddingEndAt,omitempty"`
	MaxOffers         int           `db:"max_offers" json:"maxOffers"`
	MaxAcceptedOffers int           `db:"max_accepted_offers" json:"maxAcceptedOffers"`
	// Set only once the request reaches EVALUATION or ORDERED.
	PreferredOfferID *int      `db:"preferred_offer_id" json:"preferredOfferId,omitempty"`
	RejectionReason  *string   `db:"rejection_reason" json:"rejectionReason,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"-"`
}

// Offer is a bid submitted against a ServiceRequest by a supplier.
// The request link is immutable after creation.
type Offer struct {
	ID             int     `db:"id" json:"id"`
	RequestID      int     `db:"request_id" json:"requestId" validate:"required"`
	SpecialistName string  `db:"specialist_name" json:"specialistName" validate:"required,max=200"`
	DailyRate      float64 `db:"daily_rate" json:"dailyRate"`
	TravelCost     float64 `db:"travel_cost" json:"travelCost"`
	// TotalCost defaults to dailyRate+travelCost when not supplied.
	TotalCost       float64 `db:"total_cost" json:"totalCost"`
	MustHaveMatch   bool    `db:"must_have_match" json:"mustHaveMatch"`
	NiceToHaveMatch bool    `db:"nice_to_have_match" json:"niceToHaveMatch"`
	LanguageMatch   bool    `db:"language_match" json:"languageMatch"`
	ContractType    string  `db:"contract_type" json:"contractType"`
	// External provider's identifier for this offer; required before any
	// provider-facing decision can be sent.
	ProviderOfferID *string   `db:"provider_offer_id" json:"providerOfferId,omitempty"`
	CreatorUsername string    `db:"creator_username" json:"creatorUsername"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"-"`
}

// EffectiveTotalCost returns the comparable cost of the offer: the stored
// total when positive, otherwise recomputed from rate and travel with
// negative components floored at zero.
func (o Offer) EffectiveTotalCost() float64 {
	if o.TotalCost > 0 {
		return o.TotalCost
	}
	rate := o.DailyRate
	if rate < 0 {
		rate = 0
	}
	travel := o.TravelCost
	if travel < 0 {
		travel = 0
	}
	return rate + travel
}

// ScoreBreakdown is the human-auditable decomposition of an evaluation row.
type ScoreBreakdown struct {
	MustHavePoints   float64 `json:"mustHavePoints"`
	LanguagePoints   float64 `json:"languagePoints"`
	NiceToHavePoints float64 `json:"niceToHavePoints"`
	ContractPoints   float64 `json:"contractPoints"`
	DeliveryPoints   float64 `json:"deliveryPoints"`
	TotalCost        float64 `json:"totalCost"`
	MinEligibleCost  float64 `json:"minEligibleCost"`
	TechWeight       float64 `json:"techWeight"`
	CommercialWeight float64 `json:"commercialWeight"`
}

// OfferEvaluation is one row of a single evaluation run, unique per offer.
// The full set for a request is replaced atomically on every run.
type OfferEvaluation struct {
	ID                 int            `db:"id" json:"id"`
	RequestID          int            `db:"request_id" json:"requestId"`
	OfferID            int            `db:"offer_id" json:"offerId"`
	Eligible           bool           `db:"eligible" json:"eligible"`
	DisqualifiedReason *string        `db:"disqualified_reason" json:"disqualifiedReason,omitempty"`
	TechScore          float64        `db:"tech_score" json:"techScore"`
	CommercialScore    float64        `db:"commercial_score" json:"commercialScore"`
	FinalScore         float64        `db:"final_score" json:"finalScore"`
	Breakdown          ScoreBreakdown `db:"-" json:"breakdown"`
	BreakdownJSON      []byte         `db:"breakdown" json:"-"`
	Recommended        bool           `db:"recommended" json:"recommended"`
	// 1-based among eligible rows ordered by finalScore desc; 0 when ineligible.
	Rank        int       `db:"rank" json:"rank"`
	EvaluatedAt time.Time `db:"evaluated_at" json:"evaluatedAt"`
}

// ServiceOrder is the contractual artifact created from a selected Offer.
// It embeds the pending-change sub-record; at most one change may be
// PENDING at a time.
type ServiceOrder struct {
	ID             int         `db:"id" json:"id"`
	RequestID      int         `db:"request_id" json:"requestId"`
	OfferID        int         `db:"offer_id" json:"offerId"`
	Status         OrderStatus `db:"status" json:"status"`
	SpecialistName string      `db:"specialist_name" json:"specialistName"`
	StartDate      time.Time   `db:"start_date" json:"startDate"`
	EndDate        time.Time   `db:"end_date" json:"endDate"`
	ManDays        int         `db:"man_days" json:"manDays"`
	ContractValue  float64     `db:"contract_value" json:"contractValue"`

	ApprovedBy      *string    `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	RejectedBy      *string    `db:"rejected_by" json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `db:"rejected_at" json:"rejectedAt,omitempty"`
	RejectionReason *string    `db:"rejection_reason" json:"rejectionReason,omitempty"`

	ChangeType   ChangeType   `db:"change_type" json:"changeType"`
	ChangeStatus ChangeStatus `db:"change_status" json:"changeStatus"`
	// Proposal payload; nulled once the change is resolved so a stale
	// PENDING re-check cannot reapply it.
	ProposedSpecialist     *string    `db:"proposed_specialist" json:"proposedSpecialist,omitempty"`
	ProposedSubstitutionAt *time.Time `db:"proposed_substitution_at" json:"proposedSubstitutionAt,omitempty"`
	ProposedEndDate        *time.Time `db:"proposed_end_date" json:"proposedEndDate,omitempty"`
	ProposedManDays        *int       `db:"proposed_man_days" json:"proposedManDays,omitempty"`
	ProposedContractValue  *float64   `db:"proposed_contract_value" json:"proposedContractValue,omitempty"`
	ChangeRequestedBy      *string    `db:"change_requested_by" json:"changeRequestedBy,omitempty"`
	ChangeRequestedAt      *time.Time `db:"change_requested_at" json:"changeRequestedAt,omitempty"`
	ChangeDecidedBy        *string    `db:"change_decided_by" json:"changeDecidedBy,omitempty"`
	ChangeDecidedAt        *time.Time `db:"change_decided_at" json:"changeDecidedAt,omitempty"`
	ChangeRejectionReason  *string    `db:"change_rejection_reason" json:"changeRejectionReason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}

// HasPendingChange reports whether a change request is awaiting resolution.
func (o ServiceOrder) HasPendingChange() bool {
	return o.ChangeStatus == ChangePending
}
