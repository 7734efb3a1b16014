package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"procurement/internal/apperrors"
	"procurement/internal/notify"
	"procurement/internal/testutil"
	"procurement/models"
)

// fakeSender records outbound decisions and can be told to fail.
type fakeSender struct {
	sent []models.Decision
	err  error
}

func (f *fakeSender) SendDecision(ctx context.Context, providerOfferID string, decision models.Decision) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, decision)
	return nil
}

type fixture struct {
	svc    *Service
	store  *testutil.MemStore
	sender *fakeSender
	order  *models.ServiceOrder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemStore()
	store.SeedUser("pm", models.RoleProjectManager)
	store.SeedUser("rp", models.RoleResourcePartner)
	store.SeedUser("admin", models.RoleAdmin)
	store.SeedUser("supplier", models.RoleSupplierRepresentative)

	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 6, 0)

	req := &models.ServiceRequest{
		Title:         "Backend developer",
		Type:          models.RequestTypeSingle,
		Status:        models.RequestOrdered,
		OwnerUsername: "pm",
		StartDate:     start,
		EndDate:       end,
		ManDays:       60,
	}
	require.NoError(t, store.CreateRequest(context.Background(), req))

	providerID := "EXT-42"
	offer := &models.Offer{
		RequestID:       req.ID,
		SpecialistName:  "J. Smith",
		DailyRate:       100,
		TotalCost:       6000,
		MustHaveMatch:   true,
		LanguageMatch:   true,
		ContractType:    "employee",
		ProviderOfferID: &providerID,
		CreatorUsername: "supplier",
	}
	store.Offers[999] = offer
	offer.ID = 999

	o := &models.ServiceOrder{
		RequestID:      req.ID,
		OfferID:        offer.ID,
		Status:         models.OrderPendingRPApproval,
		SpecialistName: "J. Smith",
		StartDate:      start,
		EndDate:        end,
		ManDays:        60,
		ContractValue:  6000,
		ChangeType:     models.ChangeTypeNone,
		ChangeStatus:   models.ChangeNone,
	}
	store.Orders[1] = o
	o.ID = 1

	sender := &fakeSender{}
	return &fixture{
		svc:    NewService(store, sender, notify.Nop{}, zap.NewNop()),
		store:  store,
		sender: sender,
		order:  o,
	}
}

// approved shortcuts the fixture order into APPROVED.
func (f *fixture) approved() {
	f.store.Orders[f.order.ID].Status = models.OrderApproved
}

func TestApproveSubmitsToProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Approve(ctx, "rp", f.order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderSubmittedToProvider, o.Status)
	require.NotNil(t, o.ApprovedBy)
	require.Equal(t, "rp", *o.ApprovedBy)
	require.NotNil(t, o.ApprovedAt)
	require.Equal(t, []models.Decision{models.DecisionAccepted}, f.sender.sent)

	// second approval finds the order past PENDING_RP_APPROVAL
	_, err = f.svc.Approve(ctx, "rp", f.order.ID)
	var serr *apperrors.InvalidStateError
	require.ErrorAs(t, err, &serr)
}

func TestApproveRequiresResourcePartner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, "pm", f.order.ID)
	var ferr *apperrors.ForbiddenError
	require.ErrorAs(t, err, &ferr)

	_, err = f.svc.Approve(ctx, "admin", f.order.ID)
	require.NoError(t, err)
}

func TestApproveProviderFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sender.err = errors.New("provider unreachable")

	_, err := f.svc.Approve(ctx, "rp", f.order.ID)
	var eerr *apperrors.ExternalIntegrationError
	require.ErrorAs(t, err, &eerr)

	stored, err := f.store.GetOrder(ctx, f.order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderPendingRPApproval, stored.Status)
	require.Nil(t, stored.ApprovedBy)
}

func TestApproveWithoutProviderOfferID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.Offers[f.order.OfferID].ProviderOfferID = nil

	_, err := f.svc.Approve(ctx, "rp", f.order.ID)
	var perr *apperrors.PreconditionError
	require.ErrorAs(t, err, &perr)
	require.Empty(t, f.sender.sent)

	stored, err := f.store.GetOrder(ctx, f.order.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderPendingRPApproval, stored.Status)
}

func TestRejectOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.svc.Reject(ctx, "rp", f.order.ID, "rate too high")
	require.NoError(t, err)
	require.Equal(t, models.OrderRejected, o.Status)
	require.NotNil(t, o.RejectedBy)
	require.Equal(t, "rp", *o.RejectedBy)
	require.NotNil(t, o.RejectionReason)
	require.Equal(t, "rate too high", *o.RejectionReason)
	require.Equal(t, []models.Decision{models.DecisionRejected}, f.sender.sent)

	// terminal
	_, err = f.svc.Approve(ctx, "rp", f.order.ID)
	var serr *apperrors.InvalidStateError
	require.ErrorAs(t, err, &serr)
}

func TestExternalOrderDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, "rp", f.order.ID)
	require.NoError(t, err)

	o, err := f.svc.ApplyExternalDecision(ctx, f.order.ID, ScopeOrder, models.DecisionAccepted, "")
	require.NoError(t, err)
	require.Equal(t, models.OrderApproved, o.Status)

	// duplicate callback mutates nothing
	_, err = f.svc.ApplyExternalDecision(ctx, f.order.ID, ScopeOrder, models.DecisionAccepted, "")
	var serr *apperrors.InvalidStateError
	require.ErrorAs(t, err, &serr)
}

func TestExternalOrderRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, "rp", f.order.ID)
	require.NoError(t, err)

	o, err := f.svc.ApplyExternalDecision(ctx, f.order.ID, ScopeOrder, models.DecisionRejected, "no capacity")
	require.NoError(t, err)
	require.Equal(t, models.OrderRejected, o.Status)
	require.NotNil(t, o.RejectedBy)
	require.Equal(t, externalActor, *o.RejectedBy)
	require.NotNil(t, o.RejectionReason)
	require.Equal(t, "no capacity", *o.RejectionReason)
}

func TestRequestSubstitution(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	in := SubstitutionInput{
		SpecialistName:   "M. Jones",
		SubstitutionDate: f.order.StartDate.AddDate(0, 1, 0),
	}
	o, err := f.svc.RequestSubstitution(ctx, "pm", f.order.ID, in)
	require.NoError(t, err)
	require.Equal(t, models.ChangeTypeSubstitution, o.ChangeType)
	require.Equal(t, models.ChangePending, o.ChangeStatus)
	require.NotNil(t, o.ProposedSpecialist)
	require.Equal(t, "M. Jones", *o.ProposedSpecialist)
	require.Equal(t, "J. Smith", o.SpecialistName)
	require.NotNil(t, o.ChangeRequestedBy)
	require.Equal(t, "pm", *o.ChangeRequestedBy)

	// only one pending change at a time
	_, err = f.svc.RequestSubstitution(ctx, "pm", f.order.ID, in)
	var cerr *apperrors.ConflictError
	require.ErrorAs(t, err, &cerr)
}

func TestRequestSubstitutionValidation(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	tests := []struct {
		name string
		in   SubstitutionInput
	}{
		{"empty name", SubstitutionInput{SpecialistName: " ", SubstitutionDate: f.order.StartDate}},
		{"date before start", SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.StartDate.AddDate(0, 0, -1)}},
		{"date after end", SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.EndDate.AddDate(0, 0, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RequestSubstitution(ctx, "pm", f.order.ID, tt.in)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)

			stored, err := f.store.GetOrder(ctx, f.order.ID)
			require.NoError(t, err)
			require.False(t, stored.HasPendingChange())
		})
	}
}

func TestRequestSubstitutionRequiresApprovedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.StartDate}
	_, err := f.svc.RequestSubstitution(ctx, "pm", f.order.ID, in)
	var serr *apperrors.InvalidStateError
	require.ErrorAs(t, err, &serr)
}

func TestRequestExtensionValidation(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	tests := []struct {
		name string
		in   ExtensionInput
	}{
		{"end date not after current", ExtensionInput{NewEndDate: f.order.EndDate, NewManDays: 80, NewContractValue: 9000}},
		{"man days shrink", ExtensionInput{NewEndDate: f.order.EndDate.AddDate(0, 1, 0), NewManDays: 10, NewContractValue: 9000}},
		{"contract value shrink", ExtensionInput{NewEndDate: f.order.EndDate.AddDate(0, 1, 0), NewManDays: 80, NewContractValue: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RequestExtension(ctx, "pm", f.order.ID, tt.in)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)

			stored, err := f.store.GetOrder(ctx, f.order.ID)
			require.NoError(t, err)
			require.False(t, stored.HasPendingChange())
		})
	}
}

func TestApproveExtensionAppliesProposal(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	newEnd := f.order.EndDate.AddDate(0, 2, 0)
	in := ExtensionInput{NewEndDate: newEnd, NewManDays: 80, NewContractValue: 8200}
	_, err := f.svc.RequestExtension(ctx, "pm", f.order.ID, in)
	require.NoError(t, err)

	o, err := f.svc.ApproveChange(ctx, "rp", f.order.ID)
	require.NoError(t, err)
	require.Equal(t, models.ChangeApproved, o.ChangeStatus)
	require.Equal(t, newEnd, o.EndDate)
	require.Equal(t, 80, o.ManDays)
	require.Equal(t, 8200.0, o.ContractValue)
	require.NotNil(t, o.ChangeDecidedBy)
	require.Equal(t, "rp", *o.ChangeDecidedBy)

	// proposal payload is cleared
	require.Nil(t, o.ProposedEndDate)
	require.Nil(t, o.ProposedManDays)
	require.Nil(t, o.ProposedContractValue)
}

func TestRejectSubstitutionKeepsSpecialist(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	in := SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.StartDate.AddDate(0, 1, 0)}
	_, err := f.svc.RequestSubstitution(ctx, "pm", f.order.ID, in)
	require.NoError(t, err)

	o, err := f.svc.RejectChange(ctx, "rp", f.order.ID, "specialist unavailable")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRejected, o.ChangeStatus)
	require.Equal(t, "J. Smith", o.SpecialistName)
	require.NotNil(t, o.ChangeRejectionReason)
	require.Equal(t, "specialist unavailable", *o.ChangeRejectionReason)
	require.Nil(t, o.ProposedSpecialist)
}

func TestResolveChangeExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	in := SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.StartDate.AddDate(0, 1, 0)}
	_, err := f.svc.RequestSubstitution(ctx, "pm", f.order.ID, in)
	require.NoError(t, err)

	_, err = f.svc.ApproveChange(ctx, "rp", f.order.ID)
	require.NoError(t, err)

	// the second resolver loses, whoever it is
	var nperr *apperrors.NoPendingChangeError
	_, err = f.svc.RejectChange(ctx, "rp", f.order.ID, "late")
	require.ErrorAs(t, err, &nperr)
	_, err = f.svc.ApplyExternalDecision(ctx, f.order.ID, ScopeChange, models.DecisionAccepted, "")
	require.ErrorAs(t, err, &nperr)
}

func TestExternalChangeDecisionAppliesSubstitution(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	in := SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.StartDate.AddDate(0, 1, 0)}
	_, err := f.svc.RequestSubstitution(ctx, "pm", f.order.ID, in)
	require.NoError(t, err)

	o, err := f.svc.ApplyExternalDecision(ctx, f.order.ID, ScopeChange, models.DecisionAccepted, "")
	require.NoError(t, err)
	require.Equal(t, models.ChangeApproved, o.ChangeStatus)
	require.Equal(t, "M. Jones", o.SpecialistName)
	require.NotNil(t, o.ChangeDecidedBy)
	require.Equal(t, externalActor, *o.ChangeDecidedBy)
	require.Nil(t, o.ProposedSpecialist)
	require.Nil(t, o.ProposedSubstitutionAt)
}

func TestApplyExternalDecisionUnknownScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ApplyExternalDecision(ctx, f.order.ID, DecisionScope("OFFER"), models.DecisionAccepted, "")
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestChangeRequestRequiresProjectManager(t *testing.T) {
	f := newFixture(t)
	f.approved()
	ctx := context.Background()

	in := SubstitutionInput{SpecialistName: "M. Jones", SubstitutionDate: f.order.StartDate}
	_, err := f.svc.RequestSubstitution(ctx, "supplier", f.order.ID, in)
	var ferr *apperrors.ForbiddenError
	require.ErrorAs(t, err, &ferr)

	_, err = f.svc.ApproveChange(ctx, "pm", f.order.ID)
	require.ErrorAs(t, err, &ferr)
}
