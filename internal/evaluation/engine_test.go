package evaluation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"procurement/models"
)

func testRequest() *models.ServiceRequest {
	return &models.ServiceRequest{ID: 7, ManDays: 10, Status: models.RequestBidding}
}

func eligibleOffer(id int, rate, travel float64) models.Offer {
	return models.Offer{
		ID:             id,
		RequestID:      7,
		SpecialistName: "spec",
		DailyRate:      rate,
		TravelCost:     travel,
		MustHaveMatch:  true,
		LanguageMatch:  true,
		ContractType:   "employee",
	}
}

func TestEvaluateSingleOffer(t *testing.T) {
	now := time.Now().UTC()
	offers := []models.Offer{eligibleOffer(1, 100, 20)}

	evals := Evaluate(testRequest(), offers, now)
	require.Len(t, evals, 1)

	e := evals[0]
	require.True(t, e.Eligible)
	// 40 must-have + 20 language + 0 nice-to-have + 10 employee + 20 delivery
	require.Equal(t, 90.0, e.TechScore)
	require.Equal(t, 100.0, e.CommercialScore)
	require.Equal(t, 94.0, e.FinalScore)
	require.Equal(t, 1, e.Rank)
	require.True(t, e.Recommended)
	require.Nil(t, e.DisqualifiedReason)
	require.Equal(t, 120.0, e.Breakdown.TotalCost)
	require.Equal(t, 120.0, e.Breakdown.MinEligibleCost)
}

func TestEvaluateRanksByFinalScore(t *testing.T) {
	now := time.Now().UTC()
	cheap := eligibleOffer(1, 100, 20)
	rich := eligibleOffer(2, 150, 0)
	rich.NiceToHaveMatch = true
	rich.ContractType = "freelancer"

	evals := Evaluate(testRequest(), []models.Offer{rich, cheap}, now)
	require.Len(t, evals, 2)

	byOffer := map[int]models.OfferEvaluation{}
	for _, e := range evals {
		byOffer[e.OfferID] = e
	}

	// cheap: tech 90, commercial 100, final 94
	require.Equal(t, 94.0, byOffer[1].FinalScore)
	require.Equal(t, 1, byOffer[1].Rank)
	require.True(t, byOffer[1].Recommended)

	// rich: tech 40+20+10+8+20=98, commercial 120/150*100=80, final 90.8
	require.Equal(t, 98.0, byOffer[2].TechScore)
	require.Equal(t, 80.0, byOffer[2].CommercialScore)
	require.Equal(t, 90.8, byOffer[2].FinalScore)
	require.Equal(t, 2, byOffer[2].Rank)
	require.False(t, byOffer[2].Recommended)
}

func TestEvaluateTieBrokenByTechScore(t *testing.T) {
	now := time.Now().UTC()
	// a: tech 100 (nice-to-have), commercial 85 -> final 94.
	// b: tech 90, commercial 100 (cheapest) -> final 94.
	a := eligibleOffer(1, 100, 0)
	a.NiceToHaveMatch = true
	b := eligibleOffer(2, 85, 0)

	evals := Evaluate(testRequest(), []models.Offer{a, b}, now)
	byOffer := map[int]models.OfferEvaluation{}
	for _, e := range evals {
		byOffer[e.OfferID] = e
	}
	require.Equal(t, byOffer[1].FinalScore, byOffer[2].FinalScore)
	require.Equal(t, 1, byOffer[1].Rank)
	require.True(t, byOffer[1].Recommended)
	require.Equal(t, 2, byOffer[2].Rank)
	require.False(t, byOffer[2].Recommended)
}

func TestEvaluateIdenticalOffersBreakTieByID(t *testing.T) {
	now := time.Now().UTC()
	evals := Evaluate(testRequest(), []models.Offer{
		eligibleOffer(5, 100, 0),
		eligibleOffer(3, 100, 0),
	}, now)

	byOffer := map[int]models.OfferEvaluation{}
	recommended := 0
	for _, e := range evals {
		byOffer[e.OfferID] = e
		if e.Recommended {
			recommended++
		}
	}
	require.Equal(t, 1, recommended)
	require.Equal(t, 1, byOffer[3].Rank)
	require.True(t, byOffer[3].Recommended)
	require.Equal(t, 2, byOffer[5].Rank)
}

func TestEvaluateDisqualifications(t *testing.T) {
	now := time.Now().UTC()

	noMustHave := eligibleOffer(1, 100, 0)
	noMustHave.MustHaveMatch = false
	noMustHave.LanguageMatch = false // must-have reason still wins

	noLanguage := eligibleOffer(2, 100, 0)
	noLanguage.LanguageMatch = false

	zeroRate := eligibleOffer(3, 0, 50)

	winner := eligibleOffer(4, 100, 0)

	evals := Evaluate(testRequest(), []models.Offer{noMustHave, noLanguage, zeroRate, winner}, now)
	require.Len(t, evals, 4)

	byOffer := map[int]models.OfferEvaluation{}
	for _, e := range evals {
		byOffer[e.OfferID] = e
	}

	for id, reason := range map[int]string{
		1: ReasonMustHaveNotMet,
		2: ReasonLanguageNotMet,
		3: ReasonNonPositiveRate,
	} {
		e := byOffer[id]
		require.False(t, e.Eligible, "offer %d", id)
		require.NotNil(t, e.DisqualifiedReason, "offer %d", id)
		require.Equal(t, reason, *e.DisqualifiedReason, "offer %d", id)
		require.Zero(t, e.TechScore, "offer %d", id)
		require.Zero(t, e.FinalScore, "offer %d", id)
		require.Zero(t, e.Rank, "offer %d", id)
		require.False(t, e.Recommended, "offer %d", id)
	}

	require.True(t, byOffer[4].Eligible)
	require.Equal(t, 1, byOffer[4].Rank)
	require.True(t, byOffer[4].Recommended)
}

func TestEvaluateAllIneligible(t *testing.T) {
	now := time.Now().UTC()
	o := eligibleOffer(1, 100, 0)
	o.MustHaveMatch = false

	evals := Evaluate(testRequest(), []models.Offer{o}, now)
	require.Len(t, evals, 1)
	require.False(t, evals[0].Recommended)
	require.Zero(t, evals[0].Rank)
}

func TestEvaluateEmptyOfferSet(t *testing.T) {
	evals := Evaluate(testRequest(), nil, time.Now().UTC())
	require.NotNil(t, evals)
	require.Empty(t, evals)
}

func TestEvaluateDeterministic(t *testing.T) {
	now := time.Now().UTC()
	offers := []models.Offer{
		eligibleOffer(1, 120, 10),
		eligibleOffer(2, 100, 20),
		eligibleOffer(3, 90, 60),
	}
	first := Evaluate(testRequest(), offers, now)
	second := Evaluate(testRequest(), offers, now)
	require.Equal(t, first, second)
}

func TestCommercialScoreClamped(t *testing.T) {
	require.Equal(t, 100.0, commercialScore(120, 100))
	require.Equal(t, 0.0, commercialScore(0, 100))
	require.Equal(t, 80.0, commercialScore(120, 150))
}
