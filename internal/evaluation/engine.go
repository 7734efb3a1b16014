// Package evaluation scores competing offers against a service request.
// Evaluate is a pure function: same request and offers in, same ranked
// records out. Persisting the result is the Service's job.
package evaluation

import (
	"math"
	"sort"
	"time"

	"procurement/models"
)

// Scoring weights and points. The delivery component is a flat baseline
// until richer delivery data is available.
const (
	mustHavePoints    = 40.0
	languagePoints    = 20.0
	niceToHavePoints  = 10.0
	contractPointsMax = 10.0
	deliveryBaseline  = 20.0

	techWeight       = 0.60
	commercialWeight = 0.40
)

// Disqualification reasons. The first failing gate wins, in this order.
const (
	ReasonMustHaveNotMet  = "must-have criteria not met"
	ReasonLanguageNotMet  = "language skills not met"
	ReasonNonPositiveRate = "daily rate is not positive"
)

var contractPoints = map[string]float64{
	"employee":      10,
	"freelancer":    8,
	"subcontractor": 6,
}

func contractTypePoints(contractType string) float64 {
	if p, ok := contractPoints[contractType]; ok {
		return math.Min(p, contractPointsMax)
	}
	return 6
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// gate decides eligibility for one offer, independent of the others.
func gate(o models.Offer) (bool, string) {
	switch {
	case !o.MustHaveMatch:
		return false, ReasonMustHaveNotMet
	case !o.LanguageMatch:
		return false, ReasonLanguageNotMet
	case o.DailyRate <= 0:
		return false, ReasonNonPositiveRate
	}
	return true, ""
}

// Evaluate produces one record per offer: ineligible offers get zero scores
// and rank 0; eligible offers are scored, ranked 1..N by final score and
// exactly one (if any) is flagged recommended.
func Evaluate(req *models.ServiceRequest, offers []models.Offer, now time.Time) []models.OfferEvaluation {
	evals := make([]models.OfferEvaluation, 0, len(offers))
	if len(offers) == 0 {
		return evals
	}

	// Pass 1: gate, and find the cheapest eligible offer for the
	// commercial baseline.
	minEligibleCost := 0.0
	for _, o := range offers {
		if ok, _ := gate(o); !ok {
			continue
		}
		cost := o.EffectiveTotalCost()
		if minEligibleCost == 0 || (cost > 0 && cost < minEligibleCost) {
			minEligibleCost = cost
		}
	}

	// Pass 2: score.
	for _, o := range offers {
		e := models.OfferEvaluation{
			RequestID:   req.ID,
			OfferID:     o.ID,
			EvaluatedAt: now,
		}
		ok, reason := gate(o)
		if !ok {
			r := reason
			e.DisqualifiedReason = &r
			evals = append(evals, e)
			continue
		}

		b := models.ScoreBreakdown{
			DeliveryPoints:   deliveryBaseline,
			ContractPoints:   contractTypePoints(o.ContractType),
			TotalCost:        o.EffectiveTotalCost(),
			MinEligibleCost:  minEligibleCost,
			TechWeight:       techWeight,
			CommercialWeight: commercialWeight,
		}
		if o.MustHaveMatch {
			b.MustHavePoints = mustHavePoints
		}
		if o.LanguageMatch {
			b.LanguagePoints = languagePoints
		}
		if o.NiceToHaveMatch {
			b.NiceToHavePoints = niceToHavePoints
		}

		e.Eligible = true
		e.TechScore = round2(b.MustHavePoints + b.LanguagePoints + b.NiceToHavePoints + b.ContractPoints + b.DeliveryPoints)
		e.CommercialScore = commercialScore(minEligibleCost, b.TotalCost)
		e.FinalScore = round2(e.TechScore*techWeight + e.CommercialScore*commercialWeight)
		e.Breakdown = b
		evals = append(evals, e)
	}

	rankAndRecommend(evals)
	return evals
}

func commercialScore(minEligibleCost, cost float64) float64 {
	if minEligibleCost == 0 || cost == 0 {
		return 0
	}
	score := minEligibleCost / cost * 100
	if score > 100 {
		score = 100
	}
	return round2(score)
}

// rankAndRecommend assigns ranks 1..N to eligible rows ordered by final
// score descending, ties broken by higher tech score, then lower total cost,
// then offer id for determinism. The top row is flagged recommended.
func rankAndRecommend(evals []models.OfferEvaluation) {
	eligible := make([]*models.OfferEvaluation, 0, len(evals))
	for i := range evals {
		if evals[i].Eligible {
			eligible = append(eligible, &evals[i])
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.TechScore != b.TechScore {
			return a.TechScore > b.TechScore
		}
		if a.Breakdown.TotalCost != b.Breakdown.TotalCost {
			return a.Breakdown.TotalCost < b.Breakdown.TotalCost
		}
		return a.OfferID < b.OfferID
	})
	for i, e := range eligible {
		e.Rank = i + 1
	}
	if len(eligible) > 0 {
		eligible[0].Recommended = true
	}
}
