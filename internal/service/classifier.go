package service

import (
	"sort"
	"time"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// Classifier decides how an assertion relates to its candidate set. It holds
// no state and performs no I/O, so the same inputs always give the same outcome.
type Classifier struct{}

// NewClassifier returns a Classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

type scoredCandidate struct {
	match     models.CandidateMatch
	satisfies bool
}

// Classify scores every candidate and returns AutoMatch, Ambiguous or NoMatch.
//
// A candidate satisfies the automatic rule on an exact TRN, a redeemable TRN
// token bound to its TRN, full name plus date of birth, or NINO plus date of
// birth. The name and NINO routes are vetoed when the assertion carries a TRN
// or NINO that the candidate holds a different value for. AutoMatch needs
// exactly one satisfying candidate and no other candidate sharing a strong
// attribute.
func (c *Classifier) Classify(n models.NormalizedAssertion, candidates []models.CandidateRecord) models.MatchOutcome {
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		attrs := matchedAttributes(n, candidate)
		if len(attrs) == 0 {
			continue
		}
		scored = append(scored, scoredCandidate{
			match: models.CandidateMatch{
				PersonID:          candidate.PersonID,
				Version:           candidate.Version,
				MatchedAttributes: attrs,
			},
			satisfies: satisfiesAutoRule(n, candidate, attrs),
		})
	}
	if len(scored) == 0 {
		return models.MatchOutcome{Kind: models.OutcomeNoMatch, Candidates: []models.CandidateMatch{}}
	}

	// Ties keep search order.
	sort.SliceStable(scored, func(i, j int) bool {
		return len(scored[i].match.MatchedAttributes) > len(scored[j].match.MatchedAttributes)
	})

	ranked := make([]models.CandidateMatch, len(scored))
	satisfying := -1
	satisfyingCount := 0
	plausible := 0
	for i, s := range scored {
		ranked[i] = s.match
		if s.satisfies {
			satisfyingCount++
			satisfying = i
		}
		if hasStrongAttribute(s.match.MatchedAttributes) {
			plausible++
		}
	}

	if satisfyingCount == 1 && plausible == 1 {
		winner := scored[satisfying].match
		return models.MatchOutcome{
			Kind:              models.OutcomeAutoMatch,
			PersonID:          winner.PersonID,
			MatchedAttributes: winner.MatchedAttributes,
			Candidates:        ranked,
		}
	}
	return models.MatchOutcome{Kind: models.OutcomeAmbiguous, Candidates: ranked}
}

// TokenDecided reports whether a redeemed TRN token contributed to the AutoMatch.
func TokenDecided(outcome models.MatchOutcome) bool {
	if outcome.Kind != models.OutcomeAutoMatch {
		return false
	}
	for _, attr := range outcome.MatchedAttributes {
		if attr == models.MatchAttributeTrnToken {
			return true
		}
	}
	return false
}

func matchedAttributes(n models.NormalizedAssertion, c models.CandidateRecord) []models.MatchAttribute {
	attrs := make([]models.MatchAttribute, 0, 5)
	if n.Trn != "" && contains(c.Trns, n.Trn) {
		attrs = append(attrs, models.MatchAttributeTrn)
	}
	if n.TokenTrn != "" && contains(c.Trns, n.TokenTrn) {
		attrs = append(attrs, models.MatchAttributeTrnToken)
	}
	if n.NationalInsuranceNumber != "" && contains(c.NationalInsuranceNumbers, n.NationalInsuranceNumber) {
		attrs = append(attrs, models.MatchAttributeNationalInsuranceNumber)
	}
	fullName := containsAny(c.Names, n.FullNameKeys)
	if fullName {
		attrs = append(attrs, models.MatchAttributeFullName)
	}
	if sameDate(n.DateOfBirth, c.DateOfBirth) {
		attrs = append(attrs, models.MatchAttributeDateOfBirth)
	}
	if !fullName && n.LastName != "" && contains(c.LastNames, n.LastName) {
		attrs = append(attrs, models.MatchAttributeLastName)
	}
	if n.EmailAddress != "" && contains(c.EmailAddresses, n.EmailAddress) {
		attrs = append(attrs, models.MatchAttributeEmailAddress)
	}
	return attrs
}

func satisfiesAutoRule(n models.NormalizedAssertion, c models.CandidateRecord, attrs []models.MatchAttribute) bool {
	has := func(want models.MatchAttribute) bool {
		for _, a := range attrs {
			if a == want {
				return true
			}
		}
		return false
	}
	if has(models.MatchAttributeTrn) || has(models.MatchAttributeTrnToken) {
		return true
	}
	trnConflict := n.Trn != "" && len(c.Trns) > 0 && !contains(c.Trns, n.Trn)
	if trnConflict || !has(models.MatchAttributeDateOfBirth) {
		return false
	}
	if has(models.MatchAttributeNationalInsuranceNumber) {
		return true
	}
	ninoConflict := n.NationalInsuranceNumber != "" && len(c.NationalInsuranceNumbers) > 0 &&
		!contains(c.NationalInsuranceNumbers, n.NationalInsuranceNumber)
	return has(models.MatchAttributeFullName) && !ninoConflict
}

func hasStrongAttribute(attrs []models.MatchAttribute) bool {
	for _, a := range attrs {
		if a.IsStrong() {
			return true
		}
	}
	return false
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func containsAny(values []string, wants []string) bool {
	for _, want := range wants {
		if contains(values, want) {
			return true
		}
	}
	return false
}
