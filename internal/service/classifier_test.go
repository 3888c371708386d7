package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

func classify(t *testing.T, assertion models.MatchAssertion, records ...models.CandidateRecord) models.MatchOutcome {
	t.Helper()
	n := NewNormalizer().Normalize(assertion)
	return NewClassifier().Classify(n, records)
}

func TestClassifierExactTrnAutoMatches(t *testing.T) {
	outcome := classify(t,
		models.MatchAssertion{Channel: models.ChannelAPI, Trn: "1000042", LastName: "Smith"},
		models.CandidateRecord{PersonID: "p1", Version: 3, Trns: []string{"1000042"}, LastNames: []string{"smith"}},
	)

	require.Equal(t, models.OutcomeAutoMatch, outcome.Kind)
	assert.Equal(t, "p1", outcome.PersonID)
	assert.Equal(t, []models.MatchAttribute{models.MatchAttributeTrn, models.MatchAttributeLastName}, outcome.MatchedAttributes)
	require.Len(t, outcome.Candidates, 1)
	assert.Equal(t, 3, outcome.Candidates[0].Version)
}

func TestClassifierNameAndDateOfBirth(t *testing.T) {
	born := dob("1985-04-12")
	assertion := models.MatchAssertion{Channel: models.ChannelOneLogin, FirstName: "Bill", LastName: "Jones", DateOfBirth: born}
	william := models.CandidateRecord{PersonID: "p1", Names: []string{"william jones"}, LastNames: []string{"jones"}, DateOfBirth: born}

	t.Run("single candidate via synonym", func(t *testing.T) {
		outcome := classify(t, assertion, william)
		require.Equal(t, models.OutcomeAutoMatch, outcome.Kind)
		assert.Equal(t, "p1", outcome.PersonID)
		assert.Contains(t, outcome.MatchedAttributes, models.MatchAttributeFullName)
		assert.Contains(t, outcome.MatchedAttributes, models.MatchAttributeDateOfBirth)
	})

	t.Run("two people share name and birthday", func(t *testing.T) {
		twin := william
		twin.PersonID = "p2"
		outcome := classify(t, assertion, william, twin)
		require.Equal(t, models.OutcomeAmbiguous, outcome.Kind)
		assert.Empty(t, outcome.PersonID)
		assert.Len(t, outcome.Candidates, 2)
	})

	t.Run("conflicting trn vetoes the name route", func(t *testing.T) {
		withTrn := assertion
		withTrn.Trn = "1000001"
		candidate := william
		candidate.Trns = []string{"1000002"}
		outcome := classify(t, withTrn, candidate)
		assert.Equal(t, models.OutcomeAmbiguous, outcome.Kind)
	})

	t.Run("conflicting nino vetoes the name route", func(t *testing.T) {
		withNino := assertion
		withNino.NationalInsuranceNumber = "QQ123456C"
		candidate := william
		candidate.NationalInsuranceNumbers = []string{"AB987654D"}
		outcome := classify(t, withNino, candidate)
		assert.Equal(t, models.OutcomeAmbiguous, outcome.Kind)
	})
}

func TestClassifierNinoAndDateOfBirth(t *testing.T) {
	born := dob("1990-01-31")
	outcome := classify(t,
		models.MatchAssertion{Channel: models.ChannelAPI, NationalInsuranceNumber: "qq 12 34 56 c", DateOfBirth: born, LastName: "Patel"},
		models.CandidateRecord{PersonID: "p9", NationalInsuranceNumbers: []string{"QQ123456C"}, DateOfBirth: born, LastNames: []string{"shah"}},
	)
	require.Equal(t, models.OutcomeAutoMatch, outcome.Kind)
	assert.Equal(t, "p9", outcome.PersonID)
}

func TestClassifierSecondPlausibleCandidateBlocksAutoMatch(t *testing.T) {
	born := dob("1979-11-02")
	outcome := classify(t,
		models.MatchAssertion{Channel: models.ChannelBulk, FirstName: "Anna", LastName: "Berg", DateOfBirth: born},
		models.CandidateRecord{PersonID: "winner", Names: []string{"anna berg"}, DateOfBirth: born},
		models.CandidateRecord{PersonID: "birthday", Names: []string{"otto klein"}, DateOfBirth: born},
	)
	require.Equal(t, models.OutcomeAmbiguous, outcome.Kind)
	require.Len(t, outcome.Candidates, 2)
	assert.Equal(t, "winner", outcome.Candidates[0].PersonID)
}

func TestClassifierWeakEvidenceIsAmbiguous(t *testing.T) {
	outcome := classify(t,
		models.MatchAssertion{Channel: models.ChannelSupport, EmailAddress: " Sam@Example.org ", LastName: "Reed"},
		models.CandidateRecord{PersonID: "p1", EmailAddresses: []string{"sam@example.org"}, LastNames: []string{"reed"}},
	)
	require.Equal(t, models.OutcomeAmbiguous, outcome.Kind)
	assert.Equal(t, []models.MatchAttribute{models.MatchAttributeLastName, models.MatchAttributeEmailAddress},
		outcome.Candidates[0].MatchedAttributes)
}

func TestClassifierNoMatch(t *testing.T) {
	outcome := classify(t,
		models.MatchAssertion{Channel: models.ChannelAPI, FirstName: "Zoe", LastName: "Quinn", DateOfBirth: dob("2000-02-29")},
		models.CandidateRecord{PersonID: "p1", Names: []string{"adam west"}, LastNames: []string{"west"}, DateOfBirth: dob("1961-05-05")},
	)
	assert.Equal(t, models.OutcomeNoMatch, outcome.Kind)
	assert.NotNil(t, outcome.Candidates)
	assert.Empty(t, outcome.Candidates)

	empty := classify(t, models.MatchAssertion{Channel: models.ChannelAPI, LastName: "Quinn"})
	assert.Equal(t, models.OutcomeNoMatch, empty.Kind)
}

func TestClassifierRankingIsStable(t *testing.T) {
	born := dob("1970-07-07")
	records := []models.CandidateRecord{
		{PersonID: "a", LastNames: []string{"moss"}},
		{PersonID: "b", LastNames: []string{"moss"}, DateOfBirth: born},
		{PersonID: "c", LastNames: []string{"moss"}},
	}
	assertion := models.MatchAssertion{Channel: models.ChannelAPI, LastName: "Moss", DateOfBirth: born}

	for i := 0; i < 5; i++ {
		outcome := classify(t, assertion, records...)
		ids := make([]string, len(outcome.Candidates))
		for j, c := range outcome.Candidates {
			ids[j] = c.PersonID
		}
		assert.Equal(t, []string{"b", "a", "c"}, ids)
	}
}

func TestClassifierTokenDecided(t *testing.T) {
	n := NewNormalizer().Normalize(models.MatchAssertion{Channel: models.ChannelOneLogin, LastName: "Hart"})
	n.TokenTrn = "1000077"
	outcome := NewClassifier().Classify(n, []models.CandidateRecord{
		{PersonID: "p7", Trns: []string{"1000077"}, LastNames: []string{"hart"}},
	})

	require.Equal(t, models.OutcomeAutoMatch, outcome.Kind)
	assert.True(t, TokenDecided(outcome))
	assert.False(t, TokenDecided(models.MatchOutcome{Kind: models.OutcomeAmbiguous}))
}
