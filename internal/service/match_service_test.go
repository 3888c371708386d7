package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/models"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

func TestSubmitNoMatchOpensEmptyTask(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	resp, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:     models.ChannelAPI,
		ExternalKey: models.ExternalKey(models.ChannelAPI, "caller-1", "req-1"),
		FirstName:   "Nadia",
		LastName:    "Farouk",
		DateOfBirth: dob("1992-08-14"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoMatch, resp.Outcome.Kind)
	require.NotEmpty(t, resp.TaskReference)
	require.NotNil(t, resp.Binding)
	assert.Equal(t, models.BindingStatusPendingResolution, resp.Binding.Status)

	task, err := reg.tasks.Get(ctx, resp.TaskReference)
	require.NoError(t, err)
	assert.Equal(t, models.TaskTypeAPITrnRequest, task.TaskType)
	assert.JSONEq(t, `[]`, string(task.Candidates))
}

func TestSubmitAutoMatchBindsOnce(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	person := reg.seedPerson(t, PersonDetails{FirstName: "William", LastName: "Okafor", DateOfBirth: dob("1983-02-11")})
	assertion := models.MatchAssertion{
		Channel:     models.ChannelOneLogin,
		ExternalKey: "onelogin:urn:fdc:sub-1",
		TrustLevel:  models.TrustIdentityVerified,
		FirstName:   "Bill",
		LastName:    "Okafor",
		DateOfBirth: dob("1983-02-11"),
	}

	resp, err := reg.match.Submit(ctx, assertion)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAutoMatch, resp.Outcome.Kind)
	assert.Equal(t, person.ID, resp.Outcome.PersonID)
	assert.Equal(t, *person.Trn, *resp.Trn)
	require.NotNil(t, resp.Binding)
	assert.Equal(t, models.BindingStatusBound, resp.Binding.Status)
	assert.Equal(t, models.MatchRouteInteractive, *resp.Binding.MatchRoute)
	events := len(reg.db.eventNames())

	again, err := reg.match.Submit(ctx, assertion)
	require.NoError(t, err)
	assert.Equal(t, person.ID, again.Outcome.PersonID)
	assert.Len(t, reg.db.eventNames(), events)
	assert.Equal(t, uint64(1), reg.metrics.Snapshot().AutoMatches)
}

func TestSubmitTrnTokenIsSingleUse(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	person := reg.seedPerson(t, PersonDetails{FirstName: "Grace", LastName: "Hart", DateOfBirth: dob("1971-12-01")})
	token, _, err := reg.tokens.Issue(ctx, *person.Trn, "grace@example.org", "ops")
	require.NoError(t, err)

	resp, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:     models.ChannelOneLogin,
		ExternalKey: "onelogin:sub-a",
		LastName:    "Hart",
		TrnToken:    token,
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAutoMatch, resp.Outcome.Kind)
	assert.Equal(t, models.MatchRouteTrnToken, *resp.Binding.MatchRoute)

	stored, err := reg.tokens.tokens.GetByDigest(ctx, nil, reg.tokens.Digest(token))
	require.NoError(t, err)
	require.NotNil(t, stored.ConsumedAt)
	assert.Equal(t, "onelogin:sub-a", *stored.ConsumedByKey)

	second, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:     models.ChannelOneLogin,
		ExternalKey: "onelogin:sub-b",
		LastName:    "Hart",
		TrnToken:    token,
	})
	require.NoError(t, err)
	assert.NotEqual(t, models.OutcomeAutoMatch, second.Outcome.Kind)
	require.NotEmpty(t, second.TaskReference)

	task, err := reg.tasks.Get(ctx, second.TaskReference)
	require.NoError(t, err)
	stored2, err := task.DecodeAssertion()
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", stored2.TrnToken)
}

func TestSubmitPendingKeyRefreshesExistingTask(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	details := PersonDetails{FirstName: "Sam", LastName: "Lee", DateOfBirth: dob("1988-05-05")}
	reg.seedPerson(t, details)
	reg.seedPerson(t, details)
	assertion := models.MatchAssertion{
		Channel:     models.ChannelAPI,
		ExternalKey: "api:caller-2/req-7",
		FirstName:   "Sam",
		LastName:    "Lee",
		DateOfBirth: dob("1988-05-05"),
	}

	first, err := reg.match.Submit(ctx, assertion)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAmbiguous, first.Outcome.Kind)
	require.Len(t, first.Outcome.Candidates, 2)

	assertion.EmailAddress = "sam.lee@example.org"
	second, err := reg.match.Submit(ctx, assertion)
	require.NoError(t, err)
	assert.Equal(t, first.TaskReference, second.TaskReference)

	tasks, err := reg.tasks.List(ctx, models.ResolutionTaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	stored, err := tasks[0].DecodeAssertion()
	require.NoError(t, err)
	assert.Equal(t, "sam.lee@example.org", stored.EmailAddress)
}

func TestSubmitSubjectReview(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	details := PersonDetails{FirstName: "Ruth", LastName: "Ng", DateOfBirth: dob("1968-03-03")}
	original := reg.seedPerson(t, details)
	duplicate := reg.seedPerson(t, details)

	resp, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:         models.ChannelSupport,
		SubjectPersonID: duplicate.ID,
		FirstName:       "Ruth",
		LastName:        "Ng",
		DateOfBirth:     dob("1968-03-03"),
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeAmbiguous, resp.Outcome.Kind)
	require.Len(t, resp.Outcome.Candidates, 1)
	assert.Equal(t, original.ID, resp.Outcome.Candidates[0].PersonID)
	assert.NotEmpty(t, resp.TaskReference)

	loner := reg.seedPerson(t, PersonDetails{FirstName: "Ivo", LastName: "Petrov", DateOfBirth: dob("1999-09-09")})
	none, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:         models.ChannelSupport,
		SubjectPersonID: loner.ID,
		FirstName:       "Ivo",
		LastName:        "Petrov",
		DateOfBirth:     dob("1999-09-09"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNoMatch, none.Outcome.Kind)
	assert.Empty(t, none.TaskReference)

	_, err = reg.match.Submit(ctx, models.MatchAssertion{Channel: models.ChannelSupport, SubjectPersonID: "missing", LastName: "Ng"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestSubmitValidation(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.match.Submit(ctx, models.MatchAssertion{Channel: "fax", LastName: "Doe"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = reg.match.Submit(ctx, models.MatchAssertion{Channel: models.ChannelAPI})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = reg.match.Submit(ctx, models.MatchAssertion{Channel: models.ChannelOneLogin, LastName: "Doe"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

// staleOnceFinder reports an outdated version on its first lookup.
type staleOnceFinder struct {
	inner candidateFinder
	calls int
}

func (f *staleOnceFinder) FindCandidates(ctx context.Context, n models.NormalizedAssertion) ([]models.CandidateRecord, error) {
	f.calls++
	records, err := f.inner.FindCandidates(ctx, n)
	if err != nil || f.calls > 1 {
		return records, err
	}
	for i := range records {
		records[i].Version--
	}
	return records, nil
}

func TestSubmitRerunsStaleDecision(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	person := reg.seedPerson(t, PersonDetails{FirstName: "Lena", LastName: "Voss", DateOfBirth: dob("1981-10-10")})
	finder := &staleOnceFinder{inner: reg.index}
	svc := NewMatchService(MatchServiceParams{
		Finder:   finder,
		Tokens:   reg.tokens,
		Bindings: reg.bindings,
		Tasks:    reg.tasks,
		Persons:  memPersonRepo{reg.db},
		Tx:       reg.db,
	})

	resp, err := svc.Submit(ctx, models.MatchAssertion{
		Channel:     models.ChannelAPI,
		ExternalKey: "api:c/9",
		FirstName:   "Lena",
		LastName:    "Voss",
		DateOfBirth: dob("1981-10-10"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAutoMatch, resp.Outcome.Kind)
	assert.Equal(t, person.ID, resp.Outcome.PersonID)
	assert.Equal(t, 2, finder.calls)
}

func TestRefreshKeepsTaskOpen(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	resp, err := reg.match.Submit(ctx, models.MatchAssertion{Channel: models.ChannelBulk, FirstName: "Omar", LastName: "Said"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.TaskReference)

	reg.seedPerson(t, PersonDetails{FirstName: "Omar", LastName: "Said", DateOfBirth: dob("1977-01-20")})
	refreshed, err := reg.match.Refresh(ctx, resp.TaskReference, nil, "officer-2")
	require.NoError(t, err)
	require.Len(t, refreshed.Outcome.Candidates, 1)

	task, err := reg.tasks.Get(ctx, resp.TaskReference)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusOpen, task.Status)
	candidates, err := task.DecodeCandidates()
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestResubmitPendingKeyNeverReportsUncommittedMatch(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	key := "onelogin:urn:fdc:sub-77"

	first, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:     models.ChannelOneLogin,
		ExternalKey: key,
		FirstName:   "Ines",
		LastName:    "Duarte",
		DateOfBirth: dob("1986-06-06"),
	})
	require.NoError(t, err)
	require.Equal(t, models.OutcomeNoMatch, first.Outcome.Kind)

	person := reg.seedPerson(t, PersonDetails{FirstName: "Ines", LastName: "Duarte", DateOfBirth: dob("1986-06-06")})
	second, err := reg.match.Submit(ctx, models.MatchAssertion{
		Channel:     models.ChannelOneLogin,
		ExternalKey: key,
		Trn:         *person.Trn,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAmbiguous, second.Outcome.Kind)
	assert.Empty(t, second.Outcome.PersonID)
	require.Len(t, second.Outcome.Candidates, 1)
	assert.Equal(t, person.ID, second.Outcome.Candidates[0].PersonID)
	assert.Equal(t, first.TaskReference, second.TaskReference)

	binding, err := reg.bindings.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.BindingStatusPendingResolution, binding.Status)
	task, err := reg.tasks.Get(ctx, first.TaskReference)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusOpen, task.Status)
}
