package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

func TestPersonRegister(t *testing.T) {
	router, stubs := buildTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/persons", string(models.RoleSupportOfficer), map[string]string{
		"firstName":               "Maya",
		"lastName":                "Cohen",
		"dateOfBirth":             "1986-07-19",
		"nationalInsuranceNumber": "QQ123456C",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Maya", stubs.persons.details.FirstName)
	assert.Equal(t, "QQ123456C", stubs.persons.details.NationalInsuranceNumber)

	var person models.Person
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &person))
	assert.Equal(t, "1000000", *person.Trn)
}

func TestPersonRegisterRequiresCoreFields(t *testing.T) {
	router, _ := buildTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/persons", string(models.RoleSupportOfficer), map[string]string{"firstName": "Solo"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeEnvelope(t, w).Error.Details.(map[string]interface{})
	assert.Equal(t, []interface{}{"lastName", "dateOfBirth"}, details["fields"])
}

func TestPersonUpdateKeepsNilForOmittedFields(t *testing.T) {
	router, stubs := buildTestRouter(t)

	w := doRequest(router, http.MethodPatch, "/api/v1/persons/"+personA, string(models.RoleSupportOfficer), map[string]interface{}{
		"lastName":        "Smith",
		"emailAddress":    "",
		"expectedVersion": 3,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, stubs.persons.update.FirstName)
	require.NotNil(t, stubs.persons.update.LastName)
	assert.Equal(t, "Smith", *stubs.persons.update.LastName)
	require.NotNil(t, stubs.persons.update.EmailAddress)
	assert.Empty(t, *stubs.persons.update.EmailAddress)
	assert.Equal(t, 3, *stubs.persons.update.ExpectedVersion)
}

func TestPersonGetReportsRedirect(t *testing.T) {
	router, stubs := buildTestRouter(t)
	from := personB
	stubs.persons.view = &service.PersonView{Person: models.Person{ID: personA}, RedirectedFrom: &from}

	w := doRequest(router, http.MethodGet, "/api/v1/persons/"+personB, string(models.RoleSupportOfficer), nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, personB, env.Meta["redirected_from"])

	var view service.PersonView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, personA, view.ID)
}

func TestPersonGetNotFound(t *testing.T) {
	router, _ := buildTestRouter(t)
	w := doRequest(router, http.MethodGet, "/api/v1/persons/"+personA, string(models.RoleSupportOfficer), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPersonMerge(t *testing.T) {
	router, stubs := buildTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/persons/"+personA+"/merge", string(models.RoleSupportOfficer), map[string]interface{}{
		"secondaryId":            personB,
		"evidenceRef":            "ticket-81",
		"expectedPrimaryVersion": 2,
		"fieldChoices": map[string]interface{}{
			"date_of_birth": map[string]string{"source": "primary"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, personA, stubs.merges.req.PrimaryID)
	assert.Equal(t, personB, stubs.merges.req.SecondaryID)
	assert.Equal(t, "test-user", stubs.merges.req.ActorID)
	assert.Equal(t, 2, *stubs.merges.req.ExpectedPrimaryVersion)
	assert.Nil(t, stubs.merges.req.ExpectedSecondaryVersion)
	assert.Equal(t, models.ChoicePrimary, stubs.merges.req.FieldChoices[models.FieldDateOfBirth].Source)
	assert.Equal(t, []string{"person"}, stubs.audited)
}

func TestPersonMergeMissingChoices(t *testing.T) {
	router, stubs := buildTestRouter(t)
	stubs.merges.err = appErrors.WithDetails(appErrors.ErrConflictingChoiceMissing,
		"missing field choices: email_address",
		map[string]interface{}{"fields": []string{"email_address"}})

	w := doRequest(router, http.MethodPost, "/api/v1/persons/"+personA+"/merge", string(models.RoleSupportOfficer), map[string]interface{}{
		"secondaryId": personB,
		"evidenceRef": "ticket-81",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decodeEnvelope(t, w)
	assert.Equal(t, "CONFLICTING_CHOICE_MISSING", env.Error.Code)
	assert.Contains(t, env.Error.Message, "email_address")
}

func TestPersonMergeRejectsMalformedIDs(t *testing.T) {
	router, stubs := buildTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/persons/"+personA+"/merge", string(models.RoleSupportOfficer), map[string]interface{}{
		"secondaryId": "not-a-uuid",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeEnvelope(t, w).Error.Details.(map[string]interface{})
	assert.ElementsMatch(t, []interface{}{"secondaryId", "evidenceRef"}, details["fields"])
	assert.Empty(t, stubs.merges.req.PrimaryID)
}
