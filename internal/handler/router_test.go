package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/middleware"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

const (
	personA = "3f0c6b8e-5d55-4c1e-9f8b-0c7a1d2e3f40"
	personB = "8a1d2e3f-4b5c-4d6e-8f70-1a2b3c4d5e6f"
)

type matchServiceStub struct {
	got      models.MatchAssertion
	response *models.MatchResponse
	err      error

	refreshed *models.MatchAssertion
	refreshOK bool
}

func (s *matchServiceStub) Submit(ctx context.Context, assertion models.MatchAssertion) (*models.MatchResponse, error) {
	s.got = assertion
	return s.response, s.err
}

func (s *matchServiceStub) Refresh(ctx context.Context, reference string, amended *models.MatchAssertion, actorID string) (*models.MatchResponse, error) {
	s.refreshOK = true
	s.refreshed = amended
	return &models.MatchResponse{TaskReference: reference, Outcome: models.MatchOutcome{Kind: models.OutcomeNoMatch}}, nil
}

type taskServiceStub struct {
	filter   models.ResolutionTaskFilter
	decision models.TaskDecision
	actor    string
	err      error
}

func (s *taskServiceStub) Get(ctx context.Context, reference string) (*models.ResolutionTask, error) {
	if reference != "TRS-00000001" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "resolution task not found")
	}
	return &models.ResolutionTask{Reference: reference, Status: models.TaskStatusOpen}, nil
}

func (s *taskServiceStub) List(ctx context.Context, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error) {
	s.filter = filter
	return []models.ResolutionTask{{Reference: "TRS-00000001"}}, nil
}

func (s *taskServiceStub) Resolve(ctx context.Context, reference string, decision models.TaskDecision, actorID string) (*models.ResolutionTask, error) {
	s.decision = decision
	s.actor = actorID
	if s.err != nil {
		return nil, s.err
	}
	return &models.ResolutionTask{Reference: reference, Status: models.TaskStatusResolved}, nil
}

type exporterStub struct {
	format service.ExportFormat
}

func (s *exporterStub) ExportWorklist(ctx context.Context, format service.ExportFormat, taskType models.TaskType) (*service.ExportFile, error) {
	s.format = format
	return &service.ExportFile{Filename: "worklist.csv", ContentType: "text/csv", Body: []byte("Reference\n")}, nil
}

type personServiceStub struct {
	details service.PersonDetails
	update  service.PersonUpdate
	view    *service.PersonView
}

func (s *personServiceStub) Register(ctx context.Context, details service.PersonDetails, actorID string) (*models.Person, error) {
	s.details = details
	trn := "1000000"
	return &models.Person{ID: personA, Trn: &trn, FirstName: details.FirstName, LastName: details.LastName}, nil
}

func (s *personServiceStub) UpdateDetails(ctx context.Context, personID string, update service.PersonUpdate, actorID string) (*models.Person, error) {
	s.update = update
	return &models.Person{ID: personID}, nil
}

func (s *personServiceStub) Get(ctx context.Context, id string) (*service.PersonView, error) {
	if s.view == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
	}
	return s.view, nil
}

type mergerStub struct {
	req models.MergeRequest
	err error
}

func (s *mergerStub) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	s.req = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.MergeResult{PrimaryID: req.PrimaryID, SecondaryID: req.SecondaryID}, nil
}

type bindingServiceStub struct {
	params service.BindParams
	seenAt time.Time
}

func (s *bindingServiceStub) BindDirect(ctx context.Context, params service.BindParams, actorID string) (*models.ExternalBinding, error) {
	s.params = params
	return &models.ExternalBinding{ExternalKey: params.ExternalKey, Status: models.BindingStatusBound}, nil
}

func (s *bindingServiceStub) RecordFirstAndLastSeen(ctx context.Context, key string, at time.Time) error {
	s.seenAt = at
	return nil
}

type identifierServiceStub struct {
	err error
}

func (s *identifierServiceStub) AddRange(ctx context.Context, from, to int64, actorID string) (*models.IdentifierRange, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.IdentifierRange{FromID: from, ToID: to, NextID: from}, nil
}

func (s *identifierServiceStub) ListRanges(ctx context.Context) (*service.RangeSummary, error) {
	return &service.RangeSummary{Remaining: 10}, nil
}

type testStubs struct {
	match    *matchServiceStub
	tasks    *taskServiceStub
	exporter *exporterStub
	persons  *personServiceStub
	merges   *mergerStub
	bindings *bindingServiceStub
	ids      *identifierServiceStub
	audited  []string
}

func buildTestRouter(t *testing.T) (*gin.Engine, *testStubs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	stubs := &testStubs{
		match:    &matchServiceStub{},
		tasks:    &taskServiceStub{},
		exporter: &exporterStub{},
		persons:  &personServiceStub{},
		merges:   &mergerStub{},
		bindings: &bindingServiceStub{},
		ids:      &identifierServiceStub{},
	}
	router := gin.New()
	router.Use(middleware.WithResponseMeta())
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(middleware.ContextUserKey, &models.JWTClaims{
				UserID: "test-user",
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})
	Routes{
		Match:       NewMatchHandler(stubs.match),
		Tasks:       NewTaskHandler(stubs.tasks, stubs.match, stubs.exporter),
		Persons:     NewPersonHandler(stubs.persons, stubs.merges),
		Bindings:    NewBindingHandler(stubs.bindings),
		Identifiers: NewIdentifierHandler(stubs.ids),
		Audit: func(resource string) gin.HandlerFunc {
			return func(c *gin.Context) {
				c.Next()
				if c.Writer.Status() < http.StatusBadRequest {
					stubs.audited = append(stubs.audited, resource)
				}
			}
		},
	}.Register(router.Group("/api/v1"))
	return router, stubs
}

func doRequest(router *gin.Engine, method, path, role string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Test-Role", role)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *appErrors.Error       `json:"error"`
	Page  *response.Page         `json:"page"`
	Meta  map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestRoutesEnforceRoles(t *testing.T) {
	router, _ := buildTestRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		role   models.UserRole
		want   int
	}{
		{"anonymous task list", http.MethodGet, "/api/v1/tasks", "", http.StatusUnauthorized},
		{"api client task list", http.MethodGet, "/api/v1/tasks", models.RoleAPIClient, http.StatusForbidden},
		{"officer task list", http.MethodGet, "/api/v1/tasks", models.RoleSupportOfficer, http.StatusOK},
		{"admin task list", http.MethodGet, "/api/v1/tasks", models.RoleAdmin, http.StatusOK},
		{"officer ranges", http.MethodGet, "/api/v1/identifiers/ranges", models.RoleSupportOfficer, http.StatusForbidden},
		{"admin ranges", http.MethodGet, "/api/v1/identifiers/ranges", models.RoleAdmin, http.StatusOK},
		{"no allocation route", http.MethodPost, "/api/v1/identifiers/allocate", models.RoleAdmin, http.StatusNotFound},
		{"api client persons", http.MethodGet, "/api/v1/persons/" + personA, models.RoleAPIClient, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(router, tc.method, tc.path, string(tc.role), nil)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAddRangeSurfacesDomainErrors(t *testing.T) {
	router, stubs := buildTestRouter(t)
	stubs.ids.err = appErrors.ErrRangeOverlap

	w := doRequest(router, http.MethodPost, "/api/v1/identifiers/ranges", string(models.RoleAdmin), map[string]int64{"from": 2000000, "to": 2999999})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, stubs.audited)
}

func TestStaffMutationsAreAudited(t *testing.T) {
	router, stubs := buildTestRouter(t)

	calls := []struct {
		method   string
		path     string
		role     models.UserRole
		body     interface{}
		resource string
	}{
		{http.MethodPost, "/api/v1/tasks/TRS-00000001/refresh", models.RoleSupportOfficer, nil, "resolution_task"},
		{http.MethodPost, "/api/v1/persons", models.RoleSupportOfficer, map[string]string{"firstName": "Jane", "lastName": "Doe", "dateOfBirth": "1990-04-01"}, "person"},
		{http.MethodPatch, "/api/v1/persons/" + personA, models.RoleSupportOfficer, map[string]string{"middleName": "Ann"}, "person"},
		{http.MethodPost, "/api/v1/identifiers/ranges", models.RoleAdmin, map[string]int64{"from": 2000000, "to": 2999999}, "identifier_range"},
	}
	for _, call := range calls {
		stubs.audited = nil
		w := doRequest(router, call.method, call.path, string(call.role), call.body)
		require.Less(t, w.Code, http.StatusBadRequest, "%s %s", call.method, call.path)
		assert.Equal(t, []string{call.resource}, stubs.audited, "%s %s", call.method, call.path)
	}
}

func TestAddRangeValidatesBounds(t *testing.T) {
	router, _ := buildTestRouter(t)

	w := doRequest(router, http.MethodPost, "/api/v1/identifiers/ranges", string(models.RoleAdmin), map[string]int64{"from": 2000000, "to": 1999999})
	require.Equal(t, http.StatusBadRequest, w.Code)
	details := decodeEnvelope(t, w).Error.Details.(map[string]interface{})
	assert.Equal(t, []interface{}{"to"}, details["fields"])

	w = doRequest(router, http.MethodPost, "/api/v1/identifiers/ranges", string(models.RoleAdmin), map[string]int64{"from": 2000000, "to": 2999999})
	assert.Equal(t, http.StatusCreated, w.Code)
}
