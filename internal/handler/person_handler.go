package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/dto"
	"github.com/noah-isme/trn-registry-api/internal/middleware"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

type personService interface {
	Register(ctx context.Context, details service.PersonDetails, actorID string) (*models.Person, error)
	UpdateDetails(ctx context.Context, personID string, update service.PersonUpdate, actorID string) (*models.Person, error)
	Get(ctx context.Context, id string) (*service.PersonView, error)
}

type personMerger interface {
	Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error)
}

// PersonHandler exposes direct person maintenance for support staff.
type PersonHandler struct {
	persons personService
	merges  personMerger
}

// NewPersonHandler constructs the handler.
func NewPersonHandler(persons personService, merges personMerger) *PersonHandler {
	return &PersonHandler{persons: persons, merges: merges}
}

// Register godoc
// @Summary Register a person and allocate a TRN
// @Tags Persons
// @Accept json
// @Produce json
// @Param payload body dto.RegisterPersonRequest true "Person details"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /persons [post]
func (h *PersonHandler) Register(c *gin.Context) {
	if h.persons == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "person service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RegisterPersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid person payload"))
		return
	}
	details, err := req.ToDetails()
	if err != nil {
		response.Error(c, err)
		return
	}
	person, err := h.persons.Register(c.Request.Context(), details, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, person)
}

// Update godoc
// @Summary Update identity fields of a person
// @Tags Persons
// @Accept json
// @Produce json
// @Param id path string true "Person ID"
// @Param payload body dto.UpdatePersonRequest true "Changed fields"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /persons/{id} [patch]
func (h *PersonHandler) Update(c *gin.Context) {
	if h.persons == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "person service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid person payload"))
		return
	}
	update, err := req.ToUpdate()
	if err != nil {
		response.Error(c, err)
		return
	}
	person, err := h.persons.UpdateDetails(c.Request.Context(), c.Param("id"), update, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, person, nil)
}

// Get godoc
// @Summary Get a person
// @Description Merged ids resolve to the surviving person; redirectedFrom names the requested id.
// @Tags Persons
// @Produce json
// @Param id path string true "Person ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /persons/{id} [get]
func (h *PersonHandler) Get(c *gin.Context) {
	if h.persons == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "person service not configured"))
		return
	}
	view, err := h.persons.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if view.RedirectedFrom != nil {
		middleware.SetMeta(c, "redirected_from", *view.RedirectedFrom)
	}
	respond(c, http.StatusOK, view)
}

// Merge godoc
// @Summary Merge another person into this one
// @Description The person in the path survives. Conflicting fields need a choice each.
// @Tags Persons
// @Accept json
// @Produce json
// @Param id path string true "Primary person ID"
// @Param payload body dto.MergePersonRequest true "Merge request"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /persons/{id}/merge [post]
func (h *PersonHandler) Merge(c *gin.Context) {
	if h.merges == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "merge service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.MergePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid merge payload"))
		return
	}
	mergeReq, err := req.ToMergeRequest(c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.merges.Merge(c.Request.Context(), mergeReq)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
