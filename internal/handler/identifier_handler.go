package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/dto"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

type identifierService interface {
	AddRange(ctx context.Context, from, to int64, actorID string) (*models.IdentifierRange, error)
	ListRanges(ctx context.Context) (*service.RangeSummary, error)
}

// IdentifierHandler administers TRN ranges.
type IdentifierHandler struct {
	service identifierService
}

// NewIdentifierHandler constructs the handler.
func NewIdentifierHandler(service identifierService) *IdentifierHandler {
	return &IdentifierHandler{service: service}
}

// ListRanges godoc
// @Summary List TRN ranges and remaining capacity
// @Tags Identifiers
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /identifiers/ranges [get]
func (h *IdentifierHandler) ListRanges(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "identifier service not configured"))
		return
	}
	summary, err := h.service.ListRanges(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// AddRange godoc
// @Summary Register a TRN range
// @Tags Identifiers
// @Accept json
// @Produce json
// @Param payload body dto.AddRangeRequest true "Range bounds, inclusive"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /identifiers/ranges [post]
func (h *IdentifierHandler) AddRange(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "identifier service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AddRangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid range payload"))
		return
	}
	if err := dto.Validate(req); err != nil {
		response.Error(c, err)
		return
	}
	rng, err := h.service.AddRange(c.Request.Context(), req.From, req.To, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rng)
}
