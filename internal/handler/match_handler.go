package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/dto"
	"github.com/noah-isme/trn-registry-api/internal/middleware"
	"github.com/noah-isme/trn-registry-api/internal/models"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

type matchService interface {
	Submit(ctx context.Context, assertion models.MatchAssertion) (*models.MatchResponse, error)
}

// MatchHandler accepts identity assertions from the channels.
type MatchHandler struct {
	service matchService
}

// NewMatchHandler constructs the handler.
func NewMatchHandler(service matchService) *MatchHandler {
	return &MatchHandler{service: service}
}

// Submit godoc
// @Summary Submit an identity assertion
// @Description Classifies the assertion against the registry. An automatic match binds the external key; anything else opens a resolution task.
// @Tags Matching
// @Accept json
// @Produce json
// @Param payload body dto.MatchRequest true "Assertion"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /matches [post]
func (h *MatchHandler) Submit(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "match service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid assertion payload"))
		return
	}
	// API clients may only speak for the api channel.
	if claims.Role == models.RoleAPIClient && req.Channel != models.ChannelAPI {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "api clients may only submit api assertions"))
		return
	}
	assertion, err := req.ToAssertion(claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Submit(c.Request.Context(), assertion)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusOK
	if result.TaskReference != "" {
		status = http.StatusAccepted
	}
	middleware.SetMeta(c, "outcome", result.Outcome.Kind)
	respond(c, status, result)
}
