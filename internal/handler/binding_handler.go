package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/dto"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

type bindingService interface {
	BindDirect(ctx context.Context, params service.BindParams, actorID string) (*models.ExternalBinding, error)
	RecordFirstAndLastSeen(ctx context.Context, key string, at time.Time) error
}

// BindingHandler lets support staff link external identities directly.
type BindingHandler struct {
	service bindingService
	now     func() time.Time
}

// NewBindingHandler constructs the handler.
func NewBindingHandler(service bindingService) *BindingHandler {
	return &BindingHandler{service: service, now: time.Now}
}

// Bind godoc
// @Summary Bind an external key to a person
// @Tags Bindings
// @Accept json
// @Produce json
// @Param payload body dto.BindRequest true "Binding"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bindings [post]
func (h *BindingHandler) Bind(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "binding service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid binding payload"))
		return
	}
	params, err := req.ToParams()
	if err != nil {
		response.Error(c, err)
		return
	}
	binding, err := h.service.BindDirect(c.Request.Context(), params, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, binding)
}

// Seen godoc
// @Summary Record sign-in activity for a bound key
// @Tags Bindings
// @Accept json
// @Param payload body dto.SeenRequest true "Activity"
// @Success 204
// @Router /bindings/seen [post]
func (h *BindingHandler) Seen(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "binding service not configured"))
		return
	}
	var req dto.SeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid activity payload"))
		return
	}
	if err := dto.Validate(req); err != nil {
		response.Error(c, err)
		return
	}
	at := h.now().UTC()
	if req.SeenAt != nil {
		at = req.SeenAt.UTC()
	}
	if err := h.service.RecordFirstAndLastSeen(c.Request.Context(), req.ExternalKey, at); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
