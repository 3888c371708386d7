package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trn-registry-api/internal/dto"
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
	"github.com/noah-isme/trn-registry-api/pkg/response"
)

type taskService interface {
	Get(ctx context.Context, reference string) (*models.ResolutionTask, error)
	List(ctx context.Context, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error)
	Resolve(ctx context.Context, reference string, decision models.TaskDecision, actorID string) (*models.ResolutionTask, error)
}

type taskRefresher interface {
	Refresh(ctx context.Context, reference string, amended *models.MatchAssertion, actorID string) (*models.MatchResponse, error)
}

type worklistExporter interface {
	ExportWorklist(ctx context.Context, format service.ExportFormat, taskType models.TaskType) (*service.ExportFile, error)
}

// TaskHandler exposes the support worklist of resolution tasks.
type TaskHandler struct {
	tasks    taskService
	match    taskRefresher
	exporter worklistExporter
}

// NewTaskHandler constructs the handler. exporter may be nil when exports are disabled.
func NewTaskHandler(tasks taskService, match taskRefresher, exporter worklistExporter) *TaskHandler {
	return &TaskHandler{tasks: tasks, match: match, exporter: exporter}
}

// List godoc
// @Summary List resolution tasks
// @Tags Tasks
// @Produce json
// @Param status query string false "Comma separated statuses (Open, Resolved, Rejected)"
// @Param type query string false "Task type"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} response.Envelope
// @Router /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	if h.tasks == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "task service not configured"))
		return
	}
	query := dto.ParseTaskQuery(c.Query("status"), c.Query("type"), c.Query("limit"), c.Query("offset"))
	tasks, err := h.tasks.List(c.Request.Context(), query.Filter())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tasks, &response.Page{Limit: query.Limit, Offset: query.Offset, Returned: len(tasks)})
}

// Get godoc
// @Summary Get a resolution task
// @Tags Tasks
// @Produce json
// @Param reference path string true "Task reference"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tasks/{reference} [get]
func (h *TaskHandler) Get(c *gin.Context) {
	if h.tasks == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "task service not configured"))
		return
	}
	task, err := h.tasks.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Resolve godoc
// @Summary Resolve a task
// @Description CreateNew allocates a TRN, MergeInto merges the assertion or subject into a candidate, Reject closes the task.
// @Tags Tasks
// @Accept json
// @Produce json
// @Param reference path string true "Task reference"
// @Param payload body dto.ResolveTaskRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /tasks/{reference}/resolve [post]
func (h *TaskHandler) Resolve(c *gin.Context) {
	if h.tasks == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "task service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ResolveTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	decision, err := req.ToDecision()
	if err != nil {
		response.Error(c, err)
		return
	}
	task, err := h.tasks.Resolve(c.Request.Context(), c.Param("reference"), decision, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, task, nil)
}

// Refresh godoc
// @Summary Re-run matching for an open task
// @Tags Tasks
// @Accept json
// @Produce json
// @Param reference path string true "Task reference"
// @Param payload body dto.RefreshTaskRequest false "Amended assertion"
// @Success 200 {object} response.Envelope
// @Router /tasks/{reference}/refresh [post]
func (h *TaskHandler) Refresh(c *gin.Context) {
	if h.match == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "match service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RefreshTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid refresh payload"))
		return
	}
	var amended *models.MatchAssertion
	if req.Assertion != nil {
		// Channel and key come from the stored task.
		if req.Assertion.Channel == "" {
			req.Assertion.Channel = models.ChannelSupport
		}
		assertion, err := req.Assertion.ToAssertion(claims.UserID)
		if err != nil {
			response.Error(c, err)
			return
		}
		amended = &assertion
	}
	result, err := h.match.Refresh(c.Request.Context(), c.Param("reference"), amended, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Export godoc
// @Summary Export open tasks as CSV or PDF
// @Tags Tasks
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf" default(csv)
// @Param type query string false "Task type"
// @Success 200 {file} file
// @Router /tasks/export [get]
func (h *TaskHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "task exports are disabled"))
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	file, err := h.exporter.ExportWorklist(c.Request.Context(), format, models.TaskType(strings.TrimSpace(c.Query("type"))))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
