package service

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

const taskReferencePrefix = "TRS-"

var crockford = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

type resolutionTaskStore interface {
	Create(ctx context.Context, q repository.DBTX, task *models.ResolutionTask) error
	GetByReference(ctx context.Context, q repository.DBTX, reference string) (*models.ResolutionTask, error)
	GetByReferenceForUpdate(ctx context.Context, q repository.DBTX, reference string) (*models.ResolutionTask, error)
	List(ctx context.Context, q repository.DBTX, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error)
	Requeue(ctx context.Context, q repository.DBTX, id string, assertion, candidates types.JSONText) error
	Close(ctx context.Context, q repository.DBTX, params repository.CloseTaskParams) error
}

type taskPersonWriter interface {
	CreateTx(ctx context.Context, q repository.DBTX, person *models.Person, source, taskReference string) error
	AssignTrnTx(ctx context.Context, q repository.DBTX, personID, taskReference string) (*models.Person, error)
}

type taskMerger interface {
	MergeTx(ctx context.Context, q repository.DBTX, req models.MergeRequest) (*models.MergeResult, bool, error)
	ApplyAssertionTx(ctx context.Context, q repository.DBTX, req AssertionMerge) (map[models.PersonField]*string, error)
}

type taskBinder interface {
	Bind(ctx context.Context, q repository.DBTX, params BindParams) (*models.ExternalBinding, error)
	Reject(ctx context.Context, q repository.DBTX, key, taskReference string) (*models.ExternalBinding, error)
}

// ResolutionTaskService owns the human adjudication queue.
type ResolutionTaskService struct {
	tasks     resolutionTaskStore
	persons   taskPersonWriter
	merger    taskMerger
	bindings  taskBinder
	events    eventAppender
	notifier  eventNotifier
	tx        txRunner
	reader    repository.DBTX
	audit     auditLogger
	metrics   *MetricsService
	logger    *zap.Logger
	reference func() (string, error)
	now       func() time.Time
}

// ResolutionTaskServiceParams groups constructor dependencies.
type ResolutionTaskServiceParams struct {
	Tasks    resolutionTaskStore
	Persons  taskPersonWriter
	Merger   taskMerger
	Bindings taskBinder
	Events   eventAppender
	Notifier eventNotifier
	Tx       txRunner
	Reader   repository.DBTX
	Audit    auditLogger
	Metrics  *MetricsService
	Logger   *zap.Logger
}

// NewResolutionTaskService constructs the task queue.
func NewResolutionTaskService(params ResolutionTaskServiceParams) *ResolutionTaskService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolutionTaskService{
		tasks:     params.Tasks,
		persons:   params.Persons,
		merger:    params.Merger,
		bindings:  params.Bindings,
		events:    params.Events,
		notifier:  params.Notifier,
		tx:        params.Tx,
		reader:    params.Reader,
		audit:     params.Audit,
		metrics:   params.Metrics,
		logger:    logger,
		reference: newTaskReference,
		now:       time.Now,
	}
}

// EnqueueParams describes a new task.
type EnqueueParams struct {
	Assertion       models.MatchAssertion
	Candidates      []models.CandidateMatch
	TaskType        models.TaskType
	SubjectPersonID string
	ExternalKey     string
}

// Enqueue opens a task inside the caller's transaction. The assertion is
// stored with any token value redacted.
func (s *ResolutionTaskService) Enqueue(ctx context.Context, q repository.DBTX, params EnqueueParams) (*models.ResolutionTask, error) {
	reference, err := s.reference()
	if err != nil {
		return nil, fmt.Errorf("generate task reference: %w", err)
	}
	assertion, candidates, err := encodeTaskSnapshot(params.Assertion, params.Candidates)
	if err != nil {
		return nil, err
	}
	taskType := params.TaskType
	if taskType == "" {
		taskType = models.TaskTypeForChannel(params.Assertion.Channel)
	}
	task := &models.ResolutionTask{
		Reference:  reference,
		TaskType:   taskType,
		Status:     models.TaskStatusOpen,
		Assertion:  assertion,
		Candidates: candidates,
	}
	if params.SubjectPersonID != "" {
		subject := params.SubjectPersonID
		task.SubjectPersonID = &subject
	}
	if params.ExternalKey != "" {
		key := params.ExternalKey
		task.ExternalKey = &key
	}
	if err := s.tasks.Create(ctx, q, task); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, q, s.events, params.SubjectPersonID, models.EventTaskCreated, models.TaskEventPayload{
		Reference:  task.Reference,
		TaskType:   task.TaskType,
		Status:     task.Status,
		Candidates: len(params.Candidates),
	}); err != nil {
		return nil, err
	}
	s.metrics.RecordTaskAction("created")
	s.logger.Info("resolution task opened",
		zap.String("reference", task.Reference),
		zap.String("task_type", string(task.TaskType)),
		zap.Int("candidates", len(params.Candidates)))
	return task, nil
}

// Requeue replaces the assertion and candidates of an open task.
func (s *ResolutionTaskService) Requeue(ctx context.Context, q repository.DBTX, task *models.ResolutionTask, assertion models.MatchAssertion, candidates []models.CandidateMatch) error {
	assertionJSON, candidatesJSON, err := encodeTaskSnapshot(assertion, candidates)
	if err != nil {
		return err
	}
	if err := s.tasks.Requeue(ctx, q, task.ID, assertionJSON, candidatesJSON); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.ErrTaskAlreadyClosed
		}
		return err
	}
	task.Assertion = assertionJSON
	task.Candidates = candidatesJSON
	s.metrics.RecordTaskAction("refreshed")
	return nil
}

// LockOpen locks a task that must still be open.
func (s *ResolutionTaskService) LockOpen(ctx context.Context, q repository.DBTX, reference string) (*models.ResolutionTask, error) {
	task, err := s.tasks.GetByReferenceForUpdate(ctx, q, reference)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resolution task not found")
		}
		return nil, err
	}
	if task.Status != models.TaskStatusOpen {
		return nil, appErrors.WithDetails(appErrors.ErrTaskAlreadyClosed, "",
			map[string]interface{}{"reference": task.Reference, "status": task.Status})
	}
	return task, nil
}

// Get returns a task by reference.
func (s *ResolutionTaskService) Get(ctx context.Context, reference string) (*models.ResolutionTask, error) {
	task, err := s.tasks.GetByReference(ctx, s.reader, reference)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "resolution task not found")
		}
		return nil, internalError(err, "failed to load resolution task")
	}
	return task, nil
}

// List returns tasks matching filter, oldest first.
func (s *ResolutionTaskService) List(ctx context.Context, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error) {
	tasks, err := s.tasks.List(ctx, s.reader, filter)
	if err != nil {
		return nil, internalError(err, "failed to list resolution tasks")
	}
	return tasks, nil
}

// Resolve applies exactly one staff decision to an open task. A task that is
// already closed is never re-applied.
func (s *ResolutionTaskService) Resolve(ctx context.Context, reference string, decision models.TaskDecision, actorID string) (*models.ResolutionTask, error) {
	if err := validateDecision(decision); err != nil {
		return nil, err
	}
	var task *models.ResolutionTask
	err := s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		var err error
		task, err = s.LockOpen(ctx, q, reference)
		if err != nil {
			return err
		}
		return s.resolveTx(ctx, q, task, decision, actorID)
	})
	if err != nil {
		return nil, internalError(err, "failed to resolve task")
	}
	s.metrics.RecordTaskAction(string(decision.Kind))
	notify(s.notifier)
	writeAudit(ctx, s.audit, s.logger, "resolution-task-service", &models.AuditLog{
		UserID:     actorPtr(actorID),
		Action:     models.AuditActionTaskResolve,
		Resource:   "resolution_task",
		ResourceID: &task.Reference,
		NewValues:  auditValues(decision),
	})
	return task, nil
}

func (s *ResolutionTaskService) resolveTx(ctx context.Context, q repository.DBTX, task *models.ResolutionTask, decision models.TaskDecision, actorID string) error {
	assertion, err := task.DecodeAssertion()
	if err != nil {
		return fmt.Errorf("decode task assertion: %w", err)
	}
	resolution := models.TaskResolution{
		Kind:         decision.Kind,
		PersonID:     decision.PersonID,
		FieldChoices: decision.FieldChoices,
		Reason:       strings.TrimSpace(decision.Reason),
	}
	status := models.TaskStatusResolved
	var resolvedPersonID string

	switch decision.Kind {
	case models.ResolutionCreateNew:
		if task.SubjectPersonID != nil {
			subject, err := s.persons.AssignTrnTx(ctx, q, *task.SubjectPersonID, task.Reference)
			if err != nil {
				return err
			}
			resolvedPersonID = subject.ID
			resolution.Trn = subject.Trn
			break
		}
		person, err := PersonFromDetails(DetailsFromAssertion(assertion))
		if err != nil {
			return err
		}
		if err := s.persons.CreateTx(ctx, q, person, "resolution-task", task.Reference); err != nil {
			return err
		}
		resolvedPersonID = person.ID
		resolution.Trn = person.Trn

	case models.ResolutionMergeInto:
		candidate, err := findTaskCandidate(task, decision.PersonID)
		if err != nil {
			return err
		}
		expected := candidate.Version
		if task.SubjectPersonID != nil {
			result, _, err := s.merger.MergeTx(ctx, q, models.MergeRequest{
				PrimaryID:              decision.PersonID,
				SecondaryID:            *task.SubjectPersonID,
				FieldChoices:           decision.FieldChoices,
				EvidenceRef:            task.Reference,
				ExpectedPrimaryVersion: &expected,
				ActorID:                actorID,
			})
			if err != nil {
				return err
			}
			resolution.MergeID = result.ID
		} else if _, err := s.merger.ApplyAssertionTx(ctx, q, AssertionMerge{
			PersonID:        decision.PersonID,
			Assertion:       assertion,
			FieldChoices:    decision.FieldChoices,
			ExpectedVersion: &expected,
			EvidenceRef:     task.Reference,
		}); err != nil {
			return err
		}
		resolvedPersonID = decision.PersonID

	case models.ResolutionReject:
		status = models.TaskStatusRejected
	}

	body, err := json.Marshal(resolution)
	if err != nil {
		return fmt.Errorf("encode task resolution: %w", err)
	}
	now := s.now().UTC()
	params := repository.CloseTaskParams{
		ID:         task.ID,
		Status:     status,
		Resolution: types.JSONText(body),
		ResolvedBy: actorID,
		ResolvedAt: now,
	}
	if resolvedPersonID != "" {
		params.ResolvedPersonID = &resolvedPersonID
	}
	if err := s.tasks.Close(ctx, q, params); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.ErrTaskAlreadyClosed
		}
		return err
	}

	if task.ExternalKey != nil {
		if status == models.TaskStatusResolved {
			if _, err := s.bindings.Bind(ctx, q, BindParams{
				ExternalKey:   *task.ExternalKey,
				Channel:       assertion.Channel,
				Route:         models.MatchRouteSupportAssisted,
				PersonID:      resolvedPersonID,
				TaskReference: task.Reference,
				Verification:  VerificationFromAssertion(assertion),
			}); err != nil {
				return err
			}
		} else if _, err := s.bindings.Reject(ctx, q, *task.ExternalKey, task.Reference); err != nil && !errors.Is(err, appErrors.ErrNotFound) {
			return err
		}
	}

	if err := appendEvent(ctx, q, s.events, resolvedPersonID, models.EventTaskResolved, models.TaskEventPayload{
		Reference:  task.Reference,
		TaskType:   task.TaskType,
		Status:     status,
		Resolution: decision.Kind,
	}); err != nil {
		return err
	}

	task.Status = status
	task.Resolution = types.NullJSONText{JSONText: types.JSONText(body), Valid: true}
	task.ResolvedBy = actorPtr(actorID)
	task.ResolvedAt = &now
	if resolvedPersonID != "" {
		task.ResolvedPersonID = &resolvedPersonID
	}
	s.logger.Info("resolution task closed",
		zap.String("reference", task.Reference),
		zap.String("decision", string(decision.Kind)),
		zap.String("person_id", resolvedPersonID))
	return nil
}

func validateDecision(decision models.TaskDecision) error {
	switch decision.Kind {
	case models.ResolutionCreateNew:
		if decision.PersonID != "" || len(decision.FieldChoices) > 0 {
			return appErrors.Clone(appErrors.ErrValidation, "CreateNew takes no personId or fieldChoices")
		}
	case models.ResolutionMergeInto:
		if strings.TrimSpace(decision.PersonID) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "MergeInto requires personId")
		}
	case models.ResolutionReject:
		if strings.TrimSpace(decision.Reason) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "Reject requires a reason")
		}
	default:
		return appErrors.Clone(appErrors.ErrValidation, "decision kind must be one of CreateNew, MergeInto, Reject")
	}
	return nil
}

func findTaskCandidate(task *models.ResolutionTask, personID string) (*models.CandidateMatch, error) {
	candidates, err := task.DecodeCandidates()
	if err != nil {
		return nil, fmt.Errorf("decode task candidates: %w", err)
	}
	for i := range candidates {
		if candidates[i].PersonID == personID {
			return &candidates[i], nil
		}
	}
	return nil, appErrors.WithDetails(appErrors.ErrValidation, "person is not a candidate of this task",
		map[string]interface{}{"personId": personID, "reference": task.Reference})
}

func encodeTaskSnapshot(assertion models.MatchAssertion, candidates []models.CandidateMatch) (types.JSONText, types.JSONText, error) {
	if candidates == nil {
		candidates = []models.CandidateMatch{}
	}
	a, err := json.Marshal(assertion.Redacted())
	if err != nil {
		return nil, nil, fmt.Errorf("encode task assertion: %w", err)
	}
	c, err := json.Marshal(candidates)
	if err != nil {
		return nil, nil, fmt.Errorf("encode task candidates: %w", err)
	}
	return types.JSONText(a), types.JSONText(c), nil
}

// newTaskReference returns "TRS-" followed by eight Crockford base32 characters.
func newTaskReference() (string, error) {
	raw := make([]byte, 5)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return taskReferencePrefix + crockford.EncodeToString(raw), nil
}
