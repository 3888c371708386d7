package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

// maxMatchAttempts bounds how often Submit re-runs the pipeline after the
// chosen person or token changed between search and commit.
const maxMatchAttempts = 3

var errStaleDecision = errors.New("match decision is stale")

type candidateFinder interface {
	FindCandidates(ctx context.Context, n models.NormalizedAssertion) ([]models.CandidateRecord, error)
}

type tokenRedeemer interface {
	Peek(ctx context.Context, token string) (string, error)
	Redeem(ctx context.Context, q repository.DBTX, token, externalKey string) (bool, error)
}

type matchBindings interface {
	Lookup(ctx context.Context, key string) (*models.ExternalBinding, error)
	Bind(ctx context.Context, q repository.DBTX, params BindParams) (*models.ExternalBinding, error)
	MarkPending(ctx context.Context, q repository.DBTX, key string, channel models.Channel, taskReference string, verification *models.BindingVerification) (*models.ExternalBinding, error)
}

type matchTasks interface {
	Enqueue(ctx context.Context, q repository.DBTX, params EnqueueParams) (*models.ResolutionTask, error)
	Requeue(ctx context.Context, q repository.DBTX, task *models.ResolutionTask, assertion models.MatchAssertion, candidates []models.CandidateMatch) error
	LockOpen(ctx context.Context, q repository.DBTX, reference string) (*models.ResolutionTask, error)
	Get(ctx context.Context, reference string) (*models.ResolutionTask, error)
}

type personLocker interface {
	LockForUpdate(ctx context.Context, q repository.DBTX, ids ...string) (map[string]*models.Person, error)
}

// MatchService runs an assertion through normalize, search and classify, and
// commits the outcome as a binding or a resolution task.
type MatchService struct {
	normalizer *Normalizer
	finder     candidateFinder
	classifier *Classifier
	tokens     tokenRedeemer
	bindings   matchBindings
	tasks      matchTasks
	persons    personLocker
	notifier   eventNotifier
	tx         txRunner
	audit      auditLogger
	metrics    *MetricsService
	logger     *zap.Logger
}

// MatchServiceParams groups constructor dependencies.
type MatchServiceParams struct {
	Normalizer *Normalizer
	Finder     candidateFinder
	Classifier *Classifier
	Tokens     tokenRedeemer
	Bindings   matchBindings
	Tasks      matchTasks
	Persons    personLocker
	Notifier   eventNotifier
	Tx         txRunner
	Audit      auditLogger
	Metrics    *MetricsService
	Logger     *zap.Logger
}

// NewMatchService constructs the orchestrator.
func NewMatchService(params MatchServiceParams) *MatchService {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	normalizer := params.Normalizer
	if normalizer == nil {
		normalizer = NewNormalizer()
	}
	classifier := params.Classifier
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &MatchService{
		normalizer: normalizer,
		finder:     params.Finder,
		classifier: classifier,
		tokens:     params.Tokens,
		bindings:   params.Bindings,
		tasks:      params.Tasks,
		persons:    params.Persons,
		notifier:   params.Notifier,
		tx:         params.Tx,
		audit:      params.Audit,
		metrics:    params.Metrics,
		logger:     logger,
	}
}

// Submit classifies an assertion and commits the outcome. A key that is
// already bound short-circuits to its binding; a pending key refreshes its
// open task instead of opening a second one.
func (s *MatchService) Submit(ctx context.Context, assertion models.MatchAssertion) (*models.MatchResponse, error) {
	if err := validateAssertion(assertion); err != nil {
		return nil, err
	}
	if assertion.ExternalKey != "" {
		binding, err := s.bindings.Lookup(ctx, assertion.ExternalKey)
		if err != nil {
			return nil, err
		}
		if binding != nil {
			switch binding.Status {
			case models.BindingStatusBound:
				return boundResponse(binding), nil
			case models.BindingStatusRejected:
				return nil, appErrors.ErrBindingRejected
			case models.BindingStatusPendingResolution:
				if binding.TaskReference != nil {
					return s.Refresh(ctx, *binding.TaskReference, &assertion, "")
				}
			}
		}
	}

	for attempt := 1; attempt <= maxMatchAttempts; attempt++ {
		n, outcome, err := s.classify(ctx, assertion)
		if err != nil {
			return nil, err
		}
		var response *models.MatchResponse
		err = s.tx.WithinTx(ctx, func(q repository.DBTX) error {
			var err error
			response, err = s.commit(ctx, q, assertion, n, outcome)
			return err
		})
		if errors.Is(err, errStaleDecision) {
			s.logger.Info("match decision went stale, re-running",
				zap.Int("attempt", attempt),
				zap.String("channel", string(assertion.Channel)))
			continue
		}
		if err != nil {
			return nil, internalError(err, "failed to commit match outcome")
		}
		s.metrics.RecordClassification(string(response.Outcome.Kind), string(assertion.Channel))
		notify(s.notifier)
		s.logger.Info("assertion classified",
			zap.String("outcome", string(response.Outcome.Kind)),
			zap.Int("candidates", len(response.Outcome.Candidates)),
			zap.String("channel", string(assertion.Channel)),
			zap.String("task_reference", response.TaskReference))
		return response, nil
	}
	return nil, appErrors.Clone(appErrors.ErrConcurrentMerge, "registry kept changing while the assertion was matched; retry")
}

// Refresh re-runs search and classification for an open task, optionally with
// an amended assertion. The task stays open; its candidate snapshot and
// version stamps are replaced. Only Resolve closes a task, so an automatic
// match found here is reported as Ambiguous with the winner as a candidate.
func (s *MatchService) Refresh(ctx context.Context, reference string, amended *models.MatchAssertion, actorID string) (*models.MatchResponse, error) {
	current, err := s.tasks.Get(ctx, reference)
	if err != nil {
		return nil, err
	}
	if current.Status != models.TaskStatusOpen {
		return nil, appErrors.WithDetails(appErrors.ErrTaskAlreadyClosed, "",
			map[string]interface{}{"reference": current.Reference, "status": current.Status})
	}
	stored, err := current.DecodeAssertion()
	if err != nil {
		return nil, internalError(err, "failed to decode task assertion")
	}
	assertion := stored
	// Stored assertions never carry a usable token.
	assertion.TrnToken = ""
	if amended != nil {
		assertion = *amended
		assertion.Channel = stored.Channel
		assertion.ExternalKey = stored.ExternalKey
		assertion.SubjectPersonID = stored.SubjectPersonID
	}
	if !assertion.HasAttributes() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assertion must carry at least one attribute")
	}

	_, outcome, err := s.classify(ctx, assertion)
	if err != nil {
		return nil, err
	}
	outcome = pendingOutcome(outcome)
	err = s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		task, err := s.tasks.LockOpen(ctx, q, reference)
		if err != nil {
			return err
		}
		if err := s.tasks.Requeue(ctx, q, task, assertion, outcome.Candidates); err != nil {
			return err
		}
		if task.ExternalKey != nil {
			if _, err := s.bindings.MarkPending(ctx, q, *task.ExternalKey, assertion.Channel, task.Reference, VerificationFromAssertion(assertion)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, internalError(err, "failed to refresh task")
	}
	writeAudit(ctx, s.audit, s.logger, "match-service", &models.AuditLog{
		UserID:     actorPtr(actorID),
		Action:     models.AuditActionTaskRefresh,
		Resource:   "resolution_task",
		ResourceID: &reference,
		NewValues:  auditValues(outcome),
	})
	s.logger.Info("resolution task refreshed",
		zap.String("reference", reference),
		zap.String("outcome", string(outcome.Kind)),
		zap.Int("candidates", len(outcome.Candidates)))
	return &models.MatchResponse{Outcome: outcome, TaskReference: reference}, nil
}

// classify runs normalize, search and classify against the pool. Nothing is locked.
func (s *MatchService) classify(ctx context.Context, assertion models.MatchAssertion) (models.NormalizedAssertion, models.MatchOutcome, error) {
	n := s.normalizer.Normalize(assertion)
	if token := strings.TrimSpace(assertion.TrnToken); token != "" && s.tokens != nil {
		trn, err := s.tokens.Peek(ctx, token)
		if err != nil {
			return n, models.MatchOutcome{}, err
		}
		n.TokenTrn = trn
	}
	records, err := s.finder.FindCandidates(ctx, n)
	if err != nil {
		return n, models.MatchOutcome{}, internalError(err, "failed to search candidates")
	}
	if assertion.SubjectPersonID != "" {
		filtered := records[:0]
		for _, record := range records {
			if record.PersonID != assertion.SubjectPersonID {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}
	outcome := s.classifier.Classify(n, records)
	// A duplicate review never merges on its own.
	if assertion.SubjectPersonID != "" && outcome.Kind == models.OutcomeAutoMatch {
		outcome = models.MatchOutcome{Kind: models.OutcomeAmbiguous, Candidates: outcome.Candidates}
	}
	return n, outcome, nil
}

func (s *MatchService) commit(ctx context.Context, q repository.DBTX, assertion models.MatchAssertion, n models.NormalizedAssertion, outcome models.MatchOutcome) (*models.MatchResponse, error) {
	if assertion.SubjectPersonID != "" {
		locked, err := s.persons.LockForUpdate(ctx, q, assertion.SubjectPersonID)
		if err != nil {
			return nil, err
		}
		subject := locked[assertion.SubjectPersonID]
		if subject == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject person not found")
		}
		if !subject.IsLive() {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "subject person is not active")
		}
		if outcome.Kind == models.OutcomeNoMatch {
			return &models.MatchResponse{Outcome: outcome}, nil
		}
	}

	if outcome.Kind == models.OutcomeAutoMatch {
		return s.commitAutoMatch(ctx, q, assertion, n, outcome)
	}

	task, err := s.tasks.Enqueue(ctx, q, EnqueueParams{
		Assertion:       assertion,
		Candidates:      outcome.Candidates,
		TaskType:        models.TaskTypeForChannel(assertion.Channel),
		SubjectPersonID: assertion.SubjectPersonID,
		ExternalKey:     assertion.ExternalKey,
	})
	if err != nil {
		return nil, err
	}
	response := &models.MatchResponse{Outcome: outcome, TaskReference: task.Reference}
	if assertion.ExternalKey != "" {
		binding, err := s.bindings.MarkPending(ctx, q, assertion.ExternalKey, assertion.Channel, task.Reference, VerificationFromAssertion(assertion))
		if err != nil {
			return nil, err
		}
		response.Binding = binding
	}
	return response, nil
}

// commitAutoMatch re-checks the winner under lock and consumes the deciding
// token in the same transaction as the binding.
func (s *MatchService) commitAutoMatch(ctx context.Context, q repository.DBTX, assertion models.MatchAssertion, n models.NormalizedAssertion, outcome models.MatchOutcome) (*models.MatchResponse, error) {
	locked, err := s.persons.LockForUpdate(ctx, q, outcome.PersonID)
	if err != nil {
		return nil, err
	}
	person := locked[outcome.PersonID]
	if !person.IsLive() || person.Version != winnerVersion(outcome) {
		return nil, errStaleDecision
	}

	route := models.RouteForChannel(assertion.Channel)
	if TokenDecided(outcome) {
		redeemed, err := s.tokens.Redeem(ctx, q, assertion.TrnToken, assertion.ExternalKey)
		if err != nil {
			return nil, err
		}
		if !redeemed {
			return nil, errStaleDecision
		}
		route = models.MatchRouteTrnToken
		s.logger.Info("trn token redeemed", zap.String("person_id", person.ID), zap.String("trn", n.TokenTrn))
	}

	response := &models.MatchResponse{Outcome: outcome, Trn: person.Trn}
	if assertion.ExternalKey != "" {
		binding, err := s.bindings.Bind(ctx, q, BindParams{
			ExternalKey:  assertion.ExternalKey,
			Channel:      assertion.Channel,
			Route:        route,
			PersonID:     person.ID,
			Verification: VerificationFromAssertion(assertion),
		})
		if err != nil {
			return nil, err
		}
		response.Binding = binding
	}
	return response, nil
}

// pendingOutcome is the outcome of a task that stays open.
func pendingOutcome(outcome models.MatchOutcome) models.MatchOutcome {
	if outcome.Kind != models.OutcomeAutoMatch {
		return outcome
	}
	return models.MatchOutcome{Kind: models.OutcomeAmbiguous, Candidates: outcome.Candidates}
}

func winnerVersion(outcome models.MatchOutcome) int {
	for _, c := range outcome.Candidates {
		if c.PersonID == outcome.PersonID {
			return c.Version
		}
	}
	return -1
}

func boundResponse(binding *models.ExternalBinding) *models.MatchResponse {
	outcome := models.MatchOutcome{Kind: models.OutcomeAutoMatch, Candidates: []models.CandidateMatch{}}
	if binding.PersonID != nil {
		outcome.PersonID = *binding.PersonID
	}
	return &models.MatchResponse{Outcome: outcome, Binding: binding}
}

func validateAssertion(a models.MatchAssertion) error {
	switch a.Channel {
	case models.ChannelOneLogin, models.ChannelAPI, models.ChannelBulk, models.ChannelSupport:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "channel must be one of onelogin, api, bulk, support")
	}
	if !a.HasAttributes() {
		return appErrors.Clone(appErrors.ErrValidation, "assertion must carry at least one attribute")
	}
	if a.Channel == models.ChannelOneLogin && strings.TrimSpace(a.ExternalKey) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "onelogin assertions require externalKey")
	}
	return nil
}
