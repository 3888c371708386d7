package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

type bindingStore interface {
	GetByExternalKey(ctx context.Context, q repository.DBTX, key string) (*models.ExternalBinding, error)
	GetByExternalKeyForUpdate(ctx context.Context, q repository.DBTX, key string) (*models.ExternalBinding, error)
	Create(ctx context.Context, q repository.DBTX, binding *models.ExternalBinding) error
	Update(ctx context.Context, q repository.DBTX, binding *models.ExternalBinding) error
	RecordSeen(ctx context.Context, q repository.DBTX, key string, firstSeen, lastSeen time.Time) error
}

type bindingPersonReader interface {
	GetByID(ctx context.Context, q repository.DBTX, id string) (*models.Person, error)
}

// BindingService moves external identities from Unbound through
// PendingResolution to Bound or Rejected. A bound key never changes person
// or route here; merges rewrite bindings through the merge engine.
type BindingService struct {
	bindings bindingStore
	persons  bindingPersonReader
	events   eventAppender
	notifier eventNotifier
	tx       txRunner
	reader   repository.DBTX
	audit    auditLogger
	logger   *zap.Logger
}

// BindingServiceOption configures the service.
type BindingServiceOption func(*BindingService)

// WithBindingNotifier wakes the event publisher after commits.
func WithBindingNotifier(n eventNotifier) BindingServiceOption {
	return func(s *BindingService) {
		s.notifier = n
	}
}

// WithBindingAudit attaches an audit sink.
func WithBindingAudit(audit auditLogger) BindingServiceOption {
	return func(s *BindingService) {
		s.audit = audit
	}
}

// NewBindingService constructs the service.
func NewBindingService(bindings bindingStore, persons bindingPersonReader, events eventAppender, tx txRunner, reader repository.DBTX, logger *zap.Logger, opts ...BindingServiceOption) *BindingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &BindingService{bindings: bindings, persons: persons, events: events, tx: tx, reader: reader, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Get returns the binding for key.
func (s *BindingService) Get(ctx context.Context, key string) (*models.ExternalBinding, error) {
	binding, err := s.bindings.GetByExternalKey(ctx, s.reader, key)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "external binding not found")
		}
		return nil, internalError(err, "failed to load binding")
	}
	return binding, nil
}

// Lookup returns the binding for key, or nil when the key is still Unbound.
func (s *BindingService) Lookup(ctx context.Context, key string) (*models.ExternalBinding, error) {
	binding, err := s.bindings.GetByExternalKey(ctx, s.reader, key)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, internalError(err, "failed to load binding")
	}
	return binding, nil
}

// BindParams describes a bind request.
type BindParams struct {
	ExternalKey   string
	Channel       models.Channel
	Route         models.MatchRoute
	PersonID      string
	TaskReference string
	Verification  *models.BindingVerification
}

// Bind sets the binding for a key exactly once. Binding an already bound key
// to the same person is a no-op that keeps the original route; a different
// person is rejected with ErrBindingConflict.
func (s *BindingService) Bind(ctx context.Context, q repository.DBTX, params BindParams) (*models.ExternalBinding, error) {
	if strings.TrimSpace(params.ExternalKey) == "" || params.PersonID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "externalKey and personId are required")
	}
	now := time.Now().UTC()
	binding, err := s.bindings.GetByExternalKeyForUpdate(ctx, q, params.ExternalKey)
	if err != nil && !repository.IsNotFound(err) {
		return nil, internalError(err, "failed to lock binding")
	}

	if binding != nil {
		switch binding.Status {
		case models.BindingStatusBound:
			if binding.PersonID != nil && *binding.PersonID == params.PersonID {
				return binding, nil
			}
			return nil, appErrors.ErrBindingConflict
		case models.BindingStatusRejected:
			return nil, appErrors.ErrBindingRejected
		}
	}

	route := params.Route
	personID := params.PersonID
	if binding == nil {
		binding = &models.ExternalBinding{
			ExternalKey: params.ExternalKey,
			Channel:     params.Channel,
			FirstSeenAt: &now,
			LastSeenAt:  &now,
		}
	}
	binding.Status = models.BindingStatusBound
	binding.PersonID = &personID
	binding.MatchRoute = &route
	binding.BoundAt = &now
	if params.TaskReference != "" {
		ref := params.TaskReference
		binding.TaskReference = &ref
	}
	if params.Verification != nil || len(binding.Verification) == 0 {
		binding.Verification = verificationJSON(params.Verification)
	}

	if binding.ID == "" {
		if err := s.bindings.Create(ctx, q, binding); err != nil {
			if repository.IsUniqueViolation(err) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "external binding was created concurrently")
			}
			return nil, internalError(err, "failed to create binding")
		}
	} else if err := s.bindings.Update(ctx, q, binding); err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.ErrBindingConflict
		}
		return nil, internalError(err, "failed to bind")
	}

	if err := appendEvent(ctx, q, s.events, personID, models.EventBindingResolved, models.BindingResolvedPayload{
		ExternalKey:   binding.ExternalKey,
		Status:        binding.Status,
		PersonID:      personID,
		MatchRoute:    route,
		TaskReference: params.TaskReference,
	}); err != nil {
		return nil, internalError(err, "failed to record binding event")
	}
	s.logger.Info("external identity bound",
		zap.String("external_key", binding.ExternalKey),
		zap.String("person_id", personID),
		zap.String("route", string(route)))
	return binding, nil
}

// MarkPending records that a key is waiting on a resolution task. A pending
// binding may be re-marked when its task is refreshed.
func (s *BindingService) MarkPending(ctx context.Context, q repository.DBTX, key string, channel models.Channel, taskReference string, verification *models.BindingVerification) (*models.ExternalBinding, error) {
	now := time.Now().UTC()
	binding, err := s.bindings.GetByExternalKeyForUpdate(ctx, q, key)
	if err != nil && !repository.IsNotFound(err) {
		return nil, internalError(err, "failed to lock binding")
	}
	ref := taskReference
	if binding == nil {
		binding = &models.ExternalBinding{
			ExternalKey:   key,
			Channel:       channel,
			Status:        models.BindingStatusPendingResolution,
			TaskReference: &ref,
			Verification:  verificationJSON(verification),
			FirstSeenAt:   &now,
			LastSeenAt:    &now,
		}
		if err := s.bindings.Create(ctx, q, binding); err != nil {
			if repository.IsUniqueViolation(err) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "external binding was created concurrently")
			}
			return nil, internalError(err, "failed to create binding")
		}
		return binding, nil
	}
	switch binding.Status {
	case models.BindingStatusBound:
		return nil, appErrors.Clone(appErrors.ErrConflict, "external identity is already bound")
	case models.BindingStatusRejected:
		return nil, appErrors.ErrBindingRejected
	}
	binding.TaskReference = &ref
	if verification != nil {
		binding.Verification = verificationJSON(verification)
	}
	if err := s.bindings.Update(ctx, q, binding); err != nil {
		return nil, internalError(err, "failed to update pending binding")
	}
	return binding, nil
}

// Reject closes a pending binding as Rejected.
func (s *BindingService) Reject(ctx context.Context, q repository.DBTX, key, taskReference string) (*models.ExternalBinding, error) {
	binding, err := s.bindings.GetByExternalKeyForUpdate(ctx, q, key)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "external binding not found")
		}
		return nil, internalError(err, "failed to lock binding")
	}
	switch binding.Status {
	case models.BindingStatusRejected:
		return binding, nil
	case models.BindingStatusBound:
		return nil, appErrors.Clone(appErrors.ErrConflict, "external identity is already bound")
	}
	binding.Status = models.BindingStatusRejected
	if err := s.bindings.Update(ctx, q, binding); err != nil {
		return nil, internalError(err, "failed to reject binding")
	}
	if err := appendEvent(ctx, q, s.events, "", models.EventBindingResolved, models.BindingResolvedPayload{
		ExternalKey:   key,
		Status:        models.BindingStatusRejected,
		TaskReference: taskReference,
	}); err != nil {
		return nil, internalError(err, "failed to record binding event")
	}
	return binding, nil
}

// BindDirect binds a key to a person on behalf of support staff.
func (s *BindingService) BindDirect(ctx context.Context, params BindParams, actorID string) (*models.ExternalBinding, error) {
	if params.Route == "" {
		params.Route = models.MatchRouteSupportAssisted
	}
	var binding *models.ExternalBinding
	err := s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		person, err := s.persons.GetByID(ctx, q, params.PersonID)
		if err != nil {
			if repository.IsNotFound(err) {
				return appErrors.Clone(appErrors.ErrNotFound, "person not found")
			}
			return err
		}
		if person.Status == models.PersonStatusMerged {
			return appErrors.Clone(appErrors.ErrAlreadyMerged, "person has been merged; bind to the surviving record")
		}
		binding, err = s.Bind(ctx, q, params)
		return err
	})
	if err != nil {
		return nil, internalError(err, "failed to bind external identity")
	}
	notify(s.notifier)
	writeAudit(ctx, s.audit, s.logger, "binding-service", &models.AuditLog{
		UserID:     actorPtr(actorID),
		Action:     models.AuditActionBindingCreate,
		Resource:   "external_binding",
		ResourceID: &binding.ID,
		NewValues:  auditValues(binding),
	})
	return binding, nil
}

// RecordFirstAndLastSeen widens the interaction window of a key. It is only
// used for reporting and never influences matching.
func (s *BindingService) RecordFirstAndLastSeen(ctx context.Context, key string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.bindings.RecordSeen(ctx, s.reader, key, at.UTC(), at.UTC()); err != nil {
		if repository.IsNotFound(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "external binding not found")
		}
		return internalError(err, "failed to record binding activity")
	}
	return nil
}

// VerificationFromAssertion captures what the channel asserted about the subject.
func VerificationFromAssertion(a models.MatchAssertion) *models.BindingVerification {
	return &models.BindingVerification{
		FirstName:   strings.TrimSpace(a.FirstName),
		LastName:    strings.TrimSpace(a.LastName),
		DateOfBirth: a.DateOfBirth,
		TrustLevel:  a.TrustLevel,
	}
}

func verificationJSON(v *models.BindingVerification) types.JSONText {
	if v == nil {
		return types.JSONText(`{}`)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return types.JSONText(`{}`)
	}
	return types.JSONText(body)
}
