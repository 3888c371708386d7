package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

type mergePersonStore interface {
	LockForUpdate(ctx context.Context, q repository.DBTX, ids ...string) (map[string]*models.Person, error)
	Update(ctx context.Context, q repository.DBTX, person *models.Person) error
	RedirectMerged(ctx context.Context, q repository.DBTX, from, to string) (int64, error)
	AddPreviousName(ctx context.Context, q repository.DBTX, name *models.PreviousName) error
	MovePreviousNames(ctx context.Context, q repository.DBTX, from, to string) (int64, error)
	AddPreviousNationalInsuranceNumber(ctx context.Context, q repository.DBTX, nino *models.PreviousNationalInsuranceNumber) error
	MovePreviousNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, from, to string) (int64, error)
}

type mergeRecordStore interface {
	FindBySecondary(ctx context.Context, q repository.DBTX, secondaryID string) (*models.PersonMerge, error)
	Create(ctx context.Context, q repository.DBTX, merge *models.PersonMerge) error
	RepointReferences(ctx context.Context, q repository.DBTX, from, to string) (map[string]int64, error)
}

// MergeService unifies duplicate persons and applies adjudicated assertions
// to existing persons. Every operation is one transaction.
type MergeService struct {
	persons  mergePersonStore
	merges   mergeRecordStore
	index    projectionRefresher
	events   eventAppender
	notifier eventNotifier
	tx       txRunner
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
}

// MergeServiceOption configures the merge engine.
type MergeServiceOption func(*MergeService)

// WithMergeNotifier wakes the event publisher after commits.
func WithMergeNotifier(n eventNotifier) MergeServiceOption {
	return func(s *MergeService) {
		s.notifier = n
	}
}

// WithMergeAudit attaches an audit sink.
func WithMergeAudit(audit auditLogger) MergeServiceOption {
	return func(s *MergeService) {
		s.audit = audit
	}
}

// WithMergeMetrics attaches metrics.
func WithMergeMetrics(metrics *MetricsService) MergeServiceOption {
	return func(s *MergeService) {
		s.metrics = metrics
	}
}

// NewMergeService constructs the merge engine.
func NewMergeService(persons mergePersonStore, merges mergeRecordStore, index projectionRefresher, events eventAppender, tx txRunner, logger *zap.Logger, opts ...MergeServiceOption) *MergeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &MergeService{persons: persons, merges: merges, index: index, events: events, tx: tx, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Merge unifies secondary into primary in its own transaction.
func (s *MergeService) Merge(ctx context.Context, req models.MergeRequest) (*models.MergeResult, error) {
	var (
		result   *models.MergeResult
		replayed bool
	)
	err := s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		var err error
		result, replayed, err = s.MergeTx(ctx, q, req)
		return err
	})
	if err != nil {
		s.metrics.RecordMerge("failed")
		return nil, internalError(err, "failed to merge persons")
	}
	if replayed {
		s.metrics.RecordMerge("replayed")
		return result, nil
	}
	s.metrics.RecordMerge("merged")
	notify(s.notifier)
	writeAudit(ctx, s.audit, s.logger, "merge-service", &models.AuditLog{
		UserID:     actorPtr(req.ActorID),
		Action:     models.AuditActionPersonMerge,
		Resource:   "person",
		ResourceID: &result.PrimaryID,
		NewValues:  auditValues(result),
	})
	return result, nil
}

// MergeTx performs the merge inside the caller's transaction. The second
// return value is true when an earlier identical merge was replayed and no
// mutation took place.
func (s *MergeService) MergeTx(ctx context.Context, q repository.DBTX, req models.MergeRequest) (*models.MergeResult, bool, error) {
	if req.PrimaryID == "" || req.SecondaryID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "primary and secondary person ids are required")
	}
	if req.PrimaryID == req.SecondaryID {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "a person cannot be merged into itself")
	}

	locked, err := s.persons.LockForUpdate(ctx, q, req.PrimaryID, req.SecondaryID)
	if err != nil {
		return nil, false, err
	}
	primary, secondary := locked[req.PrimaryID], locked[req.SecondaryID]
	if primary == nil || secondary == nil {
		return nil, false, appErrors.Clone(appErrors.ErrNotFound, "person not found")
	}

	if secondary.Status == models.PersonStatusMerged {
		if secondary.MergedWithPersonID != nil && *secondary.MergedWithPersonID == primary.ID {
			prior, err := s.priorResult(ctx, q, secondary.ID)
			if err != nil {
				return nil, false, err
			}
			return prior, true, nil
		}
		return nil, false, appErrors.WithDetails(appErrors.ErrAlreadyMerged,
			"secondary person has already been merged into another person",
			map[string]interface{}{"personId": secondary.ID, "mergedWithPersonId": secondary.MergedWithPersonID})
	}
	if primary.Status == models.PersonStatusMerged {
		return nil, false, appErrors.WithDetails(appErrors.ErrAlreadyMerged,
			"primary person has been merged; resolve against the surviving person",
			map[string]interface{}{"personId": primary.ID, "mergedWithPersonId": primary.MergedWithPersonID})
	}
	if !primary.IsLive() || !secondary.IsLive() {
		return nil, false, appErrors.Clone(appErrors.ErrPreconditionFailed, "both persons must be active")
	}
	if err := checkVersion(primary, req.ExpectedPrimaryVersion); err != nil {
		return nil, false, err
	}
	if err := checkVersion(secondary, req.ExpectedSecondaryVersion); err != nil {
		return nil, false, err
	}

	conflicts := ConflictingFields(primary.FieldValue, secondary.FieldValue, false)
	if err := validateChoices(conflicts, req.FieldChoices); err != nil {
		return nil, false, err
	}

	before := *primary
	applied, err := applyChoices(primary, secondary.FieldValue, req.FieldChoices)
	if err != nil {
		return nil, false, err
	}
	if err := s.recordReplacedValues(ctx, q, &before, primary); err != nil {
		return nil, false, err
	}
	if err := s.absorbHistory(ctx, q, primary, secondary); err != nil {
		return nil, false, err
	}

	var transferred *string
	if primary.Trn == nil && secondary.Trn != nil {
		trn := *secondary.Trn
		transferred = &trn
		secondary.Trn = nil
	}

	repointed, err := s.merges.RepointReferences(ctx, q, secondary.ID, primary.ID)
	if err != nil {
		return nil, false, err
	}
	flattened, err := s.persons.RedirectMerged(ctx, q, secondary.ID, primary.ID)
	if err != nil {
		return nil, false, err
	}
	repointed["persons"] = flattened

	primaryID := primary.ID
	secondary.Status = models.PersonStatusMerged
	secondary.MergedWithPersonID = &primaryID
	// The tombstone is written first so a transferred TRN is free before the primary takes it.
	if err := s.persons.Update(ctx, q, secondary); err != nil {
		return nil, false, staleAsConcurrent(err)
	}
	if transferred != nil {
		primary.Trn = transferred
	}
	if err := s.persons.Update(ctx, q, primary); err != nil {
		return nil, false, staleAsConcurrent(err)
	}
	if err := s.index.Refresh(ctx, q, secondary.ID); err != nil {
		return nil, false, err
	}
	if err := s.index.Refresh(ctx, q, primary.ID); err != nil {
		return nil, false, err
	}

	result := &models.MergeResult{
		ID:             uuid.NewString(),
		PrimaryID:      primary.ID,
		SecondaryID:    secondary.ID,
		EvidenceRef:    req.EvidenceRef,
		FieldChoices:   req.FieldChoices,
		AppliedValues:  applied,
		TransferredTrn: transferred,
		Repointed:      repointed,
		MergedBy:       req.ActorID,
		MergedAt:       time.Now().UTC(),
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("encode merge result: %w", err)
	}
	if err := s.merges.Create(ctx, q, &models.PersonMerge{
		ID:          result.ID,
		PrimaryID:   result.PrimaryID,
		SecondaryID: result.SecondaryID,
		EvidenceRef: result.EvidenceRef,
		Result:      body,
		CreatedAt:   result.MergedAt,
	}); err != nil {
		return nil, false, err
	}
	if err := appendEvent(ctx, q, s.events, primary.ID, models.EventPersonMerged, models.PersonMergedPayload{
		MergeID:      result.ID,
		PrimaryID:    result.PrimaryID,
		SecondaryID:  result.SecondaryID,
		EvidenceRef:  result.EvidenceRef,
		FieldChoices: result.FieldChoices,
		MergedBy:     result.MergedBy,
	}); err != nil {
		return nil, false, err
	}

	s.logger.Info("persons merged",
		zap.String("primary_id", result.PrimaryID),
		zap.String("secondary_id", result.SecondaryID),
		zap.String("evidence_ref", result.EvidenceRef),
		zap.Int64("persons_redirected", flattened))
	return result, false, nil
}

// AssertionMerge describes applying an adjudicated assertion to an existing person.
type AssertionMerge struct {
	PersonID        string
	Assertion       models.MatchAssertion
	FieldChoices    models.FieldChoices
	ExpectedVersion *int
	EvidenceRef     string
}

// ApplyAssertionTx writes the chosen assertion values onto a person inside
// the caller's transaction. Fields the assertion does not carry are not
// treated as disagreements.
func (s *MergeService) ApplyAssertionTx(ctx context.Context, q repository.DBTX, req AssertionMerge) (map[models.PersonField]*string, error) {
	locked, err := s.persons.LockForUpdate(ctx, q, req.PersonID)
	if err != nil {
		return nil, err
	}
	person := locked[req.PersonID]
	if person == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
	}
	if person.Status == models.PersonStatusMerged {
		return nil, appErrors.WithDetails(appErrors.ErrAlreadyMerged,
			"person has been merged; resolve against the surviving person",
			map[string]interface{}{"personId": person.ID, "mergedWithPersonId": person.MergedWithPersonID})
	}
	if !person.IsLive() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "person is not active")
	}
	if err := checkVersion(person, req.ExpectedVersion); err != nil {
		return nil, err
	}

	conflicts := ConflictingFields(person.FieldValue, req.Assertion.FieldValue, true)
	if err := validateChoices(conflicts, req.FieldChoices); err != nil {
		return nil, err
	}
	before := *person
	applied, err := applyChoices(person, req.Assertion.FieldValue, req.FieldChoices)
	if err != nil {
		return nil, err
	}
	if len(applied) == 0 {
		return applied, nil
	}
	if err := s.recordReplacedValues(ctx, q, &before, person); err != nil {
		return nil, err
	}
	if err := s.persons.Update(ctx, q, person); err != nil {
		return nil, staleAsConcurrent(err)
	}
	if err := s.index.Refresh(ctx, q, person.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, q, s.events, person.ID, models.EventPersonUpdated, models.PersonUpdatedPayload{
		PersonID:    person.ID,
		Changes:     applied,
		EvidenceRef: req.EvidenceRef,
	}); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *MergeService) priorResult(ctx context.Context, q repository.DBTX, secondaryID string) (*models.MergeResult, error) {
	record, err := s.merges.FindBySecondary(ctx, q, secondaryID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrAlreadyMerged, "secondary person is merged but no merge record exists")
		}
		return nil, err
	}
	var result models.MergeResult
	if err := json.Unmarshal(record.Result, &result); err != nil {
		return nil, fmt.Errorf("decode merge result: %w", err)
	}
	return &result, nil
}

// recordReplacedValues keeps overwritten names and NINOs in the person's history.
func (s *MergeService) recordReplacedValues(ctx context.Context, q repository.DBTX, before, after *models.Person) error {
	return appendReplacedValues(ctx, q, s.persons, before, after)
}

// absorbHistory moves the secondary's name and NINO history to the primary and
// keeps the secondary's current values searchable as history too.
func (s *MergeService) absorbHistory(ctx context.Context, q repository.DBTX, primary, secondary *models.Person) error {
	if _, err := s.persons.MovePreviousNames(ctx, q, secondary.ID, primary.ID); err != nil {
		return err
	}
	if _, err := s.persons.MovePreviousNationalInsuranceNumbers(ctx, q, secondary.ID, primary.ID); err != nil {
		return err
	}
	if NameKey(secondary.FirstName, secondary.LastName) != NameKey(primary.FirstName, primary.LastName) {
		if err := s.persons.AddPreviousName(ctx, q, &models.PreviousName{
			PersonID:   primary.ID,
			FirstName:  secondary.FirstName,
			MiddleName: secondary.MiddleName,
			LastName:   secondary.LastName,
		}); err != nil {
			return err
		}
	}
	if secondary.NationalInsuranceNumber != nil && !sameField(models.FieldNationalInsuranceNumber, secondary.NationalInsuranceNumber, primary.NationalInsuranceNumber) {
		if err := s.persons.AddPreviousNationalInsuranceNumber(ctx, q, &models.PreviousNationalInsuranceNumber{
			PersonID:                primary.ID,
			NationalInsuranceNumber: *secondary.NationalInsuranceNumber,
		}); err != nil {
			return err
		}
	}
	return nil
}

type historyWriter interface {
	AddPreviousName(ctx context.Context, q repository.DBTX, name *models.PreviousName) error
	AddPreviousNationalInsuranceNumber(ctx context.Context, q repository.DBTX, nino *models.PreviousNationalInsuranceNumber) error
}

func appendReplacedValues(ctx context.Context, q repository.DBTX, history historyWriter, before, after *models.Person) error {
	if NameKey(before.FirstName, before.LastName) != NameKey(after.FirstName, after.LastName) ||
		FoldText(before.MiddleName) != FoldText(after.MiddleName) {
		if err := history.AddPreviousName(ctx, q, &models.PreviousName{
			PersonID:   before.ID,
			FirstName:  before.FirstName,
			MiddleName: before.MiddleName,
			LastName:   before.LastName,
		}); err != nil {
			return err
		}
	}
	if before.NationalInsuranceNumber != nil && !sameField(models.FieldNationalInsuranceNumber, before.NationalInsuranceNumber, after.NationalInsuranceNumber) {
		if err := history.AddPreviousNationalInsuranceNumber(ctx, q, &models.PreviousNationalInsuranceNumber{
			PersonID:                before.ID,
			NationalInsuranceNumber: *before.NationalInsuranceNumber,
		}); err != nil {
			return err
		}
	}
	return nil
}

// ConflictingFields lists the mergeable fields on which two sides disagree.
// With skipAbsent, a field the second side does not carry is not a conflict.
func ConflictingFields(primary, secondary func(models.PersonField) *string, skipAbsent bool) []models.PersonField {
	conflicts := make([]models.PersonField, 0, len(models.MergeableFields))
	for _, field := range models.MergeableFields {
		b := secondary(field)
		if skipAbsent && b == nil {
			continue
		}
		if !sameField(field, primary(field), b) {
			conflicts = append(conflicts, field)
		}
	}
	return conflicts
}

func validateChoices(conflicts []models.PersonField, choices models.FieldChoices) error {
	missing := make([]string, 0)
	for _, field := range conflicts {
		if _, ok := choices[field]; !ok {
			missing = append(missing, string(field))
		}
	}
	if len(missing) > 0 {
		return appErrors.WithDetails(appErrors.ErrConflictingChoiceMissing,
			"missing field choices: "+strings.Join(missing, ", "),
			map[string]interface{}{"fields": missing})
	}

	invalid := make([]string, 0)
	for field, choice := range choices {
		if !isMergeableField(field) {
			invalid = append(invalid, string(field))
			continue
		}
		switch choice.Source {
		case models.ChoicePrimary, models.ChoiceSecondary:
		case models.ChoiceOverride:
			if field == models.FieldDateOfBirth && choice.Value != nil && strings.TrimSpace(*choice.Value) != "" {
				if _, err := time.Parse(models.DateLayout, strings.TrimSpace(*choice.Value)); err != nil {
					invalid = append(invalid, string(field))
				}
			}
		default:
			invalid = append(invalid, string(field))
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return appErrors.WithDetails(appErrors.ErrValidation,
			"invalid field choices: "+strings.Join(invalid, ", "),
			map[string]interface{}{"fields": invalid})
	}
	return nil
}

// applyChoices writes each chosen value onto target and returns the fields
// whose value actually changed.
func applyChoices(target *models.Person, other func(models.PersonField) *string, choices models.FieldChoices) (map[models.PersonField]*string, error) {
	applied := make(map[models.PersonField]*string)
	for _, field := range models.MergeableFields {
		choice, ok := choices[field]
		if !ok || choice.Source == models.ChoicePrimary {
			continue
		}
		value := other(field)
		if choice.Source == models.ChoiceOverride {
			value = choice.Value
		}
		if sameField(field, target.FieldValue(field), value) {
			continue
		}
		if err := target.SetFieldValue(field, value); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid value for %s", field))
		}
		applied[field] = target.FieldValue(field)
	}
	if strings.TrimSpace(target.FirstName) == "" || strings.TrimSpace(target.LastName) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "first_name and last_name cannot be cleared")
	}
	return applied, nil
}

func sameField(field models.PersonField, a, b *string) bool {
	canonical := func(v *string) string {
		if v == nil {
			return ""
		}
		switch field {
		case models.FieldNationalInsuranceNumber:
			return CanonicalIdentifier(*v)
		case models.FieldEmailAddress:
			return CanonicalEmail(*v)
		case models.FieldDateOfBirth:
			return strings.TrimSpace(*v)
		default:
			return FoldText(*v)
		}
	}
	return canonical(a) == canonical(b)
}

func isMergeableField(field models.PersonField) bool {
	for _, f := range models.MergeableFields {
		if f == field {
			return true
		}
	}
	return false
}

func checkVersion(person *models.Person, expected *int) error {
	if expected != nil && *expected != person.Version {
		return appErrors.WithDetails(appErrors.ErrConcurrentMerge,
			"person changed since the decision was computed",
			map[string]interface{}{"personId": person.ID, "expectedVersion": *expected, "currentVersion": person.Version})
	}
	return nil
}

func staleAsConcurrent(err error) error {
	if errors.Is(err, repository.ErrStaleVersion) {
		return appErrors.Wrap(err, appErrors.ErrConcurrentMerge.Code, appErrors.ErrConcurrentMerge.Status, appErrors.ErrConcurrentMerge.Message)
	}
	return err
}
