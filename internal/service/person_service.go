package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

// maxRedirects bounds how many forwarding pointers Get follows.
const maxRedirects = 8

type personStore interface {
	Create(ctx context.Context, q repository.DBTX, person *models.Person) error
	GetByID(ctx context.Context, q repository.DBTX, id string) (*models.Person, error)
	LockForUpdate(ctx context.Context, q repository.DBTX, ids ...string) (map[string]*models.Person, error)
	Update(ctx context.Context, q repository.DBTX, person *models.Person) error
	AddPreviousName(ctx context.Context, q repository.DBTX, name *models.PreviousName) error
	AddPreviousNationalInsuranceNumber(ctx context.Context, q repository.DBTX, nino *models.PreviousNationalInsuranceNumber) error
	ListPreviousNames(ctx context.Context, q repository.DBTX, personID string) ([]models.PreviousName, error)
	ListPreviousNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, personID string) ([]models.PreviousNationalInsuranceNumber, error)
}

type trnAllocator interface {
	AllocateNext(ctx context.Context, q repository.DBTX) (string, error)
}

// PersonService covers direct registration, detail edits and merge-aware reads.
type PersonService struct {
	persons   personStore
	allocator trnAllocator
	index     projectionRefresher
	events    eventAppender
	notifier  eventNotifier
	tx        txRunner
	reader    repository.DBTX
	audit     auditLogger
	logger    *zap.Logger
}

// PersonServiceOption configures the service.
type PersonServiceOption func(*PersonService)

// WithPersonNotifier wakes the event publisher after commits.
func WithPersonNotifier(n eventNotifier) PersonServiceOption {
	return func(s *PersonService) {
		s.notifier = n
	}
}

// WithPersonAudit attaches an audit sink.
func WithPersonAudit(audit auditLogger) PersonServiceOption {
	return func(s *PersonService) {
		s.audit = audit
	}
}

// NewPersonService constructs the service.
func NewPersonService(persons personStore, allocator trnAllocator, index projectionRefresher, events eventAppender, tx txRunner, reader repository.DBTX, logger *zap.Logger, opts ...PersonServiceOption) *PersonService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &PersonService{persons: persons, allocator: allocator, index: index, events: events, tx: tx, reader: reader, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// PersonDetails carries identity fields for registration.
type PersonDetails struct {
	FirstName               string
	MiddleName              string
	LastName                string
	DateOfBirth             *time.Time
	NationalInsuranceNumber string
	EmailAddress            string
}

// PersonFromDetails builds an unsaved person, requiring first name, last name
// and date of birth.
func PersonFromDetails(d PersonDetails) (*models.Person, error) {
	first, last := strings.TrimSpace(d.FirstName), strings.TrimSpace(d.LastName)
	missing := make([]string, 0, 3)
	if first == "" {
		missing = append(missing, "firstName")
	}
	if last == "" {
		missing = append(missing, "lastName")
	}
	if d.DateOfBirth == nil {
		missing = append(missing, "dateOfBirth")
	}
	if len(missing) > 0 {
		return nil, appErrors.WithDetails(appErrors.ErrValidation,
			"missing required fields: "+strings.Join(missing, ", "),
			map[string]interface{}{"fields": missing})
	}
	person := &models.Person{
		FirstName:   first,
		MiddleName:  strings.TrimSpace(d.MiddleName),
		LastName:    last,
		DateOfBirth: d.DateOfBirth,
	}
	if nino := CanonicalIdentifier(d.NationalInsuranceNumber); nino != "" {
		person.NationalInsuranceNumber = &nino
	}
	if email := strings.TrimSpace(d.EmailAddress); email != "" {
		person.EmailAddress = &email
	}
	return person, nil
}

// DetailsFromAssertion lifts the identity fields out of an assertion.
func DetailsFromAssertion(a models.MatchAssertion) PersonDetails {
	return PersonDetails{
		FirstName:               a.FirstName,
		MiddleName:              a.MiddleName,
		LastName:                a.LastName,
		DateOfBirth:             a.DateOfBirth,
		NationalInsuranceNumber: a.NationalInsuranceNumber,
		EmailAddress:            a.EmailAddress,
	}
}

// Register allocates a TRN and creates a person outside any matching flow.
func (s *PersonService) Register(ctx context.Context, details PersonDetails, actorID string) (*models.Person, error) {
	person, err := PersonFromDetails(details)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		return s.CreateTx(ctx, q, person, "registration", "")
	})
	if err != nil {
		return nil, internalError(err, "failed to register person")
	}
	notify(s.notifier)
	writeAudit(ctx, s.audit, s.logger, "person-service", &models.AuditLog{
		UserID:     actorPtr(actorID),
		Action:     models.AuditActionPersonCreate,
		Resource:   "person",
		ResourceID: &person.ID,
		NewValues:  auditValues(person),
	})
	return person, nil
}

// CreateTx allocates a TRN for person and inserts it inside the caller's
// transaction, keeping the search projection in step.
func (s *PersonService) CreateTx(ctx context.Context, q repository.DBTX, person *models.Person, source, taskReference string) error {
	trn, err := s.allocator.AllocateNext(ctx, q)
	if err != nil {
		return err
	}
	person.Trn = &trn
	if err := s.persons.Create(ctx, q, person); err != nil {
		if repository.IsUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "trn is already assigned to another person")
		}
		return err
	}
	if err := s.index.Refresh(ctx, q, person.ID); err != nil {
		return err
	}
	if err := appendEvent(ctx, q, s.events, person.ID, models.EventPersonCreated, models.PersonCreatedPayload{
		PersonID:      person.ID,
		Trn:           trn,
		Source:        source,
		TaskReference: taskReference,
	}); err != nil {
		return err
	}
	s.logger.Info("person created", zap.String("person_id", person.ID), zap.String("trn", trn), zap.String("source", source))
	return nil
}

// AssignTrnTx gives an existing live person a TRN when it has none yet.
func (s *PersonService) AssignTrnTx(ctx context.Context, q repository.DBTX, personID, taskReference string) (*models.Person, error) {
	locked, err := s.persons.LockForUpdate(ctx, q, personID)
	if err != nil {
		return nil, err
	}
	person := locked[personID]
	if person == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
	}
	if person.Status == models.PersonStatusMerged {
		return nil, appErrors.Clone(appErrors.ErrAlreadyMerged, "person has been merged")
	}
	if !person.IsLive() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "person is not active")
	}
	if person.Trn != nil {
		return person, nil
	}
	trn, err := s.allocator.AllocateNext(ctx, q)
	if err != nil {
		return nil, err
	}
	person.Trn = &trn
	if err := s.persons.Update(ctx, q, person); err != nil {
		return nil, staleAsConcurrent(err)
	}
	if err := s.index.Refresh(ctx, q, person.ID); err != nil {
		return nil, err
	}
	if err := appendEvent(ctx, q, s.events, person.ID, models.EventPersonUpdated, models.PersonUpdatedPayload{
		PersonID:      person.ID,
		Changes:       map[models.PersonField]*string{models.FieldTrn: &trn},
		TaskReference: taskReference,
	}); err != nil {
		return nil, err
	}
	return person, nil
}

// PersonUpdate lists the fields to change; nil leaves a field untouched and
// an empty string clears it.
type PersonUpdate struct {
	FirstName               *string
	MiddleName              *string
	LastName                *string
	DateOfBirth             *string
	NationalInsuranceNumber *string
	EmailAddress            *string
	ExpectedVersion         *int
}

func (u PersonUpdate) values() map[models.PersonField]*string {
	return map[models.PersonField]*string{
		models.FieldFirstName:               u.FirstName,
		models.FieldMiddleName:              u.MiddleName,
		models.FieldLastName:                u.LastName,
		models.FieldDateOfBirth:             u.DateOfBirth,
		models.FieldNationalInsuranceNumber: u.NationalInsuranceNumber,
		models.FieldEmailAddress:            u.EmailAddress,
	}
}

// UpdateDetails edits identity fields. Replaced names and NINOs move into the
// person's history and the search projection is refreshed in the same
// transaction.
func (s *PersonService) UpdateDetails(ctx context.Context, personID string, update PersonUpdate, actorID string) (*models.Person, error) {
	var (
		person  *models.Person
		before  models.Person
		changes map[models.PersonField]*string
	)
	err := s.tx.WithinTx(ctx, func(q repository.DBTX) error {
		locked, err := s.persons.LockForUpdate(ctx, q, personID)
		if err != nil {
			return err
		}
		person = locked[personID]
		if person == nil {
			return appErrors.Clone(appErrors.ErrNotFound, "person not found")
		}
		if person.Status == models.PersonStatusMerged {
			return appErrors.WithDetails(appErrors.ErrAlreadyMerged, "person has been merged; edit the surviving person",
				map[string]interface{}{"personId": person.ID, "mergedWithPersonId": person.MergedWithPersonID})
		}
		if err := checkVersion(person, update.ExpectedVersion); err != nil {
			return err
		}
		before = *person

		changes = make(map[models.PersonField]*string)
		values := update.values()
		for _, field := range models.MergeableFields {
			value, ok := values[field]
			if !ok || value == nil {
				continue
			}
			if field == models.FieldNationalInsuranceNumber {
				canonical := CanonicalIdentifier(*value)
				value = &canonical
			}
			if sameField(field, person.FieldValue(field), value) {
				continue
			}
			if err := person.SetFieldValue(field, value); err != nil {
				return appErrors.Clone(appErrors.ErrValidation, "dateOfBirth must be formatted as YYYY-MM-DD")
			}
			changes[field] = person.FieldValue(field)
		}
		if len(changes) == 0 {
			return nil
		}
		if strings.TrimSpace(person.FirstName) == "" || strings.TrimSpace(person.LastName) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "firstName and lastName cannot be cleared")
		}
		if err := appendReplacedValues(ctx, q, s.persons, &before, person); err != nil {
			return err
		}
		if err := s.persons.Update(ctx, q, person); err != nil {
			return staleAsConcurrent(err)
		}
		if err := s.index.Refresh(ctx, q, person.ID); err != nil {
			return err
		}
		return appendEvent(ctx, q, s.events, person.ID, models.EventPersonUpdated, models.PersonUpdatedPayload{
			PersonID: person.ID,
			Changes:  changes,
		})
	})
	if err != nil {
		return nil, internalError(err, "failed to update person")
	}
	if len(changes) > 0 {
		notify(s.notifier)
		writeAudit(ctx, s.audit, s.logger, "person-service", &models.AuditLog{
			UserID:     actorPtr(actorID),
			Action:     models.AuditActionPersonUpdate,
			Resource:   "person",
			ResourceID: &person.ID,
			OldValues:  auditValues(before),
			NewValues:  auditValues(changes),
		})
	}
	return person, nil
}

// PersonView is a person with its history. RedirectedFrom is set when the
// requested id belonged to a merged person.
type PersonView struct {
	models.Person
	RedirectedFrom                   *string                                  `json:"redirectedFrom,omitempty"`
	PreviousNames                    []models.PreviousName                    `json:"previousNames"`
	PreviousNationalInsuranceNumbers []models.PreviousNationalInsuranceNumber `json:"previousNationalInsuranceNumbers"`
}

// Get loads a person, following merge forwarding pointers to the survivor.
func (s *PersonService) Get(ctx context.Context, id string) (*PersonView, error) {
	person, err := s.persons.GetByID(ctx, s.reader, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "person not found")
		}
		return nil, internalError(err, "failed to load person")
	}
	view := &PersonView{}
	for hops := 0; person.Status == models.PersonStatusMerged && person.MergedWithPersonID != nil; hops++ {
		if hops == maxRedirects {
			return nil, appErrors.Clone(appErrors.ErrInternal, "merge forwarding chain is too long")
		}
		requested := id
		view.RedirectedFrom = &requested
		next, err := s.persons.GetByID(ctx, s.reader, *person.MergedWithPersonID)
		if err != nil {
			return nil, internalError(err, "failed to follow merge pointer")
		}
		person = next
	}
	view.Person = *person

	names, err := s.persons.ListPreviousNames(ctx, s.reader, person.ID)
	if err != nil {
		return nil, internalError(err, "failed to load previous names")
	}
	ninos, err := s.persons.ListPreviousNationalInsuranceNumbers(ctx, s.reader, person.ID)
	if err != nil {
		return nil, internalError(err, "failed to load previous national insurance numbers")
	}
	view.PreviousNames = names
	view.PreviousNationalInsuranceNumbers = ninos
	return view, nil
}
