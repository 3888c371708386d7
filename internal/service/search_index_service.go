package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/repository"
)

const defaultCandidateLimit = 10

type projectionSource interface {
	GetByID(ctx context.Context, q repository.DBTX, id string) (*models.Person, error)
	ListPreviousNames(ctx context.Context, q repository.DBTX, personID string) ([]models.PreviousName, error)
	ListPreviousNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, personID string) ([]models.PreviousNationalInsuranceNumber, error)
	ListTrnsMergedInto(ctx context.Context, q repository.DBTX, personID string) ([]string, error)
}

type searchIndexStore interface {
	Upsert(ctx context.Context, q repository.DBTX, attrs models.PersonSearchAttributes) error
	Delete(ctx context.Context, q repository.DBTX, personID string) error
	FindByTrns(ctx context.Context, q repository.DBTX, trns []string, limit int) ([]models.CandidateRecord, error)
	FindByNationalInsuranceNumbers(ctx context.Context, q repository.DBTX, ninos []string, limit int) ([]models.CandidateRecord, error)
	FindByNames(ctx context.Context, q repository.DBTX, names []string, dob *time.Time, limit int) ([]models.CandidateRecord, error)
	FindByEmails(ctx context.Context, q repository.DBTX, emails []string, limit int) ([]models.CandidateRecord, error)
}

// SearchIndexService keeps the person search projection in step with person
// mutations and answers candidate lookups against it.
type SearchIndexService struct {
	persons projectionSource
	index   searchIndexStore
	reader  repository.DBTX
	limit   int
	logger  *zap.Logger
}

// NewSearchIndexService constructs the service. reader is the connection pool
// used for lookups; limit caps the candidate set (K).
func NewSearchIndexService(persons projectionSource, index searchIndexStore, reader repository.DBTX, limit int, logger *zap.Logger) *SearchIndexService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = defaultCandidateLimit
	}
	return &SearchIndexService{persons: persons, index: index, reader: reader, limit: limit, logger: logger}
}

// Refresh rebuilds one person's projection inside the caller's transaction.
// Persons that are no longer Active are removed from the index.
func (s *SearchIndexService) Refresh(ctx context.Context, q repository.DBTX, personID string) error {
	person, err := s.persons.GetByID(ctx, q, personID)
	if err != nil {
		return fmt.Errorf("load person for projection: %w", err)
	}
	if !person.IsLive() {
		return s.index.Delete(ctx, q, personID)
	}
	names, err := s.persons.ListPreviousNames(ctx, q, personID)
	if err != nil {
		return err
	}
	ninos, err := s.persons.ListPreviousNationalInsuranceNumbers(ctx, q, personID)
	if err != nil {
		return err
	}
	mergedTrns, err := s.persons.ListTrnsMergedInto(ctx, q, personID)
	if err != nil {
		return err
	}
	return s.index.Upsert(ctx, q, BuildSearchAttributes(person, names, ninos, mergedTrns))
}

// BuildSearchAttributes folds a person's current and historical identifiers into
// one projection row. TRNs of persons merged into this one stay searchable so a
// lookup by a retired TRN lands on the survivor.
func BuildSearchAttributes(person *models.Person, previousNames []models.PreviousName, previousNinos []models.PreviousNationalInsuranceNumber, mergedTrns []string) models.PersonSearchAttributes {
	attrs := models.PersonSearchAttributes{PersonID: person.ID, DateOfBirth: person.DateOfBirth}
	set := newOrderedSet()

	if person.Trn != nil {
		set.add(&attrs.Trns, CanonicalIdentifier(*person.Trn))
	}
	for _, trn := range mergedTrns {
		set.add(&attrs.Trns, CanonicalIdentifier(trn))
	}

	set.add(&attrs.Names, NameKey(person.FirstName, person.LastName))
	set.add(&attrs.LastNames, FoldText(person.LastName))
	for _, name := range previousNames {
		set.add(&attrs.Names, NameKey(name.FirstName, name.LastName))
		set.add(&attrs.LastNames, FoldText(name.LastName))
	}

	if person.NationalInsuranceNumber != nil {
		set.add(&attrs.NationalInsuranceNumbers, CanonicalIdentifier(*person.NationalInsuranceNumber))
	}
	for _, nino := range previousNinos {
		set.add(&attrs.NationalInsuranceNumbers, CanonicalIdentifier(nino.NationalInsuranceNumber))
	}

	if person.EmailAddress != nil {
		set.add(&attrs.EmailAddresses, CanonicalEmail(*person.EmailAddress))
	}
	return attrs
}

// FindCandidates unions the per-attribute lookups in a fixed order (TRN, NINO,
// name, email), deduplicates and caps the result at K. Lookups run in parallel
// but the merge order never depends on which finishes first.
func (s *SearchIndexService) FindCandidates(ctx context.Context, n models.NormalizedAssertion) ([]models.CandidateRecord, error) {
	type lookup func(ctx context.Context) ([]models.CandidateRecord, error)
	lookups := make([]lookup, 0, 4)

	if trns := n.LookupTrns(); len(trns) > 0 {
		lookups = append(lookups, func(ctx context.Context) ([]models.CandidateRecord, error) {
			return s.index.FindByTrns(ctx, s.reader, trns, s.limit)
		})
	}
	if n.NationalInsuranceNumber != "" {
		ninos := []string{n.NationalInsuranceNumber}
		lookups = append(lookups, func(ctx context.Context) ([]models.CandidateRecord, error) {
			return s.index.FindByNationalInsuranceNumbers(ctx, s.reader, ninos, s.limit)
		})
	}
	if len(n.FullNameKeys) > 0 {
		keys := n.FullNameKeys
		lookups = append(lookups, func(ctx context.Context) ([]models.CandidateRecord, error) {
			return s.index.FindByNames(ctx, s.reader, keys, n.DateOfBirth, s.limit)
		})
	}
	if n.EmailAddress != "" {
		emails := []string{n.EmailAddress}
		lookups = append(lookups, func(ctx context.Context) ([]models.CandidateRecord, error) {
			return s.index.FindByEmails(ctx, s.reader, emails, s.limit)
		})
	}
	if len(lookups) == 0 {
		return nil, nil
	}

	results := make([][]models.CandidateRecord, len(lookups))
	g, gctx := errgroup.WithContext(ctx)
	for i, fn := range lookups {
		i, fn := i, fn
		g.Go(func() error {
			records, err := fn(gctx)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}

	seen := make(map[string]struct{})
	candidates := make([]models.CandidateRecord, 0, s.limit)
	for _, records := range results {
		for _, record := range records {
			if _, ok := seen[record.PersonID]; ok {
				continue
			}
			seen[record.PersonID] = struct{}{}
			candidates = append(candidates, record)
			if len(candidates) == s.limit {
				return candidates, nil
			}
		}
	}
	return candidates, nil
}

type orderedSet struct {
	seen map[*[]string]map[string]struct{}
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[*[]string]map[string]struct{})}
}

func (o *orderedSet) add(dst *[]string, value string) {
	if value == "" {
		return
	}
	bucket := o.seen[dst]
	if bucket == nil {
		bucket = make(map[string]struct{})
		o.seen[dst] = bucket
	}
	if _, ok := bucket[value]; ok {
		return
	}
	bucket[value] = struct{}{}
	*dst = append(*dst, value)
}
