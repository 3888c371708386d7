package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// SearchIndexRepository maintains person_search_attributes, the denormalized
// lookup projection used by candidate search.
type SearchIndexRepository struct {
	db *sqlx.DB
}

// NewSearchIndexRepository constructs a SearchIndexRepository.
func NewSearchIndexRepository(db *sqlx.DB) *SearchIndexRepository {
	return &SearchIndexRepository{db: db}
}

type searchAttributesRow struct {
	PersonID                 string         `db:"person_id"`
	Version                  int            `db:"version"`
	Trns                     pq.StringArray `db:"trns"`
	Names                    pq.StringArray `db:"names"`
	LastNames                pq.StringArray `db:"last_names"`
	NationalInsuranceNumbers pq.StringArray `db:"national_insurance_numbers"`
	EmailAddresses           pq.StringArray `db:"email_addresses"`
	DateOfBirth              *time.Time     `db:"date_of_birth"`
}

func (r searchAttributesRow) toCandidate() models.CandidateRecord {
	return models.CandidateRecord{
		PersonID:                 r.PersonID,
		Version:                  r.Version,
		Trns:                     []string(r.Trns),
		Names:                    []string(r.Names),
		LastNames:                []string(r.LastNames),
		NationalInsuranceNumbers: []string(r.NationalInsuranceNumbers),
		EmailAddresses:           []string(r.EmailAddresses),
		DateOfBirth:              r.DateOfBirth,
	}
}

// Upsert replaces the projection row for a person.
func (r *SearchIndexRepository) Upsert(ctx context.Context, q DBTX, attrs models.PersonSearchAttributes) error {
	const query = `INSERT INTO person_search_attributes (person_id, trns, names, last_names, national_insurance_numbers,
		email_addresses, date_of_birth, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (person_id) DO UPDATE SET trns = EXCLUDED.trns, names = EXCLUDED.names, last_names = EXCLUDED.last_names,
		national_insurance_numbers = EXCLUDED.national_insurance_numbers, email_addresses = EXCLUDED.email_addresses,
		date_of_birth = EXCLUDED.date_of_birth, updated_at = EXCLUDED.updated_at`
	_, err := q.ExecContext(ctx, query,
		attrs.PersonID,
		pq.Array(nonNil(attrs.Trns)),
		pq.Array(nonNil(attrs.Names)),
		pq.Array(nonNil(attrs.LastNames)),
		pq.Array(nonNil(attrs.NationalInsuranceNumbers)),
		pq.Array(nonNil(attrs.EmailAddresses)),
		attrs.DateOfBirth,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert search attributes: %w", err)
	}
	return nil
}

// Delete drops the projection row of a person that left the searchable set.
func (r *SearchIndexRepository) Delete(ctx context.Context, q DBTX, personID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM person_search_attributes WHERE person_id = $1`, personID); err != nil {
		return fmt.Errorf("delete search attributes: %w", err)
	}
	return nil
}

// FindByTrns returns active persons whose projection holds any of the TRNs.
func (r *SearchIndexRepository) FindByTrns(ctx context.Context, q DBTX, trns []string, limit int) ([]models.CandidateRecord, error) {
	return r.find(ctx, q, "s.trns && $1", limit, pq.Array(trns))
}

// FindByNationalInsuranceNumbers returns active persons holding the NINO now or historically.
func (r *SearchIndexRepository) FindByNationalInsuranceNumbers(ctx context.Context, q DBTX, ninos []string, limit int) ([]models.CandidateRecord, error) {
	return r.find(ctx, q, "s.national_insurance_numbers && $1", limit, pq.Array(ninos))
}

// FindByNames returns active persons with an overlapping full name key. When
// dob is set the lookup is narrowed to that date of birth.
func (r *SearchIndexRepository) FindByNames(ctx context.Context, q DBTX, names []string, dob *time.Time, limit int) ([]models.CandidateRecord, error) {
	if dob == nil {
		return r.find(ctx, q, "s.names && $1", limit, pq.Array(names))
	}
	return r.find(ctx, q, "s.names && $1 AND s.date_of_birth = $3", limit, pq.Array(names), *dob)
}

// FindByEmails returns active persons holding any of the email addresses.
func (r *SearchIndexRepository) FindByEmails(ctx context.Context, q DBTX, emails []string, limit int) ([]models.CandidateRecord, error) {
	return r.find(ctx, q, "s.email_addresses && $1", limit, pq.Array(emails))
}

// Get loads the projection for one person regardless of status.
func (r *SearchIndexRepository) Get(ctx context.Context, q DBTX, personID string) (*models.CandidateRecord, error) {
	const query = `SELECT s.person_id, p.version, s.trns, s.names, s.last_names, s.national_insurance_numbers,
		s.email_addresses, s.date_of_birth
		FROM person_search_attributes s JOIN persons p ON p.id = s.person_id
		WHERE s.person_id = $1`
	var row searchAttributesRow
	if err := q.GetContext(ctx, &row, query, personID); err != nil {
		return nil, err
	}
	record := row.toCandidate()
	return &record, nil
}

// find runs one attribute lookup. Candidates are ordered by creation so the
// result is stable between calls.
func (r *SearchIndexRepository) find(ctx context.Context, q DBTX, predicate string, limit int, args ...interface{}) ([]models.CandidateRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT s.person_id, p.version, s.trns, s.names, s.last_names, s.national_insurance_numbers,
		s.email_addresses, s.date_of_birth
		FROM person_search_attributes s
		JOIN persons p ON p.id = s.person_id AND p.status = 'Active'
		WHERE %s
		ORDER BY p.created_at, p.id
		LIMIT $2`, predicate)
	params := append([]interface{}{args[0], limit}, args[1:]...)

	var rows []searchAttributesRow
	if err := q.SelectContext(ctx, &rows, query, params...); err != nil {
		return nil, fmt.Errorf("search candidates: %w", err)
	}
	records := make([]models.CandidateRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toCandidate())
	}
	return records, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
