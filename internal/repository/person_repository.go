package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// ErrStaleVersion is returned when an optimistic version check fails.
var ErrStaleVersion = errors.New("stale person version")

const personColumns = `id, trn, first_name, middle_name, last_name, date_of_birth, national_insurance_number,
       email_address, status, merged_with_person_id, version, created_at, updated_at`

// PersonRepository manages persistence for persons and their name/NINO history.
type PersonRepository struct {
	db *sqlx.DB
}

// NewPersonRepository constructs a PersonRepository.
func NewPersonRepository(db *sqlx.DB) *PersonRepository {
	return &PersonRepository{db: db}
}

// DB exposes the pool for callers that do not need a transaction.
func (r *PersonRepository) DB() DBTX {
	return r.db
}

// Create inserts a new person row.
func (r *PersonRepository) Create(ctx context.Context, q DBTX, person *models.Person) error {
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	if person.Status == "" {
		person.Status = models.PersonStatusActive
	}
	now := time.Now().UTC()
	if person.CreatedAt.IsZero() {
		person.CreatedAt = now
	}
	person.UpdatedAt = now
	person.Version = 1

	const query = `INSERT INTO persons (id, trn, first_name, middle_name, last_name, date_of_birth, national_insurance_number,
		email_address, status, merged_with_person_id, version, created_at, updated_at)
		VALUES (:id, :trn, :first_name, :middle_name, :last_name, :date_of_birth, :national_insurance_number,
		:email_address, :status, :merged_with_person_id, :version, :created_at, :updated_at)`
	if _, err := q.NamedExecContext(ctx, query, person); err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

// GetByID fetches a person by identifier.
func (r *PersonRepository) GetByID(ctx context.Context, q DBTX, id string) (*models.Person, error) {
	query := fmt.Sprintf("SELECT %s FROM persons WHERE id = $1", personColumns)
	var person models.Person
	if err := q.GetContext(ctx, &person, query, id); err != nil {
		return nil, err
	}
	return &person, nil
}

// GetByTrn fetches the person holding a TRN.
func (r *PersonRepository) GetByTrn(ctx context.Context, q DBTX, trn string) (*models.Person, error) {
	query := fmt.Sprintf("SELECT %s FROM persons WHERE trn = $1", personColumns)
	var person models.Person
	if err := q.GetContext(ctx, &person, query, trn); err != nil {
		return nil, err
	}
	return &person, nil
}

// LockForUpdate row-locks the given persons in id order and returns them keyed by id.
// Locking in a fixed order keeps two concurrent merges of the same pair from deadlocking.
func (r *PersonRepository) LockForUpdate(ctx context.Context, q DBTX, ids ...string) (map[string]*models.Person, error) {
	query := fmt.Sprintf("SELECT %s FROM persons WHERE id = ANY($1) ORDER BY id FOR UPDATE", personColumns)
	var persons []models.Person
	if err := q.SelectContext(ctx, &persons, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("lock persons: %w", err)
	}
	result := make(map[string]*models.Person, len(persons))
	for i := range persons {
		result[persons[i].ID] = &persons[i]
	}
	return result, nil
}

// Update writes identity fields when the stored version still equals person.Version,
// then bumps the in-memory version.
func (r *PersonRepository) Update(ctx context.Context, q DBTX, person *models.Person) error {
	person.UpdatedAt = time.Now().UTC()
	const query = `UPDATE persons SET trn = :trn, first_name = :first_name, middle_name = :middle_name, last_name = :last_name,
		date_of_birth = :date_of_birth, national_insurance_number = :national_insurance_number, email_address = :email_address,
		status = :status, merged_with_person_id = :merged_with_person_id, version = version + 1, updated_at = :updated_at
		WHERE id = :id AND version = :version`
	result, err := q.NamedExecContext(ctx, query, person)
	if err != nil {
		return fmt.Errorf("update person: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check person update rows: %w", err)
	}
	if rows == 0 {
		return ErrStaleVersion
	}
	person.Version++
	return nil
}

// RedirectMerged repoints persons already merged into from so they forward to to.
func (r *PersonRepository) RedirectMerged(ctx context.Context, q DBTX, from, to string) (int64, error) {
	const query = `UPDATE persons SET merged_with_person_id = $2, version = version + 1, updated_at = $3
		WHERE merged_with_person_id = $1 AND status = 'Merged'`
	result, err := q.ExecContext(ctx, query, from, to, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("redirect merged persons: %w", err)
	}
	return result.RowsAffected()
}

// ListTrnsMergedInto returns TRNs held by tombstones that forward to personID.
func (r *PersonRepository) ListTrnsMergedInto(ctx context.Context, q DBTX, personID string) ([]string, error) {
	const query = `SELECT trn FROM persons WHERE merged_with_person_id = $1 AND trn IS NOT NULL ORDER BY trn`
	var trns []string
	if err := q.SelectContext(ctx, &trns, query, personID); err != nil {
		return nil, fmt.Errorf("list merged trns: %w", err)
	}
	return trns, nil
}

// AddPreviousName appends a name to the person's history.
func (r *PersonRepository) AddPreviousName(ctx context.Context, q DBTX, name *models.PreviousName) error {
	if name.ID == "" {
		name.ID = uuid.NewString()
	}
	if name.CreatedAt.IsZero() {
		name.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO person_previous_names (id, person_id, first_name, middle_name, last_name, created_at)
		VALUES (:id, :person_id, :first_name, :middle_name, :last_name, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("add previous name: %w", err)
	}
	return nil
}

// ListPreviousNames returns the name history oldest first.
func (r *PersonRepository) ListPreviousNames(ctx context.Context, q DBTX, personID string) ([]models.PreviousName, error) {
	const query = `SELECT id, person_id, first_name, middle_name, last_name, created_at
		FROM person_previous_names WHERE person_id = $1 ORDER BY created_at, id`
	var names []models.PreviousName
	if err := q.SelectContext(ctx, &names, query, personID); err != nil {
		return nil, fmt.Errorf("list previous names: %w", err)
	}
	return names, nil
}

// MovePreviousNames reassigns name history rows to another person.
func (r *PersonRepository) MovePreviousNames(ctx context.Context, q DBTX, from, to string) (int64, error) {
	result, err := q.ExecContext(ctx, `UPDATE person_previous_names SET person_id = $2 WHERE person_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("move previous names: %w", err)
	}
	return result.RowsAffected()
}

// AddPreviousNationalInsuranceNumber appends a replaced NINO to the person's history.
func (r *PersonRepository) AddPreviousNationalInsuranceNumber(ctx context.Context, q DBTX, nino *models.PreviousNationalInsuranceNumber) error {
	if nino.ID == "" {
		nino.ID = uuid.NewString()
	}
	if nino.CreatedAt.IsZero() {
		nino.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO person_previous_national_insurance_numbers (id, person_id, national_insurance_number, created_at)
		VALUES (:id, :person_id, :national_insurance_number, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, nino); err != nil {
		return fmt.Errorf("add previous nino: %w", err)
	}
	return nil
}

// ListPreviousNationalInsuranceNumbers returns the NINO history oldest first.
func (r *PersonRepository) ListPreviousNationalInsuranceNumbers(ctx context.Context, q DBTX, personID string) ([]models.PreviousNationalInsuranceNumber, error) {
	const query = `SELECT id, person_id, national_insurance_number, created_at
		FROM person_previous_national_insurance_numbers WHERE person_id = $1 ORDER BY created_at, id`
	var ninos []models.PreviousNationalInsuranceNumber
	if err := q.SelectContext(ctx, &ninos, query, personID); err != nil {
		return nil, fmt.Errorf("list previous ninos: %w", err)
	}
	return ninos, nil
}

// MovePreviousNationalInsuranceNumbers reassigns NINO history rows to another person.
func (r *PersonRepository) MovePreviousNationalInsuranceNumbers(ctx context.Context, q DBTX, from, to string) (int64, error) {
	result, err := q.ExecContext(ctx, `UPDATE person_previous_national_insurance_numbers SET person_id = $2 WHERE person_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("move previous ninos: %w", err)
	}
	return result.RowsAffected()
}

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
