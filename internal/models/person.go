package models

import (
	"strings"
	"time"
)

// PersonStatus enumerates the lifecycle states of a registry person.
type PersonStatus string

const (
	PersonStatusActive      PersonStatus = "Active"
	PersonStatusDeactivated PersonStatus = "Deactivated"
	PersonStatusMerged      PersonStatus = "Merged"
)

// DateLayout is the canonical wire format for dates of birth.
const DateLayout = "2006-01-02"

// Person is the canonical identity record.
type Person struct {
	ID                      string       `db:"id" json:"id"`
	Trn                     *string      `db:"trn" json:"trn,omitempty"`
	FirstName               string       `db:"first_name" json:"firstName"`
	MiddleName              string       `db:"middle_name" json:"middleName,omitempty"`
	LastName                string       `db:"last_name" json:"lastName"`
	DateOfBirth             *time.Time   `db:"date_of_birth" json:"dateOfBirth,omitempty"`
	NationalInsuranceNumber *string      `db:"national_insurance_number" json:"nationalInsuranceNumber,omitempty"`
	EmailAddress            *string      `db:"email_address" json:"emailAddress,omitempty"`
	Status                  PersonStatus `db:"status" json:"status"`
	MergedWithPersonID      *string      `db:"merged_with_person_id" json:"mergedWithPersonId,omitempty"`
	Version                 int          `db:"version" json:"version"`
	CreatedAt               time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time    `db:"updated_at" json:"updatedAt"`
}

// IsLive reports whether the person can take part in matching and merging.
func (p *Person) IsLive() bool {
	return p != nil && p.Status == PersonStatusActive
}

// FieldValue returns the string form of a mergeable field, nil when unset.
func (p *Person) FieldValue(field PersonField) *string {
	switch field {
	case FieldFirstName:
		return optional(p.FirstName)
	case FieldMiddleName:
		return optional(p.MiddleName)
	case FieldLastName:
		return optional(p.LastName)
	case FieldDateOfBirth:
		if p.DateOfBirth == nil {
			return nil
		}
		v := p.DateOfBirth.Format(DateLayout)
		return &v
	case FieldEmailAddress:
		return p.EmailAddress
	case FieldNationalInsuranceNumber:
		return p.NationalInsuranceNumber
	}
	return nil
}

// SetFieldValue writes a mergeable field from its string form.
func (p *Person) SetFieldValue(field PersonField, value *string) error {
	switch field {
	case FieldFirstName:
		p.FirstName = deref(value)
	case FieldMiddleName:
		p.MiddleName = deref(value)
	case FieldLastName:
		p.LastName = deref(value)
	case FieldDateOfBirth:
		if value == nil || strings.TrimSpace(*value) == "" {
			p.DateOfBirth = nil
			return nil
		}
		dob, err := time.Parse(DateLayout, strings.TrimSpace(*value))
		if err != nil {
			return err
		}
		p.DateOfBirth = &dob
	case FieldEmailAddress:
		p.EmailAddress = optional(deref(value))
	case FieldNationalInsuranceNumber:
		p.NationalInsuranceNumber = optional(deref(value))
	}
	return nil
}

// PreviousName is an append-only record of a name a person used to hold.
type PreviousName struct {
	ID         string    `db:"id" json:"id"`
	PersonID   string    `db:"person_id" json:"personId"`
	FirstName  string    `db:"first_name" json:"firstName"`
	MiddleName string    `db:"middle_name" json:"middleName,omitempty"`
	LastName   string    `db:"last_name" json:"lastName"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// PreviousNationalInsuranceNumber keeps NINOs replaced by edits or merges searchable.
type PreviousNationalInsuranceNumber struct {
	ID                      string    `db:"id" json:"id"`
	PersonID                string    `db:"person_id" json:"personId"`
	NationalInsuranceNumber string    `db:"national_insurance_number" json:"nationalInsuranceNumber"`
	CreatedAt               time.Time `db:"created_at" json:"createdAt"`
}

// PersonSearchAttributes is the denormalized lookup projection of one person.
type PersonSearchAttributes struct {
	PersonID                 string
	Trns                     []string
	Names                    []string
	LastNames                []string
	NationalInsuranceNumbers []string
	EmailAddresses           []string
	DateOfBirth              *time.Time
}

func optional(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
