package dto

import (
	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
)

// RegisterPersonRequest creates a person directly, outside the matching flow.
type RegisterPersonRequest struct {
	FirstName               string `json:"firstName" validate:"required,max=100"`
	MiddleName              string `json:"middleName" validate:"max=100"`
	LastName                string `json:"lastName" validate:"required,max=100"`
	DateOfBirth             string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	NationalInsuranceNumber string `json:"nationalInsuranceNumber" validate:"max=20"`
	EmailAddress            string `json:"emailAddress" validate:"omitempty,email"`
}

// ToDetails validates and converts the request.
func (r RegisterPersonRequest) ToDetails() (service.PersonDetails, error) {
	if err := Validate(r); err != nil {
		return service.PersonDetails{}, err
	}
	dob, err := ParseDate(r.DateOfBirth)
	if err != nil {
		return service.PersonDetails{}, err
	}
	return service.PersonDetails{
		FirstName:               r.FirstName,
		MiddleName:              r.MiddleName,
		LastName:                r.LastName,
		DateOfBirth:             dob,
		NationalInsuranceNumber: r.NationalInsuranceNumber,
		EmailAddress:            r.EmailAddress,
	}, nil
}

// UpdatePersonRequest edits identity fields. Omitted fields are untouched and
// an empty string clears an optional field.
type UpdatePersonRequest struct {
	FirstName               *string `json:"firstName" validate:"omitempty,max=100"`
	MiddleName              *string `json:"middleName" validate:"omitempty,max=100"`
	LastName                *string `json:"lastName" validate:"omitempty,max=100"`
	DateOfBirth             *string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	NationalInsuranceNumber *string `json:"nationalInsuranceNumber" validate:"omitempty,max=20"`
	EmailAddress            *string `json:"emailAddress"`
	ExpectedVersion         *int    `json:"expectedVersion" validate:"omitempty,min=1"`
}

// ToUpdate validates and converts the request.
func (r UpdatePersonRequest) ToUpdate() (service.PersonUpdate, error) {
	if err := Validate(r); err != nil {
		return service.PersonUpdate{}, err
	}
	if err := validateEmail("emailAddress", r.EmailAddress); err != nil {
		return service.PersonUpdate{}, err
	}
	return service.PersonUpdate{
		FirstName:               r.FirstName,
		MiddleName:              r.MiddleName,
		LastName:                r.LastName,
		DateOfBirth:             r.DateOfBirth,
		NationalInsuranceNumber: r.NationalInsuranceNumber,
		EmailAddress:            r.EmailAddress,
		ExpectedVersion:         r.ExpectedVersion,
	}, nil
}

// MergePersonRequest merges SecondaryID into the person named in the path.
type MergePersonRequest struct {
	SecondaryID              string                                 `json:"secondaryId" validate:"required,uuid"`
	EvidenceRef              string                                 `json:"evidenceRef" validate:"required,max=200"`
	FieldChoices             map[models.PersonField]FieldChoiceBody `json:"fieldChoices" validate:"omitempty,dive,keys,oneof=first_name middle_name last_name date_of_birth email_address national_insurance_number,endkeys"`
	ExpectedPrimaryVersion   *int                                   `json:"expectedPrimaryVersion" validate:"omitempty,min=1"`
	ExpectedSecondaryVersion *int                                   `json:"expectedSecondaryVersion" validate:"omitempty,min=1"`
}

// ToMergeRequest validates and converts the request.
func (r MergePersonRequest) ToMergeRequest(primaryID, actorID string) (models.MergeRequest, error) {
	if err := Validate(r); err != nil {
		return models.MergeRequest{}, err
	}
	if err := validateFieldChoices(r.FieldChoices); err != nil {
		return models.MergeRequest{}, err
	}
	return models.MergeRequest{
		PrimaryID:                primaryID,
		SecondaryID:              r.SecondaryID,
		FieldChoices:             toFieldChoices(r.FieldChoices),
		EvidenceRef:              r.EvidenceRef,
		ExpectedPrimaryVersion:   r.ExpectedPrimaryVersion,
		ExpectedSecondaryVersion: r.ExpectedSecondaryVersion,
		ActorID:                  actorID,
	}, nil
}
