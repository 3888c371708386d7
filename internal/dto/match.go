package dto

import (
	"strings"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// MatchRequest is an identity assertion submitted by a channel. API callers
// send RequestID; the external key is then scoped to the caller.
type MatchRequest struct {
	Channel                 models.Channel    `json:"channel" validate:"required,oneof=onelogin api bulk support"`
	ExternalKey             string            `json:"externalKey" validate:"omitempty,max=255"`
	RequestID               string            `json:"requestId" validate:"omitempty,max=100"`
	TrustLevel              models.TrustLevel `json:"trustLevel" validate:"omitempty,oneof=identity-verified self-asserted"`
	FirstName               string            `json:"firstName" validate:"max=100"`
	MiddleName              string            `json:"middleName" validate:"max=100"`
	LastName                string            `json:"lastName" validate:"max=100"`
	DateOfBirth             string            `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	NationalInsuranceNumber string            `json:"nationalInsuranceNumber" validate:"max=20"`
	EmailAddress            string            `json:"emailAddress" validate:"omitempty,email"`
	Trn                     string            `json:"trn" validate:"omitempty,trn"`
	TrnToken                string            `json:"trnToken" validate:"max=128"`
	SubjectPersonID         string            `json:"subjectPersonId" validate:"omitempty,uuid"`
}

// ToAssertion validates the request and converts it. callerID scopes API
// request ids so two callers cannot collide on a key.
func (r MatchRequest) ToAssertion(callerID string) (models.MatchAssertion, error) {
	if err := Validate(r); err != nil {
		return models.MatchAssertion{}, err
	}
	dob, err := ParseDate(r.DateOfBirth)
	if err != nil {
		return models.MatchAssertion{}, err
	}
	key := strings.TrimSpace(r.ExternalKey)
	if r.RequestID != "" && key == "" {
		key = models.ExternalKey(r.Channel, callerID, r.RequestID)
	}
	trust := r.TrustLevel
	if trust == "" {
		trust = models.TrustSelfAsserted
	}
	return models.MatchAssertion{
		Channel:                 r.Channel,
		ExternalKey:             key,
		TrustLevel:              trust,
		FirstName:               r.FirstName,
		MiddleName:              r.MiddleName,
		LastName:                r.LastName,
		DateOfBirth:             dob,
		NationalInsuranceNumber: r.NationalInsuranceNumber,
		EmailAddress:            r.EmailAddress,
		Trn:                     r.Trn,
		TrnToken:                r.TrnToken,
		SubjectPersonID:         r.SubjectPersonID,
	}, nil
}
