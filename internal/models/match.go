package models

import "time"

// MatchAttribute names an attribute on which an assertion agreed with a candidate.
type MatchAttribute string

const (
	MatchAttributeTrn                     MatchAttribute = "Trn"
	MatchAttributeTrnToken                MatchAttribute = "TrnToken"
	MatchAttributeNationalInsuranceNumber MatchAttribute = "NationalInsuranceNumber"
	MatchAttributeFullName                MatchAttribute = "FullName"
	MatchAttributeDateOfBirth             MatchAttribute = "DateOfBirth"
	MatchAttributeLastName                MatchAttribute = "LastName"
	MatchAttributeEmailAddress            MatchAttribute = "EmailAddress"
)

// IsStrong reports whether the attribute counts as strong evidence.
func (a MatchAttribute) IsStrong() bool {
	switch a {
	case MatchAttributeTrn, MatchAttributeTrnToken, MatchAttributeNationalInsuranceNumber,
		MatchAttributeFullName, MatchAttributeDateOfBirth:
		return true
	}
	return false
}

// OutcomeKind is the classification result.
type OutcomeKind string

const (
	OutcomeAutoMatch OutcomeKind = "AutoMatch"
	OutcomeAmbiguous OutcomeKind = "Ambiguous"
	OutcomeNoMatch   OutcomeKind = "NoMatch"
)

// CandidateRecord is the search projection of a candidate as seen by the classifier.
type CandidateRecord struct {
	PersonID                 string
	Version                  int
	Trns                     []string
	Names                    []string
	LastNames                []string
	NationalInsuranceNumbers []string
	EmailAddresses           []string
	DateOfBirth              *time.Time
}

// CandidateMatch is a candidate together with the attributes it agreed on.
// Version is the person version observed at classification time.
type CandidateMatch struct {
	PersonID          string           `json:"personId"`
	Version           int              `json:"version"`
	MatchedAttributes []MatchAttribute `json:"matchedAttributes"`
}

// HasAttribute reports whether the candidate matched on attr.
func (c CandidateMatch) HasAttribute(attr MatchAttribute) bool {
	for _, a := range c.MatchedAttributes {
		if a == attr {
			return true
		}
	}
	return false
}

// MatchOutcome is the result of classifying an assertion.
type MatchOutcome struct {
	Kind              OutcomeKind      `json:"kind"`
	PersonID          string           `json:"personId,omitempty"`
	MatchedAttributes []MatchAttribute `json:"matchedAttributes,omitempty"`
	Candidates        []CandidateMatch `json:"candidates"`
}

// MatchResponse is returned to channels after submitting an assertion.
type MatchResponse struct {
	Outcome       MatchOutcome     `json:"outcome"`
	Binding       *ExternalBinding `json:"binding,omitempty"`
	TaskReference string           `json:"taskReference,omitempty"`
	Trn           *string          `json:"trn,omitempty"`
}
