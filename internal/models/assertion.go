package models

import (
	"strings"
	"time"
)

// Channel identifies where an identity assertion came from.
type Channel string

const (
	ChannelOneLogin Channel = "onelogin"
	ChannelAPI      Channel = "api"
	ChannelBulk     Channel = "bulk"
	ChannelSupport  Channel = "support"
)

// TrustLevel states how far the asserted attributes have been verified.
type TrustLevel string

const (
	TrustIdentityVerified TrustLevel = "identity-verified"
	TrustSelfAsserted     TrustLevel = "self-asserted"
)

const redactedToken = "[redacted]"

// MatchAssertion is the attribute bundle submitted by a channel.
type MatchAssertion struct {
	Channel                 Channel    `json:"channel"`
	ExternalKey             string     `json:"externalKey,omitempty"`
	TrustLevel              TrustLevel `json:"trustLevel"`
	FirstName               string     `json:"firstName,omitempty"`
	MiddleName              string     `json:"middleName,omitempty"`
	LastName                string     `json:"lastName,omitempty"`
	DateOfBirth             *time.Time `json:"dateOfBirth,omitempty"`
	NationalInsuranceNumber string     `json:"nationalInsuranceNumber,omitempty"`
	EmailAddress            string     `json:"emailAddress,omitempty"`
	Trn                     string     `json:"trn,omitempty"`
	TrnToken                string     `json:"trnToken,omitempty"`
	SubjectPersonID         string     `json:"subjectPersonId,omitempty"`
}

// HasAttributes reports whether at least one matchable attribute is present.
func (a MatchAssertion) HasAttributes() bool {
	return strings.TrimSpace(a.FirstName) != "" ||
		strings.TrimSpace(a.LastName) != "" ||
		a.DateOfBirth != nil ||
		strings.TrimSpace(a.NationalInsuranceNumber) != "" ||
		strings.TrimSpace(a.EmailAddress) != "" ||
		strings.TrimSpace(a.Trn) != "" ||
		strings.TrimSpace(a.TrnToken) != ""
}

// Redacted returns a copy safe to persist: the one-time token value is dropped.
func (a MatchAssertion) Redacted() MatchAssertion {
	if a.TrnToken != "" {
		a.TrnToken = redactedToken
	}
	return a
}

// FieldValue returns the asserted value of a mergeable field, nil when absent.
func (a MatchAssertion) FieldValue(field PersonField) *string {
	switch field {
	case FieldFirstName:
		return optional(a.FirstName)
	case FieldMiddleName:
		return optional(a.MiddleName)
	case FieldLastName:
		return optional(a.LastName)
	case FieldDateOfBirth:
		if a.DateOfBirth == nil {
			return nil
		}
		v := a.DateOfBirth.Format(DateLayout)
		return &v
	case FieldEmailAddress:
		return optional(a.EmailAddress)
	case FieldNationalInsuranceNumber:
		return optional(a.NationalInsuranceNumber)
	}
	return nil
}

// AsPerson projects the assertion onto a person so it can take the secondary
// side of a field comparison.
func (a MatchAssertion) AsPerson() *Person {
	p := &Person{
		FirstName:   strings.TrimSpace(a.FirstName),
		MiddleName:  strings.TrimSpace(a.MiddleName),
		LastName:    strings.TrimSpace(a.LastName),
		DateOfBirth: a.DateOfBirth,
	}
	p.EmailAddress = optional(a.EmailAddress)
	p.NationalInsuranceNumber = optional(a.NationalInsuranceNumber)
	return p
}

// NormalizedAssertion holds canonical search keys derived from an assertion.
// Original is never modified.
type NormalizedAssertion struct {
	Original                MatchAssertion
	FirstNames              []string
	MiddleName              string
	LastName                string
	FullNameKeys            []string
	DateOfBirth             *time.Time
	NationalInsuranceNumber string
	EmailAddress            string
	Trn                     string
	// TokenTrn is set only when the assertion carried a redeemable TRN token.
	TokenTrn string
}

// LookupTrns returns the TRN values worth searching for.
func (n NormalizedAssertion) LookupTrns() []string {
	trns := make([]string, 0, 2)
	if n.Trn != "" {
		trns = append(trns, n.Trn)
	}
	if n.TokenTrn != "" && n.TokenTrn != n.Trn {
		trns = append(trns, n.TokenTrn)
	}
	return trns
}

// ExternalKey composes the binding key for a channel, e.g. "api:caller-1/req-9".
func ExternalKey(channel Channel, parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return string(channel) + ":" + strings.Join(cleaned, "/")
}
