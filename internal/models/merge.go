package models

import "time"

// PersonField names an identity field that can be chosen during a merge.
type PersonField string

const (
	FieldFirstName               PersonField = "first_name"
	FieldMiddleName              PersonField = "middle_name"
	FieldLastName                PersonField = "last_name"
	FieldDateOfBirth             PersonField = "date_of_birth"
	FieldEmailAddress            PersonField = "email_address"
	FieldNationalInsuranceNumber PersonField = "national_insurance_number"

	// FieldTrn appears in change sets only; it is never chosen during a merge.
	FieldTrn PersonField = "trn"
)

// MergeableFields lists the fields covered by field choices, in display order.
var MergeableFields = []PersonField{
	FieldFirstName,
	FieldMiddleName,
	FieldLastName,
	FieldDateOfBirth,
	FieldEmailAddress,
	FieldNationalInsuranceNumber,
}

// ChoiceSource selects where the winning value of a field comes from.
type ChoiceSource string

const (
	ChoicePrimary   ChoiceSource = "primary"
	ChoiceSecondary ChoiceSource = "secondary"
	ChoiceOverride  ChoiceSource = "override"
)

// FieldChoice is the decision for one field. Value is only read for overrides.
type FieldChoice struct {
	Source ChoiceSource `json:"source" validate:"required,oneof=primary secondary override"`
	Value  *string      `json:"value,omitempty"`
}

// FieldChoices maps each conflicting field to its decision.
type FieldChoices map[PersonField]FieldChoice

// MergeRequest carries the inputs of a person-to-person merge.
type MergeRequest struct {
	PrimaryID                string
	SecondaryID              string
	FieldChoices             FieldChoices
	EvidenceRef              string
	ExpectedPrimaryVersion   *int
	ExpectedSecondaryVersion *int
	ActorID                  string
}

// MergeResult is recorded once per (primary, secondary) pair and replayed on retries.
type MergeResult struct {
	ID            string                  `json:"id"`
	PrimaryID     string                  `json:"primaryId"`
	SecondaryID   string                  `json:"secondaryId"`
	EvidenceRef   string                  `json:"evidenceRef"`
	FieldChoices  FieldChoices            `json:"fieldChoices"`
	AppliedValues map[PersonField]*string `json:"appliedValues"`
	// TransferredTrn is set when the primary had no TRN and took the secondary's.
	TransferredTrn *string          `json:"transferredTrn,omitempty"`
	Repointed      map[string]int64 `json:"repointed"`
	MergedBy       string           `json:"mergedBy,omitempty"`
	MergedAt       time.Time        `json:"mergedAt"`
}

// PersonMerge is the persisted merge record.
type PersonMerge struct {
	ID          string    `db:"id"`
	PrimaryID   string    `db:"primary_person_id"`
	SecondaryID string    `db:"secondary_person_id"`
	EvidenceRef string    `db:"evidence_ref"`
	Result      []byte    `db:"result"`
	CreatedAt   time.Time `db:"created_at"`
}
