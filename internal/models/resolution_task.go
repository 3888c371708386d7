package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// TaskStatus captures the resolution task state machine.
type TaskStatus string

const (
	TaskStatusOpen     TaskStatus = "Open"
	TaskStatusResolved TaskStatus = "Resolved"
	TaskStatusRejected TaskStatus = "Rejected"
)

// TaskType tags the channel that produced a task.
type TaskType string

const (
	TaskTypeOneLoginVerification TaskType = "OneLoginIdVerification"
	TaskTypeAPITrnRequest        TaskType = "ApiTrnRequest"
	TaskTypeBulkImportDuplicate  TaskType = "BulkImportPotentialDuplicate"
	TaskTypeSupportRequest       TaskType = "SupportRequest"
)

// TaskTypeForChannel maps an assertion channel to the task type it raises.
func TaskTypeForChannel(channel Channel) TaskType {
	switch channel {
	case ChannelOneLogin:
		return TaskTypeOneLoginVerification
	case ChannelAPI:
		return TaskTypeAPITrnRequest
	case ChannelBulk:
		return TaskTypeBulkImportDuplicate
	default:
		return TaskTypeSupportRequest
	}
}

// ResolutionKind enumerates the decisions staff can take on a task.
type ResolutionKind string

const (
	ResolutionCreateNew ResolutionKind = "CreateNew"
	ResolutionMergeInto ResolutionKind = "MergeInto"
	ResolutionReject    ResolutionKind = "Reject"
)

// TaskDecision is the input to resolving a task.
type TaskDecision struct {
	Kind         ResolutionKind `json:"kind"`
	PersonID     string         `json:"personId,omitempty"`
	FieldChoices FieldChoices   `json:"fieldChoices,omitempty"`
	Reason       string         `json:"reason,omitempty"`
}

// TaskResolution is stored on the task once it is closed.
type TaskResolution struct {
	Kind         ResolutionKind `json:"kind"`
	PersonID     string         `json:"personId,omitempty"`
	FieldChoices FieldChoices   `json:"fieldChoices,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Trn          *string        `json:"trn,omitempty"`
	MergeID      string         `json:"mergeId,omitempty"`
}

// ResolutionTask is a durable unit of human adjudication work.
type ResolutionTask struct {
	ID               string             `db:"id" json:"id"`
	Reference        string             `db:"reference" json:"reference"`
	TaskType         TaskType           `db:"task_type" json:"taskType"`
	Status           TaskStatus         `db:"status" json:"status"`
	Assertion        types.JSONText     `db:"assertion" json:"assertion"`
	Candidates       types.JSONText     `db:"candidates" json:"candidates"`
	SubjectPersonID  *string            `db:"subject_person_id" json:"subjectPersonId,omitempty"`
	ExternalKey      *string            `db:"external_key" json:"externalKey,omitempty"`
	Resolution       types.NullJSONText `db:"resolution" json:"resolution,omitempty"`
	ResolvedPersonID *string            `db:"resolved_person_id" json:"resolvedPersonId,omitempty"`
	ResolvedBy       *string            `db:"resolved_by" json:"resolvedBy,omitempty"`
	CreatedAt        time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time          `db:"updated_at" json:"updatedAt"`
	ResolvedAt       *time.Time         `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// DecodeAssertion unmarshals the captured assertion.
func (t *ResolutionTask) DecodeAssertion() (MatchAssertion, error) {
	var a MatchAssertion
	if len(t.Assertion) == 0 {
		return a, nil
	}
	err := json.Unmarshal(t.Assertion, &a)
	return a, err
}

// DecodeCandidates unmarshals the stored candidate list.
func (t *ResolutionTask) DecodeCandidates() ([]CandidateMatch, error) {
	var c []CandidateMatch
	if len(t.Candidates) == 0 {
		return c, nil
	}
	err := json.Unmarshal(t.Candidates, &c)
	return c, err
}

// ResolutionTaskFilter constrains listing queries.
type ResolutionTaskFilter struct {
	Status   []TaskStatus
	TaskType TaskType
	Limit    int
	Offset   int
}
