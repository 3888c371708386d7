package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Event names emitted on the person event stream.
const (
	EventPersonCreated   = "PersonCreated"
	EventPersonUpdated   = "PersonUpdated"
	EventPersonMerged    = "PersonMerged"
	EventBindingResolved = "BindingResolved"
	EventTaskCreated     = "TaskCreated"
	EventTaskResolved    = "TaskResolved"
)

// PersonEvent is an immutable entry in the person event log. Rows double as
// the outbox for the stream publisher until PublishedAt is set.
type PersonEvent struct {
	ID          string         `db:"id" json:"id"`
	PersonID    *string        `db:"person_id" json:"personId,omitempty"`
	EventName   string         `db:"event_name" json:"eventName"`
	Payload     types.JSONText `db:"payload" json:"payload"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	PublishedAt *time.Time     `db:"published_at" json:"publishedAt,omitempty"`
}

// PersonMergedPayload is the body of a PersonMerged event.
type PersonMergedPayload struct {
	MergeID      string       `json:"mergeId"`
	PrimaryID    string       `json:"primaryId"`
	SecondaryID  string       `json:"secondaryId"`
	EvidenceRef  string       `json:"evidenceRef"`
	FieldChoices FieldChoices `json:"fieldChoices"`
	MergedBy     string       `json:"mergedBy,omitempty"`
}

// PersonCreatedPayload is the body of a PersonCreated event.
type PersonCreatedPayload struct {
	PersonID      string `json:"personId"`
	Trn           string `json:"trn"`
	Source        string `json:"source"`
	TaskReference string `json:"taskReference,omitempty"`
}

// PersonUpdatedPayload is the body of a PersonUpdated event.
type PersonUpdatedPayload struct {
	PersonID      string                  `json:"personId"`
	Changes       map[PersonField]*string `json:"changes"`
	EvidenceRef   string                  `json:"evidenceRef,omitempty"`
	TaskReference string                  `json:"taskReference,omitempty"`
}

// BindingResolvedPayload is the body of a BindingResolved event.
type BindingResolvedPayload struct {
	ExternalKey   string        `json:"externalKey"`
	Status        BindingStatus `json:"status"`
	PersonID      string        `json:"personId,omitempty"`
	MatchRoute    MatchRoute    `json:"matchRoute,omitempty"`
	TaskReference string        `json:"taskReference,omitempty"`
}

// TaskEventPayload is the body of TaskCreated and TaskResolved events.
type TaskEventPayload struct {
	Reference  string         `json:"reference"`
	TaskType   TaskType       `json:"taskType"`
	Status     TaskStatus     `json:"status"`
	Resolution ResolutionKind `json:"resolution,omitempty"`
	Candidates int            `json:"candidates"`
}
