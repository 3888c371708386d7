package dto

import (
	"strconv"
	"strings"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// ResolveTaskRequest carries a staff decision on a resolution task.
type ResolveTaskRequest struct {
	Kind         models.ResolutionKind                  `json:"kind" validate:"required,oneof=CreateNew MergeInto Reject"`
	PersonID     string                                 `json:"personId" validate:"required_if=Kind MergeInto,omitempty,uuid"`
	FieldChoices map[models.PersonField]FieldChoiceBody `json:"fieldChoices" validate:"omitempty,dive,keys,oneof=first_name middle_name last_name date_of_birth email_address national_insurance_number,endkeys"`
	Reason       string                                 `json:"reason" validate:"max=500"`
}

// FieldChoiceBody selects the value a merge keeps for one field.
type FieldChoiceBody struct {
	Source models.ChoiceSource `json:"source" validate:"required,oneof=primary secondary override"`
	Value  *string             `json:"value"`
}

// ToDecision validates and converts the request.
func (r ResolveTaskRequest) ToDecision() (models.TaskDecision, error) {
	if err := Validate(r); err != nil {
		return models.TaskDecision{}, err
	}
	if err := validateFieldChoices(r.FieldChoices); err != nil {
		return models.TaskDecision{}, err
	}
	return models.TaskDecision{
		Kind:         r.Kind,
		PersonID:     r.PersonID,
		FieldChoices: toFieldChoices(r.FieldChoices),
		Reason:       strings.TrimSpace(r.Reason),
	}, nil
}

// RefreshTaskRequest optionally amends the assertion before re-matching.
type RefreshTaskRequest struct {
	Assertion *MatchRequest `json:"assertion"`
}

// TaskQuery mirrors the supported worklist filters.
type TaskQuery struct {
	Status   []models.TaskStatus
	TaskType models.TaskType
	Limit    int
	Offset   int
}

// ParseTaskQuery reads ?status=Open,Resolved&type=...&limit=&offset=.
func ParseTaskQuery(status, taskType, limit, offset string) TaskQuery {
	q := TaskQuery{TaskType: models.TaskType(strings.TrimSpace(taskType))}
	for _, part := range strings.Split(status, ",") {
		if part = strings.TrimSpace(part); part != "" {
			q.Status = append(q.Status, models.TaskStatus(part))
		}
	}
	q.Limit, _ = strconv.Atoi(limit)
	q.Offset, _ = strconv.Atoi(offset)
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Filter converts the query to a repository filter.
func (q TaskQuery) Filter() models.ResolutionTaskFilter {
	return models.ResolutionTaskFilter{Status: q.Status, TaskType: q.TaskType, Limit: q.Limit, Offset: q.Offset}
}

func toFieldChoices(in map[models.PersonField]FieldChoiceBody) models.FieldChoices {
	if len(in) == 0 {
		return nil
	}
	out := make(models.FieldChoices, len(in))
	for field, choice := range in {
		out[field] = models.FieldChoice{Source: choice.Source, Value: choice.Value}
	}
	return out
}
