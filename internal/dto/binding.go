package dto

import (
	"time"

	"github.com/noah-isme/trn-registry-api/internal/models"
	"github.com/noah-isme/trn-registry-api/internal/service"
)

// BindRequest links an external key to a person directly (support desk).
type BindRequest struct {
	ExternalKey string            `json:"externalKey" validate:"required,max=255"`
	Channel     models.Channel    `json:"channel" validate:"required,oneof=onelogin api bulk support"`
	PersonID    string            `json:"personId" validate:"required,uuid"`
	Route       models.MatchRoute `json:"route" validate:"omitempty,oneof=Interactive TrnToken ExternalIdentityLookup SupportAssisted BulkLookup"`
}

// ToParams validates and converts the request.
func (r BindRequest) ToParams() (service.BindParams, error) {
	if err := Validate(r); err != nil {
		return service.BindParams{}, err
	}
	return service.BindParams{
		ExternalKey: r.ExternalKey,
		Channel:     r.Channel,
		PersonID:    r.PersonID,
		Route:       r.Route,
	}, nil
}

// SeenRequest records sign-in activity for a bound key.
type SeenRequest struct {
	ExternalKey string     `json:"externalKey" validate:"required,max=255"`
	SeenAt      *time.Time `json:"seenAt"`
}

// AddRangeRequest registers a new TRN range, bounds inclusive.
type AddRangeRequest struct {
	From int64 `json:"from" validate:"required,gte=1000000,lte=9999999"`
	To   int64 `json:"to" validate:"required,gtefield=From,lte=9999999"`
}
