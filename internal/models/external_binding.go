package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// BindingStatus tracks an external identity from first sight to resolution.
// An external key without a row is Unbound.
type BindingStatus string

const (
	BindingStatusPendingResolution BindingStatus = "PendingResolution"
	BindingStatusBound             BindingStatus = "Bound"
	BindingStatusRejected          BindingStatus = "Rejected"
)

// MatchRoute records how a binding was resolved. It is permanent once set.
type MatchRoute string

const (
	MatchRouteInteractive            MatchRoute = "Interactive"
	MatchRouteTrnToken               MatchRoute = "TrnToken"
	MatchRouteExternalIdentityLookup MatchRoute = "ExternalIdentityLookup"
	MatchRouteSupportAssisted        MatchRoute = "SupportAssisted"
	MatchRouteBulkLookup             MatchRoute = "BulkLookup"
)

// RouteForChannel is the route used when a channel auto-matches without a token.
func RouteForChannel(channel Channel) MatchRoute {
	switch channel {
	case ChannelAPI:
		return MatchRouteExternalIdentityLookup
	case ChannelBulk:
		return MatchRouteBulkLookup
	case ChannelSupport:
		return MatchRouteSupportAssisted
	default:
		return MatchRouteInteractive
	}
}

// BindingVerification is what the identity provider asserted about the subject.
type BindingVerification struct {
	FirstName   string     `json:"firstName,omitempty"`
	LastName    string     `json:"lastName,omitempty"`
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	TrustLevel  TrustLevel `json:"trustLevel,omitempty"`
}

// ExternalBinding is one external identity's relationship to the registry.
type ExternalBinding struct {
	ID            string         `db:"id" json:"id"`
	ExternalKey   string         `db:"external_key" json:"externalKey"`
	Channel       Channel        `db:"channel" json:"channel"`
	Status        BindingStatus  `db:"status" json:"status"`
	PersonID      *string        `db:"person_id" json:"personId,omitempty"`
	MatchRoute    *MatchRoute    `db:"match_route" json:"matchRoute,omitempty"`
	TaskReference *string        `db:"task_reference" json:"taskReference,omitempty"`
	Verification  types.JSONText `db:"verification" json:"verification,omitempty"`
	FirstSeenAt   *time.Time     `db:"first_seen_at" json:"firstSeenAt,omitempty"`
	LastSeenAt    *time.Time     `db:"last_seen_at" json:"lastSeenAt,omitempty"`
	BoundAt       *time.Time     `db:"bound_at" json:"boundAt,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt"`
}
