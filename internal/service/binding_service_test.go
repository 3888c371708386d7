package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/models"
	appErrors "github.com/noah-isme/trn-registry-api/pkg/errors"
)

func TestBindDirectIsSetOnce(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	details := PersonDetails{FirstName: "Leo", LastName: "Marsh", DateOfBirth: dob("1982-02-02")}
	leo := reg.seedPerson(t, details)
	other := reg.seedPerson(t, PersonDetails{FirstName: "Mia", LastName: "Marsh", DateOfBirth: dob("1984-04-04")})

	binding, err := reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "onelogin:sub-9", Channel: models.ChannelOneLogin, PersonID: leo.ID}, "officer-1")
	require.NoError(t, err)
	assert.Equal(t, models.MatchRouteSupportAssisted, *binding.MatchRoute)

	again, err := reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "onelogin:sub-9", Channel: models.ChannelOneLogin, PersonID: leo.ID, Route: models.MatchRouteInteractive}, "officer-2")
	require.NoError(t, err)
	assert.Equal(t, models.MatchRouteSupportAssisted, *again.MatchRoute)

	_, err = reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "onelogin:sub-9", Channel: models.ChannelOneLogin, PersonID: other.ID}, "officer-2")
	assert.True(t, errors.Is(err, appErrors.ErrBindingConflict))

	_, err = reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "onelogin:sub-10", PersonID: "missing"}, "officer-2")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestBindingFollowsMerge(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	details := PersonDetails{FirstName: "Ada", LastName: "Byrne", DateOfBirth: dob("1970-10-10")}
	survivor := reg.seedPerson(t, details)
	gone := reg.seedPerson(t, details)
	_, err := reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "api:c/1", Channel: models.ChannelAPI, PersonID: gone.ID}, "officer-1")
	require.NoError(t, err)

	result, err := reg.merges.Merge(ctx, models.MergeRequest{PrimaryID: survivor.ID, SecondaryID: gone.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Repointed["external_bindings"])

	binding, err := reg.bindings.Get(ctx, "api:c/1")
	require.NoError(t, err)
	assert.Equal(t, survivor.ID, *binding.PersonID)

	_, err = reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "api:c/2", PersonID: gone.ID}, "officer-1")
	assert.True(t, errors.Is(err, appErrors.ErrAlreadyMerged))
}

func TestRecordFirstAndLastSeenWidensWindow(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	person := reg.seedPerson(t, PersonDetails{FirstName: "Ola", LastName: "Nord", DateOfBirth: dob("1993-03-03")})
	_, err := reg.bindings.BindDirect(ctx, BindParams{ExternalKey: "bulk:file-1/row-3", Channel: models.ChannelBulk, PersonID: person.ID}, "ops")
	require.NoError(t, err)

	early := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, reg.bindings.RecordFirstAndLastSeen(ctx, "bulk:file-1/row-3", early))
	binding, err := reg.bindings.Get(ctx, "bulk:file-1/row-3")
	require.NoError(t, err)
	assert.True(t, binding.FirstSeenAt.Equal(early))
	assert.True(t, binding.LastSeenAt.After(early))

	err = reg.bindings.RecordFirstAndLastSeen(ctx, "bulk:unknown", early)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
