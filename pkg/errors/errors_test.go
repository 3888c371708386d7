package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrTaskAlreadyClosed, "task TRS-ABCD already resolved")
	assert.True(t, errors.Is(err, ErrTaskAlreadyClosed))
	assert.False(t, errors.Is(err, ErrAlreadyMerged))
	assert.Equal(t, "task TRS-ABCD already resolved", err.Error())
}

func TestFromErrorWrapsUnknown(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrNoRangeAvailable, ""))
	assert.Equal(t, ErrNoRangeAvailable.Code, FromError(wrapped).Code)

	plain := FromError(errors.New("boom"))
	assert.Equal(t, ErrInternal.Code, plain.Code)
	assert.Nil(t, FromError(nil))
}
