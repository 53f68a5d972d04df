package errdef

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := Validation("Age", TagRequiredEmpty, "value is required")
	assert.Equal(t, "field-validation: Age: value is required", err.Error())

	plain := Syntax("unknown field %q", "nme")
	assert.Equal(t, `dal-syntax: unknown field "nme"`, plain.Error())
}

func TestKindMatching(t *testing.T) {
	err := Uniqueness("company_name", "a company with this name already exists")

	assert.True(t, Is(err, KindUniquenessViolation))
	assert.False(t, Is(err, KindFieldValidation))
	assert.Equal(t, "company_name", AsError(err).CheckName)
}

func TestWrappedThroughChain(t *testing.T) {
	inner := Privileges("user %s may not edit record %s", "usr1", "rec1")
	wrapped := fmt.Errorf("saving record: %w", inner)

	require.True(t, IsPrivilegeErr(wrapped))
	e := AsError(wrapped)
	require.NotNil(t, e)
	assert.Equal(t, KindInsufficientPrivileges, e.Kind)
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("driver: bad connection")
	err := Internal(cause, "loading type metadata")

	assert.True(t, errors.Is(err, cause))
	assert.True(t, Is(err, KindInternal))
}

func TestValidationTag(t *testing.T) {
	err := Validation("First Name", TagMaxLengthExceeded, "value exceeds 40 characters")
	e := AsError(err)
	require.NotNil(t, e)
	assert.Equal(t, TagMaxLengthExceeded, e.Tag)
	assert.Equal(t, "First Name", e.FieldLabel)
}
