// Package errdef defines the error taxonomy shared by the schema, query,
// sharing and persistence layers. Every operation that can fail for a
// caller-visible reason returns an *Error tagged with a Kind so callers can
// branch programmatically without string matching.
package errdef

import (
	"errors"
	"fmt"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	// KindSchemaDefinition covers invalid type/field definitions: bad api
	// names, reserved names, a field still referenced by an association or
	// collection, descriptions over the limit.
	KindSchemaDefinition Kind = "schema-definition"

	// KindFieldValidation covers per-record validation failures on save.
	KindFieldValidation Kind = "field-validation"

	// KindDALSyntax covers malformed query text, unknown type or field
	// names, and type-mismatched subqueries.
	KindDALSyntax Kind = "dal-syntax"

	// KindInsufficientPrivileges covers denied read/edit/delete access and
	// attempts to modify system-immutable records.
	KindInsufficientPrivileges Kind = "insufficient-privileges"

	// KindUniquenessViolation covers violated unique checks.
	KindUniquenessViolation Kind = "uniqueness-violation"

	// KindReferentialIntegrity covers deletes blocked by dependent
	// references, associations or collections.
	KindReferentialIntegrity Kind = "referential-integrity"

	// KindAmbiguousSetting covers cascade-setting resolution that found
	// conflicting values in sibling groups.
	KindAmbiguousSetting Kind = "ambiguous-setting"

	// KindNotFound covers lookups of types, fields or records that do not
	// exist.
	KindNotFound Kind = "not-found"

	// KindInternal covers unexpected failures (storage errors and the
	// like). Raw database errors are always wrapped in KindInternal before
	// crossing a package boundary.
	KindInternal Kind = "internal"
)

// Validation tags carried by KindFieldValidation errors.
const (
	TagRequiredEmpty     = "required-empty"
	TagMaxLengthExceeded = "max-length-exceeded"
	TagInvalidEnumValue  = "invalid-enum-value"
	TagInvalidFormat     = "invalid-format"
)

// Error is a tagged platform error.
type Error struct {
	Kind Kind

	// Msg is a human-readable description of the failure.
	Msg string

	// FieldLabel names the offending field for validation and schema
	// errors, when known.
	FieldLabel string

	// Tag is the machine-readable validation tag (TagRequiredEmpty etc.)
	// for KindFieldValidation errors.
	Tag string

	// CheckName names the violated unique check for
	// KindUniquenessViolation errors.
	CheckName string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.FieldLabel != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.FieldLabel, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// SchemaDefinition builds a KindSchemaDefinition error.
func SchemaDefinition(format string, args ...any) *Error {
	return New(KindSchemaDefinition, format, args...)
}

// Validation builds a KindFieldValidation error carrying the field label and
// validation tag.
func Validation(fieldLabel, tag, format string, args ...any) *Error {
	e := New(KindFieldValidation, format, args...)
	e.FieldLabel = fieldLabel
	e.Tag = tag
	return e
}

// Syntax builds a KindDALSyntax error.
func Syntax(format string, args ...any) *Error {
	return New(KindDALSyntax, format, args...)
}

// Privileges builds a KindInsufficientPrivileges error.
func Privileges(format string, args ...any) *Error {
	return New(KindInsufficientPrivileges, format, args...)
}

// Uniqueness builds a KindUniquenessViolation error carrying the violated
// check name.
func Uniqueness(checkName, format string, args ...any) *Error {
	e := New(KindUniquenessViolation, format, args...)
	e.CheckName = checkName
	return e
}

// Referential builds a KindReferentialIntegrity error.
func Referential(format string, args ...any) *Error {
	return New(KindReferentialIntegrity, format, args...)
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// Internal wraps an unexpected failure, typically a raw storage error.
func Internal(cause error, format string, args ...any) *Error {
	return Wrap(KindInternal, cause, format, args...)
}

// AsError extracts an *Error from err's chain. Returns nil if err carries no
// *Error.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e := AsError(err)
	return e != nil && e.Kind == kind
}

// IsValidationErr reports whether err is a field-validation error.
func IsValidationErr(err error) bool { return Is(err, KindFieldValidation) }

// IsSyntaxErr reports whether err is a DAL syntax error.
func IsSyntaxErr(err error) bool { return Is(err, KindDALSyntax) }

// IsPrivilegeErr reports whether err is an insufficient-privileges error.
func IsPrivilegeErr(err error) bool { return Is(err, KindInsufficientPrivileges) }

// IsNotFoundErr reports whether err is a not-found error.
func IsNotFoundErr(err error) bool { return Is(err, KindNotFound) }
