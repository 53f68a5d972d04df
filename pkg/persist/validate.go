package persist

import (
	"time"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
)

// checkRequired verifies every required persisted field carries a value.
// On insert an unset field may still be filled by its default; by the time
// this runs, defaults have been applied.
func checkRequired(rec *record.Record, insert bool) error {
	for _, f := range rec.Type().Fields() {
		if !f.Required || !f.Kind.Persisted() {
			continue
		}
		if rec.IsNull(f.APIName) {
			return errdef.Validation(f.Label, errdef.TagRequiredEmpty,
				"field %s must not be empty", f.Label)
		}
		if insert && !rec.IsSet(f.APIName) {
			return errdef.Validation(f.Label, errdef.TagRequiredEmpty,
				"field %s must not be empty", f.Label)
		}
	}
	return nil
}

// checkValue validates one set value against its field definition.
func checkValue(f *meta.Field, v any) error {
	switch f.Kind {
	case meta.DataTypeText:
		s, ok := v.(string)
		if !ok {
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s holds text, got %T", f.Label, v)
		}
		limit := f.Length
		if limit <= 0 {
			limit = 255
		}
		if len(s) > limit {
			return errdef.Validation(f.Label, errdef.TagMaxLengthExceeded,
				"field %s exceeds %d characters", f.Label, limit)
		}
	case meta.DataTypeEnum:
		s, ok := v.(string)
		if !ok {
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s holds an enum value, got %T", f.Label, v)
		}
		for _, allowed := range f.EnumValues {
			if s == allowed {
				return nil
			}
		}
		return errdef.Validation(f.Label, errdef.TagInvalidEnumValue,
			"field %s does not allow value %q", f.Label, s)
	case meta.DataTypeNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64:
		default:
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s holds a number, got %T", f.Label, v)
		}
	case meta.DataTypeBoolean:
		if _, ok := v.(bool); !ok {
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s holds a boolean, got %T", f.Label, v)
		}
	case meta.DataTypeDateTime:
		switch v.(type) {
		case time.Time, string:
		default:
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s holds a point in time, got %T", f.Label, v)
		}
	case meta.DataTypeKID, meta.DataTypeReference:
		id, ok := referenceKID(v)
		if !ok || !kid.IsValid(string(id)) {
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s holds an identifier, got %v", f.Label, v)
		}
	}
	return nil
}

// referenceKID extracts the identifier from a reference value, which
// callers may pass as a KID, a raw string or a loaded record.
func referenceKID(v any) (kid.KID, bool) {
	switch t := v.(type) {
	case kid.KID:
		return t, true
	case string:
		return kid.KID(t), true
	case *record.Record:
		return t.ID(), t.ID() != ""
	default:
		return "", false
	}
}
