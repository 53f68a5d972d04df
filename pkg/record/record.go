// Package record implements the dynamic value container for one persisted
// or transient entity instance. Every field entry is in one of three
// states: unset (never touched), set with a value, or explicitly set to
// null. The distinction matters on save: unset fields receive defaults,
// nullified fields do not.
package record

import (
	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

// entry is one field slot. A nil entry in the map means unset; null marks
// an explicit nullification.
type entry struct {
	value any
	null  bool
}

// Record is a dynamic instance of a type. It is a value object: created,
// mutated, persisted or discarded, with no lifecycle of its own. Nested
// records reached through reference or collection fields are owned by this
// record for the duration of a query result graph.
type Record struct {
	typ    *meta.Type
	id     kid.KID
	values map[string]entry
}

// New instantiates an empty record of the given type.
func New(t *meta.Type) *Record {
	return &Record{typ: t, values: map[string]entry{}}
}

// Type returns the record's type definition.
func (r *Record) Type() *meta.Type { return r.typ }

// ID returns the record identifier, empty until first save.
func (r *Record) ID() kid.KID { return r.id }

// SetID assigns the record identifier. Called by the persistence layer on
// insert and by query materialization.
func (r *Record) SetID(k kid.KID) { r.id = k }

// Persisted reports whether the record has been assigned an identifier.
func (r *Record) Persisted() bool { return r.id != "" }

// Set stores a value for the named field. Setting nil is equivalent to
// Nullify.
func (r *Record) Set(field string, value any) error {
	if r.typ.Field(field) == nil {
		return errdef.NotFound("type %s has no field %q", r.typ.QualifiedName(), field)
	}
	if value == nil {
		r.values[field] = entry{null: true}
		return nil
	}
	r.values[field] = entry{value: value}
	return nil
}

// Nullify explicitly clears the named field. A nullified field is set (not
// unset) and carries null.
func (r *Record) Nullify(field string) error {
	if r.typ.Field(field) == nil {
		return errdef.NotFound("type %s has no field %q", r.typ.QualifiedName(), field)
	}
	r.values[field] = entry{null: true}
	return nil
}

// Clear returns the named field to the unset state.
func (r *Record) Clear(field string) {
	delete(r.values, field)
}

// Get returns the value of the named field. It fails if the field is
// unknown; an unset or null field yields nil.
func (r *Record) Get(field string) (any, error) {
	if r.typ.Field(field) == nil {
		return nil, errdef.NotFound("type %s has no field %q", r.typ.QualifiedName(), field)
	}
	e := r.values[field]
	if e.null {
		return nil, nil
	}
	return e.value, nil
}

// AttemptGet returns the value and whether the field exists and is set with
// a non-null value. It never fails on unknown fields.
func (r *Record) AttemptGet(field string) (any, bool) {
	if r.typ.Field(field) == nil {
		return nil, false
	}
	e, ok := r.values[field]
	if !ok || e.null {
		return nil, false
	}
	return e.value, true
}

// IsSet reports whether the field has been touched (set with a value or
// nullified).
func (r *Record) IsSet(field string) bool {
	_, ok := r.values[field]
	return ok
}

// IsNull reports whether the field is explicitly null.
func (r *Record) IsNull(field string) bool {
	return r.values[field].null
}

// SetFields returns the api names of all touched fields in declaration
// order.
func (r *Record) SetFields() []string {
	var names []string
	for _, f := range r.typ.Fields() {
		if r.IsSet(f.APIName) {
			names = append(names, f.APIName)
		}
	}
	return names
}

// Children returns the nested record list of an association or collection
// field. The result is never nil: an absent or unset collection reads as
// empty.
func (r *Record) Children(field string) ([]*Record, error) {
	f := r.typ.Field(field)
	if f == nil {
		return nil, errdef.NotFound("type %s has no field %q", r.typ.QualifiedName(), field)
	}
	if f.Kind != meta.DataTypeAssociation && f.Kind != meta.DataTypeCollection {
		return nil, errdef.Syntax("field %s.%s is not a collection", r.typ.QualifiedName(), field)
	}
	e, ok := r.values[field]
	if !ok || e.null {
		return []*Record{}, nil
	}
	children, ok := e.value.([]*Record)
	if !ok || children == nil {
		return []*Record{}, nil
	}
	return children, nil
}

// Related returns the nested record of a reference field, or nil when the
// reference is unexpanded, unset or null.
func (r *Record) Related(field string) (*Record, error) {
	f := r.typ.Field(field)
	if f == nil {
		return nil, errdef.NotFound("type %s has no field %q", r.typ.QualifiedName(), field)
	}
	if f.Kind != meta.DataTypeReference {
		return nil, errdef.Syntax("field %s.%s is not a reference", r.typ.QualifiedName(), field)
	}
	e := r.values[field]
	if nested, ok := e.value.(*Record); ok {
		return nested, nil
	}
	return nil, nil
}

// Clone returns a shallow copy of the record: field states are copied,
// nested records are shared.
func (r *Record) Clone() *Record {
	values := make(map[string]entry, len(r.values))
	for k, v := range r.values {
		values[k] = v
	}
	return &Record{typ: r.typ, id: r.id, values: values}
}
