package meta

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

// TypeSpec describes a type to create.
type TypeSpec struct {
	Package     string
	APIName     string
	Label       string
	Description string
	Draft       bool
	Basic       bool
	Fields      []FieldSpec
}

// FieldSpec describes a field to create.
type FieldSpec struct {
	APIName      string
	Label        string
	Kind         DataType
	Required     bool
	DefaultValue string
	TrackHistory bool
	Length       int
	EnumValues   []string

	RefTypeKID    kid.KID
	CascadeDelete bool

	LinkTypeKID     kid.KID
	SelfFieldKID    kid.KID
	ForeignFieldKID kid.KID

	TargetFieldKID kid.KID

	AutoGenerated bool
}

// FieldUpdate describes a partial field change. Nil members are untouched.
type FieldUpdate struct {
	Rename       *string
	Length       *int
	Required     *bool
	TrackHistory *bool
	DefaultValue *string
}

// CreateType creates a type definition and its physical record table in one
// transaction. The registry is refreshed only after commit.
func (r *Registry) CreateType(spec TypeSpec) (*Type, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	if spec.Package == "" {
		return nil, errdef.SchemaDefinition("type package must not be empty")
	}
	if err := validateAPIName(spec.APIName); err != nil {
		return nil, err
	}
	if err := validateDescription(spec.Description); err != nil {
		return nil, err
	}
	qualified := spec.Package + "." + spec.APIName
	r.mu.RLock()
	_, exists := r.byName[qualified]
	r.mu.RUnlock()
	if exists {
		return nil, errdef.SchemaDefinition("type %s already exists", qualified)
	}

	prefix := r.assignPrefix(spec.APIName)
	label := spec.Label
	if label == "" {
		label = labelFor(spec.APIName)
	}

	var typeKID kid.KID
	err := r.db.Transaction(func(tx *gorm.DB) error {
		k, err := r.seq.Next(tx, TypePrefix)
		if err != nil {
			return err
		}
		typeKID = k

		td := TypeDef{
			KID:          string(typeKID),
			Package:      spec.Package,
			APIName:      spec.APIName,
			Label:        label,
			Prefix:       prefix,
			StorageTable: recordTableName(prefix),
			Draft:        spec.Draft,
			Basic:        spec.Basic,
			Description:  spec.Description,
		}
		if err := tx.Create(&td).Error; err != nil {
			return errdef.Internal(err, "persisting type %s", qualified)
		}
		if err := createRecordTable(tx, td.StorageTable); err != nil {
			return errdef.Internal(err, "creating storage for type %s", qualified)
		}
		for i, fs := range spec.Fields {
			if _, err := r.createFieldTx(tx, typeKID, td.StorageTable, fs, i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r.GetType(typeKID)
}

// CreateField adds a field to an existing type, creating its physical
// column in the same transaction.
func (r *Registry) CreateField(typeKID kid.KID, spec FieldSpec) (*Field, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return nil, err
	}
	if t.Field(spec.APIName) != nil {
		return nil, errdef.SchemaDefinition("field %q already exists on type %s", spec.APIName, t.QualifiedName())
	}

	var fieldKID kid.KID
	err = r.db.Transaction(func(tx *gorm.DB) error {
		k, err := r.createFieldTx(tx, typeKID, t.Table, spec, len(t.Fields()))
		if err != nil {
			return err
		}
		fieldKID = k
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	t, err = r.GetType(typeKID)
	if err != nil {
		return nil, err
	}
	return t.FieldByKID(fieldKID), nil
}

// createFieldTx validates and persists one field inside tx.
func (r *Registry) createFieldTx(tx *gorm.DB, typeKID kid.KID, table string, spec FieldSpec, position int) (kid.KID, error) {
	if err := validateAPIName(spec.APIName); err != nil {
		return "", err
	}
	if !spec.Kind.valid() {
		return "", errdef.SchemaDefinition("field %q has unknown data type %q", spec.APIName, spec.Kind)
	}
	switch spec.Kind {
	case DataTypeReference:
		if spec.RefTypeKID == "" {
			return "", errdef.SchemaDefinition("reference field %q must name a target type", spec.APIName)
		}
	case DataTypeAssociation:
		if spec.LinkTypeKID == "" || spec.SelfFieldKID == "" || spec.ForeignFieldKID == "" {
			return "", errdef.SchemaDefinition("association field %q must carry a linking type with self and foreign fields", spec.APIName)
		}
	case DataTypeCollection:
		if spec.RefTypeKID == "" || spec.TargetFieldKID == "" {
			return "", errdef.SchemaDefinition("collection field %q must name the child type and its back-reference field", spec.APIName)
		}
	case DataTypeEnum:
		if len(spec.EnumValues) == 0 {
			return "", errdef.SchemaDefinition("enumeration field %q must declare at least one value", spec.APIName)
		}
	}

	fieldKID, err := r.seq.Next(tx, FieldPrefix)
	if err != nil {
		return "", err
	}
	label := spec.Label
	if label == "" {
		label = labelFor(spec.APIName)
	}
	fd := FieldDef{
		KID:             string(fieldKID),
		TypeKID:         string(typeKID),
		APIName:         spec.APIName,
		Label:           label,
		Column:          columnName(spec.APIName),
		Kind:            string(spec.Kind),
		Required:        spec.Required,
		DefaultValue:    spec.DefaultValue,
		TrackHistory:    spec.TrackHistory,
		Length:          spec.Length,
		EnumValues:      spec.EnumValues,
		RefTypeKID:      string(spec.RefTypeKID),
		CascadeDelete:   spec.CascadeDelete,
		LinkTypeKID:     string(spec.LinkTypeKID),
		SelfFieldKID:    string(spec.SelfFieldKID),
		ForeignFieldKID: string(spec.ForeignFieldKID),
		TargetFieldKID:  string(spec.TargetFieldKID),
		AutoGenerated:   spec.AutoGenerated,
		Position:        position,
	}
	if err := tx.Create(&fd).Error; err != nil {
		return "", errdef.Internal(err, "persisting field %q", spec.APIName)
	}
	if spec.Kind.Persisted() {
		f := fieldFromDef(fd)
		if err := addColumn(tx, table, f); err != nil {
			return "", errdef.Internal(err, "creating storage for field %q", spec.APIName)
		}
	}
	return fieldKID, nil
}

// UpdateField applies a partial change to a field: rename, text length
// change, required toggle, history toggle, default change. Data-shape
// changes validate existing rows first and the whole operation is
// transactional.
func (r *Registry) UpdateField(typeKID, fieldKID kid.KID, upd FieldUpdate) (*Field, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return nil, err
	}
	f := t.FieldByKID(fieldKID)
	if f == nil {
		return nil, errdef.NotFound("field %s not found on type %s", fieldKID, t.QualifiedName())
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		changes := map[string]any{}

		if upd.Rename != nil && *upd.Rename != f.APIName {
			newName := *upd.Rename
			if err := validateAPIName(newName); err != nil {
				return err
			}
			if t.Field(newName) != nil {
				return errdef.SchemaDefinition("field %q already exists on type %s", newName, t.QualifiedName())
			}
			newColumn := columnName(newName)
			if f.Kind.Persisted() {
				if err := renameColumn(tx, t.Table, f.Column, newColumn); err != nil {
					return errdef.Internal(err, "renaming field %q", f.APIName)
				}
			}
			changes["api_name"] = newName
			changes["column_name"] = newColumn
			changes["label"] = labelFor(newName)
		}

		if upd.Length != nil && *upd.Length != f.Length {
			if f.Kind != DataTypeText {
				return errdef.SchemaDefinition("length applies only to text fields, %q is %s", f.APIName, f.Kind)
			}
			newLen := *upd.Length
			if newLen <= 0 {
				return errdef.SchemaDefinition("field %q length must be positive", f.APIName)
			}
			if newLen < f.Length {
				var over int64
				col := QuoteIdent(tx, f.Column)
				q := fmt.Sprintf("SELECT count(*) FROM %s WHERE LENGTH(%s) > ?", QuoteIdent(tx, t.Table), col)
				if err := tx.Raw(q, newLen).Scan(&over).Error; err != nil {
					return errdef.Internal(err, "scanning %s.%s for truncation", t.APIName, f.APIName)
				}
				if over > 0 {
					return errdef.SchemaDefinition("cannot narrow field %q to %d characters: %d existing values would truncate", f.APIName, newLen, over)
				}
			}
			probe := *f
			probe.Length = newLen
			if err := alterColumnType(tx, t.Table, &probe); err != nil {
				return errdef.Internal(err, "resizing field %q", f.APIName)
			}
			changes["length"] = newLen
		}

		if upd.Required != nil && *upd.Required != f.Required {
			if *upd.Required {
				if !f.Kind.Persisted() {
					return errdef.SchemaDefinition("field %q cannot be required: %s fields carry no stored value", f.APIName, f.Kind)
				}
				var nulls int64
				q := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s IS NULL", QuoteIdent(tx, t.Table), QuoteIdent(tx, f.Column))
				if err := tx.Raw(q).Scan(&nulls).Error; err != nil {
					return errdef.Internal(err, "scanning %s.%s for nulls", t.APIName, f.APIName)
				}
				if nulls > 0 {
					return errdef.Validation(f.Label, errdef.TagRequiredEmpty, "cannot make field required: %d existing records have no value", nulls)
				}
			}
			changes["required"] = *upd.Required
		}

		if upd.TrackHistory != nil {
			changes["track_history"] = *upd.TrackHistory
		}
		if upd.DefaultValue != nil {
			changes["default_value"] = *upd.DefaultValue
		}

		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&FieldDef{}).Where("kid = ?", string(fieldKID)).
			Updates(changes).Error; err != nil {
			return errdef.Internal(err, "updating field %q", f.APIName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	t, err = r.GetType(typeKID)
	if err != nil {
		return nil, err
	}
	return t.FieldByKID(fieldKID), nil
}

// fieldDependents enumerates Type.field pairs that depend on the given
// field: association fields using it as a linking field and collection
// fields targeting it.
func (r *Registry) fieldDependents(fieldKID kid.KID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var deps []string
	for _, t := range r.byKID {
		for _, f := range t.fields {
			switch {
			case f.SelfFieldKID == fieldKID || f.ForeignFieldKID == fieldKID:
				deps = append(deps, fmt.Sprintf("%s.%s (association linking field)", t.QualifiedName(), f.APIName))
			case f.TargetFieldKID == fieldKID:
				deps = append(deps, fmt.Sprintf("%s.%s (inverse collection target)", t.QualifiedName(), f.APIName))
			}
		}
		for _, uc := range t.checks {
			for _, fk := range uc.FieldKIDs {
				if fk == fieldKID {
					deps = append(deps, fmt.Sprintf("%s (unique check %q)", t.QualifiedName(), uc.Name))
				}
			}
		}
	}
	return deps
}

// associationsUsingLink counts association fields wired through the given
// linking type, excluding the field identified by exclude.
func (r *Registry) associationsUsingLink(linkTypeKID, exclude kid.KID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.byKID {
		for _, f := range t.fields {
			if f.Kind == DataTypeAssociation && f.LinkTypeKID == linkTypeKID && f.KID != exclude {
				n++
			}
		}
	}
	return n
}

// isAutoGeneratedLink reports whether the linking type was generated by the
// platform (both of its reference fields are marked auto-generated).
func (r *Registry) isAutoGeneratedLink(linkTypeKID kid.KID) bool {
	r.mu.RLock()
	lt, ok := r.byKID[linkTypeKID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	refs := 0
	for _, f := range lt.Fields() {
		if f.Kind == DataTypeReference {
			if !f.AutoGenerated {
				return false
			}
			refs++
		}
	}
	return refs == 2
}

// DeleteField removes a field, its physical column and, for an association
// field, its auto-generated linking type when no other association still
// uses it. Fails with a referential error while the field is depended on by
// an association or inverse collection.
func (r *Registry) DeleteField(typeKID, fieldKID kid.KID) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return err
	}
	f := t.FieldByKID(fieldKID)
	if f == nil {
		return errdef.NotFound("field %s not found on type %s", fieldKID, t.QualifiedName())
	}
	if deps := r.fieldDependents(fieldKID); len(deps) > 0 {
		return errdef.Referential("field %s.%s is in use by: %s", t.QualifiedName(), f.APIName, strings.Join(deps, ", "))
	}

	var dropLink *Type
	if f.Kind == DataTypeAssociation && r.isAutoGeneratedLink(f.LinkTypeKID) &&
		r.associationsUsingLink(f.LinkTypeKID, f.KID) == 0 {
		lt, err := r.GetType(f.LinkTypeKID)
		if err == nil {
			dropLink = lt
		}
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kid = ?", string(fieldKID)).Delete(&FieldDef{}).Error; err != nil {
			return errdef.Internal(err, "deleting field %q", f.APIName)
		}
		if f.Kind.Persisted() {
			if err := dropColumn(tx, t.Table, f.Column); err != nil {
				return errdef.Internal(err, "dropping storage for field %q", f.APIName)
			}
		}
		if dropLink != nil {
			if err := deleteTypeTx(tx, dropLink); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return r.Load()
}

// typeDependents enumerates Type.field pairs on other types that point at
// the given type through references, associations or collections.
func (r *Registry) typeDependents(typeKID kid.KID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var deps []string
	for _, t := range r.byKID {
		if t.KID == typeKID {
			continue
		}
		for _, f := range t.fields {
			if f.RefTypeKID == typeKID || f.LinkTypeKID == typeKID {
				deps = append(deps, fmt.Sprintf("%s.%s (%s)", t.QualifiedName(), f.APIName, f.Kind))
			}
		}
	}
	return deps
}

// DeleteType removes a type, its fields and its physical table. Fails with
// a referential error while other types point at it.
func (r *Registry) DeleteType(typeKID kid.KID) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return err
	}
	if t.Basic {
		return errdef.Privileges("type %s is a system type and cannot be deleted", t.QualifiedName())
	}
	if deps := r.typeDependents(typeKID); len(deps) > 0 {
		return errdef.Referential("type %s is in use by: %s", t.QualifiedName(), strings.Join(deps, ", "))
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		return deleteTypeTx(tx, t)
	})
	if err != nil {
		return err
	}
	return r.Load()
}

// deleteTypeTx removes a type's metadata rows and physical table inside tx.
func deleteTypeTx(tx *gorm.DB, t *Type) error {
	if err := tx.Where("type_kid = ?", string(t.KID)).Delete(&FieldDef{}).Error; err != nil {
		return errdef.Internal(err, "deleting fields of type %s", t.QualifiedName())
	}
	if err := tx.Where("type_kid = ?", string(t.KID)).Delete(&UniqueCheckDef{}).Error; err != nil {
		return errdef.Internal(err, "deleting unique checks of type %s", t.QualifiedName())
	}
	if err := tx.Where("kid = ?", string(t.KID)).Delete(&TypeDef{}).Error; err != nil {
		return errdef.Internal(err, "deleting type %s", t.QualifiedName())
	}
	if err := dropRecordTable(tx, t.Table); err != nil {
		return errdef.Internal(err, "dropping storage for type %s", t.QualifiedName())
	}
	return nil
}

// SetSharingControlledBy marks the field whose value drives generic sharing
// grants for the type, or clears it with an empty identifier.
func (r *Registry) SetSharingControlledBy(typeKID, fieldKID kid.KID) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return err
	}
	if fieldKID != "" && t.FieldByKID(fieldKID) == nil {
		return errdef.NotFound("field %s not found on type %s", fieldKID, t.QualifiedName())
	}
	if err := r.db.Model(&TypeDef{}).Where("kid = ?", string(typeKID)).
		Update("sharing_controlled_by", string(fieldKID)).Error; err != nil {
		return errdef.Internal(err, "updating sharing control for type %s", t.QualifiedName())
	}
	return r.Load()
}

// assignPrefix derives a prefix from the api name and walks forward past
// collisions with existing types and the reserved metadata prefixes.
func (r *Registry) assignPrefix(apiName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := kid.DerivePrefix(apiName)
	for {
		if p != TypePrefix && p != FieldPrefix && p != UniqueCheckPrefix {
			if _, taken := r.byPrefix[p]; !taken {
				return p
			}
		}
		p = kid.NextPrefix(p)
	}
}
