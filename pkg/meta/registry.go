// Package meta implements the per-tenant type registry: the in-memory
// catalog of type and field definitions, loaded from persisted metadata, and
// the schema-change operations that keep the metadata tables, the physical
// record tables and the catalog mutually consistent.
package meta

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

// Reserved identifier prefixes for metadata records themselves.
const (
	TypePrefix        = "typ"
	FieldPrefix       = "fld"
	UniqueCheckPrefix = "unq"
)

// Type is an in-memory type definition. Relationships between types are
// expressed as identifiers resolved through the registry arena, never as
// embedded pointers, so cyclic reference graphs cannot form ownership
// cycles.
type Type struct {
	KID                 kid.KID
	Package             string
	APIName             string
	Label               string
	Prefix              string
	Table               string
	Basic               bool
	Draft               bool
	SharingControlledBy kid.KID
	Description         string

	fields       []*Field
	fieldsByName map[string]*Field
	fieldsByKID  map[kid.KID]*Field
	checks       []*UniqueCheck
}

// QualifiedName returns "package.APIName".
func (t *Type) QualifiedName() string {
	return t.Package + "." + t.APIName
}

// Fields returns the type's fields in declaration order.
func (t *Type) Fields() []*Field { return t.fields }

// Field finds a field by api name. Returns nil if absent.
func (t *Type) Field(apiName string) *Field { return t.fieldsByName[apiName] }

// FieldByKID finds a field by identifier. Returns nil if absent.
func (t *Type) FieldByKID(k kid.KID) *Field { return t.fieldsByKID[k] }

// UniqueChecks returns the type's uniqueness checks.
func (t *Type) UniqueChecks() []*UniqueCheck { return t.checks }

// UniqueCheck is an in-memory uniqueness check definition.
type UniqueCheck struct {
	KID       kid.KID
	TypeKID   kid.KID
	Name      string
	Label     string
	FieldKIDs []kid.KID
}

// Field is an in-memory field definition.
type Field struct {
	KID          kid.KID
	TypeKID      kid.KID
	APIName      string
	Label        string
	Column       string
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
	Position      int
}

// Registry is the in-memory, per-tenant catalog of types. Reads take a
// read lock; schema mutations additionally serialize on a coarse per-tenant
// mutex, and the catalog is only swapped in after the backing transaction
// commits.
type Registry struct {
	db  *gorm.DB
	seq *kid.Sequencer

	// schemaMu serializes schema mutations for the tenant.
	schemaMu sync.Mutex

	mu       sync.RWMutex
	version  uint64
	byKID    map[kid.KID]*Type
	byName   map[string]kid.KID
	byPrefix map[string]kid.KID
}

// NewRegistry creates a registry over the tenant database. Call Migrate and
// Load before use.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{
		db:       db,
		seq:      kid.NewSequencer(db),
		byKID:    map[kid.KID]*Type{},
		byName:   map[string]kid.KID{},
		byPrefix: map[string]kid.KID{},
	}
}

// DB exposes the tenant database handle for collaborating services.
func (r *Registry) DB() *gorm.DB { return r.db }

// Sequencer exposes the tenant identifier allocator.
func (r *Registry) Sequencer() *kid.Sequencer { return r.seq }

// Migrate creates the metadata and sequence tables.
func (r *Registry) Migrate() error {
	if err := r.db.AutoMigrate(&TypeDef{}, &FieldDef{}, &UniqueCheckDef{}); err != nil {
		return fmt.Errorf("auto-migrate metadata tables: %w", err)
	}
	if err := r.seq.AutoMigrate(); err != nil {
		return err
	}
	return nil
}

// Version returns the monotonic schema version. Compiled queries and cached
// plans store the version they were built against and recompile on mismatch.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// GetType finds a type by identifier.
func (r *Registry) GetType(k kid.KID) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKID[k]
	if !ok {
		return nil, errdef.NotFound("type %s not found", k)
	}
	return t, nil
}

// GetTypeByName finds a type by qualified name ("package.APIName"). A bare
// api name matches if it is unambiguous across packages.
func (r *Registry) GetTypeByName(name string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.byName[name]; ok {
		return r.byKID[k], nil
	}
	// Bare api name lookup.
	var found *Type
	for _, t := range r.byKID {
		if t.APIName == name {
			if found != nil {
				return nil, errdef.Syntax("type name %q is ambiguous (%s, %s)", name, found.QualifiedName(), t.QualifiedName())
			}
			found = t
		}
	}
	if found == nil {
		return nil, errdef.Syntax("unknown type %q", name)
	}
	return found, nil
}

// TypeForRecord classifies a record identifier by its prefix.
func (r *Registry) TypeForRecord(record kid.KID) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.byPrefix[record.Prefix()]
	if !ok {
		return nil, errdef.NotFound("no type with prefix %q", record.Prefix())
	}
	return r.byKID[k], nil
}

// FindField locates a field by identifier across all types, returning the
// owning type and the field.
func (r *Registry) FindField(fieldKID kid.KID) (*Type, *Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.byKID {
		if f, ok := t.fieldsByKID[fieldKID]; ok {
			return t, f, nil
		}
	}
	return nil, nil, errdef.NotFound("field %s not found", fieldKID)
}

// Types returns all types sorted by qualified name.
func (r *Registry) Types() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.byKID))
	for _, t := range r.byKID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QualifiedName() < out[j].QualifiedName()
	})
	return out
}

// Load rebuilds the catalog from the persisted metadata, replacing the
// current arena wholesale and bumping the schema version.
func (r *Registry) Load() error {
	var typeDefs []TypeDef
	if err := r.db.Order("package, api_name").Find(&typeDefs).Error; err != nil {
		return errdef.Internal(err, "loading type metadata")
	}
	var fieldDefs []FieldDef
	if err := r.db.Order("type_kid, position, api_name").Find(&fieldDefs).Error; err != nil {
		return errdef.Internal(err, "loading field metadata")
	}
	var checkDefs []UniqueCheckDef
	if err := r.db.Order("type_kid, name").Find(&checkDefs).Error; err != nil {
		return errdef.Internal(err, "loading unique check metadata")
	}

	byKID := make(map[kid.KID]*Type, len(typeDefs))
	byName := make(map[string]kid.KID, len(typeDefs))
	byPrefix := make(map[string]kid.KID, len(typeDefs))
	for _, td := range typeDefs {
		t := typeFromDef(td)
		byKID[t.KID] = t
		byName[t.QualifiedName()] = t.KID
		byPrefix[t.Prefix] = t.KID
	}
	for _, fd := range fieldDefs {
		t, ok := byKID[kid.KID(fd.TypeKID)]
		if !ok {
			return errdef.Internal(nil, "field %s references missing type %s", fd.KID, fd.TypeKID)
		}
		t.addField(fieldFromDef(fd))
	}
	for _, cd := range checkDefs {
		t, ok := byKID[kid.KID(cd.TypeKID)]
		if !ok {
			return errdef.Internal(nil, "unique check %s references missing type %s", cd.KID, cd.TypeKID)
		}
		t.checks = append(t.checks, checkFromDef(cd))
	}

	r.mu.Lock()
	r.byKID = byKID
	r.byName = byName
	r.byPrefix = byPrefix
	r.version++
	r.mu.Unlock()
	return nil
}

// Reset forces a wholesale re-read of the persisted metadata, used after
// external changes to the tenant's schema.
func (r *Registry) Reset() error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	return r.Load()
}

func (t *Type) addField(f *Field) {
	t.fields = append(t.fields, f)
	t.fieldsByName[f.APIName] = f
	t.fieldsByKID[f.KID] = f
}

func typeFromDef(td TypeDef) *Type {
	return &Type{
		KID:                 kid.KID(td.KID),
		Package:             td.Package,
		APIName:             td.APIName,
		Label:               td.Label,
		Prefix:              td.Prefix,
		Table:               td.StorageTable,
		Basic:               td.Basic,
		Draft:               td.Draft,
		SharingControlledBy: kid.KID(td.SharingControlledBy),
		Description:         td.Description,
		fieldsByName:        map[string]*Field{},
		fieldsByKID:         map[kid.KID]*Field{},
	}
}

func checkFromDef(cd UniqueCheckDef) *UniqueCheck {
	uc := &UniqueCheck{
		KID:     kid.KID(cd.KID),
		TypeKID: kid.KID(cd.TypeKID),
		Name:    cd.Name,
		Label:   cd.Label,
	}
	for _, fk := range cd.FieldKIDs {
		uc.FieldKIDs = append(uc.FieldKIDs, kid.KID(fk))
	}
	return uc
}

func fieldFromDef(fd FieldDef) *Field {
	return &Field{
		KID:             kid.KID(fd.KID),
		TypeKID:         kid.KID(fd.TypeKID),
		APIName:         fd.APIName,
		Label:           fd.Label,
		Column:          fd.Column,
		Kind:            DataType(fd.Kind),
		Required:        fd.Required,
		DefaultValue:    fd.DefaultValue,
		TrackHistory:    fd.TrackHistory,
		Length:          fd.Length,
		EnumValues:      fd.EnumValues,
		RefTypeKID:      kid.KID(fd.RefTypeKID),
		CascadeDelete:   fd.CascadeDelete,
		LinkTypeKID:     kid.KID(fd.LinkTypeKID),
		SelfFieldKID:    kid.KID(fd.SelfFieldKID),
		ForeignFieldKID: kid.KID(fd.ForeignFieldKID),
		TargetFieldKID:  kid.KID(fd.TargetFieldKID),
		AutoGenerated:   fd.AutoGenerated,
		Position:        fd.Position,
	}
}
