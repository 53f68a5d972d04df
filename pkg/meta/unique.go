package meta

import (
	"strings"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
)

// CreateUniqueCheck declares a named uniqueness check over one or more
// persisted fields of a type. The persistence service enforces the check on
// every save; a violation carries the check name back to the caller.
func (r *Registry) CreateUniqueCheck(typeKID kid.KID, name string, fieldNames ...string) (*UniqueCheck, error) {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errdef.SchemaDefinition("unique check name must not be empty")
	}
	for _, uc := range t.UniqueChecks() {
		if uc.Name == name {
			return nil, errdef.SchemaDefinition("unique check %q already exists on type %s", name, t.QualifiedName())
		}
	}
	if len(fieldNames) == 0 {
		return nil, errdef.SchemaDefinition("unique check %q must cover at least one field", name)
	}

	var fieldKIDs JSONStringSlice
	var labels []string
	for _, fn := range fieldNames {
		f := t.Field(fn)
		if f == nil {
			return nil, errdef.SchemaDefinition("unique check %q names unknown field %q on type %s", name, fn, t.QualifiedName())
		}
		if !f.Kind.Persisted() {
			return nil, errdef.SchemaDefinition("unique check %q cannot cover field %q: %s fields carry no stored value", name, fn, f.Kind)
		}
		fieldKIDs = append(fieldKIDs, string(f.KID))
		labels = append(labels, f.Label)
	}

	var checkKID kid.KID
	err = r.db.Transaction(func(tx *gorm.DB) error {
		k, err := r.seq.Next(tx, UniqueCheckPrefix)
		if err != nil {
			return err
		}
		checkKID = k
		cd := UniqueCheckDef{
			KID:       string(checkKID),
			TypeKID:   string(typeKID),
			Name:      name,
			Label:     strings.Join(labels, ", "),
			FieldKIDs: fieldKIDs,
		}
		if err := tx.Create(&cd).Error; err != nil {
			return errdef.Internal(err, "persisting unique check %q", name)
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
	for _, uc := range t.UniqueChecks() {
		if uc.KID == checkKID {
			return uc, nil
		}
	}
	return nil, errdef.Internal(nil, "unique check %s vanished after reload", checkKID)
}

// DeleteUniqueCheck removes a uniqueness check from a type.
func (r *Registry) DeleteUniqueCheck(typeKID, checkKID kid.KID) error {
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()

	t, err := r.GetType(typeKID)
	if err != nil {
		return err
	}
	found := false
	for _, uc := range t.UniqueChecks() {
		if uc.KID == checkKID {
			found = true
			break
		}
	}
	if !found {
		return errdef.NotFound("unique check %s not found on type %s", checkKID, t.QualifiedName())
	}
	if err := r.db.Where("kid = ?", string(checkKID)).Delete(&UniqueCheckDef{}).Error; err != nil {
		return errdef.Internal(err, "deleting unique check %s", checkKID)
	}
	return r.Load()
}
