package persist

import (
	"context"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/assoc"
	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
	"github.com/kitebase/kitebase/pkg/sharing"
)

// Service saves and deletes records. Every operation runs in one
// transaction covering triggers, the physical write, ownership grants and
// history, so a failing trigger rolls everything back.
type Service struct {
	reg      *meta.Registry
	res      *assoc.Resolver
	sec      *sharing.Engine
	triggers *Triggers
}

// NewService wires a persistence service to the registry, association
// resolver and sharing engine.
func NewService(reg *meta.Registry, res *assoc.Resolver, sec *sharing.Engine) *Service {
	return &Service{
		reg:      reg,
		res:      res,
		sec:      sec,
		triggers: newTriggers(),
	}
}

// Triggers exposes the lifecycle hook registry.
func (s *Service) Triggers() *Triggers { return s.triggers }

// Migrate creates the service's own tables.
func (s *Service) Migrate() error {
	if err := s.reg.DB().AutoMigrate(&FieldChange{}); err != nil {
		return errdef.Internal(err, "migrating history storage")
	}
	return nil
}

// Save validates and writes a record. Unpersisted records are inserted
// under a freshly allocated identifier; persisted ones are updated in
// place, touching only the fields the record has set. An empty principal
// saves in system scope without permission checks or ownership grants.
func (s *Service) Save(ctx context.Context, principal kid.KID, rec *record.Record) error {
	typ := rec.Type()
	insert := !rec.Persisted()

	// Basic types are exempt from read checks but not from write checks:
	// system reference data is world-readable while updates still need an
	// explicit grant or system scope.
	if !insert && principal != "" {
		allowed, err := s.sec.CanEditRecord(ctx, rec.ID(), principal)
		if err != nil {
			return err
		}
		if !allowed {
			return errdef.Privileges("user %s may not edit record %s", principal, rec.ID())
		}
	}

	if insert {
		if err := applyDefaults(rec); err != nil {
			return err
		}
	}
	if err := checkRequired(rec, insert); err != nil {
		return err
	}
	for _, name := range rec.SetFields() {
		f := typ.Field(name)
		if f == nil || !f.Kind.Persisted() || rec.IsNull(name) {
			continue
		}
		v, err := rec.Get(name)
		if err != nil {
			return err
		}
		if err := checkValue(f, v); err != nil {
			return err
		}
		if f.Kind == meta.DataTypeReference {
			if err := s.checkReferenceTarget(ctx, f, v); err != nil {
				return err
			}
		}
	}

	err := s.reg.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.triggers.fire(ctx, tx, BeforeSave, rec); err != nil {
			return err
		}

		var before map[string]any
		if !insert {
			var err error
			before, err = s.readRow(tx, typ, rec.ID(), trackedColumns(typ))
			if err != nil {
				return err
			}
		}

		if insert {
			k, err := s.reg.Sequencer().Next(tx, typ.Prefix)
			if err != nil {
				return err
			}
			rec.SetID(k)
			if err := s.insertRow(tx, typ, rec); err != nil {
				return err
			}
		} else if err := s.updateRow(tx, typ, rec); err != nil {
			return err
		}

		if err := s.checkUniques(tx, typ, rec.ID()); err != nil {
			return err
		}
		if err := s.applyOwnership(tx, typ, rec, principal, insert); err != nil {
			return err
		}
		if err := s.recordHistory(tx, typ, rec, principal, before); err != nil {
			return err
		}
		return s.triggers.fire(ctx, tx, AfterSave, rec)
	})
	if err != nil {
		if insert {
			// The identifier allocated inside the rolled-back transaction
			// must not leave the record looking persisted.
			rec.SetID("")
		}
		return err
	}
	// Grant changes become visible only now, after commit.
	s.sec.InvalidatePermissions(rec.ID())
	return nil
}

// applyDefaults fills unset fields carrying a declared default. Updates
// never apply defaults; an unset field there means "leave alone".
func applyDefaults(rec *record.Record) error {
	for _, f := range rec.Type().Fields() {
		if f.DefaultValue == "" || !f.Kind.Persisted() || rec.IsSet(f.APIName) {
			continue
		}
		var v any
		switch f.Kind {
		case meta.DataTypeNumber:
			n, err := strconv.ParseFloat(f.DefaultValue, 64)
			if err != nil {
				return errdef.SchemaDefinition("field %s has unusable default %q", f.Label, f.DefaultValue)
			}
			v = n
		case meta.DataTypeBoolean:
			b, err := strconv.ParseBool(f.DefaultValue)
			if err != nil {
				return errdef.SchemaDefinition("field %s has unusable default %q", f.Label, f.DefaultValue)
			}
			v = b
		default:
			v = f.DefaultValue
		}
		if err := rec.Set(f.APIName, v); err != nil {
			return err
		}
	}
	return nil
}

// checkReferenceTarget verifies a reference value points at an existing row
// of the declared target type.
func (s *Service) checkReferenceTarget(ctx context.Context, f *meta.Field, v any) error {
	target, err := s.reg.GetType(f.RefTypeKID)
	if err != nil {
		return errdef.Internal(err, "resolving reference target of %q", f.APIName)
	}
	id, _ := referenceKID(v)
	if id.Prefix() != target.Prefix {
		return errdef.Referential("field %s expects a %s record, got %s", f.Label, target.QualifiedName(), id)
	}
	var n int64
	err = s.reg.DB().WithContext(ctx).
		Raw("SELECT COUNT(*) FROM "+meta.QuoteIdent(s.reg.DB(), target.Table)+" WHERE kid = ?", string(id)).
		Scan(&n).Error
	if err != nil {
		return errdef.Internal(err, "checking reference target %s", id)
	}
	if n == 0 {
		return errdef.Referential("field %s points at %s, which does not exist", f.Label, id)
	}
	return nil
}

// storageValue converts a record value into its bind parameter.
func storageValue(f *meta.Field, v any) any {
	switch f.Kind {
	case meta.DataTypeReference, meta.DataTypeKID:
		id, _ := referenceKID(v)
		return string(id)
	case meta.DataTypeDateTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	}
	return v
}

// rowValues collects the set persisted fields as column/parameter pairs.
func rowValues(typ *meta.Type, rec *record.Record) ([]string, []any) {
	var cols []string
	var vals []any
	for _, name := range rec.SetFields() {
		f := typ.Field(name)
		if f == nil || !f.Kind.Persisted() {
			continue
		}
		cols = append(cols, f.Column)
		if rec.IsNull(name) {
			vals = append(vals, nil)
			continue
		}
		v, _ := rec.Get(name)
		vals = append(vals, storageValue(f, v))
	}
	return cols, vals
}

func (s *Service) insertRow(tx *gorm.DB, typ *meta.Type, rec *record.Record) error {
	cols, vals := rowValues(typ, rec)
	quoted := []string{meta.QuoteIdent(tx, "kid")}
	for _, c := range cols {
		quoted = append(quoted, meta.QuoteIdent(tx, c))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(quoted)), ", ")
	args := append([]any{string(rec.ID())}, vals...)
	q := "INSERT INTO " + meta.QuoteIdent(tx, typ.Table) +
		" (" + strings.Join(quoted, ", ") + ") VALUES (" + placeholders + ")"
	if err := tx.Exec(q, args...).Error; err != nil {
		return errdef.Internal(err, "inserting %s record %s", typ.QualifiedName(), rec.ID())
	}
	return nil
}

func (s *Service) updateRow(tx *gorm.DB, typ *meta.Type, rec *record.Record) error {
	cols, vals := rowValues(typ, rec)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = meta.QuoteIdent(tx, c) + " = ?"
	}
	args := append(vals, string(rec.ID()))
	q := "UPDATE " + meta.QuoteIdent(tx, typ.Table) +
		" SET " + strings.Join(sets, ", ") + " WHERE kid = ?"
	res := tx.Exec(q, args...)
	if res.Error != nil {
		return errdef.Internal(res.Error, "updating %s record %s", typ.QualifiedName(), rec.ID())
	}
	if res.RowsAffected == 0 {
		return errdef.NotFound("record %s does not exist", rec.ID())
	}
	return nil
}

// checkUniques verifies the freshly written row against the type's
// uniqueness checks. Rows with a null in any covered field are exempt.
func (s *Service) checkUniques(tx *gorm.DB, typ *meta.Type, id kid.KID) error {
	for _, uc := range typ.UniqueChecks() {
		var conds []string
		for _, fk := range uc.FieldKIDs {
			f := typ.FieldByKID(fk)
			if f == nil || !f.Kind.Persisted() {
				conds = nil
				break
			}
			col := meta.QuoteIdent(tx, f.Column)
			conds = append(conds, "a."+col+" IS NOT NULL AND b."+col+" = a."+col)
		}
		if len(conds) == 0 {
			continue
		}
		table := meta.QuoteIdent(tx, typ.Table)
		kidCol := meta.QuoteIdent(tx, "kid")
		q := "SELECT COUNT(*) FROM " + table + " a JOIN " + table + " b ON b." + kidCol +
			" <> a." + kidCol + " AND " + strings.Join(conds, " AND ") +
			" WHERE a." + kidCol + " = ?"
		var n int64
		if err := tx.Raw(q, string(id)).Scan(&n).Error; err != nil {
			return errdef.Internal(err, "evaluating unique check %q on %s", uc.Name, typ.QualifiedName())
		}
		if n > 0 {
			return errdef.Uniqueness(uc.Name, "another %s record already carries this %s", typ.QualifiedName(), uc.Label)
		}
	}
	return nil
}

// applyOwnership keeps generic grants in line with the record's owner. A
// type whose sharing is controlled by a field follows that field; otherwise
// the creating principal becomes the owner on insert.
func (s *Service) applyOwnership(tx *gorm.DB, typ *meta.Type, rec *record.Record, principal kid.KID, insert bool) error {
	if ctrl := typ.SharingControlledBy; ctrl != "" {
		f := typ.FieldByKID(ctrl)
		if f == nil {
			return errdef.Internal(nil, "type %s sharing field is gone", typ.QualifiedName())
		}
		if !rec.IsSet(f.APIName) || rec.IsNull(f.APIName) {
			return nil
		}
		v, _ := rec.Get(f.APIName)
		owner, ok := referenceKID(v)
		if !ok {
			return errdef.Validation(f.Label, errdef.TagInvalidFormat,
				"field %s does not hold an identifier", f.Label)
		}
		return s.sec.ReassignGeneric(tx, rec.ID(), owner, sharing.FullRights(), "owner:"+f.APIName)
	}
	if insert && principal != "" {
		return s.sec.ReassignGeneric(tx, rec.ID(), principal, sharing.FullRights(), "creator")
	}
	return nil
}

func trackedColumns(typ *meta.Type) []string {
	var cols []string
	for _, f := range typ.Fields() {
		if f.TrackHistory && f.Kind.Persisted() {
			cols = append(cols, f.Column)
		}
	}
	return cols
}

// readRow fetches the named columns of one row, for history pre-images.
func (s *Service) readRow(tx *gorm.DB, typ *meta.Type, id kid.KID, cols []string) (map[string]any, error) {
	if len(cols) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = meta.QuoteIdent(tx, c)
	}
	var rows []map[string]any
	q := "SELECT " + strings.Join(quoted, ", ") + " FROM " + meta.QuoteIdent(tx, typ.Table) + " WHERE kid = ?"
	if err := tx.Raw(q, string(id)).Scan(&rows).Error; err != nil {
		return nil, errdef.Internal(err, "reading %s record %s", typ.QualifiedName(), id)
	}
	if len(rows) == 0 {
		return nil, errdef.NotFound("record %s does not exist", id)
	}
	return rows[0], nil
}

// recordHistory writes one change row per modified history-tracked field.
func (s *Service) recordHistory(tx *gorm.DB, typ *meta.Type, rec *record.Record, principal kid.KID, before map[string]any) error {
	for _, name := range rec.SetFields() {
		f := typ.Field(name)
		if f == nil || !f.TrackHistory || !f.Kind.Persisted() {
			continue
		}
		var newVal *string
		if !rec.IsNull(name) {
			v, _ := rec.Get(name)
			newVal = historyString(f, storageValue(f, v))
		}
		var oldVal *string
		if before != nil {
			oldVal = historyString(f, before[f.Column])
		}
		if equalValue(oldVal, newVal) {
			continue
		}
		if err := writeChange(tx, rec.ID(), f.KID, principal, oldVal, newVal); err != nil {
			return err
		}
	}
	return nil
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Get reads one record with the named fields (all persisted fields when
// none are given), enforcing read permission for non-system principals.
func (s *Service) Get(ctx context.Context, principal, recordKID kid.KID, fields ...string) (*record.Record, error) {
	typ, err := s.reg.TypeForRecord(recordKID)
	if err != nil {
		return nil, err
	}
	if principal != "" && !typ.Basic {
		allowed, err := s.sec.CanViewRecord(ctx, recordKID, principal)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, errdef.Privileges("user %s may not read record %s", principal, recordKID)
		}
	}

	var wanted []*meta.Field
	if len(fields) == 0 {
		for _, f := range typ.Fields() {
			if f.Kind.Persisted() {
				wanted = append(wanted, f)
			}
		}
	} else {
		for _, name := range fields {
			f := typ.Field(name)
			if f == nil {
				return nil, errdef.Syntax("unknown property %q on %s", name, typ.QualifiedName())
			}
			if !f.Kind.Persisted() {
				continue
			}
			wanted = append(wanted, f)
		}
	}

	cols := make([]string, len(wanted))
	for i, f := range wanted {
		cols[i] = f.Column
	}
	row, err := s.readRow(s.reg.DB().WithContext(ctx), typ, recordKID, append(cols, "kid"))
	if err != nil {
		return nil, err
	}

	rec := record.New(typ)
	rec.SetID(recordKID)
	for _, f := range wanted {
		v := row[f.Column]
		if v == nil {
			if err := rec.Nullify(f.APIName); err != nil {
				return nil, err
			}
			continue
		}
		if err := rec.Set(f.APIName, v); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// Delete removes a record, its cascading dependents, its association links,
// grants and history. Records still referenced through a non-cascading
// reference block the delete with an error naming the referencing field.
func (s *Service) Delete(ctx context.Context, principal, recordKID kid.KID) error {
	typ, err := s.reg.TypeForRecord(recordKID)
	if err != nil {
		return err
	}
	if principal != "" {
		allowed, err := s.sec.CanDeleteRecord(ctx, recordKID, principal)
		if err != nil {
			return err
		}
		if !allowed {
			return errdef.Privileges("user %s may not delete record %s", principal, recordKID)
		}
	}

	if err := s.checkBlockers(ctx, typ, recordKID); err != nil {
		return err
	}

	rec := record.New(typ)
	rec.SetID(recordKID)
	deleted := map[kid.KID]bool{}
	err = s.reg.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.triggers.fire(ctx, tx, BeforeDelete, rec); err != nil {
			return err
		}
		if err := s.deleteTx(ctx, tx, typ, recordKID, deleted); err != nil {
			return err
		}
		return s.triggers.fire(ctx, tx, AfterDelete, rec)
	})
	if err != nil {
		return err
	}
	for k := range deleted {
		s.sec.InvalidatePermissions(k)
	}
	return nil
}

// checkBlockers finds populated non-cascading references to the record.
// Linking-type fields never block; their rows go with the record.
func (s *Service) checkBlockers(ctx context.Context, typ *meta.Type, recordKID kid.KID) error {
	for _, other := range s.reg.Types() {
		for _, f := range other.Fields() {
			if f.Kind != meta.DataTypeReference || f.RefTypeKID != typ.KID {
				continue
			}
			if f.CascadeDelete || f.AutoGenerated {
				continue
			}
			var n int64
			err := s.reg.DB().WithContext(ctx).
				Raw("SELECT COUNT(*) FROM "+meta.QuoteIdent(s.reg.DB(), other.Table)+
					" WHERE "+meta.QuoteIdent(s.reg.DB(), f.Column)+" = ?", string(recordKID)).
				Scan(&n).Error
			if err != nil {
				return errdef.Internal(err, "checking references from %s", other.QualifiedName())
			}
			if n > 0 {
				return errdef.Referential("record %s is referenced by %s.%s",
					recordKID, other.QualifiedName(), f.APIName)
			}
		}
	}
	return nil
}

// deleteTx removes the record and cascades depth-first inside tx. seen
// carries the records already handled, so mutually referencing rows of a
// self-cascading type terminate instead of recursing forever.
func (s *Service) deleteTx(ctx context.Context, tx *gorm.DB, typ *meta.Type, recordKID kid.KID, seen map[kid.KID]bool) error {
	if seen[recordKID] {
		return nil
	}
	seen[recordKID] = true

	for _, other := range s.reg.Types() {
		for _, f := range other.Fields() {
			if f.Kind != meta.DataTypeReference || f.RefTypeKID != typ.KID {
				continue
			}
			if !f.CascadeDelete || f.AutoGenerated {
				continue
			}
			var childIDs []string
			err := tx.Raw("SELECT kid FROM "+meta.QuoteIdent(tx, other.Table)+
				" WHERE "+meta.QuoteIdent(tx, f.Column)+" = ?", string(recordKID)).
				Scan(&childIDs).Error
			if err != nil {
				return errdef.Internal(err, "collecting cascade children from %s", other.QualifiedName())
			}
			for _, child := range childIDs {
				if err := s.deleteTx(ctx, tx, other, kid.KID(child), seen); err != nil {
					return err
				}
			}
		}
	}

	if err := s.res.UnlinkAll(tx, recordKID); err != nil {
		return err
	}
	if err := s.sec.DeleteGrantsFor(tx, recordKID); err != nil {
		return err
	}
	if err := tx.Where("record_kid = ?", string(recordKID)).Delete(&FieldChange{}).Error; err != nil {
		return errdef.Internal(err, "clearing history of %s", recordKID)
	}
	if err := tx.Exec("DELETE FROM "+meta.QuoteIdent(tx, typ.Table)+" WHERE kid = ?", string(recordKID)).Error; err != nil {
		return errdef.Internal(err, "deleting %s record %s", typ.QualifiedName(), recordKID)
	}
	return nil
}
