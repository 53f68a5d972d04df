// Package assoc resolves many-to-many association fields and inverse
// collection fields: creating and generating linking types, maintaining
// linking rows, and hydrating nested record lists onto query results.
package assoc

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

// Resolver operates on association and collection fields against one
// tenant's registry and database.
type Resolver struct {
	reg *meta.Registry
}

// NewResolver creates a Resolver over the registry.
func NewResolver(reg *meta.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Associate creates the linking row joining parent and child through the
// association field. Re-associating an existing pair is a no-op, never a
// duplicate row.
func (r *Resolver) Associate(ctx context.Context, fieldKID, parentKID, childKID kid.KID) error {
	link, selfField, foreignField, err := r.linkParts(fieldKID)
	if err != nil {
		return err
	}
	db := r.reg.DB().WithContext(ctx)
	return db.Transaction(func(tx *gorm.DB) error {
		table := meta.QuoteIdent(tx, link.Table)
		selfCol := meta.QuoteIdent(tx, selfField.Column)
		foreignCol := meta.QuoteIdent(tx, foreignField.Column)

		var n int64
		q := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s = ? AND %s = ?", table, selfCol, foreignCol)
		if err := tx.Raw(q, string(parentKID), string(childKID)).Scan(&n).Error; err != nil {
			return errdef.Internal(err, "checking existing association")
		}
		if n > 0 {
			return nil
		}
		rowKID, err := r.reg.Sequencer().Next(tx, link.Prefix)
		if err != nil {
			return err
		}
		ins := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?)",
			table, meta.QuoteIdent(tx, "kid"), selfCol, foreignCol)
		if err := tx.Exec(ins, string(rowKID), string(parentKID), string(childKID)).Error; err != nil {
			return errdef.Internal(err, "creating association row")
		}
		return nil
	})
}

// Unassociate deletes the linking row joining parent and child. Removing a
// pair that is not associated is a no-op.
func (r *Resolver) Unassociate(ctx context.Context, fieldKID, parentKID, childKID kid.KID) error {
	link, selfField, foreignField, err := r.linkParts(fieldKID)
	if err != nil {
		return err
	}
	db := r.reg.DB().WithContext(ctx)
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ?",
		meta.QuoteIdent(db, link.Table),
		meta.QuoteIdent(db, selfField.Column),
		meta.QuoteIdent(db, foreignField.Column))
	if err := db.Exec(del, string(parentKID), string(childKID)).Error; err != nil {
		return errdef.Internal(err, "deleting association row")
	}
	return nil
}

// AssociatedKIDs lists the child identifiers associated with a parent, in
// linking-row order. The result is empty, never nil, for a parent with no
// associations.
func (r *Resolver) AssociatedKIDs(ctx context.Context, fieldKID, parentKID kid.KID) ([]kid.KID, error) {
	link, selfField, foreignField, err := r.linkParts(fieldKID)
	if err != nil {
		return nil, err
	}
	db := r.reg.DB().WithContext(ctx)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		meta.QuoteIdent(db, foreignField.Column),
		meta.QuoteIdent(db, link.Table),
		meta.QuoteIdent(db, selfField.Column),
		meta.QuoteIdent(db, "kid"))
	var raw []string
	if err := db.Raw(q, string(parentKID)).Scan(&raw).Error; err != nil {
		return nil, errdef.Internal(err, "listing associations")
	}
	out := make([]kid.KID, 0, len(raw))
	for _, s := range raw {
		out = append(out, kid.KID(s))
	}
	return out, nil
}

// UnlinkAll removes every linking row that references the record on either
// side of any association, called when the record is deleted.
func (r *Resolver) UnlinkAll(tx *gorm.DB, recordKID kid.KID) error {
	for _, t := range r.reg.Types() {
		for _, f := range t.Fields() {
			if f.Kind != meta.DataTypeAssociation {
				continue
			}
			link, selfField, foreignField, err := r.linkParts(f.KID)
			if err != nil {
				return err
			}
			del := fmt.Sprintf("DELETE FROM %s WHERE %s = ? OR %s = ?",
				meta.QuoteIdent(tx, link.Table),
				meta.QuoteIdent(tx, selfField.Column),
				meta.QuoteIdent(tx, foreignField.Column))
			if err := tx.Exec(del, string(recordKID), string(recordKID)).Error; err != nil {
				return errdef.Internal(err, "unlinking %s from %s", recordKID, link.QualifiedName())
			}
		}
	}
	return nil
}

// linkParts resolves an association field into its linking type and the
// self/foreign reference fields.
func (r *Resolver) linkParts(fieldKID kid.KID) (*meta.Type, *meta.Field, *meta.Field, error) {
	owner, f, err := r.reg.FindField(fieldKID)
	if err != nil {
		return nil, nil, nil, err
	}
	if f.Kind != meta.DataTypeAssociation {
		return nil, nil, nil, errdef.Syntax("field %s.%s is not an association", owner.QualifiedName(), f.APIName)
	}
	link, err := r.reg.GetType(f.LinkTypeKID)
	if err != nil {
		return nil, nil, nil, err
	}
	selfField := link.FieldByKID(f.SelfFieldKID)
	foreignField := link.FieldByKID(f.ForeignFieldKID)
	if selfField == nil || foreignField == nil {
		return nil, nil, nil, errdef.Internal(nil, "association %s.%s has dangling linking fields", owner.QualifiedName(), f.APIName)
	}
	return link, selfField, foreignField, nil
}
