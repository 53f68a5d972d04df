package assoc

import (
	"context"
	"fmt"
	"strings"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
)

// Plan describes one nested-collection hydration: attach, for every parent
// record, the ordered child records of one association or collection field
// with the given projected fields.
type Plan struct {
	// Field is the association or collection field on the parent type.
	Field *meta.Field
	// Projection lists the child fields to materialize. The child
	// identifier is always materialized.
	Projection []*meta.Field
}

// Hydrate runs the plan against the parents: one batched query per plan,
// grouped in memory and attached as child record lists. Every parent ends
// up with a non-nil list; parents without children get an empty one.
func (r *Resolver) Hydrate(ctx context.Context, parents []*record.Record, plan Plan) error {
	if len(parents) == 0 {
		return nil
	}
	childType, err := r.reg.GetType(plan.Field.RefTypeKID)
	if err != nil {
		return err
	}

	parentIDs := make([]string, 0, len(parents))
	byID := make(map[string][]*record.Record, len(parents))
	for _, p := range parents {
		id := string(p.ID())
		parentIDs = append(parentIDs, id)
		byID[id] = append(byID[id], p)
	}

	var rows []map[string]any
	switch plan.Field.Kind {
	case meta.DataTypeAssociation:
		rows, err = r.loadAssociationRows(ctx, plan, childType, parentIDs)
	case meta.DataTypeCollection:
		rows, err = r.loadCollectionRows(ctx, plan, childType, parentIDs)
	default:
		return errdef.Syntax("field %q is not a collection", plan.Field.APIName)
	}
	if err != nil {
		return err
	}

	children := make(map[string][]*record.Record, len(parents))
	for _, row := range rows {
		parentID := columnText(row["__parent_kid"])
		child := record.New(childType)
		if id := columnText(row["kid"]); id != "" {
			child.SetID(kid.KID(id))
		}
		for _, f := range plan.Projection {
			if v, ok := row[f.Column]; ok {
				if err := child.Set(f.APIName, columnValue(f, v)); err != nil {
					return err
				}
			}
		}
		children[parentID] = append(children[parentID], child)
	}

	for id, recs := range byID {
		list := children[id]
		if list == nil {
			list = []*record.Record{}
		}
		for _, p := range recs {
			if err := p.Set(plan.Field.APIName, list); err != nil {
				return err
			}
		}
	}
	return nil
}

// columnText renders an identifier column regardless of driver: mysql hands
// text back as []byte where sqlite and postgres give string.
func columnText(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}

// columnValue normalizes a projected driver value for a child field.
func columnValue(f *meta.Field, v any) any {
	if v == nil {
		return nil
	}
	switch f.Kind {
	case meta.DataTypeText, meta.DataTypeEnum, meta.DataTypeKID, meta.DataTypeReference, meta.DataTypeDateTime:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	case meta.DataTypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	}
	return v
}

// loadAssociationRows joins the linking table to the child table.
func (r *Resolver) loadAssociationRows(ctx context.Context, plan Plan, childType *meta.Type, parentIDs []string) ([]map[string]any, error) {
	link, selfField, foreignField, err := r.linkParts(plan.Field.KID)
	if err != nil {
		return nil, err
	}
	db := r.reg.DB().WithContext(ctx)

	cols := []string{
		fmt.Sprintf("l.%s AS __parent_kid", meta.QuoteIdent(db, selfField.Column)),
		fmt.Sprintf("c.%s AS kid", meta.QuoteIdent(db, "kid")),
	}
	for _, f := range plan.Projection {
		cols = append(cols, fmt.Sprintf("c.%s AS %s", meta.QuoteIdent(db, f.Column), meta.QuoteIdent(db, f.Column)))
	}
	q := fmt.Sprintf("SELECT %s FROM %s l JOIN %s c ON l.%s = c.%s WHERE l.%s IN ? ORDER BY l.%s",
		strings.Join(cols, ", "),
		meta.QuoteIdent(db, link.Table),
		meta.QuoteIdent(db, childType.Table),
		meta.QuoteIdent(db, foreignField.Column),
		meta.QuoteIdent(db, "kid"),
		meta.QuoteIdent(db, selfField.Column),
		meta.QuoteIdent(db, "kid"))

	var rows []map[string]any
	if err := db.Raw(q, parentIDs).Scan(&rows).Error; err != nil {
		return nil, errdef.Internal(err, "loading association %q", plan.Field.APIName)
	}
	return rows, nil
}

// loadCollectionRows reads children whose back-reference points at a parent.
func (r *Resolver) loadCollectionRows(ctx context.Context, plan Plan, childType *meta.Type, parentIDs []string) ([]map[string]any, error) {
	targetField := childType.FieldByKID(plan.Field.TargetFieldKID)
	if targetField == nil {
		return nil, errdef.Internal(nil, "collection %q has a dangling target field", plan.Field.APIName)
	}
	db := r.reg.DB().WithContext(ctx)

	cols := []string{
		fmt.Sprintf("%s AS __parent_kid", meta.QuoteIdent(db, targetField.Column)),
		fmt.Sprintf("%s AS kid", meta.QuoteIdent(db, "kid")),
	}
	for _, f := range plan.Projection {
		cols = append(cols, meta.QuoteIdent(db, f.Column))
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN ? ORDER BY %s",
		strings.Join(cols, ", "),
		meta.QuoteIdent(db, childType.Table),
		meta.QuoteIdent(db, targetField.Column),
		meta.QuoteIdent(db, "kid"))

	var rows []map[string]any
	if err := db.Raw(q, parentIDs).Scan(&rows).Error; err != nil {
		return nil, errdef.Internal(err, "loading collection %q", plan.Field.APIName)
	}
	return rows, nil
}
