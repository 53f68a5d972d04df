package dal

import (
	"context"
	"fmt"
	"strings"

	"github.com/kitebase/kitebase/pkg/assoc"
	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/record"
)

// CompiledQuery is an executable query: parameterized SQL for the root
// rows plus hydration plans for projected collections. It stays valid for
// the schema version it was compiled against.
type CompiledQuery struct {
	c   *Compiler
	typ *meta.Type

	cols    []selCol
	kidCols []refKidCol
	plans   []assoc.Plan

	selectSQL string
	fromSQL   string
	whereSQL  string
	orderSQL  string
	args      []any
	limit     *int
	offset    *int

	version uint64
}

// Type returns the queried root type.
func (q *CompiledQuery) Type() *meta.Type { return q.typ }

// SQL returns the root-row SQL text. Hydration plans run as separate
// batched statements and are not included.
func (q *CompiledQuery) SQL() string {
	sql := q.baseSQL()
	if q.limit != nil {
		sql += " LIMIT ?"
		if q.offset != nil {
			sql += " OFFSET ?"
		}
	}
	return sql
}

func (q *CompiledQuery) baseSQL() string {
	sql := "SELECT " + q.selectSQL + " FROM " + q.fromSQL
	if q.whereSQL != "" {
		sql += " WHERE " + q.whereSQL
	}
	if q.orderSQL != "" {
		sql += " ORDER BY " + q.orderSQL
	}
	return sql
}

func (q *CompiledQuery) hasKidCol(joinAlias string) bool {
	for _, kc := range q.kidCols {
		if kc.joinAlias == joinAlias {
			return true
		}
	}
	return false
}

// List runs the query and materializes one record per row, with projected
// collections hydrated in one batched statement each.
func (q *CompiledQuery) List(ctx context.Context) ([]*record.Record, error) {
	sql := q.baseSQL()
	args, err := q.c.sec.ExpandArgs(ctx, q.args)
	if err != nil {
		return nil, err
	}
	if q.limit != nil {
		sql += " LIMIT ?"
		args = append(args, *q.limit)
		if q.offset != nil {
			sql += " OFFSET ?"
			args = append(args, *q.offset)
		}
	}

	var rows []map[string]any
	if err := q.c.reg.DB().WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, errdef.Internal(err, "running query against %s", q.typ.QualifiedName())
	}

	recs := make([]*record.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := q.materialize(row)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	for _, plan := range q.plans {
		if err := q.c.res.Hydrate(ctx, recs, plan); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// SingleRecord runs the query expecting at most one match. It returns nil
// without error when nothing matches.
func (q *CompiledQuery) SingleRecord(ctx context.Context) (*record.Record, error) {
	recs, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	switch len(recs) {
	case 0:
		return nil, nil
	case 1:
		return recs[0], nil
	default:
		return nil, errdef.New(errdef.KindInternal, "query matched %d records of %s, expected at most one", len(recs), q.typ.QualifiedName())
	}
}

// Count returns the number of matching root rows, honoring the same
// conditions and visibility filter as List.
func (q *CompiledQuery) Count(ctx context.Context) (int64, error) {
	sql := "SELECT COUNT(*) FROM " + q.fromSQL
	if q.whereSQL != "" {
		sql += " WHERE " + q.whereSQL
	}
	args, err := q.c.sec.ExpandArgs(ctx, q.args)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.c.reg.DB().WithContext(ctx).Raw(sql, args...).Scan(&n).Error; err != nil {
		return 0, errdef.Internal(err, "counting %s", q.typ.QualifiedName())
	}
	return n, nil
}

// materialize turns one result row into a record. Joined reference targets
// become nested records keyed by their path; a NULL reference sets the
// field explicitly null, rows never leave projected fields dangling.
func (q *CompiledQuery) materialize(row map[string]any) (*record.Record, error) {
	rec := record.New(q.typ)
	if v, ok := row["k0"]; ok && v != nil {
		rec.SetID(kid.KID(asString(v)))
	}

	nested := map[string]*record.Record{"": rec}
	for _, kc := range q.kidCols {
		ref := kc.refs[len(kc.refs)-1]
		parent := nested[strings.Join(kc.path[:len(kc.path)-1], ".")]
		if parent == nil {
			continue // an earlier link in the chain was NULL
		}
		v := row[kc.sqlAlias]
		if v == nil {
			parent.Nullify(ref.APIName)
			continue
		}
		childType, err := q.c.reg.GetType(ref.RefTypeKID)
		if err != nil {
			return nil, errdef.Internal(err, "resolving reference target of %q", ref.APIName)
		}
		child := record.New(childType)
		child.SetID(kid.KID(asString(v)))
		parent.Set(ref.APIName, child)
		nested[strings.Join(kc.path, ".")] = child
	}

	for _, col := range q.cols {
		if col.field == nil {
			continue // the implicit identifier, already placed
		}
		holder := nested[strings.Join(col.path[:len(col.path)-1], ".")]
		if holder == nil {
			continue
		}
		v := row[col.sqlAlias]
		if v == nil {
			holder.Nullify(col.field.APIName)
			continue
		}
		holder.Set(col.field.APIName, fieldValue(col.field, v))
	}
	return rec, nil
}

// fieldValue normalizes a driver value for a field. Drivers hand back
// int64 for booleans and []byte for text on some backends.
func fieldValue(f *meta.Field, v any) any {
	switch f.Kind {
	case meta.DataTypeBoolean:
		switch b := v.(type) {
		case bool:
			return b
		case int64:
			return b != 0
		}
		return v
	case meta.DataTypeText, meta.DataTypeEnum, meta.DataTypeKID, meta.DataTypeReference, meta.DataTypeDateTime:
		return asString(v)
	default:
		return v
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}
