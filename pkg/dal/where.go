package dal

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
)

func (c *Compiler) compileOr(node *orNode, typ *meta.Type, s *compileState, principal kid.KID) (string, error) {
	parts := make([]string, 0, 1+len(node.Right))
	left, err := c.compileAnd(node.Left, typ, s, principal)
	if err != nil {
		return "", err
	}
	parts = append(parts, left)
	for _, r := range node.Right {
		p, err := c.compileAnd(r, typ, s, principal)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (c *Compiler) compileAnd(node *andNode, typ *meta.Type, s *compileState, principal kid.KID) (string, error) {
	parts := make([]string, 0, 1+len(node.Right))
	left, err := c.compileTerm(node.Left, typ, s, principal)
	if err != nil {
		return "", err
	}
	parts = append(parts, left)
	for _, r := range node.Right {
		p, err := c.compileTerm(r, typ, s, principal)
		if err != nil {
			return "", err
		}
		parts = append(parts, p)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (c *Compiler) compileTerm(node *termNode, typ *meta.Type, s *compileState, principal kid.KID) (string, error) {
	if node.Paren != nil {
		inner, err := c.compileOr(node.Paren, typ, s, principal)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	}
	return c.compileComparison(node.Cmp, typ, s, principal)
}

// compileComparison emits one predicate. Paths through a reference chain
// join; paths through an association or collection become a correlated
// EXISTS against the child rows.
func (c *Compiler) compileComparison(cmp *comparisonNode, typ *meta.Type, s *compileState, principal kid.KID) (string, error) {
	path := cmp.Property.Path
	if head := typ.Field(path[0]); head != nil && (head.Kind == meta.DataTypeAssociation || head.Kind == meta.DataTypeCollection) {
		return c.compileChildPredicate(cmp, typ, head, s, principal)
	}

	refs, term, err := resolveScalarPath(c.reg, typ, path)
	if err != nil {
		return "", err
	}
	alias := s.rootAlias()
	if len(refs) > 0 {
		alias, err = s.joinFor(path, refs)
		if err != nil {
			return "", err
		}
	}
	var column string
	var kind meta.DataType
	if term == nil {
		column = alias + "." + meta.QuoteIdent(s.db, "kid")
		kind = meta.DataTypeKID
	} else {
		column = alias + "." + meta.QuoteIdent(s.db, term.Column)
		kind = term.Kind
	}
	return c.emitPredicate(cmp, column, kind, s, principal)
}

// compileChildPredicate handles "children.name = ?" and
// "employees.firstName like ?" style conditions: one scalar hop below an
// association or collection, correlated back to the outer row.
func (c *Compiler) compileChildPredicate(cmp *comparisonNode, typ *meta.Type, head *meta.Field, s *compileState, principal kid.KID) (string, error) {
	path := cmp.Property.Path
	if len(path) != 2 {
		return "", errdef.Syntax("property %q: conditions on %q must name one direct child property", cmp.Property, path[0])
	}
	child, err := planChildType(c.reg, head)
	if err != nil {
		return "", err
	}
	sub := child.Field(path[1])
	var column string
	var kind meta.DataType
	switch {
	case strings.EqualFold(path[1], "id"):
		column = meta.QuoteIdent(s.db, "kid")
		kind = meta.DataTypeKID
	case sub == nil:
		return "", errdef.Syntax("unknown property %q on %s", path[1], child.QualifiedName())
	case sub.Kind.Persisted() && !sub.Kind.Relational() || sub.Kind == meta.DataTypeReference:
		column = meta.QuoteIdent(s.db, sub.Column)
		kind = sub.Kind
	default:
		return "", errdef.Syntax("property %q: %q cannot be filtered on", cmp.Property, path[1])
	}

	s.next++
	ca := s.alias(s.next)
	pred, err := c.emitPredicate(cmp, ca+"."+column, kind, s, principal)
	if err != nil {
		return "", err
	}

	switch head.Kind {
	case meta.DataTypeCollection:
		_, target, err := c.reg.FindField(head.TargetFieldKID)
		if err != nil {
			return "", errdef.Internal(err, "resolving inverse target of %q", head.APIName)
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s.%s = %s.%s AND %s)",
			meta.QuoteIdent(s.db, child.Table), ca,
			ca, meta.QuoteIdent(s.db, target.Column),
			s.rootAlias(), meta.QuoteIdent(s.db, "kid"),
			pred), nil
	default:
		link, err := c.reg.GetType(head.LinkTypeKID)
		if err != nil {
			return "", errdef.Internal(err, "resolving linking type of %q", head.APIName)
		}
		self := link.FieldByKID(head.SelfFieldKID)
		foreign := link.FieldByKID(head.ForeignFieldKID)
		s.next++
		la := s.alias(s.next)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s JOIN %s %s ON %s.%s = %s.%s WHERE %s.%s = %s.%s AND %s)",
			meta.QuoteIdent(s.db, link.Table), la,
			meta.QuoteIdent(s.db, child.Table), ca,
			la, meta.QuoteIdent(s.db, foreign.Column),
			ca, meta.QuoteIdent(s.db, "kid"),
			la, meta.QuoteIdent(s.db, self.Column),
			s.rootAlias(), meta.QuoteIdent(s.db, "kid"),
			pred), nil
	}
}

// emitPredicate renders the operator side of a comparison against a
// resolved column of a known data type.
func (c *Compiler) emitPredicate(cmp *comparisonNode, column string, kind meta.DataType, s *compileState, principal kid.KID) (string, error) {
	switch {
	case cmp.IsNull != nil:
		if cmp.IsNull.Not {
			return column + " IS NOT NULL", nil
		}
		return column + " IS NULL", nil

	case cmp.In != nil && cmp.In.Sub != nil:
		subSQL, subArgs, err := c.compileSubquery(cmp.In.Sub, kind, cmp.Property, principal, s.subSeed+1)
		if err != nil {
			return "", err
		}
		s.args = append(s.args, subArgs...)
		return column + " IN (" + subSQL + ")", nil

	case cmp.In != nil:
		ph := make([]string, 0, len(cmp.In.Values))
		for _, v := range cmp.In.Values {
			lit, err := literalValue(v, kind, cmp.Property)
			if err != nil {
				return "", err
			}
			s.args = append(s.args, lit)
			ph = append(ph, "?")
		}
		return column + " IN (" + strings.Join(ph, ", ") + ")", nil

	case strings.EqualFold(cmp.Op, "like"):
		if kind != meta.DataTypeText && kind != meta.DataTypeEnum {
			return "", errdef.Syntax("property %q: like applies to text values, not %s", cmp.Property, kind)
		}
		lit, err := literalValue(cmp.Value, kind, cmp.Property)
		if err != nil {
			return "", err
		}
		s.args = append(s.args, lit)
		return column + " LIKE ?", nil

	default:
		op := cmp.Op
		if op == "!=" {
			op = "<>"
		}
		if cmp.Value.Null {
			return "", errdef.Syntax("property %q: compare to null with `is null`", cmp.Property)
		}
		lit, err := literalValue(cmp.Value, kind, cmp.Property)
		if err != nil {
			return "", err
		}
		s.args = append(s.args, lit)
		return column + " " + op + " ?", nil
	}
}

// compileSubquery compiles a nested select for an IN condition. The
// subquery projects exactly one scalar column whose data type must match
// the outer property's; the inner type's own visibility filter applies.
func (c *Compiler) compileSubquery(node *queryNode, outer meta.DataType, prop *propertyNode, principal kid.KID, seed int) (string, []any, error) {
	if len(node.Select) != 1 {
		return "", nil, errdef.Syntax("property %q: a subquery must select exactly one property", prop)
	}
	if len(node.Order) > 0 || node.Limit != nil || node.Offset != nil {
		return "", nil, errdef.Syntax("property %q: ordering and limits are not allowed in a subquery", prop)
	}
	typ, err := c.reg.GetTypeByName(node.From.String())
	if err != nil {
		return "", nil, err
	}
	s := &compileState{
		db:      c.reg.DB(),
		reg:     c.reg,
		typ:     typ,
		byPath:  map[string]string{},
		subSeed: seed,
	}

	path := node.Select[0].Path
	var column string
	inner := meta.DataTypeKID
	if len(path) == 1 && strings.EqualFold(path[0], "id") {
		column = s.rootAlias() + "." + meta.QuoteIdent(s.db, "kid")
	} else {
		refs, term, err := resolveScalarPath(c.reg, typ, path)
		if err != nil {
			return "", nil, err
		}
		alias := s.rootAlias()
		if len(refs) > 0 {
			alias, err = s.joinFor(path, refs)
			if err != nil {
				return "", nil, err
			}
		}
		if term == nil {
			column = alias + "." + meta.QuoteIdent(s.db, "kid")
		} else {
			column = alias + "." + meta.QuoteIdent(s.db, term.Column)
			inner = term.Kind
		}
	}
	if !comparableKinds(outer, inner) {
		return "", nil, errdef.Syntax("property %q (%s) cannot match subquery property %q (%s)",
			prop, outer, node.Select[0], inner)
	}

	var where []string
	if node.Where != nil {
		cond, err := c.compileOr(node.Where, typ, s, principal)
		if err != nil {
			return "", nil, err
		}
		where = append(where, cond)
	}
	if principal != "" && !typ.Basic {
		frag, args := c.sec.VisibilityFilter(
			s.rootAlias()+"."+meta.QuoteIdent(s.db, "kid"), principal, typ.KID)
		where = append(where, frag)
		s.args = append(s.args, args...)
	}

	sql := "SELECT " + column + " FROM " + meta.QuoteIdent(s.db, typ.Table) + " " + s.rootAlias()
	if len(s.joins) > 0 {
		sql += " " + strings.Join(s.joins, " ")
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	return sql, s.args, nil
}

// comparableKinds reports whether values of the two data types can be
// matched in an IN condition. Identifier-valued kinds are interchangeable.
func comparableKinds(a, b meta.DataType) bool {
	return kindClass(a) == kindClass(b)
}

func kindClass(k meta.DataType) string {
	switch k {
	case meta.DataTypeKID, meta.DataTypeReference:
		return "identifier"
	case meta.DataTypeText, meta.DataTypeEnum:
		return "text"
	default:
		return string(k)
	}
}

// literalValue converts a parsed literal into a bind parameter, checking it
// against the target data type.
func literalValue(v *valueNode, kind meta.DataType, prop *propertyNode) (any, error) {
	switch {
	case v == nil:
		return nil, errdef.Syntax("property %q: missing comparison value", prop)
	case v.Str != nil:
		switch kind {
		case meta.DataTypeText, meta.DataTypeEnum, meta.DataTypeDateTime, meta.DataTypeKID, meta.DataTypeReference:
			return unquoteString(*v.Str), nil
		}
		return nil, errdef.Syntax("property %q holds %s values, got a string literal", prop, kind)
	case v.Number != nil:
		if kind != meta.DataTypeNumber {
			return nil, errdef.Syntax("property %q holds %s values, got a number literal", prop, kind)
		}
		if n, err := strconv.ParseInt(*v.Number, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(*v.Number, 64)
		if err != nil {
			return nil, errdef.Syntax("property %q: bad number literal %q", prop, *v.Number)
		}
		return f, nil
	case v.True || v.False:
		if kind != meta.DataTypeBoolean {
			return nil, errdef.Syntax("property %q holds %s values, got a boolean literal", prop, kind)
		}
		return v.True, nil
	default:
		return nil, errdef.Syntax("property %q: unsupported literal", prop)
	}
}

// compileOrder resolves order-by terms. Every term is emitted with its
// table alias so joined columns can never collide with root columns.
func (c *Compiler) compileOrder(terms []*orderNode, typ *meta.Type, s *compileState) (string, error) {
	if len(terms) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		path := t.Property.Path
		var column string
		if len(path) == 1 && strings.EqualFold(path[0], "id") {
			column = s.rootAlias() + "." + meta.QuoteIdent(s.db, "kid")
		} else {
			refs, term, err := resolveScalarPath(c.reg, typ, path)
			if err != nil {
				return "", err
			}
			alias := s.rootAlias()
			if len(refs) > 0 {
				alias, err = s.joinFor(path, refs)
				if err != nil {
					return "", err
				}
			}
			if term == nil {
				column = alias + "." + meta.QuoteIdent(s.db, "kid")
			} else if term.Kind.Relational() && term.Kind != meta.DataTypeReference {
				return "", errdef.Syntax("property %q: collections cannot order a query", t.Property)
			} else {
				column = alias + "." + meta.QuoteIdent(s.db, term.Column)
			}
		}
		if t.Desc {
			column += " DESC"
		}
		parts = append(parts, column)
	}
	return strings.Join(parts, ", "), nil
}
