package dal

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kitebase/kitebase/pkg/assoc"
	"github.com/kitebase/kitebase/pkg/errdef"
	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/meta"
	"github.com/kitebase/kitebase/pkg/sharing"
)

// Compiler turns query text into executable, parameterized SQL. Compiled
// queries are cached per principal and invalidated whenever the schema
// version moves.
type Compiler struct {
	reg   *meta.Registry
	res   *assoc.Resolver
	sec   *sharing.Engine
	cache *queryCache
}

// NewCompiler wires a compiler to a registry, an association resolver for
// hydration and a sharing engine for row visibility filtering.
func NewCompiler(reg *meta.Registry, res *assoc.Resolver, sec *sharing.Engine) *Compiler {
	return &Compiler{
		reg:   reg,
		res:   res,
		sec:   sec,
		cache: newQueryCache(defaultCacheSize),
	}
}

// Compile parses, resolves and compiles query text for the given principal.
// An empty principal compiles in system scope with no visibility filter.
func (c *Compiler) Compile(ctx context.Context, text string, principal kid.KID) (*CompiledQuery, error) {
	key := cacheKey(text, principal)
	if q, ok := c.cache.get(key, c.reg.Version()); ok {
		return q, nil
	}

	node, err := parse(text)
	if err != nil {
		return nil, err
	}
	q, err := c.compileQuery(node, principal)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, q)
	return q, nil
}

// compileState tracks alias allocation and join emission for one
// (sub)query scope.
type compileState struct {
	db      *gorm.DB
	reg     *meta.Registry
	typ     *meta.Type
	next    int
	joins   []string
	byPath  map[string]string // dotted ref path -> alias
	args    []any
	subSeed int // alias namespace seed, keeps nested scopes distinct
}

func (s *compileState) alias(n int) string {
	if s.subSeed > 0 {
		return fmt.Sprintf("s%dt%d", s.subSeed, n)
	}
	return fmt.Sprintf("t%d", n)
}

func (s *compileState) rootAlias() string { return s.alias(0) }

// joinFor returns the alias holding rows of the reference target reached by
// path, emitting the LEFT JOIN chain on first use.
func (s *compileState) joinFor(path []string, refs []*meta.Field) (string, error) {
	alias := s.rootAlias()
	for i, ref := range refs {
		key := strings.Join(path[:i+1], ".")
		if a, ok := s.byPath[key]; ok {
			alias = a
			continue
		}
		target, err := s.reg.GetType(ref.RefTypeKID)
		if err != nil {
			return "", errdef.Internal(err, "resolving reference target of %q", ref.APIName)
		}
		s.next++
		next := s.alias(s.next)
		s.joins = append(s.joins, fmt.Sprintf("LEFT JOIN %s %s ON %s.%s = %s.%s",
			meta.QuoteIdent(s.db, target.Table), next,
			alias, meta.QuoteIdent(s.db, ref.Column),
			next, meta.QuoteIdent(s.db, "kid")))
		s.byPath[key] = next
		alias = next
	}
	return alias, nil
}

// selCol is one projected scalar column with enough structure to place the
// value back into a (possibly nested) record.
type selCol struct {
	sqlAlias string
	path     []string
	refs     []*meta.Field // reference chain before the terminal
	field    *meta.Field   // terminal scalar field; nil for "id"
}

// refKidCol is a hidden identifier column for one joined alias, used to give
// nested records their identifiers.
type refKidCol struct {
	sqlAlias  string
	joinAlias string
	path      []string      // path of the reference whose target this is
	refs      []*meta.Field // chain including the terminal reference
}

func (c *Compiler) compileQuery(node *queryNode, principal kid.KID) (*CompiledQuery, error) {
	typ, err := c.reg.GetTypeByName(node.From.String())
	if err != nil {
		return nil, err
	}

	s := &compileState{
		db:     c.reg.DB(),
		reg:    c.reg,
		typ:    typ,
		byPath: map[string]string{},
	}
	q := &CompiledQuery{
		c:       c,
		typ:     typ,
		version: c.reg.Version(),
	}

	if err := c.compileSelect(node, typ, s, q); err != nil {
		return nil, err
	}

	var where []string
	if node.Where != nil {
		cond, err := c.compileOr(node.Where, typ, s, principal)
		if err != nil {
			return nil, err
		}
		where = append(where, cond)
	}

	// Row visibility: secured types carry a grant filter. Its principal
	// set stays a deferred parameter so membership is read at run time.
	if principal != "" && !typ.Basic {
		frag, args := c.sec.VisibilityFilter(
			s.rootAlias()+"."+meta.QuoteIdent(s.db, "kid"), principal, typ.KID)
		where = append(where, frag)
		s.args = append(s.args, args...)
	}

	orderSQL, err := c.compileOrder(node.Order, typ, s)
	if err != nil {
		return nil, err
	}

	from := meta.QuoteIdent(s.db, typ.Table) + " " + s.rootAlias()
	if len(s.joins) > 0 {
		from += " " + strings.Join(s.joins, " ")
	}
	q.fromSQL = from
	q.whereSQL = strings.Join(where, " AND ")
	q.orderSQL = orderSQL
	q.args = s.args
	if node.Offset != nil && node.Limit == nil {
		return nil, errdef.Syntax("offset requires a limit")
	}
	q.limit = node.Limit
	q.offset = node.Offset
	return q, nil
}

// compileSelect resolves the projection. Scalar and reference-path
// properties become SQL columns; association and collection properties
// become hydration plans executed after the root fetch.
func (c *Compiler) compileSelect(node *queryNode, typ *meta.Type, s *compileState, q *CompiledQuery) error {
	// The root identifier is always fetched; hydration and record
	// identity depend on it.
	q.cols = append(q.cols, selCol{
		sqlAlias: "k0",
		path:     []string{"id"},
	})
	colSQL := []string{s.rootAlias() + "." + meta.QuoteIdent(s.db, "kid") + " AS k0"}

	plans := map[kid.KID]*assoc.Plan{}
	nextCol := 0
	for _, prop := range node.Select {
		path := prop.Path
		if len(path) == 1 && strings.EqualFold(path[0], "id") {
			continue // already projected
		}
		head := typ.Field(path[0])
		if head == nil {
			return errdef.Syntax("unknown property %q on %s", path[0], typ.QualifiedName())
		}

		switch head.Kind {
		case meta.DataTypeAssociation, meta.DataTypeCollection:
			if err := addPlanProjection(plans, c.reg, head, path); err != nil {
				return err
			}
			continue
		}

		refs, term, err := resolveScalarPath(c.reg, typ, path)
		if err != nil {
			return err
		}
		alias := s.rootAlias()
		if len(refs) > 0 {
			alias, err = s.joinFor(path, refs)
			if err != nil {
				return err
			}
			// Give every nested record along the chain its identifier.
			for i := range refs {
				key := strings.Join(path[:i+1], ".")
				ja := s.byPath[key]
				if q.hasKidCol(ja) {
					continue
				}
				nextCol++
				kidAlias := fmt.Sprintf("k%d", nextCol)
				colSQL = append(colSQL, ja+"."+meta.QuoteIdent(s.db, "kid")+" AS "+kidAlias)
				q.kidCols = append(q.kidCols, refKidCol{
					sqlAlias:  kidAlias,
					joinAlias: ja,
					path:      path[:i+1],
					refs:      refs[:i+1],
				})
			}
		}
		if term == nil {
			// Path ends in "id": the kid column of the last join already
			// carries the identifier, nothing more to select.
			continue
		}
		nextCol++
		sqlAlias := fmt.Sprintf("c%d", nextCol)
		colSQL = append(colSQL, alias+"."+meta.QuoteIdent(s.db, term.Column)+" AS "+sqlAlias)
		q.cols = append(q.cols, selCol{
			sqlAlias: sqlAlias,
			path:     path,
			refs:     refs,
			field:    term,
		})
	}

	for _, p := range plans {
		q.plans = append(q.plans, *p)
	}
	q.selectSQL = strings.Join(colSQL, ", ")
	return nil
}

// addPlanProjection folds one association/collection property into the
// per-field hydration plan. Only direct child properties and the child
// relationship identifiers ("children.father.id") may be projected; deeper
// traversal through a collection item is rejected.
func addPlanProjection(plans map[kid.KID]*assoc.Plan, reg *meta.Registry, head *meta.Field, path []string) error {
	p, ok := plans[head.KID]
	if !ok {
		p = &assoc.Plan{Field: head}
		plans[head.KID] = p
	}
	if len(path) == 1 {
		return nil // identifiers only
	}

	child, err := planChildType(reg, head)
	if err != nil {
		return err
	}
	sub := child.Field(path[1])
	if sub == nil {
		return errdef.Syntax("unknown property %q on %s", path[1], child.QualifiedName())
	}
	switch {
	case len(path) == 2 && sub.Kind.Persisted() && !sub.Kind.Relational():
	case len(path) == 2 && sub.Kind == meta.DataTypeReference:
		return errdef.Syntax("property %q: select %s.%s.id to fetch the relationship identifier", strings.Join(path, "."), path[0], path[1])
	case len(path) == 3 && sub.Kind == meta.DataTypeReference && strings.EqualFold(path[2], "id"):
		// Projecting the reference column yields the raw identifier.
	default:
		return errdef.Syntax("property %q: only direct properties and relationship identifiers of %q can be selected", strings.Join(path, "."), path[0])
	}
	for _, f := range p.Projection {
		if f.KID == sub.KID {
			return nil
		}
	}
	p.Projection = append(p.Projection, sub)
	return nil
}

func planChildType(reg *meta.Registry, head *meta.Field) (*meta.Type, error) {
	switch head.Kind {
	case meta.DataTypeAssociation:
		link, err := reg.GetType(head.LinkTypeKID)
		if err != nil {
			return nil, errdef.Internal(err, "resolving linking type of %q", head.APIName)
		}
		foreign := link.FieldByKID(head.ForeignFieldKID)
		if foreign == nil {
			return nil, errdef.Internal(nil, "linking type %s lost its foreign field", link.QualifiedName())
		}
		return reg.GetType(foreign.RefTypeKID)
	case meta.DataTypeCollection:
		return reg.GetType(head.RefTypeKID)
	}
	return nil, errdef.Syntax("property %q is not a collection", head.APIName)
}

// resolveScalarPath walks a dotted path of reference fields ending in a
// persisted scalar, a terminal reference (compared by identifier) or "id".
// It returns the traversed reference chain and the terminal field (nil when
// the path ends in "id").
func resolveScalarPath(reg *meta.Registry, typ *meta.Type, path []string) ([]*meta.Field, *meta.Field, error) {
	var refs []*meta.Field
	cur := typ
	for i, seg := range path {
		last := i == len(path)-1
		if strings.EqualFold(seg, "id") {
			if !last {
				return nil, nil, errdef.Syntax("property %q: nothing follows an identifier", strings.Join(path, "."))
			}
			return refs, nil, nil
		}
		f := cur.Field(seg)
		if f == nil {
			return nil, nil, errdef.Syntax("unknown property %q on %s", seg, cur.QualifiedName())
		}
		switch {
		case f.Kind == meta.DataTypeReference && !last:
			next, err := reg.GetType(f.RefTypeKID)
			if err != nil {
				return nil, nil, errdef.Internal(err, "resolving reference target of %q", f.APIName)
			}
			refs = append(refs, f)
			cur = next
		case f.Kind == meta.DataTypeReference && last:
			return refs, f, nil
		case f.Kind.Relational():
			return nil, nil, errdef.Syntax("property %q: %q is a collection and cannot be traversed here", strings.Join(path, "."), seg)
		case !last:
			return nil, nil, errdef.Syntax("property %q: %q is not a relationship", strings.Join(path, "."), seg)
		default:
			return refs, f, nil
		}
	}
	return nil, nil, errdef.Syntax("empty property path")
}
