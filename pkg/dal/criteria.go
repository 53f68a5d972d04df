package dal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kitebase/kitebase/pkg/kid"
	"github.com/kitebase/kitebase/pkg/record"
)

// Condition is one renderable predicate of a Criteria.
type Condition interface {
	render() string
}

type rawCond string

func (r rawCond) render() string { return string(r) }

type groupCond struct {
	op    string
	conds []Condition
}

func (g groupCond) render() string {
	if len(g.conds) == 1 {
		return g.conds[0].render()
	}
	parts := make([]string, len(g.conds))
	for i, c := range g.conds {
		parts[i] = c.render()
	}
	return "(" + strings.Join(parts, " "+g.op+" ") + ")"
}

// Eq builds "prop = value".
func Eq(prop string, v any) Condition { return binary(prop, "=", v) }

// Ne builds "prop != value".
func Ne(prop string, v any) Condition { return binary(prop, "!=", v) }

// Gt builds "prop > value".
func Gt(prop string, v any) Condition { return binary(prop, ">", v) }

// Ge builds "prop >= value".
func Ge(prop string, v any) Condition { return binary(prop, ">=", v) }

// Lt builds "prop < value".
func Lt(prop string, v any) Condition { return binary(prop, "<", v) }

// Le builds "prop <= value".
func Le(prop string, v any) Condition { return binary(prop, "<=", v) }

// Like builds "prop like pattern".
func Like(prop, pattern string) Condition { return binary(prop, "like", pattern) }

// In builds "prop in (values...)".
func In(prop string, values ...any) Condition {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = literal(v)
	}
	return rawCond(prop + " in (" + strings.Join(parts, ", ") + ")")
}

// InQuery builds "prop in (subquery)".
func InQuery(prop string, sub *Criteria) Condition {
	return rawCond(prop + " in (" + sub.Text() + ")")
}

// IsNull builds "prop is null".
func IsNull(prop string) Condition { return rawCond(prop + " is null") }

// NotNull builds "prop is not null".
func NotNull(prop string) Condition { return rawCond(prop + " is not null") }

// And groups conditions into a conjunction.
func And(conds ...Condition) Condition { return groupCond{op: "and", conds: conds} }

// Or groups conditions into a disjunction.
func Or(conds ...Condition) Condition { return groupCond{op: "or", conds: conds} }

func binary(prop, op string, v any) Condition {
	return rawCond(prop + " " + op + " " + literal(v))
}

func literal(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case kid.KID:
		return "'" + string(t) + "'"
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// Criteria builds query text programmatically, for callers assembling
// conditions from code rather than parsing user input. The result goes
// through the same parser and compiler as hand-written text.
type Criteria struct {
	typeName string
	props    []string
	cond     Condition
	orders   []string
	limit    *int
	offset   *int
}

// NewCriteria starts a criteria over the named type.
func NewCriteria(typeName string) *Criteria {
	return &Criteria{typeName: typeName}
}

// Select adds projected properties. Without any, only identifiers are
// fetched.
func (c *Criteria) Select(props ...string) *Criteria {
	c.props = append(c.props, props...)
	return c
}

// Where sets the condition, replacing any previous one.
func (c *Criteria) Where(cond Condition) *Criteria {
	c.cond = cond
	return c
}

// OrderBy adds an ascending order term.
func (c *Criteria) OrderBy(prop string) *Criteria {
	c.orders = append(c.orders, prop)
	return c
}

// OrderByDesc adds a descending order term.
func (c *Criteria) OrderByDesc(prop string) *Criteria {
	c.orders = append(c.orders, prop+" desc")
	return c
}

// Limit caps the number of returned records.
func (c *Criteria) Limit(n int) *Criteria {
	c.limit = &n
	return c
}

// Offset skips leading records. Only meaningful with Limit.
func (c *Criteria) Offset(n int) *Criteria {
	c.offset = &n
	return c
}

// Text renders the query text.
func (c *Criteria) Text() string {
	props := c.props
	if len(props) == 0 {
		props = []string{"id"}
	}
	var b strings.Builder
	b.WriteString("select ")
	b.WriteString(strings.Join(props, ", "))
	b.WriteString(" from ")
	b.WriteString(c.typeName)
	if c.cond != nil {
		b.WriteString(" where ")
		b.WriteString(c.cond.render())
	}
	if len(c.orders) > 0 {
		b.WriteString(" order by ")
		b.WriteString(strings.Join(c.orders, ", "))
	}
	if c.limit != nil {
		fmt.Fprintf(&b, " limit %d", *c.limit)
	}
	if c.offset != nil {
		fmt.Fprintf(&b, " offset %d", *c.offset)
	}
	return b.String()
}

// Compile compiles the criteria for a principal.
func (c *Criteria) Compile(ctx context.Context, comp *Compiler, principal kid.KID) (*CompiledQuery, error) {
	return comp.Compile(ctx, c.Text(), principal)
}

// List compiles and runs the criteria in one step.
func (c *Criteria) List(ctx context.Context, comp *Compiler, principal kid.KID) ([]*record.Record, error) {
	q, err := c.Compile(ctx, comp, principal)
	if err != nil {
		return nil, err
	}
	return q.List(ctx)
}
