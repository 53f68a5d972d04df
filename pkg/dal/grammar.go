// Package dal implements the platform query language: a participle-based
// parser, a resolver that checks property paths against the type registry,
// and a compiler emitting parameterized SQL with post-fetch hydration plans
// for association and collection properties.
package dal

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/kitebase/kitebase/pkg/errdef"
)

// dalLexer tokenizes query text. Keywords are ordinary identifiers matched
// case-insensitively by the grammar; strings accept single or double quotes
// with doubled-quote escaping.
var dalLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[a-zA-Z][a-zA-Z0-9]*`},
	{Name: "Number", Pattern: `[-+]?\d+(?:\.\d+)?`},
	{Name: "String", Pattern: `'(?:[^']|'')*'|"(?:[^"]|"")*"`},
	{Name: "Operator", Pattern: `<>|<=|>=|!=|[,.()=<>]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var dalParser = participle.MustBuild[queryNode](
	participle.Lexer(dalLexer),
	participle.CaseInsensitive("Ident"),
	participle.UseLookahead(2),
)

// queryNode is the root AST node.
type queryNode struct {
	Select []*propertyNode `"select" @@ ( "," @@ )*`
	From   *typeNameNode   `"from" @@`
	Where  *orNode         `( "where" @@ )?`
	Order  []*orderNode    `( "order" "by" @@ ( "," @@ )* )?`
	Limit  *int            `( "limit" @Number )?`
	Offset *int            `( "offset" @Number )?`
}

// typeNameNode is a possibly package-qualified type name.
type typeNameNode struct {
	Parts []string `@Ident ( "." @Ident )*`
}

func (t *typeNameNode) String() string { return strings.Join(t.Parts, ".") }

// propertyNode is a dotted property path.
type propertyNode struct {
	Path []string `@Ident ( "." @Ident )*`
}

func (p *propertyNode) String() string { return strings.Join(p.Path, ".") }

// orderNode is one order-by term.
type orderNode struct {
	Property *propertyNode `@@`
	Desc     bool          `( "asc" | @"desc" )?`
}

// orNode is a disjunction of conjunctions.
type orNode struct {
	Left  *andNode   `@@`
	Right []*andNode `( "or" @@ )*`
}

// andNode is a conjunction of terms.
type andNode struct {
	Left  *termNode   `@@`
	Right []*termNode `( "and" @@ )*`
}

// termNode is a parenthesized expression or a single comparison.
type termNode struct {
	Paren *orNode         `"(" @@ ")"`
	Cmp   *comparisonNode `| @@`
}

// comparisonNode is one predicate over a property path.
type comparisonNode struct {
	Property *propertyNode `@@`
	IsNull   *isNullNode   `( @@`
	In       *inNode       `| "in" "(" @@ ")"`
	Op       string        `| @( "=" | "!=" | "<>" | "<=" | ">=" | "<" | ">" | "like" )`
	Value    *valueNode    `  @@ )`
}

// isNullNode matches "is null" / "is not null".
type isNullNode struct {
	Not bool `"is" @"not"? "null"`
}

// inNode is either a literal list or a subquery.
type inNode struct {
	Sub    *queryNode   `@@`
	Values []*valueNode `| @@ ( "," @@ )*`
}

// valueNode is one literal.
type valueNode struct {
	Str    *string `@String`
	Number *string `| @Number`
	True   bool    `| @"true"`
	False  bool    `| @"false"`
	Null   bool    `| @"null"`
}

// parse turns query text into an AST, translating parser failures into DAL
// syntax errors.
func parse(text string) (*queryNode, error) {
	node, err := dalParser.ParseString("", text)
	if err != nil {
		return nil, errdef.Syntax("malformed query: %v", err)
	}
	return node, nil
}

// unquoteString strips the surrounding quotes of a string literal and
// unfolds doubled quote escapes.
func unquoteString(s string) string {
	if len(s) < 2 {
		return s
	}
	q := s[0]
	body := s[1 : len(s)-1]
	return strings.ReplaceAll(body, string([]byte{q, q}), string(q))
}
