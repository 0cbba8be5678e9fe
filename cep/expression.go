package cep

import "fmt"

// ExpressionKind selects how an expression is handed to the engine.
type ExpressionKind int

const (
	// KindPattern creates the query with Engine.CreatePattern.
	KindPattern ExpressionKind = iota + 1
	// KindQuery creates the query with Engine.CreateStatement.
	KindQuery
)

// String implements fmt.Stringer.
func (k ExpressionKind) String() string {
	switch k {
	case KindPattern:
		return "pattern"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

// Expression is either a pattern or a query-language statement.
type Expression struct {
	Kind  ExpressionKind
	Value string
}

// PatternExpr returns a pattern expression.
func PatternExpr(expr string) Expression {
	return Expression{Kind: KindPattern, Value: expr}
}

// QueryExpr returns a query-language expression.
func QueryExpr(expr string) Expression {
	return Expression{Kind: KindQuery, Value: expr}
}

// NewExpression builds an Expression from the two mutually exclusive
// configuration values. Exactly one of pattern and query must be non-empty.
func NewExpression(pattern, query string) (Expression, error) {
	switch {
	case pattern != "" && query != "":
		return Expression{}, fmt.Errorf("%w: pattern and query are mutually exclusive", ErrConfig)
	case pattern != "":
		return PatternExpr(pattern), nil
	case query != "":
		return QueryExpr(query), nil
	default:
		return Expression{}, fmt.Errorf("%w: one of pattern or query is required", ErrConfig)
	}
}

// create runs the expression on the engine.
func (e Expression) create(engine Engine) (Query, error) {
	if e.Kind == KindPattern {
		return engine.CreatePattern(e.Value)
	}
	return engine.CreateStatement(e.Value)
}

func (e Expression) String() string {
	return e.Kind.String() + ":" + e.Value
}
