// Package query implements the textual search language: a lexer, a
// shunting-yard parser producing postfix token sequences, and a compiler
// that turns postfix sequences into parameterized SQL predicates over the
// cache table.
package query

import "fmt"

// TokenType classifies lexed tokens.
type TokenType int

const (
	TokenValue TokenType = iota
	TokenOperator
	TokenLogic
	TokenParen
)

func (t TokenType) String() string {
	switch t {
	case TokenValue:
		return "VALUE"
	case TokenOperator:
		return "OPERATOR"
	case TokenLogic:
		return "LOGIC"
	case TokenParen:
		return "PARENTHESIS"
	default:
		return "UNKNOWN"
	}
}

// Token is one lexed unit of a search expression. Pos is the byte offset of
// the token in the source query, used for error reporting.
type Token struct {
	Text string
	Type TokenType
	Pos  int
}

// GrammarError reports a malformed search expression with the position the
// problem was detected at.
type GrammarError struct {
	Message string
	Pos     int
}

func (e *GrammarError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Message, e.Pos)
}

func grammarErrorf(pos int, format string, args ...any) *GrammarError {
	return &GrammarError{Message: fmt.Sprintf(format, args...), Pos: pos}
}

// operatorSpec describes precedence and associativity for the shunting-yard
// parser. Comparison operators bind tighter than logic words; relational
// comparisons bind tightest.
type operatorSpec struct {
	precedence int
	rightAssoc bool
}

var operators = map[string]operatorSpec{
	"OR":  {precedence: 1},
	"AND": {precedence: 2},
	"===": {precedence: 3},
	"!==": {precedence: 3},
	"==":  {precedence: 3},
	"!=":  {precedence: 3},
	"IN":  {precedence: 3},
	"^":   {precedence: 3},
	"~":   {precedence: 3},
	"!~":  {precedence: 3},
	"<":   {precedence: 4},
	"<=":  {precedence: 4},
	">":   {precedence: 4},
	">=":  {precedence: 4},
}
