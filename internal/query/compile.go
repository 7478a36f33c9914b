package query

import (
	"fmt"
	"strconv"
	"strings"
)

// Predicate is a compiled search condition: a SQL fragment with numbered
// placeholders ($1..$n) and the arguments that fill them. The fragment is
// meant to be embedded as a WHERE clause; callers appending further
// placeholders must continue the numbering after len(Args).
type Predicate struct {
	SQL  string
	Args []any
}

// operand is one entry of the compiler's evaluation stack: either a raw
// VALUE token or an already compiled sub-predicate.
type operand struct {
	text     string
	pos      int
	sql      string
	args     []any
	compiled bool
}

type compiler struct {
	argc int
}

// placeholder allocates the next numbered placeholder.
func (c *compiler) placeholder() string {
	c.argc++
	return fmt.Sprintf("$%d", c.argc)
}

// Compile evaluates a postfix token sequence into a Predicate. Comparison
// operators translate type-aware: `manifest` and `cn` target the structural
// columns, `id` targets the identifier column, everything else targets the
// named entry of the node's value mapping.
func Compile(postfix []Token) (*Predicate, error) {
	if len(postfix) == 0 {
		return nil, grammarErrorf(0, "empty search query")
	}
	if len(postfix) == 1 {
		return nil, grammarErrorf(postfix[0].Pos, "incomplete search query")
	}

	c := &compiler{}
	var stack []operand

	pop := func() (operand, bool) {
		if len(stack) == 0 {
			return operand{}, false
		}
		op := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return op, true
	}

	for i, tok := range postfix {
		switch tok.Type {
		case TokenOperator:
			rhs, ok := pop()
			if !ok {
				return nil, grammarErrorf(tok.Pos, "missing operand for %q", tok.Text)
			}
			lhs, ok := pop()
			if !ok {
				vicinity := tokenVicinity(postfix[i+1:])
				return nil, grammarErrorf(tok.Pos, "missing operand near '%s'", vicinity)
			}
			if lhs.compiled || rhs.compiled {
				return nil, grammarErrorf(tok.Pos,
					"operator %q applied to a sub-expression", tok.Text)
			}
			compiled, err := c.compileComparison(lhs, tok, rhs)
			if err != nil {
				return nil, err
			}
			stack = append(stack, compiled)

		case TokenLogic:
			rhs, rok := pop()
			lhs, lok := pop()
			if !rok || !lok {
				return nil, grammarErrorf(tok.Pos, "missing logic clause near '%s'", tok.Text)
			}
			if !rhs.compiled || !lhs.compiled {
				return nil, grammarErrorf(tok.Pos,
					"%s joins incomplete expressions", tok.Text)
			}
			joined := operand{
				sql:      fmt.Sprintf("(%s %s %s)", lhs.sql, tok.Text, rhs.sql),
				args:     append(append([]any{}, lhs.args...), rhs.args...),
				compiled: true,
				pos:      lhs.pos,
			}
			stack = append(stack, joined)

		default:
			stack = append(stack, operand{text: tok.Text, pos: tok.Pos})
		}
	}

	if len(stack) != 1 || !stack[0].compiled {
		pos := postfix[len(postfix)-1].Pos
		return nil, grammarErrorf(pos, "syntax error")
	}

	return &Predicate{SQL: stack[0].sql, Args: stack[0].args}, nil
}

// compileComparison translates one field/operator/value triple.
func (c *compiler) compileComparison(lhs operand, op Token, rhs operand) (operand, error) {
	term := op.Text
	value := rhs.text

	// substring matches rewrite to ILIKE with a wrapped, escaped pattern
	switch term {
	case "~":
		term = "ILIKE"
		value = "%" + escapeLike(value) + "%"
	case "!~":
		term = "NOT ILIKE"
		value = "%" + escapeLike(value) + "%"
	}

	var (
		sql  string
		args []any
		err  error
	)

	switch field := strings.ToLower(lhs.text); {
	case field == "manifest" || field == "cn":
		sql, args = c.compileColumn(field, term, value)
	case field == "id":
		sql, args, err = c.compileID(term, value, op.Pos)
	default:
		sql, args = c.compileValueEntry(lhs.text, term, value)
	}
	if err != nil {
		return operand{}, err
	}

	return operand{sql: sql, args: args, compiled: true, pos: lhs.pos}, nil
}

// compileColumn targets the structural manifest/cn columns. The column name
// comes from a fixed set, never from user input.
func (c *compiler) compileColumn(column, term, value string) (string, []any) {
	switch term {
	case "==":
		return fmt.Sprintf("lower(%s) = lower(%s)", column, c.placeholder()), []any{value}
	case "!=":
		return fmt.Sprintf("lower(%s) != lower(%s)", column, c.placeholder()), []any{value}
	case "===":
		return fmt.Sprintf("%s = %s", column, c.placeholder()), []any{value}
	case "!==":
		return fmt.Sprintf("%s != %s", column, c.placeholder()), []any{value}
	case "IN":
		items, args := c.splitList(value)
		return fmt.Sprintf("lower(%s) IN (%s)", column, lowerEach(items)), args
	case "^":
		return fmt.Sprintf("lower(%s) LIKE lower(%s)", column, c.placeholder()),
			[]any{escapeLike(value) + "%"}
	default:
		return fmt.Sprintf("%s %s %s", column, term, c.placeholder()), []any{value}
	}
}

// compileID targets the identifier column; values must be integers.
func (c *compiler) compileID(term, value string, pos int) (string, []any, error) {
	parse := func(s string) (int64, error) {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, grammarErrorf(pos, "id requires an integer value, got %q", s)
		}
		return id, nil
	}

	switch term {
	case "==", "===":
		id, err := parse(value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("id = %s", c.placeholder()), []any{id}, nil
	case "!=", "!==":
		id, err := parse(value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("id != %s", c.placeholder()), []any{id}, nil
	case "IN":
		parts := strings.Split(value, ",")
		holders := make([]string, len(parts))
		args := make([]any, len(parts))
		for i, part := range parts {
			id, err := parse(part)
			if err != nil {
				return "", nil, err
			}
			holders[i] = c.placeholder()
			args[i] = id
		}
		return fmt.Sprintf("id IN (%s)", strings.Join(holders, ", ")), args, nil
	case "ILIKE", "NOT ILIKE":
		return fmt.Sprintf("id::text %s %s", term, c.placeholder()), []any{value}, nil
	default:
		id, err := parse(value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("id %s %s", term, c.placeholder()), []any{id}, nil
	}
}

// compileValueEntry targets one entry of the node's value mapping. The
// entry name itself is passed as a parameter, never interpolated.
func (c *compiler) compileValueEntry(field, term, value string) (string, []any) {
	key := c.placeholder()
	entry := fmt.Sprintf("value->>%s", key)

	switch term {
	case "==":
		return fmt.Sprintf("lower(%s) = lower(%s)", entry, c.placeholder()),
			[]any{field, value}
	case "!=":
		return fmt.Sprintf("lower(%s) != lower(%s)", entry, c.placeholder()),
			[]any{field, value}
	case "===":
		return fmt.Sprintf("%s = %s", entry, c.placeholder()), []any{field, value}
	case "!==":
		return fmt.Sprintf("%s != %s", entry, c.placeholder()), []any{field, value}
	case "IN":
		items, args := c.splitList(value)
		return fmt.Sprintf("lower(%s) IN (%s)", entry, lowerEach(items)),
			append([]any{field}, args...)
	case "^":
		return fmt.Sprintf("lower(%s) LIKE lower(%s)", entry, c.placeholder()),
			[]any{field, escapeLike(value) + "%"}
	case "ILIKE", "NOT ILIKE":
		return fmt.Sprintf("%s %s %s", entry, term, c.placeholder()),
			[]any{field, value}
	default:
		return fmt.Sprintf("%s %s %s", entry, term, c.placeholder()),
			[]any{field, value}
	}
}

// splitList turns a comma-separated IN list into placeholders and args.
func (c *compiler) splitList(value string) ([]string, []any) {
	parts := strings.Split(value, ",")
	holders := make([]string, len(parts))
	args := make([]any, len(parts))
	for i, part := range parts {
		holders[i] = c.placeholder()
		args[i] = strings.TrimSpace(part)
	}
	return holders, args
}

func lowerEach(holders []string) string {
	wrapped := make([]string, len(holders))
	for i, h := range holders {
		wrapped[i] = "lower(" + h + ")"
	}
	return strings.Join(wrapped, ", ")
}

// escapeLike escapes LIKE metacharacters in a user-supplied match value.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func tokenVicinity(tokens []Token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, " ")
}

// CompileQuery parses and compiles a search expression in one step.
func CompileQuery(q string) (*Predicate, error) {
	postfix, err := Parse(q)
	if err != nil {
		return nil, err
	}
	return Compile(postfix)
}

// CheckSyntax reports whether a search expression parses and compiles,
// without executing anything.
func CheckSyntax(q string) error {
	_, err := CompileQuery(q)
	return err
}
