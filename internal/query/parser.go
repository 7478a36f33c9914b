package query

import "strings"

// Parse lexes a search expression and converts it to postfix order using
// the shunting-yard algorithm. Adjacent VALUE tokens (unquoted multi-word
// phrases) are merged into a single VALUE operand before being emitted.
func Parse(q string) ([]Token, error) {
	tokens := Lex(q)

	var (
		output  []Token
		stack   []Token
		pending []Token // adjacent VALUE tokens awaiting merge
	)

	merge := func() {
		if len(pending) == 0 {
			return
		}
		parts := make([]string, len(pending))
		for i, t := range pending {
			parts[i] = t.Text
		}
		output = append(output, Token{
			Text: strings.Join(parts, " "),
			Type: TokenValue,
			Pos:  pending[0].Pos,
		})
		pending = pending[:0]
	}

	for _, tok := range tokens {
		switch {
		case tok.Type == TokenOperator || tok.Type == TokenLogic:
			merge()
			upper := strings.ToUpper(tok.Text)
			spec, ok := operators[upper]
			if !ok {
				return nil, grammarErrorf(tok.Pos, "invalid operator %q", tok.Text)
			}
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.Type == TokenParen {
					break
				}
				topSpec := operators[top.Text]
				if (!spec.rightAssoc && spec.precedence <= topSpec.precedence) ||
					(spec.rightAssoc && spec.precedence < topSpec.precedence) {
					output = append(output, top)
					stack = stack[:len(stack)-1]
					continue
				}
				break
			}
			stack = append(stack, Token{Text: upper, Type: tok.Type, Pos: tok.Pos})

		case tok.Type == TokenParen && tok.Text == "(":
			merge()
			stack = append(stack, tok)

		case tok.Type == TokenParen && tok.Text == ")":
			merge()
			matched := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.Type == TokenParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, grammarErrorf(tok.Pos, "parenthesis mismatch")
			}

		default:
			pending = append(pending, tok)
		}
	}
	merge()

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.Type == TokenParen {
			return nil, grammarErrorf(top.Pos, "parenthesis mismatch")
		}
		output = append(output, top)
	}

	return output, nil
}
