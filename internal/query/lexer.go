package query

import "strings"

const opChars = "!=^~><"

func isQuote(ch byte) bool      { return ch == '\'' || ch == '"' }
func isWhitespace(ch byte) bool { return ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' }
func isOpChar(ch byte) bool     { return strings.IndexByte(opChars, ch) >= 0 }
func isParen(ch byte) bool      { return ch == '(' || ch == ')' }

// Lex splits a search expression into tokens. Quoted substrings become
// VALUE tokens verbatim; unquoted runs split on whitespace, operator
// characters and parentheses. Runs matching AND/OR (case-insensitive)
// become LOGIC tokens, runs starting with an operator character and the
// word IN become OPERATOR tokens, everything else is a VALUE.
func Lex(q string) []Token {
	var tokens []Token
	last, i := 0, 0

	add := func(end int, literal bool) {
		text := q[last:end]
		last = end
		if literal {
			tokens = append(tokens, Token{Text: text, Type: TokenValue, Pos: end - len(text)})
			return
		}
		if text == "" {
			return
		}
		pos := end - len(text)
		switch {
		case strings.EqualFold(text, "AND") || strings.EqualFold(text, "OR"):
			tokens = append(tokens, Token{Text: strings.ToUpper(text), Type: TokenLogic, Pos: pos})
		case isOpChar(text[0]):
			tokens = append(tokens, Token{Text: text, Type: TokenOperator, Pos: pos})
		case isParen(text[0]):
			tokens = append(tokens, Token{Text: text, Type: TokenParen, Pos: pos})
		case strings.EqualFold(text, "IN"):
			tokens = append(tokens, Token{Text: text, Type: TokenOperator, Pos: pos})
		default:
			tokens = append(tokens, Token{Text: text, Type: TokenValue, Pos: pos})
		}
	}

	for i < len(q) {
		ch := q[i]
		switch {
		case isQuote(ch):
			add(i, false)
			quote := ch
			i++
			last = i
			for i < len(q) && q[i] != quote {
				i++
			}
			add(i, true)
			if i < len(q) {
				i++ // closing quote
			}
			last = i

		case isWhitespace(ch):
			add(i, false)
			for i < len(q) && isWhitespace(q[i]) {
				i++
			}
			last = i

		case isOpChar(ch):
			add(i, false)
			for i < len(q) && isOpChar(q[i]) {
				i++
			}
			add(i, false)

		case isParen(ch):
			add(i, false)
			add(i+1, false)
			i++

		default:
			i++
		}
	}
	add(i, false)

	return tokens
}
