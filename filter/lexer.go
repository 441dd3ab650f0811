package filter

import (
	"strings"
)

type tokenKind uint8

const (
	tokenEOF tokenKind = iota
	tokenLParen
	tokenRParen
	tokenNot
	tokenAnd
	tokenOr
	tokenTilde
	tokenOp
	tokenString
	tokenWord
)

type token struct {
	kind     tokenKind
	text     string
	position int
}

func (t token) describe() string {
	switch t.kind {
	case tokenEOF:
		return "end of input"
	case tokenString:
		return quote(t.text)
	default:
		return "\"" + t.text + "\""
	}
}

func isWordByte(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '(', ')', '"', '!', '=', '<', '>', '&', '|', '~':
		return false
	}
	return true
}

func tokenize(source string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(source); {
		c := source[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '(':
			tokens = append(tokens, token{tokenLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokenRParen, ")", i})
			i++
		case c == '&':
			if strings.HasPrefix(source[i:], "&&") {
				tokens = append(tokens, token{tokenAnd, "&&", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenAnd, "&", i})
				i++
			}
		case c == '|':
			if strings.HasPrefix(source[i:], "||") {
				tokens = append(tokens, token{tokenOr, "||", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOr, "|", i})
				i++
			}
		case c == '!':
			if strings.HasPrefix(source[i:], "!=") {
				tokens = append(tokens, token{tokenOp, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenNot, "!", i})
				i++
			}
		case c == '=':
			if strings.HasPrefix(source[i:], "==") || strings.HasPrefix(source[i:], "=~") {
				tokens = append(tokens, token{tokenOp, source[i : i+2], i})
				i += 2
			} else {
				return nil, &SyntaxError{Position: i, Expected: "\"==\" or \"=~\"", Found: "\"=\""}
			}
		case c == '<' || c == '>':
			if strings.HasPrefix(source[i+1:], "=") {
				tokens = append(tokens, token{tokenOp, source[i : i+2], i})
				i += 2
			} else {
				tokens = append(tokens, token{tokenOp, source[i : i+1], i})
				i++
			}
		case c == '~':
			start := i
			i++
			for i < len(source) && isWordByte(source[i]) {
				i++
			}
			if i == start+1 {
				return nil, &SyntaxError{Position: i, Expected: "filter name after \"~\"", Found: describeAt(source, i)}
			}
			tokens = append(tokens, token{tokenTilde, source[start+1 : i], start})
		case c == '"':
			value, next, err := readString(source, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tokenString, value, i})
			i = next
		default:
			start := i
			for i < len(source) && isWordByte(source[i]) {
				i++
			}
			word := source[start:i]
			kind := tokenWord
			switch word {
			case "and":
				kind = tokenAnd
			case "or":
				kind = tokenOr
			case "not":
				kind = tokenNot
			case "contains", "matches":
				kind = tokenOp
			}
			tokens = append(tokens, token{kind, word, start})
		}
	}
	tokens = append(tokens, token{tokenEOF, "", len(source)})
	return tokens, nil
}

// readString reads a double quoted string starting at source[start]. Only
// \\ and \" are escapes; any other backslash is kept so regular expressions
// pass through unchanged.
func readString(source string, start int) (string, int, error) {
	var builder strings.Builder
	for i := start + 1; i < len(source); i++ {
		switch source[i] {
		case '"':
			return builder.String(), i + 1, nil
		case '\\':
			if i+1 < len(source) && (source[i+1] == '\\' || source[i+1] == '"') {
				builder.WriteByte(source[i+1])
				i++
			} else {
				builder.WriteByte('\\')
			}
		default:
			builder.WriteByte(source[i])
		}
	}
	return "", 0, &SyntaxError{Position: len(source), Expected: "closing '\"'", Found: "end of input"}
}

func quote(value string) string {
	var builder strings.Builder
	builder.Grow(len(value) + 2)
	builder.WriteByte('"')
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '\\', '"':
			builder.WriteByte('\\')
		}
		builder.WriteByte(value[i])
	}
	builder.WriteByte('"')
	return builder.String()
}

func describeAt(source string, position int) string {
	if position >= len(source) {
		return "end of input"
	}
	return "\"" + source[position:position+1] + "\""
}
