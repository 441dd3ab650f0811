package filter

import (
	"strconv"
	"time"

	"github.com/dlclark/regexp2"
)

const regexMatchTimeout = 100 * time.Millisecond

type parser struct {
	tokens  []token
	current int
}

func Parse(source string) (Expr, error) {
	tokens, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	if p.peek().kind == tokenEOF {
		return nil, &SyntaxError{Position: 0, Expected: "expression", Found: "end of input"}
	}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if next := p.peek(); next.kind != tokenEOF {
		return nil, &SyntaxError{Position: next.position, Expected: "end of input", Found: next.describe()}
	}
	return expr, nil
}

func MustParse(source string) Expr {
	expr, err := Parse(source)
	if err != nil {
		panic(err)
	}
	return expr
}

func (p *parser) peek() token {
	return p.tokens[p.current]
}

func (p *parser) next() token {
	t := p.tokens[p.current]
	if t.kind != tokenEOF {
		p.current++
	}
	return t
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokenOr {
		p.next()
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return &Or{Terms: terms}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for {
		switch p.peek().kind {
		case tokenAnd:
			p.next()
		case tokenNot, tokenLParen, tokenTilde, tokenWord:
		default:
			if len(terms) == 1 {
				return first, nil
			}
			return &And{Terms: terms}, nil
		}
		term, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokenNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Not{X: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokenLParen:
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokenRParen {
			return nil, &SyntaxError{Position: closing.position, Expected: "\")\"", Found: closing.describe()}
		}
		return expr, nil
	case tokenTilde:
		return p.parseShorthand(t)
	case tokenWord:
		switch t.text {
		case "true":
			return &Const{Value: true}, nil
		case "false":
			return &Const{Value: false}, nil
		}
		return p.parseComparison(t)
	}
	return nil, &SyntaxError{Position: t.position, Expected: "expression", Found: t.describe()}
}

func (p *parser) parseComparison(fieldToken token) (Expr, error) {
	field, loaded := lookupField(fieldToken.text)
	if !loaded {
		return nil, &SyntaxError{Position: fieldToken.position, Expected: "field name", Found: fieldToken.describe()}
	}
	opToken := p.next()
	if opToken.kind != tokenOp {
		return nil, &SyntaxError{Position: opToken.position, Expected: "comparison operator", Found: opToken.describe()}
	}
	op := Op(opToken.text)
	if op == "=~" {
		op = OpMatches
	}
	valueToken := p.next()
	if valueToken.kind != tokenString && valueToken.kind != tokenWord {
		return nil, &SyntaxError{Position: valueToken.position, Expected: "value", Found: valueToken.describe()}
	}
	return newPredicate(field, op, valueToken)
}

func newPredicate(field Field, op Op, valueToken token) (*Predicate, error) {
	predicate := &Predicate{Field: field, Op: op}
	integerField := field.info().valueType == typeInteger
	switch {
	case op == OpContains || op == OpMatches:
		predicate.Value = Value{Text: valueToken.text}
	case op.ordered() || integerField:
		if !integerField {
			return nil, &SyntaxError{Position: valueToken.position, Expected: "\"==\", \"!=\", \"contains\" or \"matches\" for " + field.String(), Found: "\"" + string(op) + "\""}
		}
		value, err := strconv.ParseInt(valueToken.text, 10, 64)
		if err != nil || valueToken.kind != tokenWord {
			return nil, &SyntaxError{Position: valueToken.position, Expected: "integer", Found: valueToken.describe()}
		}
		predicate.Value = Value{Integer: value, Numeric: true}
	default:
		predicate.Value = Value{Text: valueToken.text}
	}
	if op == OpMatches {
		regex, err := regexp2.Compile(predicate.Value.Text, regexp2.None)
		if err != nil {
			return nil, &SyntaxError{Position: valueToken.position, Expected: "regular expression", Found: valueToken.describe(), Cause: err}
		}
		regex.MatchTimeout = regexMatchTimeout
		predicate.regex = regex
	}
	return predicate, nil
}
