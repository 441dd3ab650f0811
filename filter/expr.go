package filter

import (
	"strconv"
	"strings"

	"github.com/twnesss/skunk/model"

	"github.com/dlclark/regexp2"
)

// Expr is an immutable filter expression.
type Expr interface {
	String() string
	Match(flow *model.Flow, messages []*model.Message) bool
	Decide(flow *model.Flow, messages []*model.Message) Verdict
	precedence() int
	equal(other Expr) bool
}

func Equal(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.equal(b)
}

type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpContains     Op = "contains"
	OpMatches      Op = "matches"
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

func (o Op) ordered() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	}
	return false
}

type Value struct {
	Text    string
	Integer int64
	Numeric bool
}

func (v Value) String() string {
	if v.Numeric {
		return strconv.FormatInt(v.Integer, 10)
	}
	return quote(v.Text)
}

type Const struct {
	Value bool
}

type Not struct {
	X Expr
}

type And struct {
	Terms []Expr
}

type Or struct {
	Terms []Expr
}

type Predicate struct {
	Field Field
	Op    Op
	Value Value
	regex *regexp2.Regexp
}

func (c *Const) String() string {
	if c.Value {
		return "true"
	}
	return "false"
}

func (n *Not) String() string {
	return "!" + wrap(n.X, n.X.precedence() < precedencePrimary)
}

func (a *And) String() string {
	return join(a.Terms, " && ", precedenceAnd)
}

func (o *Or) String() string {
	return join(o.Terms, " || ", precedenceOr)
}

func (p *Predicate) String() string {
	return p.Field.String() + " " + string(p.Op) + " " + p.Value.String()
}

const (
	precedenceOr = iota + 1
	precedenceAnd
	precedencePrimary
)

func (c *Const) precedence() int { return precedencePrimary }
func (n *Not) precedence() int { return precedencePrimary }
func (a *And) precedence() int { return precedenceAnd }
func (o *Or) precedence() int { return precedenceOr }
func (p *Predicate) precedence() int { return precedencePrimary }

func wrap(expr Expr, parenthesize bool) string {
	if parenthesize {
		return "(" + expr.String() + ")"
	}
	return expr.String()
}

// join keeps nested groups of equal precedence parenthesized so that the
// printed form parses back into the same tree.
func join(terms []Expr, separator string, precedence int) string {
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		parts = append(parts, wrap(term, term.precedence() <= precedence))
	}
	return strings.Join(parts, separator)
}

func (c *Const) equal(other Expr) bool {
	o, ok := other.(*Const)
	return ok && o.Value == c.Value
}

func (n *Not) equal(other Expr) bool {
	o, ok := other.(*Not)
	return ok && Equal(n.X, o.X)
}

func (a *And) equal(other Expr) bool {
	o, ok := other.(*And)
	return ok && equalTerms(a.Terms, o.Terms)
}

func (o *Or) equal(other Expr) bool {
	x, ok := other.(*Or)
	return ok && equalTerms(o.Terms, x.Terms)
}

func (p *Predicate) equal(other Expr) bool {
	o, ok := other.(*Predicate)
	return ok && o.Field == p.Field && o.Op == p.Op && o.Value == p.Value
}

func equalTerms(a, b []Expr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
