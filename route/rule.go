package route

import (
	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/model"
)

type Rule struct {
	filter   filter.Expr
	outbound adapter.Connector
}

func NewRule(expr filter.Expr, outbound adapter.Connector) *Rule {
	return &Rule{
		filter:   expr,
		outbound: outbound,
	}
}

func (r *Rule) Match(flow *model.Flow, messages []*model.Message) bool {
	return r.filter.Match(flow, messages)
}

func (r *Rule) Outbound() adapter.Connector {
	return r.outbound
}

func (r *Rule) String() string {
	return r.filter.String() + " => " + r.outbound.Tag()
}
