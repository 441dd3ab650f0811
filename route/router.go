package route

import (
	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

var _ adapter.Router = (*Router)(nil)

// Router picks the connector for a flow: the first rule whose filter matches,
// else the final outbound.
type Router struct {
	logger logger.ContextLogger
	rules  []*Rule
	final  adapter.Connector
}

func NewRouter(manager adapter.OutboundManager, logger logger.ContextLogger, cache *filter.Cache, options option.RouteOptions) (*Router, error) {
	router := &Router{
		logger: logger,
		final:  manager.Default(),
	}
	if options.Final != "" {
		final, loaded := manager.Outbound(options.Final)
		if !loaded {
			return nil, E.New("final outbound not found: ", options.Final)
		}
		router.final = final
	}
	for i, ruleOptions := range options.Rules {
		expr, err := cache.Get(ruleOptions.Filter)
		if err != nil {
			return nil, E.Cause(err, "parse route rule[", i, "]")
		}
		outbound, loaded := manager.Outbound(ruleOptions.Outbound)
		if !loaded {
			return nil, E.New("route rule[", i, "]: outbound not found: ", ruleOptions.Outbound)
		}
		router.rules = append(router.rules, NewRule(expr, outbound))
	}
	return router, nil
}

func (r *Router) Rules() []*Rule {
	return r.rules
}

func (r *Router) Connector(flow *model.Flow, messages []*model.Message) (adapter.Connector, error) {
	for i, rule := range r.rules {
		if rule.Match(flow, messages) {
			r.logger.Debug("flow ", flow.ID, " match[", i, "] ", rule)
			return rule.Outbound(), nil
		}
	}
	if r.final == nil {
		return nil, E.New("no outbound available for ", flow.Destination)
	}
	return r.final, nil
}
