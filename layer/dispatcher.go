package layer

import (
	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
)

type Rule struct {
	Filter filter.Expr
	Stages []adapter.Stage
	Final  bool
}

// Dispatcher selects the stages of a session from an ordered rule list.
type Dispatcher struct {
	rules []Rule
	relay adapter.Stage
}

func NewDispatcher(registry *Registry, cache *filter.Cache, options []option.LayerRule) (*Dispatcher, error) {
	relay, loaded := registry.Stage(C.StageRelay)
	if !loaded {
		return nil, E.New("missing relay stage")
	}
	dispatcher := &Dispatcher{relay: relay}
	for i, ruleOptions := range options {
		expr, err := cache.Get(ruleOptions.Filter)
		if err != nil {
			return nil, E.Cause(err, "parse layer rule[", i, "]")
		}
		if len(ruleOptions.Stages) == 0 {
			return nil, E.New("layer rule[", i, "]: missing stages")
		}
		rule := Rule{Filter: expr, Final: ruleOptions.Final}
		for _, name := range ruleOptions.Stages {
			stage, loaded := registry.Stage(name)
			if !loaded {
				return nil, E.New("layer rule[", i, "]: unknown stage: ", name)
			}
			rule.Stages = append(rule.Stages, stage)
		}
		dispatcher.rules = append(dispatcher.rules, rule)
	}
	return dispatcher, nil
}

func (d *Dispatcher) Rules() []Rule {
	return d.rules
}

// Plan returns the stages of every matching rule in rule order. Duplicates
// are dropped, as is everything after the first terminal stage. A plan
// without a terminal stage ends in relay.
func (d *Dispatcher) Plan(flow *model.Flow, messages []*model.Message) []adapter.Stage {
	var stages []adapter.Stage
	for _, rule := range d.rules {
		if !rule.Filter.Match(flow, messages) {
			continue
		}
		stages = append(stages, rule.Stages...)
		if rule.Final {
			break
		}
	}
	return d.normalize(nil, stages)
}

// Decided reports whether no rule can change its outcome as attributes of
// this flow become known.
func (d *Dispatcher) Decided(flow *model.Flow, messages []*model.Message) bool {
	for _, rule := range d.rules {
		verdict := rule.Filter.Decide(flow, messages)
		if verdict == filter.Unknown {
			return false
		}
		if verdict == filter.True && rule.Final {
			return true
		}
	}
	return true
}

// WouldRun reports whether a stage named name may be selected for flow once
// its undecided attributes become known.
func (d *Dispatcher) WouldRun(flow *model.Flow, messages []*model.Message, name string) bool {
	for _, rule := range d.rules {
		verdict := rule.Filter.Decide(flow, messages)
		if verdict == filter.False {
			continue
		}
		for _, stage := range rule.Stages {
			if stage.Name() == name {
				return true
			}
		}
		if verdict == filter.True && rule.Final {
			break
		}
	}
	return false
}

// Replan keeps the executed prefix and replaces the rest of the plan with
// the stages currently selected that have not run yet.
func (d *Dispatcher) Replan(executed []adapter.Stage, flow *model.Flow, messages []*model.Message) []adapter.Stage {
	return d.normalize(executed, d.Plan(flow, messages))
}

// Pending returns the observe stages selected for flow that are not in
// executed, in rule order. Other kinds are left out: once a terminal stage
// owns the streams only observers can join.
func (d *Dispatcher) Pending(executed []adapter.Stage, flow *model.Flow, messages []*model.Message) []adapter.Stage {
	seen := make(map[string]bool, len(executed))
	for _, stage := range executed {
		seen[stage.Name()] = true
	}
	var stages []adapter.Stage
	for _, rule := range d.rules {
		if !rule.Filter.Match(flow, messages) {
			continue
		}
		for _, stage := range rule.Stages {
			if stage.Kind() != adapter.StageKindObserve || seen[stage.Name()] {
				continue
			}
			seen[stage.Name()] = true
			stages = append(stages, stage)
		}
		if rule.Final {
			break
		}
	}
	return stages
}

func (d *Dispatcher) normalize(executed []adapter.Stage, stages []adapter.Stage) []adapter.Stage {
	plan := append([]adapter.Stage(nil), executed...)
	seen := make(map[string]bool, len(executed)+len(stages))
	for _, stage := range executed {
		seen[stage.Name()] = true
	}
	for _, stage := range stages {
		if seen[stage.Name()] {
			continue
		}
		seen[stage.Name()] = true
		plan = append(plan, stage)
		if stage.Kind() == adapter.StageKindTerminal {
			return plan
		}
	}
	return append(plan, d.relay)
}
