package model

import (
	E "github.com/sagernet/sing/common/exceptions"
)

// CheckForest reports an error if parent links among flows contain a cycle
// or refer to a flow that is not part of the set.
func CheckForest(flows []*Flow) error {
	parents := make(map[FlowID]FlowID, len(flows))
	for _, flow := range flows {
		if _, loaded := parents[flow.ID]; loaded {
			return E.New("duplicate flow ", flow.ID)
		}
		parents[flow.ID] = flow.parent
	}
	for _, flow := range flows {
		seen := map[FlowID]bool{flow.ID: true}
		current := flow.parent
		for !current.IsNil() {
			if seen[current] {
				return E.New("cycle through flow ", current)
			}
			seen[current] = true
			next, loaded := parents[current]
			if !loaded {
				return E.New("flow ", flow.ID, ": unknown parent ", current)
			}
			current = next
		}
	}
	return nil
}
