package layer

import (
	"sync"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"

	E "github.com/sagernet/sing/common/exceptions"
)

// Registry maps stage names to implementations. Relay and log are always
// present; further stages must be registered before the stack is built.
type Registry struct {
	access sync.RWMutex
	stages map[string]adapter.Stage
}

func NewRegistry() *Registry {
	registry := &Registry{
		stages: make(map[string]adapter.Stage),
	}
	registry.stages[C.StageRelay] = &RelayStage{}
	registry.stages[C.StageLog] = &LogStage{}
	return registry
}

func (r *Registry) Register(stage adapter.Stage) error {
	r.access.Lock()
	defer r.access.Unlock()
	if _, loaded := r.stages[stage.Name()]; loaded {
		return E.New("stage already registered: ", stage.Name())
	}
	r.stages[stage.Name()] = stage
	return nil
}

func (r *Registry) Stage(name string) (adapter.Stage, bool) {
	r.access.RLock()
	defer r.access.RUnlock()
	stage, loaded := r.stages[name]
	return stage, loaded
}
