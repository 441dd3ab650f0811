package layer

import (
	"context"
	"testing"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"

	M "github.com/sagernet/sing/common/metadata"
	"github.com/stretchr/testify/require"
)

type testStage struct {
	name   string
	kind   adapter.StageKind
	handle func(ctx context.Context, session adapter.Session) error
}

func (s *testStage) Name() string {
	return s.name
}

func (s *testStage) Kind() adapter.StageKind {
	return s.kind
}

func (s *testStage) Handle(ctx context.Context, session adapter.Session) error {
	if s.handle == nil {
		return nil
	}
	return s.handle(ctx, session)
}

func stageNames(stages []adapter.Stage) []string {
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, stage.Name())
	}
	return names
}

func newTestDispatcher(t *testing.T, rules ...option.LayerRule) *Dispatcher {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&testStage{name: "decode", kind: adapter.StageKindTransform}))
	require.NoError(t, registry.Register(&testStage{name: "block", kind: adapter.StageKindTerminal}))
	dispatcher, err := NewDispatcher(registry, &filter.Cache{}, rules)
	require.NoError(t, err)
	return dispatcher
}

func TestDispatcherPlan(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `destination_port == 8080`, Stages: []string{C.StageLog}},
		option.LayerRule{Filter: `protocol == "http"`, Stages: []string{"decode", C.StageLog}},
	)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 8080), C.ProtocolTCP)
	require.Equal(t, []string{C.StageLog, C.StageRelay}, stageNames(dispatcher.Plan(flow, nil)))

	flow = model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 443), C.ProtocolTCP)
	require.Equal(t, []string{C.StageRelay}, stageNames(dispatcher.Plan(flow, nil)))

	flow = model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 8080), C.ProtocolHTTP)
	require.Equal(t, []string{C.StageLog, "decode", C.StageRelay}, stageNames(dispatcher.Plan(flow, nil)))
}

func TestDispatcherEmpty(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 80), C.ProtocolTCP)
	require.Equal(t, []string{C.StageRelay}, stageNames(dispatcher.Plan(flow, nil)))
	require.True(t, dispatcher.Decided(flow, nil))
}

func TestDispatcherTerminal(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `true`, Stages: []string{C.StageLog, "block", "decode"}},
		option.LayerRule{Filter: `true`, Stages: []string{C.StageRelay}},
	)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 80), C.ProtocolTCP)
	require.Equal(t, []string{C.StageLog, "block"}, stageNames(dispatcher.Plan(flow, nil)))
}

func TestDispatcherFinal(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `destination_port == 22`, Stages: []string{C.StageLog}, Final: true},
		option.LayerRule{Filter: `true`, Stages: []string{"block"}},
	)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 22), C.ProtocolTCP)
	require.Equal(t, []string{C.StageLog, C.StageRelay}, stageNames(dispatcher.Plan(flow, nil)))
	flow = model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 23), C.ProtocolTCP)
	require.Equal(t, []string{"block"}, stageNames(dispatcher.Plan(flow, nil)))
}

func TestDispatcherDuplicate(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `true`, Stages: []string{C.StageLog}},
		option.LayerRule{Filter: `true`, Stages: []string{C.StageLog, "decode"}},
	)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 80), C.ProtocolTCP)
	require.Equal(t, []string{C.StageLog, "decode", C.StageRelay}, stageNames(dispatcher.Plan(flow, nil)))
}

func TestDispatcherReplan(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `true`, Stages: []string{"decode"}},
		option.LayerRule{Filter: `protocol == "http"`, Stages: []string{C.StageLog, "block"}},
	)
	root := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 80), C.ProtocolTCP)
	plan := dispatcher.Plan(root, nil)
	require.Equal(t, []string{"decode", C.StageRelay}, stageNames(plan))

	child := root.NewChild(C.ProtocolHTTP)
	plan = dispatcher.Replan(plan[:1], child, nil)
	require.Equal(t, []string{"decode", C.StageLog, "block"}, stageNames(plan))
}

func TestDispatcherDecided(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `request.method == "POST"`, Stages: []string{C.StageLog}},
	)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 80), C.ProtocolHTTP)
	require.False(t, dispatcher.Decided(flow, nil))
	require.True(t, dispatcher.WouldRun(flow, nil, C.StageLog))
	require.False(t, dispatcher.WouldRun(flow, nil, "decode"))

	dispatcher = newTestDispatcher(t,
		option.LayerRule{Filter: `protocol == "tls"`, Stages: []string{"decode"}},
	)
	require.True(t, dispatcher.Decided(flow, nil))
	require.False(t, dispatcher.WouldRun(flow, nil, "decode"))
}

func TestDispatcherPending(t *testing.T) {
	t.Parallel()
	dispatcher := newTestDispatcher(t,
		option.LayerRule{Filter: `protocol == "http"`, Stages: []string{"block"}},
		option.LayerRule{Filter: `path == "/api"`, Stages: []string{"decode", C.StageLog, "block"}},
	)
	flow := model.NewFlow(M.ParseSocksaddrHostPort("127.0.0.1", 80), C.ProtocolHTTP)
	executed := dispatcher.Plan(flow, nil)
	require.Equal(t, []string{"block"}, stageNames(executed))
	require.Empty(t, dispatcher.Pending(executed, flow, nil))

	request := model.NewMessage(flow, model.KindRequest, &model.HTTPRequest{Method: "GET", URL: "http://example.com/api"})
	pending := dispatcher.Pending(executed, flow, []*model.Message{request})
	require.Equal(t, []string{C.StageLog}, stageNames(pending))
	require.Empty(t, dispatcher.Pending(append(executed, pending...), flow, []*model.Message{request}))
}

func TestDispatcherInvalid(t *testing.T) {
	t.Parallel()
	registry := NewRegistry()
	_, err := NewDispatcher(registry, &filter.Cache{}, []option.LayerRule{{Filter: `true`, Stages: []string{"missing"}}})
	require.ErrorContains(t, err, "unknown stage: missing")
	_, err = NewDispatcher(registry, &filter.Cache{}, []option.LayerRule{{Filter: `true`}})
	require.ErrorContains(t, err, "missing stages")
	_, err = NewDispatcher(registry, &filter.Cache{}, []option.LayerRule{{Filter: `host ==`, Stages: []string{C.StageLog}}})
	require.Error(t, err)
	require.Error(t, registry.Register(&RelayStage{}))
}
