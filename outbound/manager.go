package outbound

import (
	"context"
	"io"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/log"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

var _ adapter.OutboundManager = (*Manager)(nil)

type dependent interface {
	Dependencies() []string
}

type starter interface {
	Start() error
}

type Manager struct {
	logger          logger.ContextLogger
	outbounds       []adapter.Connector
	outboundByTag   map[string]adapter.Connector
	defaultOutbound adapter.Connector
}

// NewManager builds every configured outbound. A direct outbound tagged
// "direct" is added when none carries that tag. Unknown detour tags and
// detour cycles are rejected here rather than at connect time.
func NewManager(ctx context.Context, logFactory *log.Factory, options []option.Outbound) (*Manager, error) {
	m := &Manager{
		logger:        logFactory.NewLogger("outbound"),
		outboundByTag: make(map[string]adapter.Connector),
	}
	for i, outboundOptions := range options {
		if outboundOptions.Tag == "" {
			return nil, E.New("missing tag for outbound[", i, "]")
		}
		if _, loaded := m.outboundByTag[outboundOptions.Tag]; loaded {
			return nil, E.New("duplicate outbound tag: ", outboundOptions.Tag)
		}
		connector, err := New(ctx, m, logFactory.NewLogger("outbound/"+outboundOptions.Type+"["+outboundOptions.Tag+"]"), outboundOptions)
		if err != nil {
			return nil, E.Cause(err, "initialize outbound[", i, "]")
		}
		m.outbounds = append(m.outbounds, connector)
		m.outboundByTag[outboundOptions.Tag] = connector
	}
	if _, loaded := m.outboundByTag[C.TypeDirect]; !loaded {
		direct, _ := NewDirect(logFactory.NewLogger("outbound/direct"), C.TypeDirect, option.DirectOutboundOptions{})
		m.outbounds = append(m.outbounds, direct)
		m.outboundByTag[C.TypeDirect] = direct
	}
	m.defaultOutbound = m.outboundByTag[C.TypeDirect]
	err := m.checkDependencies()
	if err != nil {
		return nil, err
	}
	return m, nil
}

// New creates a single outbound from its options.
func New(ctx context.Context, manager adapter.OutboundManager, logger logger.ContextLogger, options option.Outbound) (adapter.Connector, error) {
	switch options.Type {
	case C.TypeDirect:
		return NewDirect(logger, options.Tag, options.DirectOptions)
	case C.TypeSOCKS:
		return NewSocks(manager, logger, options.Tag, options.SocksOptions)
	case C.TypeHTTP:
		return NewHTTP(manager, logger, options.Tag, options.HTTPOptions)
	case C.TypeTor:
		return NewTor(ctx, manager, logger, options.Tag, options.TorOptions)
	case C.TypeFallback:
		return NewFallback(manager, logger, options.Tag, options.FallbackOptions)
	default:
		return nil, E.New("unknown outbound type: ", options.Type)
	}
}

func (m *Manager) checkDependencies() error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int)
	var visit func(tag string, path []string) error
	visit = func(tag string, path []string) error {
		switch state[tag] {
		case visiting:
			return E.New("detour cycle: ", formatPath(append(path, tag)))
		case visited:
			return nil
		}
		state[tag] = visiting
		connector := m.outboundByTag[tag]
		if withDependencies, isDependent := connector.(dependent); isDependent {
			for _, dependency := range withDependencies.Dependencies() {
				if _, loaded := m.outboundByTag[dependency]; !loaded {
					return E.New("outbound ", tag, ": dependency not found: ", dependency)
				}
				err := visit(dependency, append(path, tag))
				if err != nil {
					return err
				}
			}
		}
		state[tag] = visited
		return nil
	}
	for _, connector := range m.outbounds {
		err := visit(connector.Tag(), nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func formatPath(path []string) string {
	var result string
	for i, tag := range path {
		if i > 0 {
			result += " -> "
		}
		result += tag
	}
	return result
}

func (m *Manager) Start() error {
	for _, connector := range m.outbounds {
		if startable, isStarter := connector.(starter); isStarter {
			err := startable.Start()
			if err != nil {
				return E.Cause(err, "start outbound/", connector.Type(), "[", connector.Tag(), "]")
			}
		}
	}
	return nil
}

func (m *Manager) Close() error {
	var errors []error
	for _, connector := range m.outbounds {
		if closer, isCloser := connector.(io.Closer); isCloser {
			err := closer.Close()
			if err != nil {
				errors = append(errors, E.Cause(err, "close outbound/", connector.Type(), "[", connector.Tag(), "]"))
			}
		}
	}
	return E.Errors(errors...)
}

func (m *Manager) Outbound(tag string) (adapter.Connector, bool) {
	connector, loaded := m.outboundByTag[tag]
	return connector, loaded
}

func (m *Manager) Outbounds() []adapter.Connector {
	return m.outbounds
}

func (m *Manager) Default() adapter.Connector {
	return m.defaultOutbound
}
