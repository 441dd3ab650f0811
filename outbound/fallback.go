package outbound

import (
	"context"
	"net"
	"sync"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/adapter/outbound"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
)

var _ adapter.Connector = (*Fallback)(nil)

// Fallback tries its outbounds in order and returns the first connection
// that succeeds.
type Fallback struct {
	outbound.Adapter
	manager   adapter.OutboundManager
	logger    logger.ContextLogger
	tags      []string
	access    sync.RWMutex
	outbounds []adapter.Connector
}

func NewFallback(manager adapter.OutboundManager, logger logger.ContextLogger, tag string, options option.FallbackOutboundOptions) (*Fallback, error) {
	if len(options.Outbounds) == 0 {
		return nil, E.New("missing outbounds")
	}
	return &Fallback{
		Adapter: outbound.NewAdapter(C.TypeFallback, tag, options.Outbounds),
		manager: manager,
		logger:  logger,
		tags:    options.Outbounds,
	}, nil
}

func (s *Fallback) Start() error {
	outbounds := make([]adapter.Connector, 0, len(s.tags))
	for i, tag := range s.tags {
		detour, loaded := s.manager.Outbound(tag)
		if !loaded {
			return E.New("outbound ", i, " not found: ", tag)
		}
		outbounds = append(outbounds, detour)
	}
	s.access.Lock()
	s.outbounds = outbounds
	s.access.Unlock()
	return nil
}

func (s *Fallback) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	s.access.RLock()
	outbounds := s.outbounds
	s.access.RUnlock()
	if outbounds == nil {
		return nil, &ConnectError{Reason: ReasonNetwork, Outbound: s.Tag(), Destination: destination, Cause: E.New("fallback not started")}
	}
	var (
		errors     []error
		lastReason = ReasonNetwork
	)
	for _, detour := range outbounds {
		conn, err := detour.Connect(ctx, destination)
		if err == nil {
			s.logger.DebugContext(ctx, "outbound/", s.Type(), "[", s.Tag(), "] connected through ", detour.Tag())
			return conn, nil
		}
		s.logger.DebugContext(ctx, "outbound ", detour.Tag(), " unavailable: ", err)
		errors = append(errors, err)
		if connectErr, isConnectErr := err.(*ConnectError); isConnectErr {
			lastReason = connectErr.Reason
		} else {
			lastReason = classify(err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ConnectError{
		Reason:      lastReason,
		Outbound:    s.Tag(),
		Destination: destination,
		Cause:       E.Errors(errors...),
	}
}
