package layer

import (
	"context"
	"net"
	"strings"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/common/sniff"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/model"

	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

const recentMessages = 16

var _ adapter.Session = (*session)(nil)

// session is owned by the goroutine serving one accepted connection.
type session struct {
	stack      *Stack
	logger     logger.ContextLogger
	metadata   adapter.InboundContext
	flow       *model.Flow
	flows      []model.FlowID
	messages   []*model.Message
	clientConn net.Conn
	serverConn net.Conn
	state      State
	changed    bool
	executed   []adapter.Stage
	onClose    []func()
}

func newSession(stack *Stack, conn net.Conn, metadata adapter.InboundContext) *session {
	return &session{
		stack:      stack,
		logger:     stack.logger,
		metadata:   metadata,
		clientConn: conn,
	}
}

func (s *session) Flow() *model.Flow {
	return s.flow
}

func (s *session) Flows() []model.FlowID {
	return s.flows
}

func (s *session) State() State {
	return s.state
}

func (s *session) setState(ctx context.Context, state State) {
	s.state = state
	if s.flow != nil {
		s.logger.TraceContext(ctx, "flow ", s.flow.ID, " ", state)
	}
}

func (s *session) emitFlow(ctx context.Context, flow *model.Flow) error {
	err := s.stack.emitter.EmitFlow(ctx, flow)
	if err != nil {
		return err
	}
	s.flow = flow
	s.flows = append(s.flows, flow.ID)
	s.messages = nil
	s.changed = true
	return nil
}

func (s *session) NewChild(ctx context.Context, protocol string) (*model.Flow, error) {
	return s.newChild(ctx, protocol, nil)
}

func (s *session) newChild(ctx context.Context, protocol string, update func(flow *model.Flow)) (*model.Flow, error) {
	parent := s.flow
	child := parent.NewChild(protocol)
	child.Metadata = parent.Metadata.Clone()
	if update != nil {
		update(child)
	}
	err := s.emitFlow(ctx, child)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "flow ", child.ID, " (", protocol, ") nested in ", child.Parent)
	return child, nil
}

func (s *session) Metadata() adapter.InboundContext {
	return s.metadata
}

func (s *session) Logger() logger.ContextLogger {
	return s.logger
}

func (s *session) ClientConn() net.Conn {
	return s.clientConn
}

func (s *session) SetClientConn(conn net.Conn) {
	s.clientConn = conn
}

func (s *session) ServerConn(ctx context.Context) (net.Conn, error) {
	if s.serverConn != nil {
		return s.serverConn, nil
	}
	connector, err := s.stack.router.Connector(s.flow, s.messages)
	if err != nil {
		return nil, err
	}
	s.logger.DebugContext(ctx, "flow ", s.flow.ID, " outbound/", connector.Type(), "[", connector.Tag(), "]")
	dialCtx, cancel := context.WithTimeout(ctx, C.TCPConnectTimeout)
	defer cancel()
	conn, err := connector.Connect(dialCtx, s.metadata.Destination)
	if err != nil {
		return nil, err
	}
	s.serverConn = conn
	return conn, nil
}

func (s *session) SetServerConn(conn net.Conn) {
	s.serverConn = conn
}

func (s *session) Authority() adapter.CertificateAuthority {
	return s.stack.authority
}

func (s *session) Emit(ctx context.Context, message *model.Message) error {
	err := s.stack.emitter.EmitMessage(ctx, message)
	if err != nil {
		return err
	}
	if message.FlowID == s.flow.ID {
		if len(s.messages) == recentMessages {
			s.messages = append(s.messages[:0], s.messages[1:]...)
		}
		s.messages = append(s.messages, message)
	}
	return nil
}

func (s *session) EmitArtifact(ctx context.Context, artifact *model.Artifact, content []byte) error {
	return s.stack.emitter.EmitArtifact(ctx, artifact, content)
}

func (s *session) WouldRun(protocol string, stage string) bool {
	candidate := s.flow.NewChild(protocol)
	candidate.Metadata = s.flow.Metadata.Clone()
	return s.stack.dispatcher.WouldRun(candidate, nil, stage)
}

func (s *session) Reevaluate(ctx context.Context) error {
	pending := s.stack.dispatcher.Pending(s.executed, s.flow, s.messages)
	if len(pending) == 0 {
		return nil
	}
	state := s.state
	s.setState(ctx, State{Kind: StateReevaluating})
	for _, stage := range pending {
		s.logger.DebugContext(ctx, "stage ", stage.Name(), " (", stage.Kind(), ") selected on flow ", s.flow.ID)
		s.executed = append(s.executed, stage)
		err := stage.Handle(ctx, s)
		if err != nil {
			return &StageError{Stage: stage.Name(), Cause: err}
		}
	}
	s.setState(ctx, state)
	return nil
}

func (s *session) OnClose(callback func()) {
	s.onClose = append(s.onClose, callback)
}

// sniff peeks at the client stream. A protocol other than the current
// flow's starts a nested flow carrying the discovered attributes.
func (s *session) sniff(ctx context.Context) error {
	if s.flow.Protocol == C.ProtocolTCP && sniff.Skip(s.metadata.Destination.Port) {
		return nil
	}
	buffer := buf.NewPacket()
	result, err := sniff.PeekStream(ctx, s.clientConn, buffer, s.metadata.SniffTimeout, sniff.TLSClientHello, sniff.HTTPHost)
	if buffer.IsEmpty() {
		buffer.Release()
	} else {
		s.clientConn = bufio.NewCachedConn(s.clientConn, buffer)
	}
	if err != nil {
		s.logger.TraceContext(ctx, "sniff: ", err)
		return nil
	}
	s.metadata.Protocol = result.Protocol
	switch result.Protocol {
	case C.ProtocolTLS:
		s.metadata.Domain = result.ServerName
		s.metadata.ALPN = result.ALPN
		s.metadata.ClientHello = result.ClientHello
		s.metadata.JA3Fingerprint = result.JA3
	case C.ProtocolHTTP:
		if s.metadata.Domain == "" {
			s.metadata.Domain = result.Host
		}
	}
	if result.Protocol == s.flow.Protocol {
		return nil
	}
	_, err = s.newChild(ctx, result.Protocol, func(flow *model.Flow) {
		if result.ServerName != "" {
			flow.Metadata.Set("server_name", result.ServerName)
		}
		if len(result.ALPN) > 0 {
			flow.Metadata.Set("alpn", strings.Join(result.ALPN, ","))
		}
		if result.JA3 != "" {
			flow.Metadata.Set("ja3", result.JA3)
		}
		if result.Host != "" {
			flow.Metadata.Set("host", result.Host)
		}
	})
	if err != nil {
		return E.Cause(err, "emit nested flow")
	}
	return nil
}

func (s *session) close() {
	for _, callback := range s.onClose {
		callback()
	}
	s.onClose = nil
	if s.clientConn != nil {
		s.clientConn.Close()
	}
	if s.serverConn != nil {
		s.serverConn.Close()
	}
}
