package layer

import (
	"context"
	"errors"
	"net"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/log"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
)

var _ adapter.ConnectionHandler = (*Stack)(nil)

type Options struct {
	Router    adapter.Router
	Authority adapter.CertificateAuthority
	Emitter   adapter.Emitter
	Registry  *Registry
	Cache     *filter.Cache
	Rules     []option.LayerRule
}

// Stack runs the stage pipeline of every accepted connection.
type Stack struct {
	logger     logger.ContextLogger
	router     adapter.Router
	authority  adapter.CertificateAuthority
	emitter    adapter.Emitter
	dispatcher *Dispatcher
}

func NewStack(logger logger.ContextLogger, options Options) (*Stack, error) {
	if options.Router == nil {
		return nil, E.New("missing router")
	}
	if options.Emitter == nil {
		return nil, E.New("missing emitter")
	}
	registry := options.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	cache := options.Cache
	if cache == nil {
		cache = new(filter.Cache)
	}
	dispatcher, err := NewDispatcher(registry, cache, options.Rules)
	if err != nil {
		return nil, err
	}
	return &Stack{
		logger:     logger,
		router:     options.Router,
		authority:  options.Authority,
		emitter:    options.Emitter,
		dispatcher: dispatcher,
	}, nil
}

func (s *Stack) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// NewConnection processes conn until it closes and closes it. The returned
// error, a *StageError, has already been recorded as an error message.
func (s *Stack) NewConnection(ctx context.Context, conn net.Conn, metadata adapter.InboundContext) error {
	_, err := s.handle(ctx, conn, metadata)
	return err
}

func (s *Stack) handle(ctx context.Context, conn net.Conn, metadata adapter.InboundContext) (*session, error) {
	if _, loaded := log.IDFromContext(ctx); !loaded {
		ctx = log.ContextWithNewID(ctx)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	session := newSession(s, conn, metadata)
	err := s.process(ctx, session)
	if err != nil {
		s.fail(ctx, session, err)
	} else {
		session.setState(ctx, State{Kind: StateClosed})
	}
	session.close()
	s.emitter.Release(session.flows...)
	return session, err
}

func (s *Stack) process(ctx context.Context, session *session) (err error) {
	var current adapter.Stage
	defer func() {
		if recovered := recover(); recovered != nil {
			name := "stack"
			if current != nil {
				name = current.Name()
			}
			err = &StageError{Stage: name, Cause: E.New("panic: ", recovered)}
		}
	}()
	session.setState(ctx, State{Kind: StatePending})
	metadata := session.metadata
	flow := model.NewFlow(metadata.Destination, C.ProtocolTCP)
	flow.Source = metadata.Source
	if metadata.Inbound != "" {
		flow.Metadata.Set("inbound", metadata.Inbound)
	}
	if metadata.User != "" {
		flow.Metadata.Set("user", metadata.User)
	}
	err = session.emitFlow(ctx, flow)
	if err != nil {
		return &StageError{Stage: "capture", Cause: err}
	}
	s.logger.InfoContext(ctx, "flow ", flow.ID, " from ", metadata.Source, " to ", metadata.Destination)
	err = session.sniff(ctx)
	if err != nil {
		return &StageError{Stage: "sniff", Cause: err}
	}
	plan := s.dispatcher.Plan(session.flow, session.messages)
	decided := s.dispatcher.Decided(session.flow, session.messages)
	session.changed = false
	for index := 0; index < len(plan); index++ {
		current = plan[index]
		session.executed = append(session.executed[:0:0], plan[:index+1]...)
		session.setState(ctx, State{Kind: StateActive, Stage: index})
		s.logger.DebugContext(ctx, "stage ", current.Name(), " (", current.Kind(), ")")
		err = current.Handle(ctx, session)
		if err != nil {
			var stageErr *StageError
			if errors.As(err, &stageErr) {
				return err
			}
			return &StageError{Stage: current.Name(), Cause: err}
		}
		if current.Kind() == adapter.StageKindTerminal {
			return nil
		}
		if current.Kind() == adapter.StageKindTransform {
			err = session.sniff(ctx)
			if err != nil {
				return &StageError{Stage: current.Name(), Cause: err}
			}
		}
		if session.changed || !decided {
			session.setState(ctx, State{Kind: StateReevaluating})
			plan = s.dispatcher.Replan(plan[:index+1], session.flow, session.messages)
			decided = s.dispatcher.Decided(session.flow, session.messages)
			session.changed = false
		}
	}
	return nil
}

// fail records err as an error message on the current flow.
func (s *Stack) fail(ctx context.Context, session *session, err error) {
	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		stageErr = &StageError{Stage: "stack", Cause: err}
	}
	session.setState(ctx, State{Kind: StateFailed, Reason: stageErr.Cause.Error()})
	if E.IsClosedOrCanceled(err) {
		s.logger.DebugContext(ctx, err)
	} else {
		s.logger.ErrorContext(ctx, err)
	}
	if session.flow == nil {
		return
	}
	message := model.NewMessage(session.flow, model.KindError, &model.Failure{
		Stage:  stageErr.Stage,
		Reason: stageErr.Cause.Error(),
	})
	emitErr := session.Emit(ctx, message)
	if emitErr != nil {
		s.logger.ErrorContext(ctx, E.Cause(emitErr, "record failure"))
	}
}
