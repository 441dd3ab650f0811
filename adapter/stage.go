package adapter

import (
	"context"
	"net"

	"github.com/twnesss/skunk/model"

	"github.com/sagernet/sing/common/logger"
)

type StageKind uint8

const (
	// StageKindTransform replaces the session streams, for example TLS termination.
	StageKindTransform StageKind = iota
	// StageKindObserve wraps the streams without consuming them.
	StageKindObserve
	// StageKindTerminal consumes the streams until either side closes.
	StageKindTerminal
)

func (k StageKind) String() string {
	switch k {
	case StageKindTransform:
		return "transform"
	case StageKindObserve:
		return "observe"
	case StageKindTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

type Stage interface {
	Name() string
	Kind() StageKind
	Handle(ctx context.Context, session Session) error
}

// Session is the per connection state a stage operates on.
type Session interface {
	Flow() *model.Flow
	// NewChild emits a flow nested in the current one and makes it current.
	NewChild(ctx context.Context, protocol string) (*model.Flow, error)
	Metadata() InboundContext
	Logger() logger.ContextLogger
	ClientConn() net.Conn
	SetClientConn(conn net.Conn)
	// ServerConn returns the upstream leg, connecting on first use.
	ServerConn(ctx context.Context) (net.Conn, error)
	SetServerConn(conn net.Conn)
	Authority() CertificateAuthority
	Emit(ctx context.Context, message *model.Message) error
	EmitArtifact(ctx context.Context, artifact *model.Artifact, content []byte) error
	// WouldRun reports whether the named stage may be selected for a child
	// flow of the given protocol.
	WouldRun(protocol string, stage string) bool
	// Reevaluate runs the observe stages that messages emitted on the
	// current flow newly select. Terminal stages call it after each parsed
	// message.
	Reevaluate(ctx context.Context) error
	// OnClose registers a callback run once the stack finishes, before the
	// legs are closed.
	OnClose(callback func())
}
