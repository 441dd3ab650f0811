package adapter

import (
	"context"
	"net"

	"github.com/twnesss/skunk/model"

	M "github.com/sagernet/sing/common/metadata"
)

// Connector opens TCP streams to destinations. Implementations impose no
// timeouts of their own; the context bounds the attempt. The returned
// connection is owned by the caller.
type Connector interface {
	Type() string
	Tag() string
	Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error)
}

type OutboundManager interface {
	Outbound(tag string) (Connector, bool)
	Outbounds() []Connector
	Default() Connector
}

type Router interface {
	Connector(flow *model.Flow, messages []*model.Message) (Connector, error)
}
