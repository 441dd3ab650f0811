package adapter

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	M "github.com/sagernet/sing/common/metadata"
)

type InboundContext struct {
	Inbound      string
	InboundType  string
	User         string
	Source       M.Socksaddr
	Destination  M.Socksaddr
	SniffTimeout time.Duration

	// sniffed

	Protocol       string
	Domain         string
	ALPN           []string
	ClientHello    *tls.ClientHelloInfo
	JA3Fingerprint string
}

type ConnectionHandler interface {
	NewConnection(ctx context.Context, conn net.Conn, metadata InboundContext) error
}

type Service interface {
	Start() error
	Close() error
}

type Inbound interface {
	Service
	Type() string
	Tag() string
}
