package outbound

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/adapter/outbound"
	"github.com/twnesss/skunk/common/dialer"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/protocol/socks/socks5"
)

var _ adapter.Connector = (*Socks)(nil)

type Socks struct {
	outbound.Adapter
	logger     logger.ContextLogger
	detour     adapter.Connector
	serverAddr M.Socksaddr
	username   string
	password   string
}

func NewSocks(manager adapter.OutboundManager, logger logger.ContextLogger, tag string, options option.SocksOutboundOptions) (*Socks, error) {
	serverAddr := options.ServerOptions.Build()
	if !serverAddr.IsValid() || serverAddr.Port == 0 {
		return nil, E.New("missing server address")
	}
	return &Socks{
		Adapter:    outbound.NewAdapterWithDialerOptions(C.TypeSOCKS, tag, options.DialerOptions),
		logger:     logger,
		detour:     dialer.New(manager, options.DialerOptions),
		serverAddr: serverAddr,
		username:   options.Username,
		password:   options.Password,
	}, nil
}

func (s *Socks) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	s.logger.DebugContext(ctx, "outbound connection to ", destination)
	conn, err := s.detour.Connect(ctx, s.serverAddr)
	if err != nil {
		return nil, wrapError(s.Tag(), destination, err)
	}
	err = socksHandshake(ctx, conn, destination, s.username, s.password)
	if err != nil {
		conn.Close()
		return nil, wrapHandshake(s.Tag(), destination, err)
	}
	return conn, nil
}

func wrapHandshake(tag string, destination M.Socksaddr, err error) error {
	var connectErr *ConnectError
	if errors.As(err, &connectErr) {
		connectErr.Outbound = tag
		connectErr.Destination = destination
		return connectErr
	}
	return handshakeError(tag, destination, err)
}

// socksHandshake performs a SOCKS5 CONNECT on conn. Cancelling ctx aborts the
// exchange by closing conn.
func socksHandshake(ctx context.Context, conn net.Conn, destination M.Socksaddr, username string, password string) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	if deadline, loaded := ctx.Deadline(); loaded {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	method := socks5.AuthTypeNotRequired
	if username != "" {
		method = socks5.AuthTypeUsernamePassword
	}
	err := socks5.WriteAuthRequest(conn, socks5.AuthRequest{Methods: []byte{method}})
	if err != nil {
		return contextError(ctx, err)
	}
	authResponse, err := socks5.ReadAuthResponse(conn)
	if err != nil {
		return contextError(ctx, err)
	}
	if authResponse.Method != method {
		return &ConnectError{Reason: ReasonHandshake, Cause: E.New("socks5: no acceptable authentication method (server chose ", authResponse.Method, ")")}
	}
	if method == socks5.AuthTypeUsernamePassword {
		err = socks5.WriteUsernamePasswordAuthRequest(conn, socks5.UsernamePasswordAuthRequest{
			Username: username,
			Password: password,
		})
		if err != nil {
			return contextError(ctx, err)
		}
		passwordResponse, err := socks5.ReadUsernamePasswordAuthResponse(conn)
		if err != nil {
			return contextError(ctx, err)
		}
		if passwordResponse.Status != socks5.UsernamePasswordStatusSuccess {
			return &ConnectError{Reason: ReasonHandshake, Cause: E.New("socks5: authentication rejected")}
		}
	}
	err = socks5.WriteRequest(conn, socks5.Request{
		Command:     socks5.CommandConnect,
		Destination: destination,
	})
	if err != nil {
		return contextError(ctx, err)
	}
	response, err := socks5.ReadResponse(conn)
	if err != nil {
		return contextError(ctx, err)
	}
	switch response.ReplyCode {
	case socks5.ReplyCodeSuccess:
		return nil
	case socks5.ReplyCodeConnectionRefused:
		return &ConnectError{Reason: ReasonRefused, Cause: E.New("socks5: connection refused by remote")}
	case socks5.ReplyCodeNetworkUnreachable, socks5.ReplyCodeHostUnreachable:
		return &ConnectError{Reason: ReasonNetwork, Cause: E.New("socks5: remote unreachable, code ", response.ReplyCode)}
	case socks5.ReplyCodeTTLExpired:
		return &ConnectError{Reason: ReasonTimeout, Cause: E.New("socks5: TTL expired")}
	default:
		return &ConnectError{Reason: ReasonHandshake, Cause: E.New("socks5: request rejected, code ", response.ReplyCode)}
	}
}

func contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
