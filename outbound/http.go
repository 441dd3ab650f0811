package outbound

import (
	std_bufio "bufio"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/adapter/outbound"
	"github.com/twnesss/skunk/common/dialer"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
)

var _ adapter.Connector = (*HTTP)(nil)

type HTTP struct {
	outbound.Adapter
	logger     logger.ContextLogger
	detour     adapter.Connector
	serverAddr M.Socksaddr
	header     http.Header
}

func NewHTTP(manager adapter.OutboundManager, logger logger.ContextLogger, tag string, options option.HTTPOutboundOptions) (*HTTP, error) {
	serverAddr := options.ServerOptions.Build()
	if !serverAddr.IsValid() || serverAddr.Port == 0 {
		return nil, E.New("missing server address")
	}
	header := make(http.Header)
	for key, value := range options.Headers {
		header.Set(key, value)
	}
	if options.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(options.Username + ":" + options.Password))
		header.Set("Proxy-Authorization", "Basic "+credentials)
	}
	return &HTTP{
		Adapter:    outbound.NewAdapterWithDialerOptions(C.TypeHTTP, tag, options.DialerOptions),
		logger:     logger,
		detour:     dialer.New(manager, options.DialerOptions),
		serverAddr: serverAddr,
		header:     header,
	}, nil
}

func (h *HTTP) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	h.logger.DebugContext(ctx, "outbound connection to ", destination)
	conn, err := h.detour.Connect(ctx, h.serverAddr)
	if err != nil {
		return nil, wrapError(h.Tag(), destination, err)
	}
	conn, err = h.handshake(ctx, conn, destination)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (h *HTTP) handshake(ctx context.Context, conn net.Conn, destination M.Socksaddr) (net.Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	if deadline, loaded := ctx.Deadline(); loaded {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	request := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Host: destination.String()},
		Host:   destination.String(),
		Header: h.header.Clone(),
	}
	err := request.Write(conn)
	if err != nil {
		conn.Close()
		return nil, handshakeError(h.Tag(), destination, contextError(ctx, err))
	}
	reader := std_bufio.NewReader(conn)
	response, err := http.ReadResponse(reader, request)
	if err != nil {
		conn.Close()
		return nil, handshakeError(h.Tag(), destination, contextError(ctx, err))
	}
	response.Body.Close()
	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusGatewayTimeout:
		conn.Close()
		return nil, &ConnectError{Reason: ReasonTimeout, Outbound: h.Tag(), Destination: destination, Cause: E.New("proxy responded ", response.Status)}
	case response.StatusCode == http.StatusBadGateway || response.StatusCode == http.StatusServiceUnavailable:
		conn.Close()
		return nil, &ConnectError{Reason: ReasonNetwork, Outbound: h.Tag(), Destination: destination, Cause: E.New("proxy responded ", response.Status)}
	default:
		conn.Close()
		return nil, &ConnectError{Reason: ReasonHandshake, Outbound: h.Tag(), Destination: destination, Cause: E.New("proxy responded ", response.Status)}
	}
	if buffered := reader.Buffered(); buffered > 0 {
		cached, _ := reader.Peek(buffered)
		return bufio.NewCachedConn(conn, buf.As(cached).ToOwned()), nil
	}
	return conn, nil
}
