package inbound

import (
	std_bufio "bufio"
	"bytes"
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/log"
	"github.com/twnesss/skunk/option"

	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/protocol/socks/socks5"
)

var _ adapter.Inbound = (*Mixed)(nil)

// Mixed accepts SOCKS5 and HTTP proxy clients on one port and hands each
// tunnelled stream to the connection handler.
type Mixed struct {
	ctx          context.Context
	handler      adapter.ConnectionHandler
	logger       logger.ContextLogger
	tag          string
	listen       M.Socksaddr
	users        map[string]string
	sniffTimeout time.Duration
	listener     net.Listener
	inShutdown   atomic.Bool
}

func NewMixed(ctx context.Context, handler adapter.ConnectionHandler, logger logger.ContextLogger, tag string, options option.Inbound) (*Mixed, error) {
	listenAddress := netip.IPv6Unspecified()
	if options.Listen != "" {
		address, err := netip.ParseAddr(options.Listen)
		if err != nil {
			return nil, E.Cause(err, "parse listen address")
		}
		listenAddress = address
	}
	inbound := &Mixed{
		ctx:          ctx,
		handler:      handler,
		logger:       logger,
		tag:          tag,
		listen:       M.SocksaddrFrom(listenAddress, options.ListenPort),
		sniffTimeout: time.Duration(options.SniffTimeout),
	}
	if len(options.Users) > 0 {
		inbound.users = make(map[string]string, len(options.Users))
		for _, user := range options.Users {
			if user.Username == "" {
				return nil, E.New("missing username")
			}
			inbound.users[user.Username] = user.Password
		}
	}
	return inbound, nil
}

func (h *Mixed) Type() string {
	return C.TypeMixed
}

func (h *Mixed) Tag() string {
	return h.tag
}

func (h *Mixed) Start() error {
	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(h.ctx, "tcp", h.listen.String())
	if err != nil {
		return E.Cause(err, "listen ", h.listen)
	}
	h.listener = listener
	h.logger.Info("tcp server started at ", listener.Addr())
	go h.loopTCPIn()
	return nil
}

// Addr is the bound address, available after Start.
func (h *Mixed) Addr() net.Addr {
	return h.listener.Addr()
}

func (h *Mixed) Close() error {
	h.inShutdown.Store(true)
	if h.listener == nil {
		return nil
	}
	return h.listener.Close()
}

func (h *Mixed) loopTCPIn() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			//nolint:staticcheck
			if netError, isNetError := err.(net.Error); isNetError && netError.Temporary() {
				h.logger.Error(err)
				continue
			}
			if h.inShutdown.Load() && E.IsClosed(err) {
				return
			}
			h.logger.Error("serve error: ", err)
			return
		}
		go h.newConnection(log.ContextWithNewID(h.ctx), conn)
	}
}

func (h *Mixed) newConnection(ctx context.Context, conn net.Conn) {
	metadata := adapter.InboundContext{
		Inbound:      h.tag,
		InboundType:  C.TypeMixed,
		Source:       M.SocksaddrFromNet(conn.RemoteAddr()).Unwrap(),
		SniffTimeout: h.sniffTimeout,
	}
	h.logger.InfoContext(ctx, "inbound connection from ", metadata.Source)
	_ = conn.SetDeadline(time.Now().Add(C.ProxyHandshake))
	reader := std_bufio.NewReader(conn)
	header, err := reader.Peek(1)
	if err != nil {
		conn.Close()
		h.logger.DebugContext(ctx, E.Cause(err, "read proxy request"))
		return
	}
	var replay []byte
	switch header[0] {
	case socks5.Version:
		err = h.handshakeSOCKS(conn, reader, &metadata)
	default:
		replay, err = h.handshakeHTTP(conn, reader, &metadata)
	}
	if err != nil {
		conn.Close()
		h.logger.ErrorContext(ctx, E.Cause(err, "process connection from ", metadata.Source))
		return
	}
	_ = conn.SetDeadline(time.Time{})
	if buffered := reader.Buffered(); buffered > 0 {
		content, _ := reader.Peek(buffered)
		replay = append(replay, content...)
	}
	if len(replay) > 0 {
		conn = bufio.NewCachedConn(conn, buf.As(replay).ToOwned())
	}
	h.logger.InfoContext(ctx, "inbound connection to ", metadata.Destination)
	_ = h.handler.NewConnection(ctx, conn, metadata)
}

func (h *Mixed) handshakeSOCKS(conn net.Conn, reader *std_bufio.Reader, metadata *adapter.InboundContext) error {
	authRequest, err := socks5.ReadAuthRequest(reader)
	if err != nil {
		return E.Cause(err, "read socks5 auth request")
	}
	method := socks5.AuthTypeNotRequired
	if h.users != nil {
		method = socks5.AuthTypeUsernamePassword
	}
	if !bytes.Contains(authRequest.Methods, []byte{method}) {
		_ = socks5.WriteAuthResponse(conn, socks5.AuthResponse{Method: socks5.AuthTypeNoAcceptedMethods})
		return E.New("socks5: no accepted auth methods")
	}
	err = socks5.WriteAuthResponse(conn, socks5.AuthResponse{Method: method})
	if err != nil {
		return err
	}
	if method == socks5.AuthTypeUsernamePassword {
		passwordRequest, err := socks5.ReadUsernamePasswordAuthRequest(reader)
		if err != nil {
			return E.Cause(err, "read socks5 password request")
		}
		if !h.authenticate(passwordRequest.Username, passwordRequest.Password) {
			_ = socks5.WriteUsernamePasswordAuthResponse(conn, socks5.UsernamePasswordAuthResponse{Status: socks5.UsernamePasswordStatusFailure})
			return E.New("socks5: authentication failed, username=", passwordRequest.Username)
		}
		err = socks5.WriteUsernamePasswordAuthResponse(conn, socks5.UsernamePasswordAuthResponse{Status: socks5.UsernamePasswordStatusSuccess})
		if err != nil {
			return err
		}
		metadata.User = passwordRequest.Username
	}
	request, err := socks5.ReadRequest(reader)
	if err != nil {
		return E.Cause(err, "read socks5 request")
	}
	if request.Command != socks5.CommandConnect {
		_ = socks5.WriteResponse(conn, socks5.Response{ReplyCode: socks5.ReplyCodeUnsupported, Bind: M.SocksaddrFrom(netip.IPv4Unspecified(), 0)})
		return E.New("socks5: unsupported command ", request.Command)
	}
	metadata.Destination = request.Destination
	return socks5.WriteResponse(conn, socks5.Response{ReplyCode: socks5.ReplyCodeSuccess, Bind: M.SocksaddrFrom(netip.IPv4Unspecified(), 0)})
}

// handshakeHTTP answers CONNECT, or returns the first request of a plain
// proxy exchange re-encoded in origin form.
func (h *Mixed) handshakeHTTP(conn net.Conn, reader *std_bufio.Reader, metadata *adapter.InboundContext) ([]byte, error) {
	request, err := http.ReadRequest(reader)
	if err != nil {
		return nil, E.Cause(err, "read http request")
	}
	if h.users != nil {
		username, password, loaded := parseBasicAuth(request.Header.Get("Proxy-Authorization"))
		if !loaded || !h.authenticate(username, password) {
			_, _ = conn.Write([]byte("HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Basic realm=\"skunk\"\r\nConnection: close\r\n\r\n"))
			if loaded {
				return nil, E.New("http: authentication failed, username=", username)
			}
			return nil, E.New("http: authentication required")
		}
		metadata.User = username
	}
	if request.Method == http.MethodConnect {
		metadata.Destination, err = parseDestination(request.Host, 443)
		if err != nil {
			return nil, err
		}
		_, err = conn.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n"))
		return nil, err
	}
	if request.URL.Host == "" {
		_, _ = conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n"))
		return nil, E.New("http: not a proxy request: ", request.URL)
	}
	metadata.Destination, err = parseDestination(request.URL.Host, 80)
	if err != nil {
		return nil, err
	}
	request.Header.Del("Proxy-Authorization")
	request.Header.Del("Proxy-Connection")
	if _, loaded := request.Header["User-Agent"]; !loaded {
		request.Header["User-Agent"] = []string{""}
	}
	var replay bytes.Buffer
	err = request.Write(&replay)
	if err != nil {
		return nil, E.Cause(err, "encode http request")
	}
	return replay.Bytes(), nil
}

func (h *Mixed) authenticate(username string, password string) bool {
	expected, loaded := h.users[username]
	return loaded && expected == password
}

func parseBasicAuth(header string) (username string, password string, loaded bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return
	}
	username, password, loaded = strings.Cut(string(decoded), ":")
	return
}

func parseDestination(hostPort string, defaultPort uint16) (M.Socksaddr, error) {
	host, portString, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = strings.Trim(hostPort, "[]")
		portString = ""
	}
	port := defaultPort
	if portString != "" {
		parsed, err := strconv.ParseUint(portString, 10, 16)
		if err != nil {
			return M.Socksaddr{}, E.Cause(err, "parse port ", hostPort)
		}
		port = uint16(parsed)
	}
	destination := M.ParseSocksaddrHostPort(host, port)
	if host == "" || !destination.IsValid() || port == 0 {
		return M.Socksaddr{}, E.New("bad proxy target: ", hostPort)
	}
	return destination, nil
}
