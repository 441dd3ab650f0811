package inbound

import (
	std_bufio "bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/option"
	"github.com/twnesss/skunk/outbound"

	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/stretchr/testify/require"
)

type echoHandler struct {
	metadata chan adapter.InboundContext
}

func (h *echoHandler) NewConnection(ctx context.Context, conn net.Conn, metadata adapter.InboundContext) error {
	defer conn.Close()
	h.metadata <- metadata
	_, err := io.Copy(conn, conn)
	return err
}

func startMixed(t *testing.T, users ...option.User) (*Mixed, *echoHandler) {
	t.Helper()
	handler := &echoHandler{metadata: make(chan adapter.InboundContext, 1)}
	inbound, err := NewMixed(context.Background(), handler, logger.NOP(), "mixed-in", option.Inbound{
		Listen: "127.0.0.1",
		Users:  users,
	})
	require.NoError(t, err)
	require.NoError(t, inbound.Start())
	t.Cleanup(func() {
		inbound.Close()
	})
	return inbound, handler
}

func serverOptions(inbound *Mixed) option.ServerOptions {
	address := M.SocksaddrFromNet(inbound.Addr())
	return option.ServerOptions{Server: address.AddrString(), ServerPort: address.Port}
}

func requireEcho(t *testing.T, conn net.Conn) {
	t.Helper()
	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	response := make([]byte, 4)
	_, err = io.ReadFull(conn, response)
	require.NoError(t, err)
	require.Equal(t, "ping", string(response))
}

func TestMixedSOCKS(t *testing.T) {
	t.Parallel()
	inbound, handler := startMixed(t, option.User{Username: "user", Password: "pass"})
	client, err := outbound.NewSocks(nil, logger.NOP(), "socks-out", option.SocksOutboundOptions{
		ServerOptions: serverOptions(inbound),
		Username:      "user",
		Password:      "pass",
	})
	require.NoError(t, err)
	conn, err := client.Connect(context.Background(), M.ParseSocksaddrHostPort("example.com", 443))
	require.NoError(t, err)
	defer conn.Close()
	requireEcho(t, conn)
	metadata := <-handler.metadata
	require.Equal(t, "mixed-in", metadata.Inbound)
	require.Equal(t, "user", metadata.User)
	require.Equal(t, "example.com:443", metadata.Destination.String())

	client, err = outbound.NewSocks(nil, logger.NOP(), "socks-out", option.SocksOutboundOptions{
		ServerOptions: serverOptions(inbound),
		Username:      "user",
		Password:      "wrong",
	})
	require.NoError(t, err)
	_, err = client.Connect(context.Background(), M.ParseSocksaddrHostPort("example.com", 443))
	require.ErrorContains(t, err, outbound.ReasonHandshake)
}

func TestMixedHTTPConnect(t *testing.T) {
	t.Parallel()
	inbound, handler := startMixed(t)
	client, err := outbound.NewHTTP(nil, logger.NOP(), "http-out", option.HTTPOutboundOptions{
		ServerOptions: serverOptions(inbound),
	})
	require.NoError(t, err)
	conn, err := client.Connect(context.Background(), M.ParseSocksaddrHostPort("10.0.0.1", 8443))
	require.NoError(t, err)
	defer conn.Close()
	requireEcho(t, conn)
	metadata := <-handler.metadata
	require.Equal(t, "10.0.0.1:8443", metadata.Destination.String())
	require.Empty(t, metadata.User)
}

func TestMixedHTTPAuthRequired(t *testing.T) {
	t.Parallel()
	inbound, _ := startMixed(t, option.User{Username: "user", Password: "pass"})
	conn, err := net.Dial("tcp", inbound.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n")
	require.NoError(t, err)
	response, err := http.ReadResponse(std_bufio.NewReader(conn), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusProxyAuthRequired, response.StatusCode)
	require.True(t, strings.HasPrefix(response.Header.Get("Proxy-Authenticate"), "Basic"))
}

func TestMixedHTTPPlain(t *testing.T) {
	t.Parallel()
	inbound, handler := startMixed(t)
	conn, err := net.Dial("tcp", inbound.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = io.WriteString(conn, "GET http://example.org/index.html HTTP/1.1\r\nHost: example.org\r\nProxy-Connection: keep-alive\r\n\r\n")
	require.NoError(t, err)
	metadata := <-handler.metadata
	require.Equal(t, "example.org:80", metadata.Destination.String())
	// the handler echoes the replayed request back
	request, err := http.ReadRequest(std_bufio.NewReader(conn))
	require.NoError(t, err)
	require.Equal(t, "/index.html", request.RequestURI)
	require.Equal(t, "example.org", request.Host)
	require.Empty(t, request.Header.Get("Proxy-Connection"))
}

func TestParseDestination(t *testing.T) {
	t.Parallel()
	destination, err := parseDestination("example.com", 80)
	require.NoError(t, err)
	require.Equal(t, "example.com:80", destination.String())
	destination, err = parseDestination("[::1]:8080", 80)
	require.NoError(t, err)
	require.Equal(t, "[::1]:8080", destination.String())
	_, err = parseDestination("example.com:http", 80)
	require.Error(t, err)
	_, err = parseDestination(":443", 80)
	require.Error(t, err)
}
