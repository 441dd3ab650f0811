package dns

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
	"github.com/sagernet/sing/common/logger"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, queries *atomic.Int32) string {
	t.Helper()
	packetConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	server := &dns.Server{
		PacketConn:        packetConn,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(writer dns.ResponseWriter, request *dns.Msg) {
			queries.Add(1)
			response := new(dns.Msg)
			response.SetReply(request)
			question := request.Question[0]
			switch {
			case question.Name == "missing.test.":
				response.Rcode = dns.RcodeNameError
			case question.Qtype == dns.TypeA:
				response.Answer = append(response.Answer, &dns.A{
					Hdr: dns.RR_Header{Name: question.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
					A:   net.IPv4(127, 0, 0, 1),
				})
			}
			_ = writer.WriteMsg(response)
		}),
	}
	go server.ActivateAndServe()
	<-started
	t.Cleanup(func() {
		server.Shutdown()
	})
	return packetConn.LocalAddr().String()
}

func TestClientLookup(t *testing.T) {
	t.Parallel()
	var queries atomic.Int32
	client, err := NewClient(startTestServer(t, &queries), logger.NOP())
	require.NoError(t, err)
	addresses, err := client.Lookup(context.Background(), "example.test")
	require.NoError(t, err)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("127.0.0.1")}, addresses)
	require.Equal(t, int32(2), queries.Load())

	_, err = client.Lookup(context.Background(), "example.test")
	require.NoError(t, err)
	require.Equal(t, int32(2), queries.Load())

	_, err = client.Lookup(context.Background(), "missing.test")
	require.True(t, errors.Is(err, RCodeNameError))
}

func TestNewClientRejectsDomain(t *testing.T) {
	t.Parallel()
	_, err := NewClient("dns.google", logger.NOP())
	require.Error(t, err)
	client, err := NewClient("127.0.0.1", logger.NOP())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:53", client.server)
}
