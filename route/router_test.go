package route

import (
	"context"
	"net"
	"testing"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/filter"
	"github.com/twnesss/skunk/model"
	"github.com/twnesss/skunk/option"

	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/stretchr/testify/require"
)

type stubConnector string

func (s stubConnector) Type() string { return "stub" }

func (s stubConnector) Tag() string { return string(s) }

func (s stubConnector) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	return nil, net.ErrClosed
}

type stubManager map[string]adapter.Connector

func (m stubManager) Outbound(tag string) (adapter.Connector, bool) {
	connector, loaded := m[tag]
	return connector, loaded
}

func (m stubManager) Outbounds() []adapter.Connector {
	var connectors []adapter.Connector
	for _, connector := range m {
		connectors = append(connectors, connector)
	}
	return connectors
}

func (m stubManager) Default() adapter.Connector {
	return m["direct"]
}

func newManager() stubManager {
	return stubManager{
		"direct": stubConnector("direct"),
		"tor":    stubConnector("tor"),
		"proxy":  stubConnector("proxy"),
	}
}

func TestRouterFirstMatch(t *testing.T) {
	t.Parallel()
	router, err := NewRouter(newManager(), logger.NOP(), &filter.Cache{}, option.RouteOptions{
		Rules: []option.RouteRule{
			{Filter: `destination_address matches "\.onion$"`, Outbound: "tor"},
			{Filter: `destination_port == 443`, Outbound: "proxy"},
			{Filter: `true`, Outbound: "direct"},
		},
	})
	require.NoError(t, err)
	require.Len(t, router.Rules(), 3)

	connector, err := router.Connector(model.NewFlow(M.ParseSocksaddrHostPort("example.onion", 443), "tcp"), nil)
	require.NoError(t, err)
	require.Equal(t, "tor", connector.Tag())

	connector, err = router.Connector(model.NewFlow(M.ParseSocksaddrHostPort("example.com", 443), "tcp"), nil)
	require.NoError(t, err)
	require.Equal(t, "proxy", connector.Tag())

	connector, err = router.Connector(model.NewFlow(M.ParseSocksaddrHostPort("example.com", 80), "tcp"), nil)
	require.NoError(t, err)
	require.Equal(t, "direct", connector.Tag())
}

func TestRouterFinal(t *testing.T) {
	t.Parallel()
	router, err := NewRouter(newManager(), logger.NOP(), &filter.Cache{}, option.RouteOptions{
		Rules: []option.RouteRule{{Filter: `protocol == "http"`, Outbound: "proxy"}},
		Final: "tor",
	})
	require.NoError(t, err)
	connector, err := router.Connector(model.NewFlow(M.ParseSocksaddrHostPort("example.com", 443), "tcp"), nil)
	require.NoError(t, err)
	require.Equal(t, "tor", connector.Tag())

	router, err = NewRouter(newManager(), logger.NOP(), &filter.Cache{}, option.RouteOptions{})
	require.NoError(t, err)
	connector, err = router.Connector(model.NewFlow(M.ParseSocksaddrHostPort("example.com", 443), "tcp"), nil)
	require.NoError(t, err)
	require.Equal(t, "direct", connector.Tag())
}

func TestRouterInvalidRules(t *testing.T) {
	t.Parallel()
	_, err := NewRouter(newManager(), logger.NOP(), &filter.Cache{}, option.RouteOptions{
		Rules: []option.RouteRule{{Filter: `destination_port ==`, Outbound: "proxy"}},
	})
	var syntaxErr *filter.SyntaxError
	require.ErrorAs(t, err, &syntaxErr)

	_, err = NewRouter(newManager(), logger.NOP(), &filter.Cache{}, option.RouteOptions{
		Rules: []option.RouteRule{{Filter: `true`, Outbound: "missing"}},
	})
	require.ErrorContains(t, err, "outbound not found")

	_, err = NewRouter(newManager(), logger.NOP(), &filter.Cache{}, option.RouteOptions{Final: "missing"})
	require.ErrorContains(t, err, "final outbound not found")
}
