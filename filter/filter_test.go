package filter

import (
	"errors"
	"net/http"
	"testing"

	"github.com/twnesss/skunk/model"

	M "github.com/sagernet/sing/common/metadata"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	sources := []string{
		`true`,
		`protocol == "http" && destination_port == 8080`,
		`protocol == "tls" and sni matches "(^|\.)example\.com$"`,
		`!(port == 1)`,
		`host == "example.com" || port >= 8000 && port < 9000`,
		`(host == "a" || host == "b") && !protocol == "tcp"`,
		`host == "a" || (host == "b" || host == "c")`,
		`host == "a" && (host == "b" && host == "c")`,
		`request.method == "POST" response.status_code != 200`,
		`metadata.client.name contains "quote\"and\\backslash"`,
		`~d example.com ~u "/api/" | ~c 404`,
		`~a | ~websocket | ~all | ~q | ~s | ~e`,
		`~hq "^Cookie: " & ~bs secret & ~ja3 abc & ~meta "k=v" & ~src 127.0.0.1`,
		`not not false or kind == "data"`,
		`url =~ "\d+"`,
	}
	for _, source := range sources {
		expr, err := Parse(source)
		require.NoError(t, err, source)
		printed := expr.String()
		reparsed, err := Parse(printed)
		require.NoError(t, err, printed)
		require.True(t, Equal(expr, reparsed), "%s => %s", source, printed)
		require.Equal(t, printed, reparsed.String())
	}
}

func TestParseStructure(t *testing.T) {
	t.Parallel()
	expr := MustParse(`host == "1" sni == "2" || protocol == "3"`)
	or, isOr := expr.(*Or)
	require.True(t, isOr)
	require.Len(t, or.Terms, 2)
	and, isAnd := or.Terms[0].(*And)
	require.True(t, isAnd)
	require.Len(t, and.Terms, 2)
}

func TestParseAliases(t *testing.T) {
	t.Parallel()
	require.Equal(t, `destination_address == "example.com"`, MustParse(`domain == example.com`).String())
	require.Equal(t, `destination_port == 443`, MustParse(`port==443`).String())
	require.Equal(t, `response.status_code == 404`, MustParse(`~c 404`).String())
	require.Equal(t, `url matches "a\\.b"`, MustParse(`url =~ "a\.b"`).String())
	require.Equal(t, `request.content matches "x"`, MustParse(`request.body matches x`).String())
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		source   string
		position int
		expected string
	}{
		{``, 0, "expression"},
		{`protocol ==`, 11, "value"},
		{`(protocol == "tls"`, 18, `")"`},
		{`nonsense == 1`, 0, "field name"},
		{`protocol < 3`, 11, `"==", "!=", "contains" or "matches" for protocol`},
		{`port == "80"`, 8, "integer"},
		{`port == http`, 8, "integer"},
		{`~nope`, 0, `known "~" filter`},
		{`~d`, 2, `argument for "~d"`},
		{`protocol == "open`, 17, `closing '"'`},
		{`url matches "("`, 12, "regular expression"},
		{`protocol = "x"`, 9, `"==" or "=~"`},
		{`protocol == "x")`, 15, "end of input"},
		{`request.host == "x"`, 0, "field name"},
		{`&& true`, 0, "expression"},
	}
	for _, testCase := range testCases {
		_, err := Parse(testCase.source)
		var syntaxErr *SyntaxError
		require.True(t, errors.As(err, &syntaxErr), testCase.source)
		require.Equal(t, testCase.position, syntaxErr.Position, testCase.source)
		require.Equal(t, testCase.expected, syntaxErr.Expected, testCase.source)
	}
}

func testFlow() (*model.Flow, []*model.Message) {
	flow := model.NewFlow(M.ParseSocksaddrHostPort("www.example.com", 8080), "http")
	flow.Source = M.ParseSocksaddr("127.0.0.1:50000")
	flow.Metadata.Set("server_name", "www.example.com")
	flow.Metadata.Set("alpn", "h2,http/1.1")
	request := model.NewMessage(flow, model.KindRequest, &model.HTTPRequest{
		Method: "GET",
		URL:    "https://www.example.com/static/app.js?v=1",
		Header: http.Header{"Accept": []string{"*/*"}, "Cookie": []string{"session=1"}},
	})
	response := model.NewMessage(flow, model.KindResponse, &model.HTTPResponse{
		StatusCode: 200,
		Header:     http.Header{"Content-Type": []string{"application/javascript; charset=utf-8"}},
	})
	response.Body = []byte("console.log('secret')")
	return flow, []*model.Message{request, response}
}

func TestMatch(t *testing.T) {
	t.Parallel()
	flow, messages := testFlow()
	testCases := map[string]bool{
		`protocol == "http" && destination_port == 8080`: true,
		`protocol == "http" && destination_port == 80`:   false,
		`~d example\.com$`:                         true,
		`host == "www.example.com"`:                true,
		`destination == "www.example.com:8080"`:    true,
		`port > 1024 port <= 8080 port != 8081`:    true,
		`sni contains example`:                     true,
		`alpn == "http/1.1"`:                       true,
		`alpn != "h3"`:                             true,
		`alpn != "h2"`:                             false,
		`ja3 == "x"`:                               false,
		`!ja3 == "x"`:                              true,
		`~src "^127\."`:                            true,
		`~m GET & ~u "\.js"`:                       true,
		`path == "/static/app.js"`:                 true,
		`request.status_code == 200`:               false,
		`~c 200`:                                   true,
		`~a`:                                       true,
		`~ts javascript & ~tq javascript`:          false,
		`~hq "^Cookie: session"`:                   true,
		`~hs Cookie`:                               false,
		`~bs "secret"`:                             true,
		`~bq "secret"`:                             false,
		`~meta "server_name=www"`:                  true,
		`metadata.alpn contains h2`:                true,
		`kind == "error"`:                          false,
		`~e | ~q`:                                  true,
		`~tcp | ~tls`:                              false,
		`~all`:                                     true,
		`false || !true`:                           false,
	}
	for source, expected := range testCases {
		expr := MustParse(source)
		require.Equal(t, expected, expr.Match(flow, messages), source)
		require.Equal(t, expected, expr.Match(flow, messages), source)
	}
}

func TestMatchTotal(t *testing.T) {
	t.Parallel()
	expr := MustParse(`~u x | ~c 200 | sni == "a" | port == 1 | metadata == "x"`)
	require.False(t, expr.Match(model.NewFlow(M.Socksaddr{}, ""), nil))
	require.False(t, expr.Match(model.NewFlow(M.Socksaddr{}, "tcp"), []*model.Message{nil, {Kind: model.KindData}}))
	require.False(t, expr.Match(nil, nil))
}

func TestDecide(t *testing.T) {
	t.Parallel()
	flow := model.NewFlow(M.ParseSocksaddrHostPort("example.com", 443), "tcp")
	require.Equal(t, Unknown, MustParse(`sni == "example.com"`).Decide(flow, nil))
	require.Equal(t, False, MustParse(`protocol == "tls" && sni == "example.com"`).Decide(flow, nil))
	require.Equal(t, True, MustParse(`protocol == "tcp" || sni == "example.com"`).Decide(flow, nil))
	require.Equal(t, Unknown, MustParse(`!sni == "example.com"`).Decide(flow, nil))
	require.Equal(t, Unknown, MustParse(`~q`).Decide(flow, nil))

	flow.Metadata.Set("server_name", "example.com")
	require.Equal(t, True, MustParse(`sni == "example.com"`).Decide(flow, nil))
	require.Equal(t, False, MustParse(`!sni == "example.com"`).Decide(flow, nil))
}

func TestCache(t *testing.T) {
	t.Parallel()
	var cache Cache
	first, err := cache.Get(`protocol == "http"`)
	require.NoError(t, err)
	second, err := cache.Get(`protocol == "http"`)
	require.NoError(t, err)
	require.Same(t, first, second)
	_, err = cache.Get(`protocol ==`)
	require.Error(t, err)
}
