package sniff

import (
	std_bufio "bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	C "github.com/twnesss/skunk/constant"

	E "github.com/sagernet/sing/common/exceptions"
)

func HTTPHost(ctx context.Context, result *Result, reader io.Reader) error {
	request, err := http.ReadRequest(std_bufio.NewReader(reader))
	if err != nil {
		return err
	}
	if request.ProtoMajor != 1 {
		return E.New("unsupported HTTP version: ", request.Proto)
	}
	result.Protocol = C.ProtocolHTTP
	host, _, err := net.SplitHostPort(request.Host)
	if err != nil {
		host = request.Host
	}
	result.Host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return nil
}
