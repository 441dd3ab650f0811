package sniff

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	C "github.com/twnesss/skunk/constant"

	"github.com/sagernet/sing/common/buf"
	E "github.com/sagernet/sing/common/exceptions"
)

// Result describes what a sniffer recognised at the start of a stream.
type Result struct {
	Protocol    string
	ServerName  string
	ALPN        []string
	JA3         string
	Host        string
	ClientHello *tls.ClientHelloInfo
}

type StreamSniffer = func(ctx context.Context, result *Result, reader io.Reader) error

// Skip reports whether the port belongs to a server first protocol, where
// waiting for client bytes would only delay the session.
func Skip(port uint16) bool {
	switch port {
	case 25, 465, 587:
		// SMTP
		return true
	case 143, 993:
		// IMAP
		return true
	case 110, 995:
		// POP3
		return true
	}
	return false
}

// PeekStream reads from conn into buffer until a sniffer accepts the payload
// or no more bytes arrive before the timeout. The bytes read stay in buffer
// for the caller to replay. Sniffers run in parallel; the first in argument
// order that succeeds wins.
func PeekStream(ctx context.Context, conn net.Conn, buffer *buf.Buffer, timeout time.Duration, sniffers ...StreamSniffer) (*Result, error) {
	if timeout == 0 {
		timeout = C.ReadPayloadTimeout
	}
	deadline := time.Now().Add(timeout)
	var errors []error
	for i := 0; ; i++ {
		if buffer.FreeLen() == 0 {
			break
		}
		err := conn.SetReadDeadline(deadline)
		if err != nil {
			return nil, E.Cause(err, "set read deadline")
		}
		_, err = buffer.ReadOnceFrom(conn)
		_ = conn.SetReadDeadline(time.Time{})
		if err != nil {
			if i > 0 {
				break
			}
			return nil, E.Cause(err, "read payload")
		}
		errors = nil
		payload := buffer.Bytes()
		results := make([]snifferResult, len(sniffers))
		var group sync.WaitGroup
		for index, sniffer := range sniffers {
			group.Add(1)
			go func() {
				defer group.Done()
				var result Result
				err := sniffer(ctx, &result, bytes.NewReader(payload))
				results[index] = snifferResult{&result, err}
			}()
		}
		group.Wait()
		for _, sniffed := range results {
			if sniffed.err == nil {
				return sniffed.result, nil
			}
			errors = append(errors, sniffed.err)
		}
	}
	return nil, E.Errors(errors...)
}

type snifferResult struct {
	result *Result
	err    error
}
