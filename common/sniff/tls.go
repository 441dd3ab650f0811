package sniff

import (
	"context"
	"crypto/tls"
	"io"
	"net/netip"

	C "github.com/twnesss/skunk/constant"

	"github.com/dreadl0ck/ja3"
	"github.com/dreadl0ck/tlsx"
	"github.com/sagernet/sing/common/bufio"
)

func TLSClientHello(ctx context.Context, result *Result, reader io.Reader) error {
	var (
		clientHello *tls.ClientHelloInfo
		recorded    recordReader
	)
	recorded.reader = reader
	err := tls.Server(bufio.NewReadOnlyConn(&recorded), &tls.Config{
		GetConfigForClient: func(argHello *tls.ClientHelloInfo) (*tls.Config, error) {
			clientHello = argHello
			return nil, nil
		},
	}).HandshakeContext(ctx)
	if clientHello == nil {
		return err
	}
	result.Protocol = C.ProtocolTLS
	if _, err = netip.ParseAddr(clientHello.ServerName); err != nil {
		result.ServerName = clientHello.ServerName
	}
	result.ALPN = clientHello.SupportedProtos
	result.ClientHello = clientHello
	result.JA3 = fingerprint(recorded.content)
	return nil
}

// fingerprint returns the JA3 hash of the ClientHello record in content, or
// an empty string when it cannot be decoded.
func fingerprint(content []byte) string {
	var hello tlsx.ClientHelloBasic
	if hello.Unmarshal(content) != nil {
		return ""
	}
	return ja3.DigestHex(&hello)
}

type recordReader struct {
	reader  io.Reader
	content []byte
}

func (r *recordReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.content = append(r.content, p[:n]...)
	return n, err
}
