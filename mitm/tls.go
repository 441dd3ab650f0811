package mitm

import (
	"context"
	"crypto/tls"

	"github.com/twnesss/skunk/adapter"
	sTLS "github.com/twnesss/skunk/common/tls"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
)

var _ adapter.Stage = (*TLSStage)(nil)

// TLSStage terminates the client's TLS session with a leaf from the
// certificate authority and opens a matching session to the origin.
type TLSStage struct {
	insecure   bool
	minVersion uint16
	maxVersion uint16
}

func NewTLSStage(options option.TLSStageOptions) (*TLSStage, error) {
	stage := &TLSStage{
		insecure: options.Insecure,
	}
	if options.MinVersion != "" {
		minVersion, err := sTLS.ParseTLSVersion(options.MinVersion)
		if err != nil {
			return nil, E.Cause(err, "parse min_version")
		}
		stage.minVersion = minVersion
	}
	if options.MaxVersion != "" {
		maxVersion, err := sTLS.ParseTLSVersion(options.MaxVersion)
		if err != nil {
			return nil, E.Cause(err, "parse max_version")
		}
		stage.maxVersion = maxVersion
	}
	return stage, nil
}

func (s *TLSStage) Name() string {
	return C.StageTLS
}

func (s *TLSStage) Kind() adapter.StageKind {
	return adapter.StageKindTransform
}

func (s *TLSStage) Handle(ctx context.Context, session adapter.Session) error {
	metadata := session.Metadata()
	clientHello := metadata.ClientHello
	if clientHello == nil {
		return E.New("not a TLS connection")
	}
	authority := session.Authority()
	if authority == nil {
		return E.New("missing certificate authority")
	}
	outConn, err := session.ServerConn(ctx)
	if err != nil {
		return err
	}
	handshakeCtx, cancel := context.WithTimeout(ctx, C.TLSHandshakeTimeout)
	defer cancel()
	tlsConfig := sTLS.ConfigFromClientHello(clientHello)
	tlsConfig.InsecureSkipVerify = s.insecure
	if s.minVersion != 0 && s.minVersion > tlsConfig.MinVersion {
		tlsConfig.MinVersion = s.minVersion
	}
	if s.maxVersion != 0 && (tlsConfig.MaxVersion == 0 || s.maxVersion < tlsConfig.MaxVersion) {
		tlsConfig.MaxVersion = s.maxVersion
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = metadata.Destination.AddrString()
	}
	if session.WouldRun(C.ProtocolHTTP, C.StageHTTP) {
		tlsConfig.NextProtos = sTLS.WithoutProtocol(tlsConfig.NextProtos, "h2")
	}
	serverConn := tls.Client(outConn, tlsConfig)
	err = serverConn.HandshakeContext(handshakeCtx)
	if err != nil {
		return E.Cause(err, "upstream TLS handshake")
	}
	session.SetServerConn(serverConn)
	hostname := clientHello.ServerName
	if hostname == "" {
		hostname = metadata.Destination.AddrString()
	}
	var serverConfig tls.Config
	if negotiated := serverConn.ConnectionState().NegotiatedProtocol; negotiated != "" {
		serverConfig.NextProtos = []string{negotiated}
	}
	serverConfig.MinVersion = tls.VersionTLS10
	serverConfig.GetCertificate = func(info *tls.ClientHelloInfo) (*tls.Certificate, error) {
		return authority.LeafFor(info.Context(), hostname)
	}
	clientTLSConn := tls.Server(session.ClientConn(), &serverConfig)
	err = clientTLSConn.HandshakeContext(handshakeCtx)
	if err != nil {
		return E.Cause(err, "mitm TLS handshake")
	}
	session.SetClientConn(clientTLSConn)
	session.Logger().DebugContext(ctx, "mitm TLS handshake success, ", hostname, " ", serverConn.ConnectionState().NegotiatedProtocol)
	return nil
}
