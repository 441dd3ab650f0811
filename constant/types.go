package constant

const (
	TypeDirect   = "direct"
	TypeSOCKS    = "socks"
	TypeHTTP     = "http"
	TypeTor      = "tor"
	TypeFallback = "fallback"
	TypeMixed    = "mixed"
)

const (
	ProtocolTCP       = "tcp"
	ProtocolTLS       = "tls"
	ProtocolHTTP      = "http"
	ProtocolWebSocket = "websocket"
)

const (
	StageTLS   = "tls"
	StageHTTP  = "http"
	StageRelay = "relay"
	StageLog   = "log"
)
