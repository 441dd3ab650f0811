package constant

import "time"

const (
	TCPConnectTimeout   = 15 * time.Second
	ReadPayloadTimeout  = 300 * time.Millisecond
	TLSHandshakeTimeout = 10 * time.Second
	ProxyHandshake      = 10 * time.Second
	DefaultLeafValidity = 7 * 24 * time.Hour
	RootValidity        = 10 * 365 * 24 * time.Hour
	DefaultCaptureLimit = 4 * 1024 * 1024
)

const DNSTimeout = 10 * time.Second
