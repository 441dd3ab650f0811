package option

import (
	"context"

	C "github.com/twnesss/skunk/constant"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/json"
	"github.com/sagernet/sing/common/json/badoption"
	M "github.com/sagernet/sing/common/metadata"
)

type _Outbound struct {
	Type string `json:"type"`
	Tag  string `json:"tag,omitempty"`
}

type Outbound struct {
	Type            string                  `json:"type"`
	Tag             string                  `json:"tag,omitempty"`
	DirectOptions   DirectOutboundOptions   `json:"-"`
	SocksOptions    SocksOutboundOptions    `json:"-"`
	HTTPOptions     HTTPOutboundOptions     `json:"-"`
	TorOptions      TorOutboundOptions      `json:"-"`
	FallbackOptions FallbackOutboundOptions `json:"-"`
}

func (h *Outbound) UnmarshalJSONContext(ctx context.Context, content []byte) error {
	var header _Outbound
	err := json.UnmarshalContext(ctx, content, &header)
	if err != nil {
		return err
	}
	h.Type = header.Type
	h.Tag = header.Tag
	var v any
	switch h.Type {
	case C.TypeDirect:
		v = &h.DirectOptions
	case C.TypeSOCKS:
		v = &h.SocksOptions
	case C.TypeHTTP:
		v = &h.HTTPOptions
	case C.TypeTor:
		v = &h.TorOptions
	case C.TypeFallback:
		v = &h.FallbackOptions
	case "":
		return E.New("missing outbound type")
	default:
		return E.New("unknown outbound type: ", h.Type)
	}
	return json.UnmarshalContext(ctx, content, v)
}

type DialerOptions struct {
	Detour string `json:"detour,omitempty"`
}

type ServerOptions struct {
	Server     string `json:"server"`
	ServerPort uint16 `json:"server_port"`
}

func (o ServerOptions) Build() M.Socksaddr {
	return M.ParseSocksaddrHostPort(o.Server, o.ServerPort)
}

type DirectOutboundOptions struct {
	DNSServer string `json:"dns_server,omitempty"`
}

type SocksOutboundOptions struct {
	DialerOptions
	ServerOptions
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type HTTPOutboundOptions struct {
	DialerOptions
	ServerOptions
	Username string            `json:"username,omitempty"`
	Password string            `json:"password,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

type TorOutboundOptions struct {
	DialerOptions
	SocksAddress   string                     `json:"socks_address,omitempty"`
	ExecutablePath string                     `json:"executable_path,omitempty"`
	DataDirectory  string                     `json:"data_directory,omitempty"`
	ExtraArgs      badoption.Listable[string] `json:"extra_args,omitempty"`
}
