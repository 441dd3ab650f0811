package option

import "github.com/sagernet/sing/common/json/badoption"

type FallbackOutboundOptions struct {
	Outbounds badoption.Listable[string] `json:"outbounds"`
}
