package dialer

import (
	"context"
	"net"
	"sync"

	"github.com/twnesss/skunk/adapter"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"
)

// New returns the connector an outbound uses to reach its own server: the
// detour outbound if one is configured, otherwise a plain TCP dialer.
func New(manager adapter.OutboundManager, options option.DialerOptions) adapter.Connector {
	if options.Detour == "" || manager == nil {
		return &DefaultDialer{}
	}
	return NewDetour(manager, options.Detour)
}

type DefaultDialer struct {
	dialer net.Dialer
}

func (d *DefaultDialer) Type() string {
	return C.TypeDirect
}

func (d *DefaultDialer) Tag() string {
	return ""
}

func (d *DefaultDialer) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	return d.dialer.DialContext(ctx, N.NetworkTCP, destination.String())
}

// DetourDialer resolves its outbound by tag on first use, so outbounds may
// reference ones constructed after them.
type DetourDialer struct {
	manager   adapter.OutboundManager
	detour    string
	connector adapter.Connector
	initOnce  sync.Once
	initErr   error
}

func NewDetour(manager adapter.OutboundManager, detour string) *DetourDialer {
	return &DetourDialer{
		manager: manager,
		detour:  detour,
	}
}

func (d *DetourDialer) Start() error {
	_, err := d.Connector()
	return err
}

func (d *DetourDialer) Connector() (adapter.Connector, error) {
	d.initOnce.Do(func() {
		var loaded bool
		d.connector, loaded = d.manager.Outbound(d.detour)
		if !loaded {
			d.initErr = E.New("outbound detour not found: ", d.detour)
		}
	})
	return d.connector, d.initErr
}

func (d *DetourDialer) Type() string {
	connector, err := d.Connector()
	if err != nil {
		return ""
	}
	return connector.Type()
}

func (d *DetourDialer) Tag() string {
	return d.detour
}

func (d *DetourDialer) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	connector, err := d.Connector()
	if err != nil {
		return nil, err
	}
	return connector.Connect(ctx, destination)
}
