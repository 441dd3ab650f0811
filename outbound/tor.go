package outbound

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/adapter/outbound"
	"github.com/twnesss/skunk/common/dialer"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/option"

	"github.com/cretz/bine/tor"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
)

var _ adapter.Connector = (*Tor)(nil)

// Tor reaches destinations through the Tor network, either via an existing
// SocksPort or a tor process started on first use. Streams to different
// destinations use different SOCKS credentials so tor isolates them.
type Tor struct {
	outbound.Adapter
	ctx          context.Context
	logger       logger.ContextLogger
	detour       adapter.Connector
	startConf    *tor.StartConf
	access       sync.Mutex
	instance     *tor.Tor
	socksAddress M.Socksaddr
}

func NewTor(ctx context.Context, manager adapter.OutboundManager, logger logger.ContextLogger, tag string, options option.TorOutboundOptions) (*Tor, error) {
	outbound := &Tor{
		Adapter: outbound.NewAdapterWithDialerOptions(C.TypeTor, tag, options.DialerOptions),
		ctx:     ctx,
		logger:  logger,
		detour:  dialer.New(manager, options.DialerOptions),
	}
	if options.SocksAddress != "" {
		outbound.socksAddress = M.ParseSocksaddr(options.SocksAddress)
		if !outbound.socksAddress.IsValid() || outbound.socksAddress.Port == 0 {
			return nil, E.New("invalid socks_address: ", options.SocksAddress)
		}
		return outbound, nil
	}
	outbound.startConf = &tor.StartConf{
		ExePath:   options.ExecutablePath,
		DataDir:   options.DataDirectory,
		ExtraArgs: options.ExtraArgs,
	}
	return outbound, nil
}

func (t *Tor) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	socksAddress, err := t.socksServer(ctx)
	if err != nil {
		return nil, &ConnectError{Reason: ReasonNetwork, Outbound: t.Tag(), Destination: destination, Cause: err}
	}
	t.logger.DebugContext(ctx, "outbound connection to ", destination)
	conn, err := t.detour.Connect(ctx, socksAddress)
	if err != nil {
		return nil, wrapError(t.Tag(), destination, err)
	}
	err = socksHandshake(ctx, conn, destination, "skunk", destination.AddrString())
	if err != nil {
		conn.Close()
		return nil, wrapHandshake(t.Tag(), destination, err)
	}
	return conn, nil
}

func (t *Tor) socksServer(ctx context.Context) (M.Socksaddr, error) {
	if t.startConf == nil {
		return t.socksAddress, nil
	}
	t.access.Lock()
	defer t.access.Unlock()
	if t.instance != nil {
		return t.socksAddress, nil
	}
	t.logger.Info("starting tor")
	instance, err := tor.Start(t.ctx, t.startConf)
	if err != nil {
		return M.Socksaddr{}, E.Cause(err, "start tor")
	}
	err = instance.EnableNetwork(ctx, true)
	if err != nil {
		instance.Close()
		return M.Socksaddr{}, E.Cause(err, "bootstrap tor")
	}
	listeners, err := instance.Control.GetInfo("net/listeners/socks")
	if err != nil {
		instance.Close()
		return M.Socksaddr{}, E.Cause(err, "query tor socks listener")
	}
	var socksAddress M.Socksaddr
	for _, listener := range listeners {
		for _, address := range strings.Fields(listener.Val) {
			socksAddress = M.ParseSocksaddr(strings.Trim(address, "\""))
			if socksAddress.IsValid() {
				break
			}
		}
	}
	if !socksAddress.IsValid() {
		instance.Close()
		return M.Socksaddr{}, E.New("tor has no socks listener")
	}
	t.instance = instance
	t.socksAddress = socksAddress
	t.logger.Info("tor started, socks listener at ", socksAddress)
	return socksAddress, nil
}

func (t *Tor) Close() error {
	t.access.Lock()
	defer t.access.Unlock()
	if t.instance == nil {
		return nil
	}
	err := t.instance.Close()
	t.instance = nil
	return err
}
