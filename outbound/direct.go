package outbound

import (
	"context"
	"net"
	"net/netip"

	"github.com/twnesss/skunk/adapter"
	"github.com/twnesss/skunk/adapter/outbound"
	C "github.com/twnesss/skunk/constant"
	"github.com/twnesss/skunk/dns"
	"github.com/twnesss/skunk/option"

	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"
)

var _ adapter.Connector = (*Direct)(nil)

type Direct struct {
	outbound.Adapter
	logger   logger.ContextLogger
	dialer   net.Dialer
	resolver *dns.Client
}

func NewDirect(logger logger.ContextLogger, tag string, options option.DirectOutboundOptions) (*Direct, error) {
	direct := &Direct{
		Adapter: outbound.NewAdapter(C.TypeDirect, tag, nil),
		logger:  logger,
	}
	if options.DNSServer != "" {
		resolver, err := dns.NewClient(options.DNSServer, logger)
		if err != nil {
			return nil, E.Cause(err, "create resolver")
		}
		direct.resolver = resolver
	}
	return direct, nil
}

func (d *Direct) Connect(ctx context.Context, destination M.Socksaddr) (net.Conn, error) {
	if !destination.IsValid() {
		return nil, &ConnectError{Reason: ReasonResolution, Outbound: d.Tag(), Destination: destination, Cause: E.New("invalid destination")}
	}
	if destination.IsFqdn() && d.resolver != nil {
		addresses, err := d.resolver.Lookup(ctx, destination.Fqdn)
		if err != nil {
			return nil, &ConnectError{Reason: ReasonResolution, Outbound: d.Tag(), Destination: destination, Cause: err}
		}
		return d.dialSerial(ctx, destination, addresses)
	}
	d.logger.DebugContext(ctx, "outbound connection to ", destination)
	conn, err := d.dialer.DialContext(ctx, N.NetworkTCP, destination.String())
	if err != nil {
		return nil, wrapError(d.Tag(), destination, err)
	}
	return conn, nil
}

func (d *Direct) dialSerial(ctx context.Context, destination M.Socksaddr, addresses []netip.Addr) (net.Conn, error) {
	var errors []error
	for _, address := range addresses {
		d.logger.DebugContext(ctx, "outbound connection to ", destination, " (", address, ")")
		conn, err := d.dialer.DialContext(ctx, N.NetworkTCP, M.SocksaddrFrom(address, destination.Port).String())
		if err == nil {
			return conn, nil
		}
		errors = append(errors, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, &ConnectError{
		Reason:      classify(errors[len(errors)-1]),
		Outbound:    d.Tag(),
		Destination: destination,
		Cause:       E.Errors(errors...),
	}
}
