package dns

import (
	"context"
	"net/netip"
	"strconv"
	"time"

	C "github.com/twnesss/skunk/constant"

	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/common/task"
	"github.com/sagernet/sing/contrab/freelru"
	"github.com/sagernet/sing/contrab/maphash"

	"github.com/miekg/dns"
)

const (
	cacheCapacity = 1024
	minCacheTTL   = 5
	maxCacheTTL   = 86400
)

var ErrNoAddresses = E.New("no addresses")

type RCodeError uint16

const RCodeNameError = RCodeError(dns.RcodeNameError)

func (e RCodeError) Error() string {
	if name, loaded := dns.RcodeToString[int(e)]; loaded {
		return name
	}
	return "rcode " + strconv.Itoa(int(e))
}

// Client resolves names against one plain DNS server, caching answers for
// their TTL.
type Client struct {
	server    string
	udpClient *dns.Client
	tcpClient *dns.Client
	logger    logger.ContextLogger
	cache     freelru.Cache[dns.Question, []netip.Addr]
}

func NewClient(server string, logger logger.ContextLogger) (*Client, error) {
	serverAddr := M.ParseSocksaddr(server)
	if !serverAddr.IsIP() {
		serverAddr = M.ParseSocksaddrHostPort(server, 53)
	}
	if !serverAddr.IsIP() {
		return nil, E.New("DNS server must be an IP address: ", server)
	}
	if serverAddr.Port == 0 {
		serverAddr.Port = 53
	}
	return &Client{
		server:    serverAddr.String(),
		udpClient: &dns.Client{Net: "udp", Timeout: C.DNSTimeout},
		tcpClient: &dns.Client{Net: "tcp", Timeout: C.DNSTimeout},
		logger:    logger,
		cache:     common.Must1(freelru.NewSharded[dns.Question, []netip.Addr](cacheCapacity, maphash.NewHasher[dns.Question]().Hash32)),
	}, nil
}

// Lookup queries A and AAAA records concurrently. IPv4 addresses come first.
func (c *Client) Lookup(ctx context.Context, domain string) ([]netip.Addr, error) {
	name := dns.Fqdn(domain)
	var (
		response4, response6 []netip.Addr
		err4, err6           error
	)
	var group task.Group
	group.Append("exchange4", func(ctx context.Context) error {
		response4, err4 = c.lookupType(ctx, name, dns.TypeA)
		return err4
	})
	group.Append("exchange6", func(ctx context.Context) error {
		response6, err6 = c.lookupType(ctx, name, dns.TypeAAAA)
		return err6
	})
	_ = group.Run(ctx)
	if len(response4) == 0 && len(response6) == 0 {
		err := err4
		if err == nil {
			err = err6
		}
		if err == nil {
			err = ErrNoAddresses
		}
		return nil, E.Cause(err, "lookup ", domain)
	}
	return append(response4, response6...), nil
}

func (c *Client) lookupType(ctx context.Context, name string, qType uint16) ([]netip.Addr, error) {
	question := dns.Question{Name: name, Qtype: qType, Qclass: dns.ClassINET}
	if addresses, loaded := c.cache.Get(question); loaded {
		return addresses, nil
	}
	message := new(dns.Msg)
	message.SetQuestion(name, qType)
	message.RecursionDesired = true
	response, _, err := c.udpClient.ExchangeContext(ctx, message, c.server)
	if err == nil && response.Truncated {
		response, _, err = c.tcpClient.ExchangeContext(ctx, message, c.server)
	}
	if err != nil {
		return nil, err
	}
	addresses, timeToLive, err := MessageToAddresses(response)
	if err != nil {
		return nil, err
	}
	c.logger.DebugContext(ctx, "exchanged ", dns.TypeToString[qType], " ", name, ": ", len(addresses), " addresses")
	if timeToLive < minCacheTTL {
		timeToLive = minCacheTTL
	} else if timeToLive > maxCacheTTL {
		timeToLive = maxCacheTTL
	}
	c.cache.AddWithLifetime(question, addresses, time.Second*time.Duration(timeToLive))
	return addresses, nil
}

func (c *Client) ClearCache() {
	c.cache.Purge()
}

// MessageToAddresses extracts A and AAAA answers and the smallest TTL among them.
func MessageToAddresses(response *dns.Msg) ([]netip.Addr, uint32, error) {
	if response.Rcode != dns.RcodeSuccess {
		return nil, 0, RCodeError(response.Rcode)
	}
	var (
		addresses  []netip.Addr
		timeToLive uint32
	)
	for _, rawAnswer := range response.Answer {
		var address netip.Addr
		switch answer := rawAnswer.(type) {
		case *dns.A:
			address = M.AddrFromIP(answer.A)
		case *dns.AAAA:
			address = M.AddrFromIP(answer.AAAA)
		default:
			continue
		}
		addresses = append(addresses, address)
		if ttl := rawAnswer.Header().Ttl; timeToLive == 0 || ttl < timeToLive {
			timeToLive = ttl
		}
	}
	return addresses, timeToLive, nil
}
