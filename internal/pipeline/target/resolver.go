package target

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver maps a hostname to exactly one address.
type Resolver interface {
	LookupHost(ctx context.Context, name string) (string, error)
}

// ErrNoAddress is returned when a name resolves but carries no usable address.
var ErrNoAddress = errors.New("no address records")

// SystemResolver uses the operating system's resolver configuration.
type SystemResolver struct {
	Resolver *net.Resolver
}

// LookupHost returns the first IPv4 address of name, or its first address
// when it has no IPv4 records.
func (r SystemResolver) LookupHost(ctx context.Context, name string) (string, error) {
	res := r.Resolver
	if res == nil {
		res = net.DefaultResolver
	}
	addrs, err := res.LookupNetIP(ctx, "ip", name)
	if err != nil {
		return "", err
	}
	return pickAddress(addrs)
}

// DNSResolver queries a specific DNS server instead of the system resolver.
type DNSResolver struct {
	Server string // host:port, e.g. "1.1.1.1:53"
	client *dns.Client
}

// NewDNSResolver returns a resolver that sends queries to server. A server
// without a port defaults to port 53. A bare IPv6 address may be given with
// or without brackets.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		host := strings.TrimSuffix(strings.TrimPrefix(server, "["), "]")
		server = net.JoinHostPort(host, "53")
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &DNSResolver{
		Server: server,
		client: &dns.Client{Timeout: timeout},
	}
}

// LookupHost asks for A records first and falls back to AAAA.
func (r *DNSResolver) LookupHost(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.query(ctx, name, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		if len(addrs) > 0 {
			return addrs[0].String(), nil
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("%s: %w", name, ErrNoAddress)
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, m, r.Server)
	if err != nil {
		return nil, fmt.Errorf("query %s %s: %w", dns.TypeToString[qtype], name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("query %s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
	}

	var out []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		if a, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, a.Unmap())
		}
	}
	return out, nil
}

func pickAddress(addrs []netip.Addr) (string, error) {
	if len(addrs) == 0 {
		return "", ErrNoAddress
	}
	for _, a := range addrs {
		if a.Unmap().Is4() {
			return a.Unmap().String(), nil
		}
	}
	return addrs[0].String(), nil
}
