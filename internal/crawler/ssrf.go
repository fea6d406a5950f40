package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"
)

// blockedRanges covers private, loopback, link-local, CGNAT, documentation,
// multicast, reserved and unspecified address space. Any resolved address
// landing in one of these fails security validation.
var blockedRanges = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("2001:db8::/32"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

const maxRedirectHops = 5

// Resolver abstracts DNS lookup so tests can inject fixed answers.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Guard validates URLs against SSRF and DNS-rebinding attacks. Every
// hostname is resolved and every resolved address checked against the
// blocked ranges; validation repeats on each navigation and redirect hop so
// a record that changes between checks is still caught.
type Guard struct {
	resolver Resolver
}

// NewGuard builds a guard using the system resolver.
func NewGuard() *Guard {
	return &Guard{resolver: net.DefaultResolver}
}

// NewGuardWithResolver builds a guard with an injected resolver.
func NewGuardWithResolver(resolver Resolver) *Guard {
	return &Guard{resolver: resolver}
}

// ValidateURL parses and fully validates a URL: scheme, hostname, and every
// resolved address. Errors wrap ErrSecurityValidation.
func (g *Guard) ValidateURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: unparseable URL %q", ErrSecurityValidation, rawURL)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q not allowed", ErrSecurityValidation, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrSecurityValidation, rawURL)
	}

	return g.ValidateHost(ctx, host)
}

// ValidateHost resolves a hostname and checks every returned address. A
// literal IP is checked directly without a lookup.
func (g *Guard) ValidateHost(ctx context.Context, host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		return g.CheckIP(addr)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %q: %v", ErrSecurityValidation, host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w: no addresses for %q", ErrSecurityValidation, host)
	}

	for _, addr := range addrs {
		if err := g.CheckIP(addr); err != nil {
			return err
		}
	}
	return nil
}

// CheckIP rejects addresses in any blocked range. IPv4-mapped IPv6 addresses
// are unmapped first so ::ffff:10.0.0.1 cannot slip past the IPv4 table.
func (g *Guard) CheckIP(addr netip.Addr) error {
	addr = addr.Unmap()
	for _, prefix := range blockedRanges {
		if prefix.Contains(addr) {
			return fmt.Errorf("%w: address %s in blocked range %s", ErrSecurityValidation, addr, prefix)
		}
	}
	return nil
}

// ValidateRemoteAddr checks the address a connection actually landed on,
// closing the rebinding window between lookup and connect.
func (g *Guard) ValidateRemoteAddr(remoteAddr string) error {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: unparseable remote address %q", ErrSecurityValidation, remoteAddr)
	}
	return g.CheckIP(addr)
}

// HTTPClient builds an HTTP client whose redirect chain is validated hop by
// hop, bounded at maxRedirectHops.
func (g *Guard) HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirectHops {
				return fmt.Errorf("%w: more than %d redirects", ErrSecurityValidation, maxRedirectHops)
			}
			return g.ValidateURL(req.Context(), req.URL.String())
		},
	}
}
