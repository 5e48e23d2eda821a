package ssrf

import (
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// defaultBlockedHostnames are rejected before any resolution is attempted.
var defaultBlockedHostnames = []string{
	"localhost",
	"localhost.localdomain",
	"ip6-localhost",
	"ip6-loopback",
}

// hostnameSet holds lower-case ASCII hostnames. Entries match exactly;
// "localhost" additionally matches any subdomain of it.
type hostnameSet map[string]struct{}

func newHostnameSet(extra []string) hostnameSet {
	set := make(hostnameSet, len(defaultBlockedHostnames)+len(extra))
	for _, h := range defaultBlockedHostnames {
		set[h] = struct{}{}
	}
	for _, h := range extra {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}

func (s hostnameSet) contains(host string) bool {
	if _, ok := s[host]; ok {
		return true
	}
	return strings.HasSuffix(host, ".localhost")
}

// hostnameProfile is idna.Lookup without the STD3 and hyphen checks:
// underscores and "--" in the third and fourth positions are accepted.
var hostnameProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
	idna.CheckHyphens(false),
)

// parseIPLiteral returns the address when host is an IPv4 or IPv6 literal.
// Brackets and zone identifiers are tolerated.
func parseIPLiteral(host string) (netip.Addr, bool) {
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone(""), true
}

// normalizeHostname lower-cases the host, drops one trailing dot and maps it
// to its ASCII form so that Unicode look-alikes compare equal to the
// blocked set.
func normalizeHostname(host string) (string, error) {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return "", fmt.Errorf("empty hostname")
	}
	if addr, ok := parseIPLiteral(host); ok {
		return addr.String(), nil
	}

	ascii, err := hostnameProfile.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}
