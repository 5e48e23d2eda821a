package ssrf

import (
	"encoding/binary"
	"net/netip"
	"strings"
)

// IPv4 category names. They appear verbatim in rejection reasons.
const (
	CategoryThisNetwork = "This network"
	CategoryPrivateA    = "Private (Class A)"
	CategoryCGNAT       = "Carrier-grade NAT"
	CategoryLoopback    = "Loopback"
	CategoryLinkLocal   = "Link-local"
	CategoryPrivateB    = "Private (Class B)"
	CategoryPrivateC    = "Private (Class C)"
	CategoryMulticast   = "Multicast"
	CategoryReserved    = "Reserved"
)

// IPv6 category names.
const (
	CategoryIPv6Loopback    = "IPv6 loopback"
	CategoryIPv6LinkLocal   = "IPv6 link-local"
	CategoryIPv6UniqueLocal = "IPv6 unique local"
	CategoryIPv6Multicast   = "IPv6 multicast"
	CategoryIPv6Unspecified = "IPv6 unspecified"
	CategoryIPv4Mapped      = "IPv4-mapped IPv6"
)

type ipv4Range struct {
	start uint32
	end   uint32
	name  string
}

// blockedIPv4Ranges is scanned linearly; endpoints are inclusive.
var blockedIPv4Ranges = []ipv4Range{
	{ipv4(0, 0, 0, 0), ipv4(0, 255, 255, 255), CategoryThisNetwork},
	{ipv4(10, 0, 0, 0), ipv4(10, 255, 255, 255), CategoryPrivateA},
	{ipv4(100, 64, 0, 0), ipv4(100, 127, 255, 255), CategoryCGNAT},
	{ipv4(127, 0, 0, 0), ipv4(127, 255, 255, 255), CategoryLoopback},
	{ipv4(169, 254, 0, 0), ipv4(169, 254, 255, 255), CategoryLinkLocal},
	{ipv4(172, 16, 0, 0), ipv4(172, 31, 255, 255), CategoryPrivateB},
	{ipv4(192, 168, 0, 0), ipv4(192, 168, 255, 255), CategoryPrivateC},
	{ipv4(224, 0, 0, 0), ipv4(239, 255, 255, 255), CategoryMulticast},
	{ipv4(240, 0, 0, 0), ipv4(255, 255, 255, 255), CategoryReserved},
}

type ipv6Rule struct {
	prefixes []string // matched against the expanded form, e.g. "fe80:0000:..."
	exact    string
	name     string
}

var blockedIPv6Rules = []ipv6Rule{
	{exact: "0000:0000:0000:0000:0000:0000:0000:0001", name: CategoryIPv6Loopback},
	{exact: "0000:0000:0000:0000:0000:0000:0000:0000", name: CategoryIPv6Unspecified},
	{prefixes: []string{"fe8", "fe9", "fea", "feb"}, name: CategoryIPv6LinkLocal},
	{prefixes: []string{"fc", "fd"}, name: CategoryIPv6UniqueLocal},
	{prefixes: []string{"ff"}, name: CategoryIPv6Multicast},
}

func ipv4(a, b, c, d byte) uint32 {
	return binary.BigEndian.Uint32([]byte{a, b, c, d})
}

// Classification is the verdict for a single address.
type Classification struct {
	Blocked  bool
	Category string
}

// ClassifyIP parses a literal IPv4 or IPv6 address and reports whether it
// falls in a disallowed range. Strings that are not IP literals are reported
// as not blocked; callers resolve hostnames before classifying.
func ClassifyIP(s string) Classification {
	addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
	if err != nil {
		return Classification{}
	}
	return ClassifyAddr(addr)
}

// ClassifyAddr classifies an already parsed address. Zones are ignored.
func ClassifyAddr(addr netip.Addr) Classification {
	if !addr.IsValid() {
		return Classification{}
	}
	addr = addr.WithZone("")

	if addr.Is4() {
		return classifyIPv4(addr)
	}

	// ::ffff:a.b.c.d carries an IPv4 address; judge it by the IPv4 table so
	// wrapping cannot bypass it.
	if addr.Is4In6() {
		inner := classifyIPv4(addr.Unmap())
		if inner.Blocked {
			inner.Category = CategoryIPv4Mapped + " (" + inner.Category + ")"
		}
		return inner
	}

	return classifyIPv6(addr)
}

func classifyIPv4(addr netip.Addr) Classification {
	b := addr.As4()
	n := binary.BigEndian.Uint32(b[:])
	for _, r := range blockedIPv4Ranges {
		if n >= r.start && n <= r.end {
			return Classification{Blocked: true, Category: r.name}
		}
	}
	return Classification{}
}

func classifyIPv6(addr netip.Addr) Classification {
	text := strings.ToLower(addr.StringExpanded())
	for _, rule := range blockedIPv6Rules {
		if rule.exact != "" && text == rule.exact {
			return Classification{Blocked: true, Category: rule.name}
		}
		for _, p := range rule.prefixes {
			if strings.HasPrefix(text, p) {
				return Classification{Blocked: true, Category: rule.name}
			}
		}
	}
	return Classification{}
}
