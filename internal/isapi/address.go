package isapi

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

var ErrAddressNotAllowed = errors.New("device address is not in an allowed LAN range")

// cgnat is 100.64.0.0/10, used by some campus networks for device VLANs.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// AllowList decides which device addresses the service may contact. Only IP
// literals are accepted, never hostnames.
type AllowList struct {
	extra []netip.Prefix
}

// NewAllowList returns the default private-range list extended with cidrs.
func NewAllowList(cidrs ...string) (*AllowList, error) {
	al := &AllowList{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("allow list %q: %w", c, err)
		}
		al.extra = append(al.extra, p.Masked())
	}
	return al, nil
}

// Allowed reports whether address ("10.0.0.5" or "10.0.0.5:8080") may be
// contacted. Malformed input is rejected.
func (al *AllowList) Allowed(address string) bool {
	ip, ok := parseHost(address)
	if !ok {
		return false
	}
	if ip.IsPrivate() || cgnat.Contains(ip) {
		return true
	}
	if al == nil {
		return false
	}
	for _, p := range al.extra {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Check returns ErrAddressNotAllowed (wrapped with the address) when the
// address is rejected.
func (al *AllowList) Check(address string) error {
	if !al.Allowed(address) {
		return fmt.Errorf("%w: %q", ErrAddressNotAllowed, address)
	}
	return nil
}

// IsAllowedAddress applies the default allow list: RFC 1918, IPv6 ULA and
// 100.64.0.0/10.
func IsAllowedAddress(address string) bool {
	return (*AllowList)(nil).Allowed(address)
}

func parseHost(address string) (netip.Addr, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return netip.Addr{}, false
	}
	host := address
	if h, port, err := net.SplitHostPort(address); err == nil {
		if port == "" {
			return netip.Addr{}, false
		}
		host = h
	} else if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || ip.Zone() != "" {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
