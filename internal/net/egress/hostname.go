package egress

import (
	"net/netip"
	"strings"
)

var localHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var localSuffixes = []string{
	".localhost",
	".local",
	".internal",
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// normalizeHostname lowercases, trims a trailing dot and unwraps IPv6
// brackets.
func normalizeHostname(hostname string) string {
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	normalized = strings.TrimSuffix(normalized, ".")
	if strings.HasPrefix(normalized, "[") && strings.HasSuffix(normalized, "]") {
		normalized = normalized[1 : len(normalized)-1]
	}
	return normalized
}

// IsLocalHostname reports whether hostname names the local machine or an
// internal network.
func IsLocalHostname(hostname string) bool {
	normalized := normalizeHostname(hostname)
	if normalized == "" {
		return false
	}
	if localHostnames[normalized] {
		return true
	}
	for _, suffix := range localSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// IsPrivateAddress reports whether address is an IP literal outside the
// public internet: loopback, private, link-local, CGNAT, unspecified or
// multicast, including IPv4-mapped IPv6 forms.
func IsPrivateAddress(address string) bool {
	addr, err := netip.ParseAddr(normalizeHostname(address))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	if addr.Is4() && addr.As4()[0] == 0 {
		return true
	}
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}
