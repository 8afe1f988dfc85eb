package wsnet

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// maxPrefixBits bounds CIDR expansion to a /24
const maxPrefixBits = 24

// expandHosts turns configured candidates into host:port targets.
// An entry is a host name, an IP, host:port, or an IPv4 CIDR block no wider than /24.
func expandHosts(entries []string, port int) ([]string, error) {
	seen := make(map[string]struct{})
	var targets []string

	add := func(host string, p int) {
		t := net.JoinHostPort(host, strconv.Itoa(p))
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
			}
			if !prefix.Addr().Is4() || prefix.Bits() < maxPrefixBits {
				return nil, fmt.Errorf("CIDR %q is too wide, at most /%d IPv4 blocks are scanned", entry, maxPrefixBits)
			}
			prefix = prefix.Masked()
			first := prefix.Addr()
			for a := first; prefix.Contains(a); a = a.Next() {
				if prefix.Bits() < 31 && (a == first || !prefix.Contains(a.Next())) {
					// network and broadcast addresses
					continue
				}
				add(a.String(), port)
			}
			continue
		}

		if host, p, err := net.SplitHostPort(entry); err == nil {
			n, err := strconv.Atoi(p)
			if err != nil || n <= 0 || n > 65535 {
				return nil, fmt.Errorf("invalid port in %q", entry)
			}
			add(host, n)
			continue
		}

		add(entry, port)
	}
	return targets, nil
}
