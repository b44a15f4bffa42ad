package session

import "strings"

// DefaultSuffix is appended to bare phone numbers.
const DefaultSuffix = "@s.whatsapp.net"

// NormalizeSuffix returns suffix with a leading '@', or DefaultSuffix when
// empty.
func NormalizeSuffix(suffix string) string {
	suffix = strings.TrimSpace(suffix)
	if suffix == "" {
		return DefaultSuffix
	}
	if !strings.HasPrefix(suffix, "@") {
		suffix = "@" + suffix
	}
	return suffix
}

// NormalizeAddress turns a caller supplied recipient into a fully qualified
// network address. Addresses that already carry a domain pass through
// unchanged; bare numbers lose '+', spaces and dashes and gain suffix. It
// reports false when nothing usable remains.
func NormalizeAddress(address, suffix string) (string, bool) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", false
	}
	if strings.Contains(address, "@") {
		return address, true
	}
	bare := strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-':
			return -1
		}
		return r
	}, address)
	if bare == "" {
		return "", false
	}
	return bare + NormalizeSuffix(suffix), true
}
