package registry

import (
	"strings"
	"unicode"
)

// NormalizeAddress canonicalizes a caller or target address. Hex addresses,
// either 0x-prefixed or 40 hex digits, become lower-case with a 0x prefix.
// Other identities, such as Fabric client ids, are kept verbatim.
func NormalizeAddress(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", ErrInvalidAddress
	}
	for _, r := range addr {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", ErrInvalidAddress
		}
	}

	body, prefixed := strings.CutPrefix(addr, "0x")
	if !prefixed {
		body, prefixed = strings.CutPrefix(addr, "0X")
	}
	switch {
	case prefixed && body != "" && isHex(body):
		return "0x" + strings.ToLower(body), nil
	case prefixed:
		return "", ErrInvalidAddress
	case len(addr) == 40 && isHex(addr):
		return "0x" + strings.ToLower(addr), nil
	}
	return addr, nil
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// SameAddress reports whether a and b normalize to the same valid address.
func SameAddress(a, b string) bool {
	na, err := NormalizeAddress(a)
	if err != nil {
		return false
	}
	nb, err := NormalizeAddress(b)
	return err == nil && na == nb
}
