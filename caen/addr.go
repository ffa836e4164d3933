package caen

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAddr parses a "link:node" device address.  Both numbers are C integer
// literals with an optional sign (decimal, 0x hex or 0 for octal), and each
// side must be non-empty and fully consumed.
func ParseAddr(s string) (link, node int, err error) {
	l, n, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("device address %q: missing ':'", s)
	}
	link, err = parseAddrPart(l)
	if err != nil {
		return 0, 0, fmt.Errorf("device address %q: link number: %w", s, err)
	}
	node, err = parseAddrPart(n)
	if err != nil {
		return 0, 0, fmt.Errorf("device address %q: conet node: %w", s, err)
	}
	return link, node, nil
}

func parseAddrPart(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	// C literals only: no digit separators, binary or 0o octal
	digits := strings.ToLower(strings.TrimLeft(s, "+-"))
	if strings.Contains(digits, "_") || strings.HasPrefix(digits, "0b") || strings.HasPrefix(digits, "0o") {
		return 0, fmt.Errorf("%q is not a C integer literal", s)
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
