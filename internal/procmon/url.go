package procmon

import (
	"net/url"
	"strconv"
	"strings"
)

// PortFromURL extracts the TCP port a ws:// or wss:// URL points at, using
// the scheme default when none is given. It reports false for other schemes
// and for empty or unparseable input.
func PortFromURL(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return 0, false
	}

	var defaultPort int
	switch strings.ToLower(u.Scheme) {
	case "ws":
		defaultPort = 80
	case "wss":
		defaultPort = 443
	default:
		return 0, false
	}

	p := u.Port()
	if p == "" {
		return defaultPort, true
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}
