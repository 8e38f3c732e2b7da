package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Honorable-Knights-of-the-Roundtable/peersession/internal/negotiation"
)

var ErrNoICEServers = errors.New("at least one ICE server must be specified")

// Turn the configured ICE server URLs into one ICEServer each.
// Only stun:, stuns:, turn: and turns: URLs are accepted.
func GetICEServers(urls []string) ([]negotiation.ICEServer, error) {
	if len(urls) == 0 {
		return nil, ErrNoICEServers
	}

	servers := make([]negotiation.ICEServer, 0, len(urls))
	for _, url := range urls {
		scheme, _, found := strings.Cut(url, ":")
		if !found {
			return nil, fmt.Errorf("ICE server %q has no scheme", url)
		}
		switch strings.ToLower(scheme) {
		case "stun", "stuns", "turn", "turns":
		default:
			return nil, fmt.Errorf("ICE server %q has unsupported scheme %s", url, scheme)
		}
		servers = append(servers, negotiation.ICEServer{URLs: []string{url}})
	}
	return servers, nil
}
