package config

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/iceservers"
)

const (
	envICEServersJSON = "ICE_SERVERS_JSON"

	envStunURLs       = "STUN_URLS"
	envTurnURLs       = "TURN_URLS"
	envTurnUsername   = "TURN_USERNAME"
	envTurnCredential = "TURN_CREDENTIAL"
)

// DefaultICEServers is handed to browsers when nothing else is configured.
func DefaultICEServers() iceservers.List {
	return iceservers.Default()
}

// resolveICEServers picks the ICE list handed to browsers. ICE_SERVERS_JSON
// wins over the convenience variables and is passed through as written; only
// an absent or unparseable list falls back to the default, and the parse
// error is returned alongside it.
func resolveICEServers(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential string) (iceservers.List, error) {
	if raw := strings.TrimSpace(iceServersJSON); raw != "" {
		list, err := iceservers.Parse(raw)
		if err != nil {
			return DefaultICEServers(), fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return list, nil
	}

	servers := iceServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential)
	if len(servers) == 0 {
		return DefaultICEServers(), nil
	}
	list, err := iceservers.FromServers(servers)
	if err != nil {
		return DefaultICEServers(), err
	}
	return list, nil
}

// iceServersFromConvenienceEnv builds a list from comma-separated STUN_URLS
// and TURN_URLS. Missing TURN credentials surface as validation warnings.
func iceServersFromConvenienceEnv(stunURLs, turnURLs, turnUsername, turnCredential string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stunList := splitCommaSeparated(stunURLs); len(stunList) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stunList})
	}
	if turnList := splitCommaSeparated(turnURLs); len(turnList) > 0 {
		server := webrtc.ICEServer{URLs: turnList, Username: strings.TrimSpace(turnUsername)}
		if cred := strings.TrimSpace(turnCredential); cred != "" {
			server.Credential = cred
		}
		servers = append(servers, server)
	}
	return servers
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
