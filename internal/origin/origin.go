package origin

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Policy decides which browser origins may open signaling connections and
// call the room API.
//
// The zero Policy allows same-host requests only.
type Policy struct {
	any     bool
	allowed map[string]struct{}
}

// NewPolicy builds a Policy from a configured allow-list. Entries are
// normalized the same way incoming Origin headers are; "*" allows every
// origin and "null" allows opaque origins.
func NewPolicy(allowedOrigins []string) (Policy, error) {
	var p Policy
	for _, entry := range allowedOrigins {
		entry = strings.TrimSpace(entry)
		switch entry {
		case "":
			continue
		case "*":
			p.any = true
			continue
		}
		normalized, _, ok := Normalize(entry)
		if !ok {
			return Policy{}, fmt.Errorf("invalid origin %q", entry)
		}
		if p.allowed == nil {
			p.allowed = make(map[string]struct{})
		}
		p.allowed[normalized] = struct{}{}
	}
	return p, nil
}

// AllowsAny reports whether the policy accepts every origin.
func (p Policy) AllowsAny() bool { return p.any }

// Check inspects the request's Origin header. Requests without one (curl,
// server-to-server webhooks) are allowed and return an empty origin.
func (p Policy) Check(r *http.Request) (normalizedOrigin string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Origin"))
	if header == "" {
		return "", true
	}
	normalized, host, ok := Normalize(header)
	if !ok {
		return "", false
	}
	if !p.allows(normalized, host, r.Host) {
		return "", false
	}
	return normalized, true
}

func (p Policy) allows(normalized, originHost, requestHost string) bool {
	if p.any {
		return true
	}
	if len(p.allowed) > 0 {
		_, ok := p.allowed[normalized]
		return ok
	}

	// Same host:port. Scheme is ignored since TLS is usually terminated by a
	// reverse proxy in front of the broker.
	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return false
	}
	hostname, port, ok := splitHostPort(strings.ToLower(strings.TrimSpace(requestHost)))
	if !ok {
		return false
	}
	reqHost, ok := formatHost(scheme, hostname, port)
	return ok && reqHost == originHost
}

// Normalize validates a browser Origin header and returns the canonical
// scheme://host[:port] form along with its host[:port] part. Default ports are
// dropped. The opaque origin "null" is returned as-is with an empty host.
func Normalize(header string) (normalizedOrigin, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	switch trimmed {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}
	hostname, port, ok := splitHostPort(u.Host)
	if !ok {
		return "", "", false
	}
	host, ok = formatHost(scheme, strings.ToLower(hostname), port)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func formatHost(scheme, hostname, rawPort string) (string, bool) {
	if hostname == "" {
		return "", false
	}
	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals are returned without
// brackets; the port is not validated.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}
	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := raw[1:end], raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, found := strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}
	if strings.Count(raw, ":") > 1 {
		// Unbracketed IPv6 is not a valid authority.
		return "", "", false
	}
	hostname, port, found := strings.Cut(raw, ":")
	if hostname == "" || (found && port == "") {
		return "", "", false
	}
	return hostname, port, true
}
