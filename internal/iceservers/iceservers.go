// Package iceservers carries the RTCIceServer list handed to browsers.
//
// Entries keep the bytes they were configured with. Fields the broker does
// not understand, and the string-or-list shape of "urls", reach the browser
// unchanged. Only TURN REST credential injection rewrites an entry, and only
// its username and credential keys.
package iceservers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const DefaultSTUNURL = "stun:stun.l.google.com:19302"

// List is a JSON array of RTCIceServer objects. A nil List encodes as [].
type List []json.RawMessage

// Default is the single public STUN server used when nothing is configured.
func Default() List {
	return List{json.RawMessage(`{"urls":"` + DefaultSTUNURL + `"}`)}
}

// Parse accepts any JSON array and keeps each element verbatim.
func Parse(raw string) (List, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	var list List
	if err := dec.Decode(&list); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after ICE server list")
	}
	if list == nil {
		return nil, errors.New("ICE server list must be a JSON array")
	}
	for i, entry := range list {
		list[i] = append(json.RawMessage(nil), bytes.TrimSpace(entry)...)
	}
	return list, nil
}

// FromServers encodes servers built in code (convenience variables, tests).
func FromServers(servers []webrtc.ICEServer) (List, error) {
	list := make(List, 0, len(servers))
	for _, s := range servers {
		entry := map[string]any{"urls": s.URLs}
		if s.Username != "" {
			entry["username"] = s.Username
		}
		if s.Credential != nil {
			entry["credential"] = s.Credential
		}
		b, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, nil
}

func (l List) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]json.RawMessage(l))
}

// server is the subset of RTCIceServer the broker inspects.
type server struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username"`
	Credential any     `json:"credential"`
}

// urlList accepts the browser shape, where urls is a string or a list.
type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*u = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

func decode(entry json.RawMessage) (webrtc.ICEServer, error) {
	var s server
	if err := json.Unmarshal(entry, &s); err != nil {
		return webrtc.ICEServer{}, err
	}
	return webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential}, nil
}

// IsTURN reports whether entry has a turn: or turns: URL.
func IsTURN(entry json.RawMessage) bool {
	s, err := decode(entry)
	if err != nil {
		return false
	}
	for _, raw := range s.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}

// Validate reports entries browsers are likely to reject. The list itself is
// never altered; callers log the problems.
func (l List) Validate(turnRESTEnabled bool) []error {
	var errs []error
	for i, entry := range l {
		s, err := decode(entry)
		if err == nil {
			err = validate(s, turnRESTEnabled)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("iceServers[%d]: %w", i, err))
		}
	}
	return errs
}

func validate(server webrtc.ICEServer, turnRESTEnabled bool) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case strings.HasPrefix(u, "stun:"), strings.HasPrefix(u, "stuns:"):
		case strings.HasPrefix(u, "turn:"), strings.HasPrefix(u, "turns:"):
			requiresTurnCreds = true
		default:
			return fmt.Errorf("unsupported url scheme: %q", raw)
		}
	}

	if requiresTurnCreds && !turnRESTEnabled {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

// WithCredentials returns a copy of l where every TURN entry has its
// username and credential replaced. Other keys of those entries, and every
// non-TURN entry, are kept as configured.
func (l List) WithCredentials(username, credential string) (List, error) {
	out := make(List, len(l))
	for i, entry := range l {
		if !IsTURN(entry) {
			out[i] = entry
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entry, &fields); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		u, _ := json.Marshal(username)
		c, _ := json.Marshal(credential)
		fields["username"] = u
		fields["credential"] = c
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// Servers decodes l for use with pion. Entries that cannot be decoded are
// skipped.
func (l List) Servers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(l))
	for _, entry := range l {
		if s, err := decode(entry); err == nil {
			out = append(out, s)
		}
	}
	return out
}
