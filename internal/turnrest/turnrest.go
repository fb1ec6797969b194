// Package turnrest issues coturn-compatible TURN REST credentials and
// injects them into ICE server lists handed to browsers.
//
// Algorithm (coturn use-auth-secret):
//
//	username   = <unix_expiry_timestamp>:<username_prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
//
// See https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest.
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/iceservers"
)

type Config struct {
	SharedSecret   string
	TTL            time.Duration
	UsernamePrefix string
	Now            func() time.Time
}

type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

type Credentials struct {
	Username   string
	Credential string
	Expires    time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("shared secret is required")
	}
	if cfg.TTL < time.Second {
		return nil, errors.New("TTL must be at least one second")
	}
	if cfg.UsernamePrefix == "" {
		return nil, errors.New("username prefix is required")
	}
	if strings.Contains(cfg.UsernamePrefix, ":") {
		return nil, errors.New("username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Generator{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.UsernamePrefix,
		now:    cfg.Now,
	}, nil
}

// Generate signs credentials for sessionID. An empty sessionID gets a random
// one.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("session id must not contain ':'")
	}
	expires := g.now().UTC().Add(g.ttl).Truncate(time.Second)
	username := fmt.Sprintf("%d:%s:%s", expires.Unix(), g.prefix, sessionID)
	return Credentials{
		Username:   username,
		Credential: sign(g.secret, username),
		Expires:    expires,
	}, nil
}

// ICEServers returns servers with fresh credentials set on every TURN entry.
// A nil Generator, or a list without TURN entries, returns servers unchanged.
func (g *Generator) ICEServers(servers iceservers.List, sessionID string) (iceservers.List, error) {
	if g == nil || !hasTURN(servers) {
		return servers, nil
	}
	creds, err := g.Generate(sessionID)
	if err != nil {
		return nil, err
	}
	return WithCredentials(servers, creds)
}

// WithCredentials copies servers, setting username and credential on entries
// that carry a turn: or turns: URL.
func WithCredentials(servers iceservers.List, creds Credentials) (iceservers.List, error) {
	return servers.WithCredentials(creds.Username, creds.Credential)
}

func hasTURN(servers iceservers.List) bool {
	for _, s := range servers {
		if iceservers.IsTURN(s) {
			return true
		}
	}
	return false
}

func sign(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
