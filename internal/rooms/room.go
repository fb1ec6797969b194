package rooms

import (
	"crypto/subtle"
	"sync"
	"time"
)

// Role is the part a connection plays in the WebRTC offer/answer exchange.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// MaxPeers is the number of connections a room admits concurrently.
const MaxPeers = 2

// Peer is the relay's handle to one duplex connection.
type Peer interface {
	ID() string
	// Send queues a frame for delivery without blocking. An error means the
	// frame was dropped.
	Send(frame []byte) error
	// Close signals the connection to shut down. It is idempotent.
	Close()
}

type member struct {
	peer Peer
	role Role
}

// Room is a signaling session for exactly two participants.
//
// ID, Participants, CreatedAt and ExpiresAt are immutable after creation.
type Room struct {
	ID           string
	Participants []string
	CreatedAt    time.Time
	// ExpiresAt is zero for rooms that never expire (anonymous mode).
	ExpiresAt time.Time

	// tokens[i] belongs to Participants[i].
	tokens []string

	mu      sync.Mutex
	members map[string]member
	// removed is set once the room has left the store; joins must fail.
	removed bool
}

func newRoom(id string, participants, tokens []string, createdAt, expiresAt time.Time) *Room {
	return &Room{
		ID:           id,
		Participants: participants,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		tokens:       tokens,
		members:      make(map[string]member, MaxPeers),
	}
}

// Token returns the token issued to participant.
func (r *Room) Token(participant string) (string, bool) {
	for i, p := range r.Participants {
		if p == participant {
			return r.tokens[i], true
		}
	}
	return "", false
}

func (r *Room) hasToken(token string) bool {
	if token == "" {
		return false
	}
	found := false
	for _, t := range r.tokens {
		if subtle.ConstantTimeCompare([]byte(t), []byte(token)) == 1 {
			found = true
		}
	}
	return found
}

func (r *Room) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// eligibleLocked reports whether the room may be garbage collected: it must
// be quiet and either expired or without an expiry at all.
func (r *Room) eligibleLocked(now time.Time) bool {
	if len(r.members) > 0 {
		return false
	}
	return r.ExpiresAt.IsZero() || r.expired(now)
}

// Connected returns the number of registered connections.
func (r *Room) Connected() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Others returns the peers registered under a key other than key.
func (r *Room) Others(key string) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Peer, 0, len(r.members))
	for k, m := range r.members {
		if k == key {
			continue
		}
		out = append(out, m.peer)
	}
	return out
}

func (r *Room) peersLocked() []Peer {
	out := make([]Peer, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.peer)
	}
	return out
}

// nextRoleLocked picks the role for a newcomer. An empty room gets a caller;
// otherwise the newcomer takes whichever role the present peer does not hold,
// so a participant rejoining mid-session never duplicates a role.
func (r *Room) nextRoleLocked() Role {
	for _, m := range r.members {
		if m.role == RoleCaller {
			return RoleCallee
		}
		return RoleCaller
	}
	return RoleCaller
}
