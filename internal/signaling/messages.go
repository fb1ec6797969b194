package signaling

import (
	"encoding/json"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/iceservers"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-broker/internal/rooms"
)

// Control message types the broker originates. Everything else on the wire
// is client-to-client payload.
const (
	TypeRole     = "role"
	TypeReady    = "ready"
	TypeFull     = "full"
	TypeError    = "error"
	TypePeerLeft = "peer-left"
)

const roomFullMessage = "Room is full"

type roleMessage struct {
	Type       string          `json:"type"`
	Role       rooms.Role      `json:"role"`
	ICEServers iceservers.List `json:"iceServers"`
}

type statusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

func encodeRole(role rooms.Role, servers iceservers.List) ([]byte, error) {
	return json.Marshal(roleMessage{Type: TypeRole, Role: role, ICEServers: servers})
}

func encodeStatus(typ, message string) []byte {
	// statusMessage only holds strings, so Marshal cannot fail.
	b, _ := json.Marshal(statusMessage{Type: typ, Message: message})
	return b
}

var (
	readyFrame    = encodeStatus(TypeReady, "")
	peerLeftFrame = encodeStatus(TypePeerLeft, "")
	fullFrame     = encodeStatus(TypeFull, roomFullMessage)
)
