package rooms

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	roomIDBytes = 9
	tokenBytes  = 16

	maxRoomIDLen = 64
)

func randomURLSafe(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newRoomID() (string, error) { return randomURLSafe(roomIDBytes) }

func newToken() (string, error) { return randomURLSafe(tokenBytes) }

// ValidRoomID reports whether id is acceptable as a room identifier supplied
// by a client (ad-hoc rooms in anonymous mode).
func ValidRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
