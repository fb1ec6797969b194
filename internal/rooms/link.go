package rooms

import (
	"net/url"
	"strings"
	"unicode"
)

// TokenQueryParam is the query parameter carrying a participant token, both
// in room links and on the signaling WebSocket URL.
const TokenQueryParam = "t"

// Normalize canonicalizes a phone-number-like identifier: whitespace is
// removed and a leading '+' is added when missing. The result is not
// validated as a dialable number. Input with nothing left after stripping
// yields "".
func Normalize(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier) + 1)
	for _, r := range identifier {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if s == "" || s == "+" {
		return ""
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	return s
}

// BuildLink returns the room page URL for roomID. A non-empty token is
// appended as ?t=<token>.
func BuildLink(baseURL, roomID, token string) string {
	link := strings.TrimRight(baseURL, "/") + "/room/" + url.PathEscape(roomID)
	if token != "" {
		link += "?" + TokenQueryParam + "=" + url.QueryEscape(token)
	}
	return link
}

// TokenFromLink extracts the participant token from a link produced by
// BuildLink.
func TokenFromLink(link string) (string, bool) {
	u, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	tok := u.Query().Get(TokenQueryParam)
	return tok, tok != ""
}
