// Package signaling relays WebRTC signaling frames between the two
// participants of a room over WebSocket.
//
// Each connection is admitted through rooms.Store.Join, told its role and
// ICE servers, and from then on every text frame it sends is forwarded
// verbatim to the other connections in the room. The broker never parses
// SDP or ICE candidates.
package signaling
