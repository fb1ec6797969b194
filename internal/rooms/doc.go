// Package rooms owns the in-memory registry of call rooms: creation with
// expiry and per-participant tokens, lookup, the two-party join handshake and
// garbage collection of quiet rooms.
//
// Rooms are independent of each other. The Store lock only guards the room
// table; connection bookkeeping is serialized by each Room's own lock.
package rooms
