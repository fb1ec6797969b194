package rooms

import "errors"

var (
	// ErrInvalidInput is returned when room creation parameters are malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound covers both missing and TTL-expired rooms.
	ErrNotFound         = errors.New("room not found or expired")
	ErrInvalidToken     = errors.New("invalid token")
	ErrFull             = errors.New("room is full")
	ErrAlreadyConnected = errors.New("participant already connected")
)
