package domain

import "errors"

// Sentinel errors shared across the engine. Check with errors.Is.
var (
	ErrInvalidRating = errors.New("invalid rating")
	ErrInvalidState  = errors.New("invalid card state")
	ErrNotFound      = errors.New("not found")
	ErrSessionClosed = errors.New("study session is closed")
)
