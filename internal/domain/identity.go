package domain

import "time"

// Identity is the authenticated caller behind a session.
type Identity struct {
	UserID    string
	Handle    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
