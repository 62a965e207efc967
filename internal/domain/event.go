package domain

import "time"

// Event is one free-text entry a user submitted. Events are never updated.
type Event struct {
	ID        string
	OwnerID   string
	Text      string
	CreatedAt time.Time
}
