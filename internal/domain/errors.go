package domain

import "errors"

var (
	// ErrUserNotFound is returned by stores when a profile mutation targets an
	// identity that has not registered yet.
	ErrUserNotFound = errors.New("domain: user not found")
	// ErrHandleTaken is returned when a display handle already belongs to
	// another profile.
	ErrHandleTaken = errors.New("domain: display handle taken")
)
