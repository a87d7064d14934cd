package session

import "errors"

var (
	// ErrSessionNotFound is returned for operations against a session id the
	// registry does not hold.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when starting a session that is already
	// live in the registry.
	ErrSessionExists = errors.New("session already live")

	// ErrSessionClosed is returned when an operation races with the session
	// being evicted from the registry.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownParticipant is returned for updates naming a participant that
	// never joined the session.
	ErrUnknownParticipant = errors.New("unknown participant")

	// ErrInvalidTransition is returned for lifecycle calls that do not apply
	// to the session's current status (e.g. resuming a live session), and for
	// participant updates against a Completed session.
	ErrInvalidTransition = errors.New("invalid status transition")
)
