package server

import "errors"

var (
	// ErrMalformedMessage marks an inbound frame that could not be decoded.
	// The connection is kept open; only the frame is rejected.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrConflictingResult marks a result report that disagrees with the
	// already-recorded outcome for the same session.
	ErrConflictingResult = errors.New("conflicting result")
)
