package app

import "errors"

var (
	// Validation failures: the turn never started, nothing was written.
	ErrEmptyMessage   = errors.New("message is empty")
	ErrNoIdentity     = errors.New("no authenticated identity")
	ErrTurnInFlight   = errors.New("a turn is already in flight for this album")
	ErrAlbumNotFound  = errors.New("album not found")
	ErrAlbumForbidden = errors.New("album forbidden")
	ErrImageNotFound  = errors.New("image not found")

	// ErrGatewayUnavailable marks a failed model call. The user message of
	// the turn is already persisted when this surfaces; it stays.
	ErrGatewayUnavailable = errors.New("assistant unavailable")
)
