package store

import "errors"

var (
	// ErrNotFound indicates a referenced site, location, user or
	// permission does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists indicates a uniqueness constraint would be
	// violated by a create.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrLimitExceeded indicates a tenant resource ceiling has been
	// reached and a new resource can not be added.
	ErrLimitExceeded = errors.New("store: limit exceeded")
)
