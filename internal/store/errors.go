package store

import "errors"

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the backing store cannot serve the call
	// (quota, corruption, connection loss).
	ErrUnavailable = errors.New("store unavailable")
)
