package util

import "errors"

// Sentinel errors shared by the scan, resolve and materialize layers
var (
	// ErrCancelled indicates an operation stopped because cancellation was requested.
	// It is never counted as a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrLabelCollision indicates a source rename would violate (path, label) uniqueness
	ErrLabelCollision = errors.New("label collision")

	// ErrNotFound indicates a required record or path was not found
	ErrNotFound = errors.New("not found")

	// ErrVerifyFailed indicates a copied file's digest differs from the recorded one
	ErrVerifyFailed = errors.New("verification failed")

	// ErrBusy indicates another scan or materialization is already active
	ErrBusy = errors.New("another operation is already running")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
