// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package apperr defines the error taxonomy shared by the ingestion pipeline
// and the query engine. Callers classify errors with errors.Is and errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrUntrustedSource rejects a URL before any network I/O.
	ErrUntrustedSource = errors.New("untrusted source")

	// ErrCancelled marks a user-requested stop. It is not a failure.
	ErrCancelled = errors.New("pipeline stopped by user request")

	ErrCorruptArchive = errors.New("corrupt archive")
	ErrMalformedInput = errors.New("malformed input")
	ErrIndexBuild     = errors.New("index build failed")

	ErrAlreadyRunning    = errors.New("pipeline is already running")
	ErrResetWhileRunning = errors.New("cannot reset while running")

	ErrStoreUnavailable   = errors.New("database is not available")
	ErrSchemaIncompatible = errors.New("database schema is incompatible")

	ErrInvalidRequest = errors.New("invalid request")
)

// TransferError wraps a network or HTTP failure during a download.
type TransferError struct {
	URL string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsClientError reports whether err was caused by the caller's request
// rather than by the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrResetWhileRunning) ||
		errors.Is(err, ErrUntrustedSource)
}

// IsUnavailable reports whether err should surface as a service-unavailable
// condition on the read path.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSchemaIncompatible)
}
