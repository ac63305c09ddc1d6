package domain

import "errors"

var (
	// ErrAccountNotConfigured means no clearing account could be resolved
	// for the company, so no entry can be drafted at all.
	ErrAccountNotConfigured = errors.New("settlement: clearing account not configured")

	// ErrFinalizeFailed wraps a submit failure on an otherwise valid draft.
	ErrFinalizeFailed = errors.New("settlement: finalize failed")
)
