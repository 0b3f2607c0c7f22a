package models

import "errors"

// Storage errors shared by every store implementation.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStaleJob indicates a conditional job update found the job in a
	// different status than expected, e.g. cancelled by a user or
	// reclaimed by another executor.
	ErrStaleJob = errors.New("job status changed concurrently")
)
