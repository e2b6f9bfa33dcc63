package storage

import "errors"

var (
	// ErrIndexUnreachable marks transient index failures; callers retry.
	ErrIndexUnreachable = errors.New("vector index unreachable")

	// ErrCollectionNotFound is returned for operations on a collection
	// that was never created.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is permanent: a vector's length does not match
	// its declared space. Never truncated or padded, and never retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
