package memory

import "errors"

var (
	// ErrEmptyContent rejects archival writes with no content.
	ErrEmptyContent = errors.New("archival content required")

	// ErrNotFound indicates the referenced memory record does not exist.
	ErrNotFound = errors.New("memory record not found")
)
