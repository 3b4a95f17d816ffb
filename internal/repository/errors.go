package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates a constraint rejected the write.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrTransient marks failures that may succeed when the whole transaction is re-run
	// (serialization failures, deadlocks, dropped connections).
	ErrTransient = errors.New("repository: transient failure")
)
