package store

import (
	"errors"
	"fmt"
)

// ErrCorrupt means stored bytes no longer match their content hash.
var ErrCorrupt = errors.New("content hash mismatch")

// StorageError is a failed disk or index operation. A failed write never
// leaves a visible article behind.
type StorageError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
