package context

import (
	"errors"
	"fmt"
)

// ErrInvalidRole is returned when a message role is neither user nor assistant.
var ErrInvalidRole = errors.New("invalid message role")

// StorageError reports that the conversation log could not be read or written.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("conversation store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
