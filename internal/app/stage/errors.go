package stage

import (
	"errors"
	"fmt"
)

var (
	ErrNotJoined     = errors.New("not joined")
	ErrAlreadyJoined = errors.New("already joined")
)

// CollaboratorError reports a failed command to the media service.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func collaboratorFailure(op string, err error) error {
	return &CollaboratorError{Op: op, Err: err}
}
