package nl2sql

import (
	"errors"
	"fmt"
)

// ErrTranslation matches every provider, transport or response failure. A
// model answer that is not SQL is not an error.
var ErrTranslation = errors.New("translation failed")

type Error struct {
	Op       string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s via %s: %v", e.Op, e.Provider, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrTranslation
}
