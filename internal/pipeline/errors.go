package pipeline

import (
	"gitlab.com/tozd/go/errors"
)

// Class groups fatal errors by the stage that raised them
type Class int

const (
	// ClassPrecondition covers problems found before the image is touched
	ClassPrecondition Class = iota + 1
	// ClassLifecycle covers failures while provisioning, populating or detaching the image
	ClassLifecycle
	// ClassUnexpected covers panics and interrupts
	ClassUnexpected
)

func (c Class) String() string {
	switch c {
	case ClassPrecondition:
		return "precondition"
	case ClassLifecycle:
		return "lifecycle"
	case ClassUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Error is a fatal pipeline error
type Error struct {
	Class Class
	Err   error
}

func (e *Error) Error() string {
	return e.Class.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(class Class, err error) error {
	return errors.WithStack(&Error{Class: class, Err: err})
}

// ClassOf returns the class of a pipeline error, if err is one
func ClassOf(err error) (Class, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class, true
	}
	return 0, false
}

// Precondition classifies err as a precondition failure raised before Run
func Precondition(err error) error {
	return newError(ClassPrecondition, err)
}
