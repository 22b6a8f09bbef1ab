package engine

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound         = errors.New("task not found")
	ErrImageAlreadyAssigned = errors.New("image already assigned")
	ErrCanceled             = errors.New("task canceled")
	ErrNilPayload           = errors.New("payload is nil")
	ErrNilResult            = errors.New("transform returned nil image")
)

// Processing stages reported by ProcessingError.
const (
	StageTransform = "transform"
	StageEncode    = "encode"
)

// ProcessingError is the failure outcome of a worker run.
//
// Callers can recover the stage with errors.As and the cause with errors.Unwrap.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &ProcessingError{Stage: stage, Err: err}
}

// panicError is what a recovered panic inside a worker turns into.
type panicError struct{ v any }

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.v) }

func notFound(id fmt.Stringer) error {
	return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}
