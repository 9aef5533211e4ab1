package etl

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means the source could not be fetched or read.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrParse means the source content is not valid CSV or JSON.
	ErrParse = errors.New("parse error")

	// ErrPersistence means the store rejected the batch; nothing was written.
	ErrPersistence = errors.New("persistence error")
)

// Stage names the pipeline step that failed.
type Stage string

const (
	StageLoad      Stage = "load"
	StageReconcile Stage = "reconcile"
)

// StageError records which stage failed, the error class and the cause.
// errors.Is matches both the class sentinel and the cause chain.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func sourceError(format string, args ...any) error {
	return &StageError{Stage: StageLoad, Kind: ErrSourceUnavailable, Err: fmt.Errorf(format, args...)}
}

func parseError(format string, args ...any) error {
	return &StageError{Stage: StageLoad, Kind: ErrParse, Err: fmt.Errorf(format, args...)}
}

func persistenceError(err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: StageReconcile, Kind: ErrPersistence, Err: err}
}

// StageOf returns the failing stage of err, or "" if err is not a pipeline error.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
