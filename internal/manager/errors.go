package manager

import (
	"errors"
	"fmt"
)

var (
	errNoFamily    = errors.New("manager: a model family is required")
	errNilPipeline = errors.New("builder returned no pipeline")
)

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ family string }

func (e tooBusyError) Error() string { return "too busy: " + e.family }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

// unsupportedTaskError is a precondition violation: the family has no bucket
// for the task. Raised before any device allocation.
type unsupportedTaskError struct {
	family string
	task   TaskKind
}

func (e unsupportedTaskError) Error() string {
	return fmt.Sprintf("task %s is not supported by model family %s", e.task, e.family)
}

// ErrUnsupportedTask constructs the error reported for a task a family cannot run.
func ErrUnsupportedTask(family string, task TaskKind) error {
	return unsupportedTaskError{family: family, task: task}
}

// IsInvalidTask reports whether err indicates an unsupported task kind.
func IsInvalidTask(err error) bool {
	var e unsupportedTaskError
	return errors.As(err, &e)
}

// constructionError wraps a builder failure. The bucket is left Unloaded.
type constructionError struct {
	bucket Bucket
	err    error
}

func (e constructionError) Error() string {
	return fmt.Sprintf("construct %s pipeline: %v", e.bucket, e.err)
}

func (e constructionError) Unwrap() error { return e.err }

// IsConstructionFailure reports whether err came from pipeline construction.
// Out-of-memory during construction satisfies both this and device.IsOutOfMemory.
func IsConstructionFailure(err error) bool {
	var e constructionError
	return errors.As(err, &e)
}
