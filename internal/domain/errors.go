package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrUnknownKind is returned when a job kind has no registered payload shape
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrInvalidParams is returned when job params do not match the kind's shape
	ErrInvalidParams = errors.New("invalid job params")

	// ErrMaxAttemptsExceeded is returned when a job has exhausted its retry budget
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
)

// RetryableError wraps transient failures that should send the job back to
// the queue, attempt permitting.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// FatalError wraps failures a handler knows cannot succeed on retry. The
// worker marks the job failed on first occurrence, ignoring the retry budget.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return "fatal error: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError creates a new fatal error
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
