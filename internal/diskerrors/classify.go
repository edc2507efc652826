package diskerrors

import "errors"

// Class groups errors by the policy a caller applies to them.
type Class int

const (
	ClassUnknown Class = iota
	// ClassValidation errors are detected before a run is registered.
	ClassValidation
	// ClassExecution errors happen while a run is in flight and end it.
	ClassExecution
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Classify maps error types to their class. It looks through the whole
// chain using errors.As, not only the topmost error.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	{
		var e *InvalidTestConfigError
		if errors.As(err, &e) {
			return ClassValidation
		}
	}
	{
		var e *InsufficientSpaceError
		if errors.As(err, &e) {
			return ClassValidation
		}
	}
	{
		var e *DiskNotAvailableError
		if errors.As(err, &e) {
			return ClassValidation
		}
	}
	{
		var e *FIOExecutionError
		if errors.As(err, &e) {
			return ClassExecution
		}
	}
	{
		var e *JSONParsingError
		if errors.As(err, &e) {
			return ClassExecution
		}
	}
	return ClassUnknown
}

// Retryable reports whether repeating the same request may succeed without
// any change on the caller side: a timed out run or a disk which was not
// available yet. The bridge itself never retries.
func Retryable(err error) bool {
	{
		var e *FIOExecutionError
		if errors.As(err, &e) {
			return e.TimedOut
		}
	}
	{
		var e *DiskNotAvailableError
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}
