// Package diskerrors contains the typed failures of the benchmark bridge.
//
// Every error carries a message, a machine readable context and an optional
// recovery hint, and converts to a StructuredError which can be sent to a
// control surface as is. Callers use errors.As on the concrete types, or
// Classify, to tell validation failures from execution failures.
package diskerrors

import (
	"errors"
	"fmt"
	"maps"
	"time"
	"unicode/utf8"
)

// PreviewLimit bounds the amount of process output copied into error context.
const PreviewLimit = 200

// StructuredError is the transport form of a typed failure.
type StructuredError struct {
	ErrorType    string         `json:"error_type" yaml:"error_type"`
	Message      string         `json:"message" yaml:"message"`
	Context      map[string]any `json:"context" yaml:"context"`
	RecoveryHint string         `json:"recovery_hint,omitempty" yaml:"recovery_hint,omitempty"`
	Timestamp    time.Time      `json:"timestamp" yaml:"timestamp"`
}

func (s StructuredError) Error() string {
	return s.Message
}

// ToDict returns the plain mapping form of a structured error.
func (s StructuredError) ToDict() map[string]any {
	var hint any
	if s.RecoveryHint != "" {
		hint = s.RecoveryHint
	}
	return map[string]any{
		"error_type":    s.ErrorType,
		"message":       s.Message,
		"context":       maps.Clone(s.Context),
		"recovery_hint": hint,
		"timestamp":     s.Timestamp.Format(time.RFC3339Nano),
	}
}

// Structurer is implemented by every error of this package.
type Structurer interface {
	error
	Structured() StructuredError
}

// DiskBenchError is the base of the taxonomy. Variants embed it.
type DiskBenchError struct {
	Kind         string
	Message      string
	Context      map[string]any
	RecoveryHint string
	Timestamp    time.Time
}

func newBase(kind, message string, ctx map[string]any, hint string) DiskBenchError {
	if ctx == nil {
		ctx = make(map[string]any)
	}
	return DiskBenchError{
		Kind:         kind,
		Message:      message,
		Context:      ctx,
		RecoveryHint: hint,
		Timestamp:    time.Now().UTC(),
	}
}

// New returns a generic DiskBenchError.
func New(message string, ctx map[string]any, hint string) *DiskBenchError {
	e := newBase("DiskBenchError", message, ctx, hint)
	return &e
}

func (e *DiskBenchError) Error() string {
	return e.Message
}

func (e *DiskBenchError) Structured() StructuredError {
	kind := e.Kind
	if kind == "" {
		kind = "DiskBenchError"
	}
	return StructuredError{
		ErrorType:    kind,
		Message:      e.Message,
		Context:      maps.Clone(e.Context),
		RecoveryHint: e.RecoveryHint,
		Timestamp:    e.Timestamp,
	}
}

func (e *DiskBenchError) ToDict() map[string]any {
	return e.Structured().ToDict()
}

// FIOExecutionError reports that the benchmark executable failed or produced
// unusable output.
type FIOExecutionError struct {
	DiskBenchError
	ReturnCode int
	Stdout     string
	Stderr     string
	TimedOut   bool
}

const hintExecutable = "Check that the diskbench executable and fio are installed and runnable (try `diskbench --version`)."

func NewFIOExecutionError(message string, returnCode int, stdout, stderr string) *FIOExecutionError {
	ctx := map[string]any{
		"return_code":    returnCode,
		"stdout_preview": Preview(stdout, PreviewLimit),
		"stderr_preview": Preview(stderr, PreviewLimit),
		"timed_out":      false,
	}
	return &FIOExecutionError{
		DiskBenchError: newBase("FIOExecutionError", message, ctx, hintExecutable),
		ReturnCode:     returnCode,
		Stdout:         stdout,
		Stderr:         stderr,
	}
}

// NewFIOTimeoutError reports a run killed after exceeding its wall clock limit.
func NewFIOTimeoutError(timeout time.Duration, stdout, stderr string) *FIOExecutionError {
	e := NewFIOExecutionError(
		fmt.Sprintf("benchmark executable timed out after %s", timeout),
		-1, stdout, stderr,
	)
	e.TimedOut = true
	e.Context["timed_out"] = true
	e.Context["timeout_s"] = timeout.Seconds()
	return e
}

// DiskNotAvailableError reports an unusable target path.
type DiskNotAvailableError struct {
	DiskBenchError
	DiskPath string
	Reason   string
}

func NewDiskNotAvailableError(diskPath, reason string) *DiskNotAvailableError {
	return &DiskNotAvailableError{
		DiskBenchError: newBase(
			"DiskNotAvailableError",
			fmt.Sprintf("Disk %s is not available: %s", diskPath, reason),
			map[string]any{"disk_path": diskPath, "reason": reason},
			"Make sure the disk is mounted and writable by the current user.",
		),
		DiskPath: diskPath,
		Reason:   reason,
	}
}

// InsufficientSpaceError reports a failed pre-flight capacity check.
type InsufficientSpaceError struct {
	DiskBenchError
	RequiredGB  float64
	AvailableGB float64
	DiskPath    string
}

func NewInsufficientSpaceError(requiredGB, availableGB float64, diskPath string) *InsufficientSpaceError {
	return &InsufficientSpaceError{
		DiskBenchError: newBase(
			"InsufficientSpaceError",
			fmt.Sprintf("Insufficient space on %s: need %.1fGB, have %.1fGB", diskPath, requiredGB, availableGB),
			map[string]any{
				"required_gb":  requiredGB,
				"available_gb": availableGB,
				"disk_path":    diskPath,
			},
			"Free up space on the target disk or choose a smaller test size.",
		),
		RequiredGB:  requiredGB,
		AvailableGB: availableGB,
		DiskPath:    diskPath,
	}
}

// InvalidTestConfigError reports a rejected request parameter.
type InvalidTestConfigError struct {
	DiskBenchError
	Field string
	Value any
}

func NewInvalidTestConfigError(message, field string, value any) *InvalidTestConfigError {
	ctx := map[string]any{}
	if field != "" {
		ctx["field"] = field
		ctx["value"] = value
	}
	return &InvalidTestConfigError{
		DiskBenchError: newBase(
			"InvalidTestConfigError",
			message,
			ctx,
			"Check the test parameters; `diskbench-bridge types` lists the supported test types.",
		),
		Field: field,
		Value: value,
	}
}

// JSONParsingError reports that the recovered output is not a usable result.
type JSONParsingError struct {
	DiskBenchError
	LineNo         int
	ColumnNo       int
	ContentPreview string
}

func NewJSONParsingError(message string, lineNo, columnNo int, contentPreview string) *JSONParsingError {
	preview := Preview(contentPreview, PreviewLimit)
	return &JSONParsingError{
		DiskBenchError: newBase(
			"JSONParsingError",
			message,
			map[string]any{
				"line_no":         lineNo,
				"column_no":       columnNo,
				"content_preview": preview,
			},
			"Run the executable manually with --output-format json and inspect its output.",
		),
		LineNo:         lineNo,
		ColumnNo:       columnNo,
		ContentPreview: preview,
	}
}

// AsStructured returns the structured form of any error of this package
// found in the chain of err.
func AsStructured(err error) (StructuredError, bool) {
	var s Structurer
	if errors.As(err, &s) {
		return s.Structured(), true
	}
	var se StructuredError
	if errors.As(err, &se) {
		return se, true
	}
	return StructuredError{}, false
}

// Structure converts any error into a StructuredError, wrapping unknown
// errors in a generic DiskBenchError.
func Structure(err error) StructuredError {
	if s, ok := AsStructured(err); ok {
		return s
	}
	return New(err.Error(), nil, "").Structured()
}

// Preview returns at most limit bytes of s, marking the truncation.
func Preview(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "...(truncated)"
}
