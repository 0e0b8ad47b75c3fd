package schema

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error codes for structured error reporting.
const (
	ErrCodeAny              = "ERROR"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeCommandExecution = "COMMAND_EXECUTION_ERROR"
	ErrCodeStepExecution    = "STEP_EXECUTION_ERROR"
	ErrCodeStepNotFound     = "STEP_NOT_FOUND"
	ErrCodeUnknownStepType  = "UNKNOWN_STEP_TYPE"
	ErrCodeInterpolation    = "INTERPOLATION_ERROR"
	ErrCodeStore            = "STORE_ERROR"
	ErrCodeInputTimeout     = "INPUT_TIMEOUT"
	ErrCodeProvider         = "PROVIDER_ERROR"
)

// RoastError is the structured error type for engine operations.
type RoastError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Step    string         `json:"step,omitempty"`
	Cause   error          `json:"-"`
}

func (e *RoastError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *RoastError) Unwrap() error {
	return e.Cause
}

// ErrorCode reports the error's code.
func (e *RoastError) ErrorCode() string {
	return e.Code
}

// HTTPStatus returns the "http_status" detail, or 0 when absent.
func (e *RoastError) HTTPStatus() int {
	switch v := e.Details["http_status"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// NewError creates a new RoastError.
func NewError(code, message string) *RoastError {
	return &RoastError{Code: code, Message: message}
}

// NewErrorf creates a new RoastError with a formatted message.
func NewErrorf(code, format string, args ...any) *RoastError {
	return &RoastError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *RoastError) WithStep(step string) *RoastError {
	e.Step = step
	return e
}

// WithCause attaches an underlying cause.
func (e *RoastError) WithCause(err error) *RoastError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *RoastError) WithDetails(details map[string]any) *RoastError {
	e.Details = details
	return e
}

// ConfigurationError reports a malformed declarative structure.
func ConfigurationError(format string, args ...any) *RoastError {
	return NewErrorf(ErrCodeConfiguration, format, args...)
}

// StepExecutionError wraps an unexpected failure from a custom step or action provider.
func StepExecutionError(step string, cause error) *RoastError {
	msg := "step failed"
	if cause != nil {
		msg = cause.Error()
	}
	return NewError(ErrCodeStepExecution, msg).WithStep(step).WithCause(cause)
}

// StepNotFoundError reports a step reference that nothing can satisfy.
func StepNotFoundError(name string) *RoastError {
	return NewErrorf(ErrCodeStepNotFound, "step %q not found", name).WithStep(name)
}

// UnknownStepTypeError reports a step with no registered executor.
func UnknownStepTypeError(kind StepKind, step string) *RoastError {
	return NewErrorf(ErrCodeUnknownStepType, "no executor registered for step type %q", kind).WithStep(step)
}

// CommandExecutionError reports a shell command that exited non-zero or could not be spawned.
type CommandExecutionError struct {
	Command    string
	ExitStatus int
	Output     string
	Cause      error
}

func (e *CommandExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] command %q failed: %v", ErrCodeCommandExecution, e.Command, e.Cause)
	}
	return fmt.Sprintf("[%s] command %q exited with status %d", ErrCodeCommandExecution, e.Command, e.ExitStatus)
}

func (e *CommandExecutionError) Unwrap() error {
	return e.Cause
}

// ErrorCode reports COMMAND_EXECUTION_ERROR.
func (e *CommandExecutionError) ErrorCode() string {
	return ErrCodeCommandExecution
}

type coded interface {
	ErrorCode() string
}

// Codes returns every error code found along err's wrap chain, outermost
// first, always ending with ErrCodeAny. A nil error has no codes.
func Codes(err error) []string {
	if err == nil {
		return nil
	}
	var codes []string
	seen := make(map[string]bool)
	walk(err, func(e error) {
		if c, ok := e.(coded); ok && !seen[c.ErrorCode()] {
			seen[c.ErrorCode()] = true
			codes = append(codes, c.ErrorCode())
		}
	})
	return append(codes, ErrCodeAny)
}

// HasCode reports whether err or anything it wraps carries code.
func HasCode(err error, code string) bool {
	for _, c := range Codes(err) {
		if c == code {
			return true
		}
	}
	return false
}

// IsFatal reports errors that must surface immediately and never be retried,
// wherever the fatal error sits in the wrap chain.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	for _, code := range Codes(err) {
		switch code {
		case ErrCodeConfiguration, ErrCodeStepNotFound, ErrCodeUnknownStepType:
			return true
		}
	}
	return false
}

var codeAliases = map[string]string{
	"standarderror":         ErrCodeAny,
	"error":                 ErrCodeAny,
	"configurationerror":    ErrCodeConfiguration,
	"commandexecutionerror": ErrCodeCommandExecution,
	"stepexecutionerror":    ErrCodeStepExecution,
	"stepnotfounderror":     ErrCodeStepNotFound,
	"unknownsteptypeerror":  ErrCodeUnknownStepType,
	"interpolationerror":    ErrCodeInterpolation,
	"storeerror":            ErrCodeStore,
	"providererror":         ErrCodeProvider,
}

// CodeForName maps an error class name ("CommandExecutionError") or a code
// ("COMMAND_EXECUTION_ERROR") to its code.
func CodeForName(name string) (string, bool) {
	n := strings.TrimSpace(name)
	if code, ok := codeAliases[strings.ToLower(n)]; ok {
		return code, true
	}
	switch n {
	case ErrCodeAny, ErrCodeConfiguration, ErrCodeCommandExecution, ErrCodeStepExecution,
		ErrCodeStepNotFound, ErrCodeUnknownStepType, ErrCodeInterpolation, ErrCodeStore,
		ErrCodeInputTimeout, ErrCodeProvider:
		return n, true
	}
	return "", false
}

func walk(err error, visit func(error)) {
	if err == nil {
		return
	}
	visit(err)
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		walk(u.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			walk(e, visit)
		}
	}
}
