package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Error is the structured error type of the retrieval core.
// It carries enough context (field names, paths, expected vs actual counts)
// to diagnose a failure without re-running it.
type Error struct {
	// Code is the unique error code (e.g., "ERR_207_MANIFEST_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Dependency, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
// Details are appended in key order so messages are stable.
func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}

	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Details[k])
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work against sentinel errors built with New.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration error naming the offending field.
func ConfigError(field, message string) *Error {
	return New(ErrCodeConfigInvalid, message, nil).WithDetail("field", field)
}

// ManifestNotFound reports a directory that is not a valid index.
func ManifestNotFound(dir string, cause error) *Error {
	return New(ErrCodeManifestNotFound, "manifest not found", cause).
		WithDetail("directory", dir).
		WithSuggestion("build the index first or point at the directory that contains manifest.json")
}

// CorruptIndex reports a persisted index whose files disagree with each other.
func CorruptIndex(message, path string, expected, actual int) *Error {
	return New(ErrCodeCorruptIndex, message, nil).
		WithDetail("path", path).
		WithDetail("expected", fmt.Sprint(expected)).
		WithDetail("actual", fmt.Sprint(actual))
}

// BackendUnavailable reports a missing embedding model or unsupported device.
func BackendUnavailable(message string, cause error) *Error {
	return New(ErrCodeBackendUnavailable, message, cause).
		WithSuggestion("fall back to keyword or grep mode, or configure vector_model_name")
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first *Error in err's chain.
func as(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		e, ok := as(err)
		if !ok {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := as(err); ok {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if e, ok := as(err); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return HasCode(err, ErrCodeConfigInvalid)
}

// IsBackendUnavailable reports whether err means the vector backend cannot run.
// Callers use it to fall back to keyword or grep mode.
func IsBackendUnavailable(err error) bool {
	return HasCode(err, ErrCodeBackendUnavailable)
}

// GetCode extracts the error code from an Error.
// Returns empty string if err is not an Error.
func GetCode(err error) string {
	if e, ok := as(err); ok {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from an Error.
func GetCategory(err error) Category {
	if e, ok := as(err); ok {
		return e.Category
	}
	return ""
}
