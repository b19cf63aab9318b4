// Package apperrors defines the failure taxonomy shared by the capture and console paths.
// Every error surfaced to a caller carries a stable Category and a human-readable message.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Category is the stable, machine-readable class of a failure.
type Category string

const (
	CategoryValidation         Category = "validation_error"
	CategoryBrowserLaunch      Category = "browser_launch_error"
	CategoryBrowserInitTimeout Category = "browser_init_timeout"
	CategoryNavigationTimeout  Category = "navigation_timeout"
	CategoryNavigation         Category = "navigation_error"
	CategoryNetworkIdleTimeout Category = "network_idle_timeout"
	CategoryElementWaitTimeout Category = "element_wait_timeout"
	CategoryCaptureTimeout     Category = "capture_timeout"
	CategorySelectorRequired   Category = "selector_required"
	CategoryInvalidSelector    Category = "invalid_selector"
	CategoryElementNotFound    Category = "element_not_found"
	CategoryUnsupportedFormat  Category = "unsupported_format"
	CategorySessionClosed      Category = "session_closed"
	CategoryInternal           Category = "internal_error"
)

// Error is a categorized failure. Err, when set, is the underlying cause.
type Error struct {
	Category Category
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same category, so errors.Is(err, ErrSessionClosed) works
// regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Category == e.Category && t.Message == ""
}

// New builds a categorized error.
func New(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a categorized error around cause.
func Wrap(category Category, cause error, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Sentinels for errors.Is checks. They match any error of their category.
var (
	ErrSessionClosed   = &Error{Category: CategorySessionClosed}
	ErrElementNotFound = &Error{Category: CategoryElementNotFound}
	ErrInvalidSelector = &Error{Category: CategoryInvalidSelector}
)

// Phase names a bounded stage of a request.
type Phase string

const (
	PhaseBrowserInit Phase = "browser_init"
	PhaseNavigation  Phase = "navigation"
	PhaseNetworkIdle Phase = "network_idle"
	PhaseElementWait Phase = "element_wait"
	PhaseCapture     Phase = "capture"
)

var phaseCategories = map[Phase]Category{
	PhaseBrowserInit: CategoryBrowserInitTimeout,
	PhaseNavigation:  CategoryNavigationTimeout,
	PhaseNetworkIdle: CategoryNetworkIdleTimeout,
	PhaseElementWait: CategoryElementWaitTimeout,
	PhaseCapture:     CategoryCaptureTimeout,
}

// Timeout reports that phase exceeded its bound.
func Timeout(phase Phase, limit fmt.Stringer, cause error) *Error {
	category, ok := phaseCategories[phase]
	if !ok {
		category = CategoryInternal
	}
	return &Error{
		Category: category,
		Message:  fmt.Sprintf("%s timed out after %s", phase, limit),
		Err:      cause,
	}
}

// Violation is one broken invariant in a validated input.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violated field, not only the first.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a violation.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Violations = append(e.Violations, Violation{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Merge appends other's violations, prefixing each field.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	if other == nil {
		return
	}
	for _, v := range other.Violations {
		field := v.Field
		if prefix != "" {
			field = prefix + "." + field
		}
		e.Violations = append(e.Violations, Violation{Field: field, Message: v.Message})
	}
}

// OrNil returns e when it holds violations, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Violations) == 0 {
		return nil
	}
	return e
}

// UnsupportedFormatError reports an output encoding the codec does not know.
type UnsupportedFormatError struct {
	Format string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image format %q", e.Format)
}

// CategoryOf classifies any error. Unknown errors are internal.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Category
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryValidation
	}
	var fmtErr *UnsupportedFormatError
	if errors.As(err, &fmtErr) {
		return CategoryUnsupportedFormat
	}
	return CategoryInternal
}
