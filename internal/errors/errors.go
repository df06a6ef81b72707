// Package errors provides the structured error taxonomy for the dev server:
// route conflicts, build failures, render failures and timeouts, process
// crashes, and live-update desyncs. Failures are contained at the component
// boundary that detects them and converted into one of these typed errors;
// no error in this package is ever allowed to take down the process.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeRouteConflict ErrorType = "route_conflict"
	ErrorTypeBuild         ErrorType = "build"
	ErrorTypeRender        ErrorType = "render"
	ErrorTypeRenderTimeout ErrorType = "render_timeout"
	ErrorTypeProcessCrash  ErrorType = "process_crash"
	ErrorTypeDesync        ErrorType = "desync_timeout"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeInternal      ErrorType = "internal"
)

// TavoError is a structured error with location and component context.
type TavoError struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Component   string
	FilePath    string
	Line        int
	Column      int
	Recoverable bool
}

// Error implements the error interface.
func (e *TavoError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}
	if e.FilePath != "" {
		location := e.FilePath
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *TavoError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison by type and code.
func (e *TavoError) Is(target error) bool {
	var t *TavoError
	if errors.As(target, &t) {
		return e.Type == t.Type && (t.Code == "" || e.Code == t.Code)
	}
	return false
}

// WithLocation adds file location information.
func (e *TavoError) WithLocation(filePath string, line, column int) *TavoError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column
	return e
}

// WithComponent adds component context.
func (e *TavoError) WithComponent(component string) *TavoError {
	e.Component = component
	return e
}

// IsType reports whether err is a TavoError of the given type.
func IsType(err error, t ErrorType) bool {
	var te *TavoError
	return errors.As(err, &te) && te.Type == t
}

// NewRouteConflict creates a route conflict error. Fatal at table-build
// time: the table must not be activated until the conflict is fixed.
func NewRouteConflict(pattern, kind, fileA, fileB string) *TavoError {
	return &TavoError{
		Type:        ErrorTypeRouteConflict,
		Code:        "ROUTE_CONFLICT",
		Message:     fmt.Sprintf("%s route %q declared by both %s and %s", kind, pattern, fileA, fileB),
		Recoverable: false,
	}
}

// NewBuildError creates a per-entry build error. Non-fatal: the last good
// manifest entry continues serving.
func NewBuildError(sourcePath, message string, cause error) *TavoError {
	return &TavoError{
		Type:        ErrorTypeBuild,
		Code:        "BUILD_FAILED",
		Message:     message,
		Cause:       cause,
		FilePath:    sourcePath,
		Recoverable: true,
	}
}

// NewRenderError creates a per-request render error.
func NewRenderError(artifactRef string, cause error) *TavoError {
	return &TavoError{
		Type:        ErrorTypeRender,
		Code:        "RENDER_FAILED",
		Message:     fmt.Sprintf("rendering %s failed", artifactRef),
		Cause:       cause,
		Recoverable: true,
	}
}

// NewRenderTimeout creates a render timeout error.
func NewRenderTimeout(artifactRef string, timeout time.Duration) *TavoError {
	return &TavoError{
		Type:        ErrorTypeRenderTimeout,
		Code:        "RENDER_TIMEOUT",
		Message:     fmt.Sprintf("rendering %s exceeded %s", artifactRef, timeout),
		Recoverable: true,
	}
}

// NewProcessCrash creates a process crash error surfaced after the restart
// budget is exhausted.
func NewProcessCrash(restarts int, cause error) *TavoError {
	return &TavoError{
		Type:        ErrorTypeProcessCrash,
		Code:        "PROCESS_CRASHED",
		Message:     fmt.Sprintf("backend process crashed after %d restart attempts", restarts),
		Cause:       cause,
		Recoverable: false,
	}
}

// NewDesyncTimeout creates a client desync error. Resolved by forcing a
// full reload on the affected connection.
func NewDesyncTimeout(clientID, entry string) *TavoError {
	return &TavoError{
		Type:        ErrorTypeDesync,
		Code:        "DESYNC_TIMEOUT",
		Message:     fmt.Sprintf("client %s missed ack deadline for entry %q", clientID, entry),
		Recoverable: true,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *TavoError {
	return &TavoError{
		Type:        ErrorTypeConfig,
		Code:        "CONFIG_INVALID",
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewIOError creates an IO error.
func NewIOError(message string, cause error) *TavoError {
	return &TavoError{
		Type:        ErrorTypeIO,
		Code:        "IO_FAILED",
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(message string, cause error) *TavoError {
	return &TavoError{
		Type:        ErrorTypeInternal,
		Code:        "INTERNAL",
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}
