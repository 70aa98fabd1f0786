package mercury

import (
	"errors"
	"fmt"
)

// RuntimeError represents a failure detected while hosting a dashboard.
//
// Most runtime errors never cross a component boundary: the index, layout
// and scheduler log them and carry on. They are returned from the outer
// surfaces (kernel transport, app wiring, CLI) where a caller can react.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// CellID identifies the affected cell, when there is one.
	CellID string

	// ModelID identifies the affected control instance, when there is one.
	ModelID string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeParse indicates a malformed reserved-MIME payload.
	ErrCodeParse RuntimeErrorCode = "PARSE"

	// ErrCodeUnresolvedControl indicates a control output with no owning cell.
	ErrCodeUnresolvedControl RuntimeErrorCode = "UNRESOLVED_CONTROL"

	// ErrCodeUnknownCell indicates a cell id absent from the current notebook.
	ErrCodeUnknownCell RuntimeErrorCode = "UNKNOWN_CELL"

	// ErrCodeExecution indicates the executor rejected a cell.
	ErrCodeExecution RuntimeErrorCode = "EXECUTION"

	// ErrCodeDisconnected indicates no usable kernel connection.
	ErrCodeDisconnected RuntimeErrorCode = "DISCONNECTED"

	// ErrCodeDisposed indicates use of a component after Close.
	ErrCodeDisposed RuntimeErrorCode = "DISPOSED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.CellID != "" && e.ModelID != "":
		msg = fmt.Sprintf("%s (cell=%s, model=%s)", msg, e.CellID, e.ModelID)
	case e.CellID != "":
		msg = fmt.Sprintf("%s (cell=%s)", msg, e.CellID)
	case e.ModelID != "":
		msg = fmt.Sprintf("%s (model=%s)", msg, e.ModelID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

// HasCode reports whether err wraps a RuntimeError with the given code.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsDisconnected returns true if err reports a missing kernel connection.
func IsDisconnected(err error) bool {
	return HasCode(err, ErrCodeDisconnected)
}

// IsDisposed returns true if err reports use after Close.
func IsDisposed(err error) bool {
	return HasCode(err, ErrCodeDisposed)
}

// NewParseError creates a RuntimeError wrapping a payload decode failure.
func NewParseError(err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeParse,
		Message: "malformed control payload",
		Err:     err,
	}
}

// NewUnresolvedControlError creates a RuntimeError for a control output
// that cannot be tied to a cell. modelID may be empty.
func NewUnresolvedControlError(modelID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnresolvedControl,
		Message: "failed to find the cell associated with control",
		ModelID: modelID,
	}
}

// NewUnknownCellError creates a RuntimeError for a cell id that is not in
// the notebook.
func NewUnknownCellError(cellID string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownCell,
		Message: "cell not found in notebook order",
		CellID:  cellID,
	}
}

// NewExecutionError creates a RuntimeError wrapping an executor failure.
func NewExecutionError(cellID string, err error) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeExecution,
		Message: "executor rejected cell",
		CellID:  cellID,
		Err:     err,
	}
}

// NewDisconnectedError creates a RuntimeError for a missing connection.
func NewDisconnectedError(msg string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeDisconnected, Message: msg}
}

// NewDisposedError creates a RuntimeError for use after Close.
func NewDisposedError(component string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeDisposed,
		Message: component + " is closed",
	}
}
