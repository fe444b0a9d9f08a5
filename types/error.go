package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Configuration error codes. Detected before execution starts where possible.
const (
	ErrInvalidGraph      ErrorCode = "INVALID_GRAPH"
	ErrInvalidConfig     ErrorCode = "INVALID_CONFIG"
	ErrUnknownAgent      ErrorCode = "UNKNOWN_AGENT"
	ErrUnknownDependency ErrorCode = "UNKNOWN_DEPENDENCY"
	ErrDependencyCycle   ErrorCode = "DEPENDENCY_CYCLE"
	ErrDuplicateUnit     ErrorCode = "DUPLICATE_UNIT"
)

// Execution error codes
const (
	ErrAgentFailed    ErrorCode = "AGENT_FAILED"
	ErrParallelFailed ErrorCode = "PARALLEL_FAILED"
	ErrStateUpdate    ErrorCode = "STATE_UPDATE"
	ErrCanceled       ErrorCode = "CANCELED"
)

// Gate error codes
const (
	ErrGateFailed ErrorCode = "GATE_FAILED"
)

// Protective-limit error codes. Fatal and never retried.
const (
	ErrCycleDetected         ErrorCode = "CYCLE_DETECTED"
	ErrTransferDepthExceeded ErrorCode = "TRANSFER_DEPTH_EXCEEDED"
)

// Scheduling error codes
const (
	ErrUnitFailed  ErrorCode = "UNIT_FAILED"
	ErrUnitBlocked ErrorCode = "UNIT_BLOCKED"
)

// Storage error codes
const (
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrCheckpointMismatch ErrorCode = "CHECKPOINT_MISMATCH"
	ErrCheckpointIO       ErrorCode = "CHECKPOINT_IO"
	ErrSinkFull           ErrorCode = "SINK_FULL"
)

// Category groups error codes so operators can tell "task genuinely failed"
// apart from "safety bound tripped".
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryExecution     Category = "execution"
	CategoryGate          Category = "gate"
	CategoryLimit         Category = "limit"
	CategoryScheduling    Category = "scheduling"
	CategoryStorage       Category = "storage"
)

var codeCategories = map[ErrorCode]Category{
	ErrInvalidGraph:          CategoryConfiguration,
	ErrInvalidConfig:         CategoryConfiguration,
	ErrUnknownAgent:          CategoryConfiguration,
	ErrUnknownDependency:     CategoryConfiguration,
	ErrDependencyCycle:       CategoryConfiguration,
	ErrDuplicateUnit:         CategoryConfiguration,
	ErrAgentFailed:           CategoryExecution,
	ErrParallelFailed:        CategoryExecution,
	ErrStateUpdate:           CategoryExecution,
	ErrCanceled:              CategoryExecution,
	ErrGateFailed:            CategoryGate,
	ErrCycleDetected:         CategoryLimit,
	ErrTransferDepthExceeded: CategoryLimit,
	ErrUnitFailed:            CategoryScheduling,
	ErrUnitBlocked:           CategoryScheduling,
	ErrCheckpointNotFound:    CategoryStorage,
	ErrCheckpointMismatch:    CategoryStorage,
	ErrCheckpointIO:          CategoryStorage,
	ErrSinkFull:              CategoryStorage,
}

// CategoryOf returns the category a code belongs to.
func CategoryOf(code ErrorCode) Category {
	if c, ok := codeCategories[code]; ok {
		return c
	}
	return CategoryExecution
}

// Error represents a structured error with code, message, and locating metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
	Retryable bool      `json:"retryable"`
	NodeID    string    `json:"node_id,omitempty"`
	UnitID    string    `json:"unit_id,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Gate      string    `json:"gate,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	var loc []string
	if e.NodeID != "" {
		loc = append(loc, "node="+e.NodeID)
	}
	if e.UnitID != "" {
		loc = append(loc, "unit="+e.UnitID)
	}
	if e.Phase != "" {
		loc = append(loc, "phase="+e.Phase)
	}
	if e.Gate != "" {
		loc = append(loc, "gate="+e.Gate)
	}
	if len(loc) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(loc, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error carrying the same code, so
// errors.Is(err, types.NewError(code, "")) works through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Category: CategoryOf(code)}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithNode records the graph node the error happened in.
func (e *Error) WithNode(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// WithUnit records the scheduled unit the error belongs to.
func (e *Error) WithUnit(unitID string) *Error {
	e.UnitID = unitID
	return e
}

// WithGate records the gate phase and gate name.
func (e *Error) WithGate(phase, gate string) *Error {
	e.Phase = phase
	e.Gate = gate
	return e
}

// WithDetail attaches diagnostic text.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode checks whether any error in the chain carries the code.
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// IsLimit reports whether err is a protective-limit error (cycle ceiling,
// transfer depth). Limit errors are never retried.
func IsLimit(err error) bool {
	e, ok := AsError(err)
	return ok && e.Category == CategoryLimit
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	e, ok := AsError(err)
	return ok && e.Category == CategoryConfiguration
}
