package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for routing and communication operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeNotFound        ErrorCode = 1000
	ErrCodeInvalidArgument ErrorCode = 1001
	ErrCodeInvalidState    ErrorCode = 1002
	ErrCodeQueueFull       ErrorCode = 1003

	// Server errors (5xx equivalent)
	ErrCodeInternal              ErrorCode = 2000
	ErrCodeDecompressionFailed   ErrorCode = 2001
	ErrCodeDeserializationFailed ErrorCode = 2002
)

// RoutingError represents a structured error with code and context
type RoutingError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *RoutingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *RoutingError) Unwrap() error {
	return e.Cause
}

// ToGRPCStatus converts RoutingError to gRPC status for the owning service layer
func (e *RoutingError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *RoutingError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeNotFound:
		return codes.NotFound
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeInvalidState:
		return codes.FailedPrecondition
	case ErrCodeQueueFull:
		return codes.ResourceExhausted
	case ErrCodeDecompressionFailed, ErrCodeDeserializationFailed:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}

// NewRoutingError creates a new RoutingError
func NewRoutingError(code ErrorCode, message string, cause error) *RoutingError {
	return &RoutingError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *RoutingError) WithDetail(key string, value interface{}) *RoutingError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func ConnectionNotFound(source, destination string) *RoutingError {
	return NewRoutingError(ErrCodeNotFound, fmt.Sprintf("connection %s -> %s not found", source, destination), nil).
		WithDetail("source", source).
		WithDetail("destination", destination)
}

func ShardNotFound(shardID string) *RoutingError {
	return NewRoutingError(ErrCodeNotFound, fmt.Sprintf("shard %s not found", shardID), nil).
		WithDetail("shard_id", shardID)
}

func NoRoute(source, destination string) *RoutingError {
	return NewRoutingError(ErrCodeNotFound, fmt.Sprintf("no route from %s to %s", source, destination), nil).
		WithDetail("source", source).
		WithDetail("destination", destination)
}

func InvalidArgument(message string, cause error) *RoutingError {
	return NewRoutingError(ErrCodeInvalidArgument, message, cause)
}

func InvalidState(message string) *RoutingError {
	return NewRoutingError(ErrCodeInvalidState, message, nil)
}

func QueueFull(shardID string, depth, capacity int) *RoutingError {
	return NewRoutingError(ErrCodeQueueFull, fmt.Sprintf("queue for shard %s full: %d/%d", shardID, depth, capacity), nil).
		WithDetail("shard_id", shardID).
		WithDetail("depth", depth).
		WithDetail("capacity", capacity)
}

func DecompressionFailed(message string, cause error) *RoutingError {
	return NewRoutingError(ErrCodeDecompressionFailed, message, cause)
}

func DeserializationFailed(message string, cause error) *RoutingError {
	return NewRoutingError(ErrCodeDeserializationFailed, message, cause)
}

func InternalError(message string, cause error) *RoutingError {
	return NewRoutingError(ErrCodeInternal, message, cause)
}

// IsRoutingError checks if an error is a RoutingError
func IsRoutingError(err error) bool {
	_, ok := err.(*RoutingError)
	return ok
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if re, ok := err.(*RoutingError); ok {
		return re.Code
	}
	return ErrCodeInternal
}

// IsNotFound reports whether the error carries the NotFound code
func IsNotFound(err error) bool {
	return GetCode(err) == ErrCodeNotFound
}
