package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeRouteNotFound means no configured route matched the request
	ErrTypeRouteNotFound ErrorType = "route_not_found"
	// ErrTypeNoHealthyEndpoint means the matched route had no dispatchable endpoint
	ErrTypeNoHealthyEndpoint ErrorType = "no_healthy_endpoint"
	// ErrTypeCircuitOpen means the selected endpoint's breaker rejected the attempt
	ErrTypeCircuitOpen ErrorType = "circuit_open"
	// ErrTypeTimeout represents attempt or overall deadline errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeBackend means the endpoint answered with a failure status
	ErrTypeBackend ErrorType = "backend_error"
	// ErrTypeConnection represents connection-level failures reaching an endpoint
	ErrTypeConnection ErrorType = "connection_failure"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeConflict represents resource conflicts (duplicate ids)
	ErrTypeConflict ErrorType = "conflict"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeRateLimit represents rate limit errors
	ErrTypeRateLimit ErrorType = "rate_limit"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// HTTPStatus maps the error type to the status returned to clients.
// Backend errors carry the upstream status in Context["status"] and are
// normally passed through verbatim rather than mapped here.
func (e *AppError) HTTPStatus() int {
	switch e.Type {
	case ErrTypeRouteNotFound, ErrTypeNotFound:
		return http.StatusNotFound
	case ErrTypeNoHealthyEndpoint, ErrTypeCircuitOpen:
		return http.StatusServiceUnavailable
	case ErrTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrTypeConnection, ErrTypeBackend:
		return http.StatusBadGateway
	case ErrTypeValidation:
		return http.StatusBadRequest
	case ErrTypeAuth:
		return http.StatusUnauthorized
	case ErrTypeConflict:
		return http.StatusConflict
	case ErrTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RouteNotFoundError creates an error for a request no route matched
func RouteNotFoundError(path string) *AppError {
	return &AppError{
		Type:    ErrTypeRouteNotFound,
		Message: fmt.Sprintf("no route matches %s", path),
	}
}

// NoHealthyEndpointError creates an error for an empty candidate set
func NoHealthyEndpointError(service string) *AppError {
	return &AppError{
		Type:    ErrTypeNoHealthyEndpoint,
		Message: fmt.Sprintf("no healthy endpoint for %s", service),
	}
}

// CircuitOpenError creates an error for a breaker-rejected attempt
func CircuitOpenError(endpoint string) *AppError {
	return &AppError{
		Type:    ErrTypeCircuitOpen,
		Message: fmt.Sprintf("circuit open for %s", endpoint),
	}
}

// BackendError creates an error for an upstream failure status
func BackendError(status int) *AppError {
	return (&AppError{
		Type:    ErrTypeBackend,
		Message: fmt.Sprintf("backend returned %d", status),
	}).WithContext("status", status)
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// ConflictError creates a new conflict error
func ConflictError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeConflict,
		Message: fmt.Sprintf("%s already exists", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit exceeded for %s", resource),
	}
}

// IsType checks if an error is of a specific type, unwrapping as needed
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}

	return appErr.Type
}
