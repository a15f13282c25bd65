package dto

import "net/http"

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeUnavailable is used when a dependency cannot be reached
	ErrCodeUnavailable = "ERR_UNAVAILABLE"
)

// Validation error codes
const (
	ErrCodeValidation = "ERR_VALIDATION"
)

// Authentication error codes
const (
	// ErrCodeUnauthorized is used when authentication is required but missing/invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeForbidden is used when the token lacks a scope
	ErrCodeForbidden = "ERR_FORBIDDEN"
	// ErrCodeTokenExpired is used when the auth token has expired
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	// ErrCodeTokenInvalid is used when the auth token is invalid
	ErrCodeTokenInvalid = "ERR_TOKEN_INVALID"
)

// Resource error codes
const (
	ErrCodeNotFound            = "ERR_NOT_FOUND"
	ErrCodeAlreadyExists       = "ERR_ALREADY_EXISTS"
	ErrCodeConflict            = "ERR_CONFLICT"
	ErrCodeConcurrencyConflict = "ERR_CONCURRENCY_CONFLICT"
	ErrCodeInvalidState        = "ERR_INVALID_STATE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
)

// Invoice numbering error codes
const (
	// ErrCodeStoreUnavailable is used when the counter database cannot be reached
	ErrCodeStoreUnavailable = "ERR_STORE_UNAVAILABLE"
	// ErrCodeAllocationFailed is used when the counter row could not be incremented
	ErrCodeAllocationFailed = "ERR_ALLOCATION_FAILED"
)

// Sync and tunnel error codes
const (
	ErrCodeSyncInProgress   = "ERR_SYNC_IN_PROGRESS"
	ErrCodeQueueFull        = "ERR_QUEUE_FULL"
	ErrCodeTunnelNotFound   = "ERR_TUNNEL_NOT_FOUND"
	ErrCodeTunnelDown       = "ERR_TUNNEL_UNAVAILABLE"
	ErrCodeTunnelConfig     = "ERR_TUNNEL_CONFIG"
	ErrCodeGatewayDown      = "ERR_GATEWAY_UNAVAILABLE"
	ErrCodeUnsupportedSync  = "ERR_UNSUPPORTED_DIRECTION"
	ErrCodeRequestTooLarge  = "ERR_REQUEST_TOO_LARGE"
	ErrCodeSchedulerStopped = "ERR_SCHEDULER_STOPPED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:     http.StatusInternalServerError,
	ErrCodeInternal:    http.StatusInternalServerError,
	ErrCodeUnavailable: http.StatusServiceUnavailable,

	ErrCodeValidation: http.StatusBadRequest,

	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeTokenInvalid: http.StatusUnauthorized,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConflict:            http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeInvalidState:        http.StatusUnprocessableEntity,

	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeInvalidJSON:  http.StatusBadRequest,

	ErrCodeStoreUnavailable: http.StatusServiceUnavailable,
	ErrCodeAllocationFailed: http.StatusInternalServerError,

	ErrCodeSyncInProgress:   http.StatusConflict,
	ErrCodeQueueFull:        http.StatusServiceUnavailable,
	ErrCodeTunnelNotFound:   http.StatusNotFound,
	ErrCodeTunnelDown:       http.StatusServiceUnavailable,
	ErrCodeTunnelConfig:     http.StatusInternalServerError,
	ErrCodeGatewayDown:      http.StatusBadGateway,
	ErrCodeUnsupportedSync:  http.StatusBadRequest,
	ErrCodeRequestTooLarge:  http.StatusRequestEntityTooLarge,
	ErrCodeSchedulerStopped: http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DomainErrorCodeMapping maps domain error codes to API error codes
var DomainErrorCodeMapping = map[string]string{
	"NOT_FOUND":             ErrCodeNotFound,
	"ALREADY_EXISTS":        ErrCodeAlreadyExists,
	"INVALID_INPUT":         ErrCodeInvalidInput,
	"INVALID_STATE":         ErrCodeInvalidState,
	"UNAUTHORIZED":          ErrCodeUnauthorized,
	"FORBIDDEN":             ErrCodeForbidden,
	"CONCURRENCY_CONFLICT":  ErrCodeConcurrencyConflict,
	"UNAVAILABLE":           ErrCodeUnavailable,
	"STORE_UNAVAILABLE":     ErrCodeStoreUnavailable,
	"ALLOCATION_FAILED":     ErrCodeAllocationFailed,
	"TUNNEL_NOT_FOUND":      ErrCodeTunnelNotFound,
	"TUNNEL_UNAVAILABLE":    ErrCodeTunnelDown,
	"TUNNEL_CLOSED":         ErrCodeTunnelDown,
	"TUNNEL_INVALID_CONFIG": ErrCodeTunnelConfig,
	"UNSUPPORTED_DIRECTION": ErrCodeUnsupportedSync,
}

// NormalizeErrorCode converts a domain error code to the API format.
// Codes already in the API format, or unknown, are returned as-is.
func NormalizeErrorCode(code string) string {
	if newCode, ok := DomainErrorCodeMapping[code]; ok {
		return newCode
	}
	return code
}
