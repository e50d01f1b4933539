package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lib/pq"
)

// AppError pairs a stable machine-readable code with the HTTP status
// the API layer renders it as. The zero Details and Err fields stay
// out of the JSON body.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Details    any    `json:"details,omitempty"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap lets errors.Is and errors.As see through to the cause.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy carrying response details. The WithX
// methods always copy so the package-level sentinels stay immutable.
func (e *AppError) WithDetails(details any) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Details:    details,
		Err:        e.Err,
	}
}

// WithMessage returns a copy with the human-readable message replaced.
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    message,
		HTTPStatus: e.HTTPStatus,
		Details:    e.Details,
		Err:        e.Err,
	}
}

// WithError returns a copy recording err as the cause.
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		HTTPStatus: e.HTTPStatus,
		Details:    e.Details,
		Err:        err,
	}
}

// Error taxonomy. Hot paths (token validation, revocation checks, PKCE
// verification) report expected outcomes through result values; these
// errors cover the exceptional cases and the admin/API surface.
var (
	// Caller input failed validation (400)
	ErrValidation = &AppError{
		Code:       "VALIDATION_FAILURE",
		Message:    "Validation failed",
		HTTPStatus: http.StatusBadRequest,
	}

	// Credential or token rejected (401)
	ErrAuthInvalid = &AppError{
		Code:       "AUTH_INVALID",
		Message:    "Authentication failed",
		HTTPStatus: http.StatusUnauthorized,
	}

	// Caller is locked out after repeated failures (429)
	ErrAuthLocked = &AppError{
		Code:       "AUTH_LOCKED",
		Message:    "Too many failed authentication attempts",
		HTTPStatus: http.StatusTooManyRequests,
	}

	// Caller exceeded the request rate on the admin surface (429)
	ErrRateLimited = &AppError{
		Code:       "RATE_LIMITED",
		Message:    "Too many requests",
		HTTPStatus: http.StatusTooManyRequests,
	}

	// Authenticated but not permitted (403)
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Insufficient permissions for this operation",
		HTTPStatus: http.StatusForbidden,
	}

	// Upstream JWKS endpoint could not be fetched and no stale copy was
	// available (502)
	ErrJWKSFetch = &AppError{
		Code:       "JWKS_FETCH_ERROR",
		Message:    "Failed to fetch signing keys from provider",
		HTTPStatus: http.StatusBadGateway,
	}

	// Resource errors (404)
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrKeyNotFound = &AppError{
		Code:       "KEY_NOT_FOUND",
		Message:    "Signing key not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrAPIKeyNotFound = &AppError{
		Code:       "API_KEY_NOT_FOUND",
		Message:    "API key not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrRoleNotFound = &AppError{
		Code:       "ROLE_NOT_FOUND",
		Message:    "Role not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrGroupNotFound = &AppError{
		Code:       "GROUP_NOT_FOUND",
		Message:    "Group not found",
		HTTPStatus: http.StatusNotFound,
	}
	ErrLockoutNotFound = &AppError{
		Code:       "LOCKOUT_NOT_FOUND",
		Message:    "No lockout recorded for this key",
		HTTPStatus: http.StatusNotFound,
	}

	// Operation conflicts with current state (409)
	ErrStateViolation = &AppError{
		Code:       "STATE_VIOLATION",
		Message:    "Operation not allowed in the current state",
		HTTPStatus: http.StatusConflict,
	}
	ErrNoActiveKey = &AppError{
		Code:       "NO_ACTIVE_KEY",
		Message:    "No active signing key available",
		HTTPStatus: http.StatusConflict,
	}
	ErrRotationDisabled = &AppError{
		Code:       "ROTATION_DISABLED",
		Message:    "Key rotation is disabled",
		HTTPStatus: http.StatusConflict,
	}
	ErrAlreadyExists = &AppError{
		Code:       "ALREADY_EXISTS",
		Message:    "Resource already exists",
		HTTPStatus: http.StatusConflict,
	}

	// Infrastructure fault, caller may retry later (503)
	ErrTransient = &AppError{
		Code:       "TRANSIENT",
		Message:    "Service temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrDatabaseUnavailable = &AppError{
		Code:       "DATABASE_UNAVAILABLE",
		Message:    "Database connection unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	// Internal errors (500)
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrDatabaseError = &AppError{
		Code:       "DATABASE_ERROR",
		Message:    "Database operation failed",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrDatabaseTimeout = &AppError{
		Code:       "DATABASE_TIMEOUT",
		Message:    "Database operation timed out",
		HTTPStatus: http.StatusGatewayTimeout,
	}
)

// Locked builds an AuthLocked error carrying the retry hint the HTTP
// layer turns into a Retry-After header.
func Locked(key string, retryAfterSeconds int64, expiry time.Time) *AppError {
	return ErrAuthLocked.WithDetails(map[string]any{
		"key":                 key,
		"retry_after_seconds": retryAfterSeconds,
		"lockout_expiry":      expiry.UTC().Format(time.RFC3339),
	})
}

// Is reports whether err carries the same error code as target,
// however deeply wrapped.
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetHTTPStatus maps err to the status it renders with. Anything that
// is not an AppError is a 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// GetErrorResponse shapes err into the JSON error envelope. Non-taxonomy
// errors render as an opaque internal error so internals never leak.
func GetErrorResponse(err error) map[string]any {
	var appErr *AppError
	if errors.As(err, &appErr) {
		response := map[string]any{
			"error": map[string]any{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		}
		if appErr.Details != nil {
			response["error"].(map[string]any)["details"] = appErr.Details
		}
		return response
	}

	return map[string]any{
		"error": map[string]any{
			"code":    "INTERNAL_ERROR",
			"message": "An unexpected error occurred",
		},
	}
}

// =============================================================================
// DATABASE ERROR HELPERS
// =============================================================================

// WrapDBError classifies a repository error. Missing rows map to the
// caller's notFoundErr and pq errors are classified by SQLSTATE. A
// context deadline becomes a database timeout.
func WrapDBError(err error, notFoundErr *AppError) *AppError {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		if notFoundErr != nil {
			return notFoundErr.WithError(err)
		}
		return ErrNotFound.WithError(err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrDatabaseTimeout.WithError(err)
	}

	if errors.Is(err, context.Canceled) {
		return ErrDatabaseError.WithError(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return wrapPQError(pqErr)
	}

	return ErrDatabaseError.WithError(err)
}

// wrapPQError maps SQLSTATE classes onto the taxonomy.
func wrapPQError(pqErr *pq.Error) *AppError {
	switch pqErr.Code {
	// Unique constraint violation
	case "23505":
		return ErrAlreadyExists.WithError(pqErr).WithDetails(map[string]string{
			"constraint": pqErr.Constraint,
		})

	// Foreign key violation
	case "23503":
		return ErrStateViolation.WithError(pqErr).WithDetails(map[string]string{
			"constraint": pqErr.Constraint,
		})

	// Not null violation
	case "23502":
		return ErrValidation.WithError(pqErr).WithDetails(map[string]string{
			"column": pqErr.Column,
		})

	// Connection errors
	case "08000", "08003", "08006", "08001", "08004":
		return ErrDatabaseUnavailable.WithError(pqErr)

	// Deadlock
	case "40P01":
		return ErrDatabaseError.WithError(pqErr).WithDetails(map[string]string{
			"reason": "deadlock_detected",
		})

	default:
		return ErrDatabaseError.WithError(pqErr)
	}
}

// IsNotFound reports whether err represents a missing row or any
// not-found AppError.
func IsNotFound(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus == http.StatusNotFound
	}
	return false
}

// IsUniqueViolation reports whether err is a postgres unique
// constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
