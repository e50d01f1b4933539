package middleware

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "github.com/mwistrand/aussie-sub004/internal/errors"
	"github.com/mwistrand/aussie-sub004/internal/logging"
)

// ErrorHandler converts errors set via c.Error() into consistent JSON
// responses using the errors package. Register it early in the chain so
// it wraps everything downstream.
//
// Usage in handlers:
//
//	if err != nil {
//	    AbortWithAppError(c, apperrors.ErrKeyNotFound.WithError(err))
//	    return
//	}
func ErrorHandler(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		// The last error is the most specific one.
		err := c.Errors.Last().Err

		if c.Writer.Written() {
			return
		}

		ctx := c.Request.Context()
		status := apperrors.GetHTTPStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error(ctx, "Request failed",
				logging.String("method", c.Request.Method),
				logging.String("path", c.Request.URL.Path),
				logging.Error("error", err))
		} else {
			logger.Debug(ctx, "Request rejected",
				logging.String("method", c.Request.Method),
				logging.String("path", c.Request.URL.Path),
				logging.Int("status", status),
				logging.Error("error", err))
		}

		c.JSON(status, apperrors.GetErrorResponse(err))
	}
}

// AbortWithAppError records an application error on the context and
// aborts. The ErrorHandler middleware renders it.
func AbortWithAppError(c *gin.Context, appErr *apperrors.AppError) {
	_ = c.Error(appErr)
	c.Abort()
}

// AbortWithError wraps a plain error with an AppError and aborts.
func AbortWithError(c *gin.Context, err error, appErr *apperrors.AppError) {
	if err == nil {
		return
	}
	AbortWithAppError(c, appErr.WithError(err))
}

// AbortNotFound renders the 404 matching the resource kind.
func AbortNotFound(c *gin.Context, resourceType string) {
	var appErr *apperrors.AppError
	switch resourceType {
	case "signing_key":
		appErr = apperrors.ErrKeyNotFound
	case "api_key":
		appErr = apperrors.ErrAPIKeyNotFound
	case "role":
		appErr = apperrors.ErrRoleNotFound
	case "group":
		appErr = apperrors.ErrGroupNotFound
	case "lockout":
		appErr = apperrors.ErrLockoutNotFound
	default:
		appErr = apperrors.ErrNotFound.WithDetails(map[string]string{"resource": resourceType})
	}
	AbortWithAppError(c, appErr)
}

// AbortBadRequest is a convenience for 400 responses with a message.
func AbortBadRequest(c *gin.Context, message string) {
	AbortWithAppError(c, apperrors.ErrValidation.WithMessage(message))
}

// AbortValidation is a convenience for validation failures carrying
// structured details.
func AbortValidation(c *gin.Context, details any) {
	AbortWithAppError(c, apperrors.ErrValidation.WithDetails(details))
}

// AbortInternal is a convenience for 500 responses. The underlying
// error is logged but not exposed to the client.
func AbortInternal(c *gin.Context, err error) {
	AbortWithAppError(c, apperrors.ErrInternal.WithError(err))
}

// HandleDBError converts common database errors into responses.
// Returns true when an error was handled and the request aborted.
//
//	key, err := h.repos.SigningKeys.FindByID(ctx, kid)
//	if HandleDBError(c, err, "signing_key") {
//	    return
//	}
func HandleDBError(c *gin.Context, err error, resourceType string) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, sql.ErrNoRows) || apperrors.IsNotFound(err) {
		AbortNotFound(c, resourceType)
		return true
	}
	AbortWithAppError(c, apperrors.WrapDBError(err, nil))
	return true
}

// BindJSON binds the request body and aborts with a validation error
// on failure. Returns true when binding succeeded.
func BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		AbortValidation(c, map[string]string{"message": err.Error()})
		return false
	}
	return true
}

// Recovery catches panics, logs the stack trace and returns the
// standard error envelope instead of an empty body. Replaces
// gin.Recovery.
func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "Panic recovered",
					logging.String("method", c.Request.Method),
					logging.String("path", c.Request.URL.Path),
					logging.String("panic", fmt.Sprintf("%v", r)),
					logging.String("stack", string(debug.Stack())))

				c.AbortWithStatusJSON(http.StatusInternalServerError,
					apperrors.GetErrorResponse(apperrors.ErrInternal))
			}
		}()
		c.Next()
	}
}
