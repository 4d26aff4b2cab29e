package api

import (
	"errors"
	"net/http"

	apperrors "github.com/askwhyharsh/familycircle/pkg/errors"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func SuccessResponse(data interface{}) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

func ErrorResponse(message, code string) Response {
	return Response{
		Success: false,
		Error: &ErrorData{
			Message: message,
			Code:    code,
		},
	}
}

// statusFor maps a domain error to an HTTP status and envelope code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrNotOwner):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, apperrors.ErrUserNotFound):
		return http.StatusNotFound, "USER_NOT_FOUND"
	case errors.Is(err, apperrors.ErrSessionNotFound), errors.Is(err, apperrors.ErrInvalidSessionID):
		return http.StatusUnauthorized, "INVALID_SESSION"
	case errors.Is(err, apperrors.ErrInvalidCoordinates),
		errors.Is(err, apperrors.ErrInvalidLatitude),
		errors.Is(err, apperrors.ErrInvalidLongitude):
		return http.StatusBadRequest, "INVALID_COORDINATES"
	case errors.Is(err, apperrors.ErrInvalidRadius):
		return http.StatusBadRequest, "INVALID_RADIUS"
	case errors.Is(err, apperrors.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "RATE_LIMIT"
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
