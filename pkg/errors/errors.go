package errors

import "errors"

var (
	// Session errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("invalid session ID")

	// Sharing errors
	ErrNotOwner     = errors.New("only the owner can change who sees their location")
	ErrUserNotFound = errors.New("user not found")

	// Validation errors
	ErrInvalidUserID      = errors.New("invalid user ID")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidLatitude    = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude   = errors.New("longitude must be between -180 and 180")
	ErrInvalidRadius      = errors.New("radius must be between 0.1 and 100 km")

	// Rate limit errors
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// Storage errors
	ErrStoreUnavailable = errors.New("storage unavailable")
	ErrLocationNotFound = errors.New("location not found")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, statusCode int) *AppError {
	return &AppError{
		Err:        err,
		Message:    message,
		StatusCode: statusCode,
	}
}
