package shared

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeQuotaExceeded      = "RATE_LIMITED"
	ErrCodeStoreUnavailable   = "STORE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeIntegrityViolation = "DATA_INTEGRITY"
)

// AppError is an error that knows how it should be rendered over HTTP.
type AppError struct {
	StatusCode int         `json:"-"`
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	Err        error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithData attaches a response payload to the error.
func (e *AppError) WithData(data interface{}) *AppError {
	e.Data = data
	return e
}

func newAppError(status int, code string, err error, message string) *AppError {
	return &AppError{
		StatusCode: status,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

func NewBadRequestError(err error, message string) *AppError {
	return newAppError(http.StatusBadRequest, ErrCodeBadRequest, err, message)
}

func NewValidationError(err error, message string) *AppError {
	return newAppError(http.StatusBadRequest, ErrCodeValidation, err, message)
}

func NewUnauthorizedError(err error, message string) *AppError {
	return newAppError(http.StatusUnauthorized, ErrCodeUnauthorized, err, message)
}

func NewForbiddenError(err error, message string) *AppError {
	return newAppError(http.StatusForbidden, ErrCodeForbidden, err, message)
}

func NewNotFoundError(err error, message string) *AppError {
	return newAppError(http.StatusNotFound, ErrCodeNotFound, err, message)
}

func NewConflictError(err error, message string) *AppError {
	return newAppError(http.StatusConflict, ErrCodeConflict, err, message)
}

func NewTooManyRequestsError(err error, message string) *AppError {
	return newAppError(http.StatusTooManyRequests, ErrCodeQuotaExceeded, err, message)
}

func NewServiceUnavailableError(err error, message string) *AppError {
	return newAppError(http.StatusServiceUnavailable, ErrCodeStoreUnavailable, err, message)
}

func NewInternalError(err error, message string) *AppError {
	return newAppError(http.StatusInternalServerError, ErrCodeInternal, err, message)
}

func NewIntegrityError(err error, message string) *AppError {
	return newAppError(http.StatusInternalServerError, ErrCodeIntegrityViolation, err, message)
}

// GetAppError unwraps err looking for an AppError.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
