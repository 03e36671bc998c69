package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an AppError.
type ErrorCode int

const (
	CodeOK          ErrorCode = 0
	CodeValidation  ErrorCode = 1001
	CodePersistence ErrorCode = 2001
	CodePublish     ErrorCode = 3001
	CodeInternal    ErrorCode = 5000
)

// AppError application error structure
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so sentinel values below work with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Err == nil && t.Message == "" && t.Code == e.Code
}

// Sentinels for errors.Is checks by class.
var (
	ErrValidation  = &AppError{Code: CodeValidation}
	ErrPersistence = &AppError{Code: CodePersistence}
	ErrPublish     = &AppError{Code: CodePublish}
)

// NewValidationError reports malformed or missing input.
func NewValidationError(format string, args ...interface{}) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewPersistenceError wraps a storage failure; the original error stays reachable via errors.Is/As.
func NewPersistenceError(op string, err error) *AppError {
	return &AppError{Code: CodePersistence, Message: op, Err: err}
}

// NewPublishError wraps a broker failure. It is only ever logged.
func NewPublishError(op string, err error) *AppError {
	return &AppError{Code: CodePublish, Message: op, Err: err}
}

// AsAppError returns the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetErrorCode returns the code of err, CodeInternal for foreign errors.
func GetErrorCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch GetErrorCode(err) {
	case CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
