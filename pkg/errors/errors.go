package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"messenger-console/logger"
)

type ErrorCode string

const (
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrValidation   ErrorCode = "VALIDATION"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrConflict     ErrorCode = "CONFLICT"
	ErrSendFailed   ErrorCode = "SEND_FAILED"
	ErrInternal     ErrorCode = "INTERNAL"
)

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
	// Details is merged into the JSON body, e.g. the send error kind.
	Details map[string]interface{}
}

type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    ErrorCode              `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
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

func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrConflict:
		return http.StatusConflict
	case ErrSendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func NotFound(what string) *AppError {
	return New(ErrNotFound, what+" not found")
}

func Forbidden() *AppError {
	return New(ErrForbidden, "Access denied")
}

func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.LogError("Error encoding JSON response: %v", err)
	}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Code == ErrInternal && appErr.Err != nil {
			logger.LogError("Internal error: %v", appErr.Err)
		}
		WriteJSON(w, appErr.StatusCode(), ErrorResponse{
			Error:   appErr.Message,
			Code:    appErr.Code,
			Details: appErr.Details,
		})
		return
	}

	logger.LogError("Internal error: %v", err)
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error: "Internal server error",
		Code:  ErrInternal,
	})
}
