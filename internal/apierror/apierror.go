package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"

	// Pipeline taxonomy. Transport and persistence faults are retried by the
	// broker; the rest are terminal outcomes recorded on the owning row.
	ErrCredential           ErrorCode = "CREDENTIAL_ERROR"
	ErrTransport            ErrorCode = "TRANSPORT_ERROR"
	ErrAuthorityRejection   ErrorCode = "AUTHORITY_REJECTION"
	ErrPreconditionMismatch ErrorCode = "PRECONDITION_MISMATCH"
	ErrPersistence          ErrorCode = "PERSISTENCE_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// Retryable reports whether the broker should retry the job that produced
// err. Only infrastructure faults qualify; business rejections and stale
// deliveries are handled in place.
func Retryable(err error) bool {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == ErrTransport || apiErr.Code == ErrPersistence
	}
	// Unknown errors default to retryable so nothing is silently dropped.
	return true
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict, ErrPreconditionMismatch:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest:
			return http.StatusBadRequest
		case ErrTransport:
			return http.StatusBadGateway
		case ErrCredential, ErrPersistence, ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
