package domain

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrAlreadyInCall     = errors.New("a call between these users is already in progress")
	ErrUserUnavailable   = errors.New("user is not online")
	ErrPersistence       = errors.New("persistence failure")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrUploadFailed      = errors.New("image upload failed")
)

// Error codes
const (
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeAlreadyInCall   = "ALREADY_IN_CALL"
	ErrCodeUserUnavailable = "USER_UNAVAILABLE"
	ErrCodePersistence     = "PERSISTENCE_FAILURE"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeUploadFailed    = "UPLOAD_FAILED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

type errorMapping struct {
	err    error
	code   string
	status int
}

var errorTable = []errorMapping{
	{ErrUnauthenticated, ErrCodeUnauthenticated, http.StatusUnauthorized},
	{ErrNotFound, ErrCodeNotFound, http.StatusNotFound},
	{ErrForbidden, ErrCodeForbidden, http.StatusForbidden},
	{ErrAlreadyInCall, ErrCodeAlreadyInCall, http.StatusConflict},
	{ErrUserUnavailable, ErrCodeUserUnavailable, http.StatusNotFound},
	{ErrPersistence, ErrCodePersistence, http.StatusInternalServerError},
	{ErrInvalidMessage, ErrCodeBadRequest, http.StatusBadRequest},
	{ErrInvalidTransition, ErrCodeInvalidState, http.StatusConflict},
	{ErrUploadFailed, ErrCodeUploadFailed, http.StatusBadGateway},
}

// ErrorCode maps err to its wire code. Unknown errors map to INTERNAL_ERROR.
func ErrorCode(err error) string {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return ErrCodeInternalError
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}
