package api

import (
	"errors"
	"log/slog"
	"net/http"
)

type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

var (
	ErrBadRequest     = &AppError{Code: http.StatusBadRequest, Message: "bad request"}
	ErrUnauthorized   = &AppError{Code: http.StatusUnauthorized, Message: "unauthorized"}
	ErrInvalidToken   = &AppError{Code: http.StatusUnauthorized, Message: "invalid or expired token"}
	ErrForbidden      = &AppError{Code: http.StatusForbidden, Message: "token does not grant access to this session"}
	ErrNotFound       = &AppError{Code: http.StatusNotFound, Message: "session not found"}
	ErrInvalidSession = &AppError{Code: http.StatusBadRequest, Message: "invalid session id"}
	ErrSessionClosing = &AppError{Code: http.StatusConflict, Message: "session is shutting down"}
	ErrTimeout        = &AppError{Code: http.StatusGatewayTimeout, Message: "session did not respond in time"}
	ErrInternalServer = &AppError{Code: http.StatusInternalServerError, Message: "internal server error"}
)

func NewBadRequestError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func NewValidationError(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func HandleError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		JSONErrorMessage(w, appErr.Code, appErr.Message)
		return
	}
	slog.Error("unhandled api error", "error", err)
	JSONErrorMessage(w, http.StatusInternalServerError, "internal server error")
}
