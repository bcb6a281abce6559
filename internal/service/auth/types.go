package auth

import (
	internaljwt "whatsapp-inbox-backend/internal/jwt"
	"whatsapp-inbox-backend/internal/model"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

type RegisterParams struct {
	Name     string
	Email    string
	Password string
}

type InviteParams struct {
	TenantID string
	Name     string
	Email    string
	Role     string
}

type LoginParams struct {
	TenantID string
	Email    string
	Password string
}

type Identity struct {
	OperatorID string
	TenantID   string
	Email      string
}

type AuthResult struct {
	Operator model.OperatorItem
	Tokens   internaljwt.TokenResponse
}

type InviteResult struct {
	Operator model.OperatorItem
	// TempPassword is only returned at creation and never stored in plain.
	TempPassword string
}
