package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidToken         = errors.New("invalid or expired token")
	ErrForbiddenTenant      = errors.New("tenant access forbidden")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrVerifierUnavailable  = errors.New("token verifier unavailable")
)

// WebSocket close codes used by the connection lifecycle.
const (
	CloseNormal        = 1000
	ClosePolicy        = 1008 // admission limit violation
	CloseInternalError = 1011
	CloseUnauthorized  = 4001 // invalid or missing authentication
	CloseForbidden     = 4003 // authenticated but not granted for this tenant
)

// AdmissionError is returned when the gateway refuses a connection before
// any resource is allocated. Reason names which limit fired.
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission refused: %s", e.Reason)
}

// Admission limit reasons.
const (
	AdmissionReasonGlobal = "global_limit"
	AdmissionReasonPerIP  = "per_ip_limit"
	AdmissionReasonRate   = "connect_rate"
)

// Validation error codes surfaced to the client as soft errors. The
// connection stays open for all of these.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeMessageTooLarge   = "MESSAGE_TOO_LARGE"
	CodeInvalidFormat     = "INVALID_FORMAT"
	CodeSuspiciousContent = "SUSPICIOUS_CONTENT"
	CodeUnknownType       = "UNKNOWN_TYPE"
	CodeSubscriptionError = "SUBSCRIPTION_ERROR"
)

// ValidationError rejects one inbound message without terminating the
// connection.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewValidationError(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
