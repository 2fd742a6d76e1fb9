package app

import (
	"fmt"
	"net/http"
)

// Error codes sent to clients in HTTP bodies and socket error frames.
const (
	codeValidation          = "VALIDATION_ERROR"
	codeInvalidDocument     = "INVALID_DOCUMENT"
	codeInvalidBody         = "INVALID_BODY"
	codeInvalidQuery        = "INVALID_QUERY"
	codeInvalidMessage      = "INVALID_MESSAGE"
	codeInvalidSteps        = "INVALID_STEPS"
	codeUnauthorized        = "UNAUTHORIZED"
	codeForbidden           = "FORBIDDEN"
	codeNotFound            = "NOT_FOUND"
	codeSessionClosed       = "SESSION_CLOSED"
	codeAnalyzerUnavailable = "ANALYZER_UNAVAILABLE"
	codeHistoryUnavailable  = "HISTORY_UNAVAILABLE"
	codeTimeout             = "TIMEOUT"
	codeServerError         = "SERVER_ERROR"
)

// DomainError is an error with the HTTP status and code it maps to.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeValidation, message, nil)
}

func invalidDocument(err error) *DomainError {
	return domainError(http.StatusUnprocessableEntity, codeInvalidDocument, err.Error(), nil)
}

func historyUnavailable() *DomainError {
	return domainError(http.StatusServiceUnavailable, codeHistoryUnavailable, "Run history is not configured", nil)
}
