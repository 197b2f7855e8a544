// Package errors holds the coded domain errors returned across the service
// layer. Codes are stable strings surfaced to callers as the error kind.
package errors

import stderrors "errors"

// Code identifies a class of domain failure.
type Code string

// DomainError is a coded failure. Retryable marks classes a caller may retry
// with backoff; all other codes are terminal.
type DomainError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *DomainError) Error() string {
	return e.Message
}

// Is matches any DomainError carrying the same code, so wrapped copies with a
// more specific message still satisfy errors.Is against the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e with a more specific message.
func (e *DomainError) WithMessage(msg string) *DomainError {
	return &DomainError{Code: e.Code, Message: msg, Retryable: e.Retryable}
}

// CodeOf extracts the code of the first DomainError in err's chain.
func CodeOf(err error) Code {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether err carries a retryable domain code.
func IsRetryable(err error) bool {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Retryable
	}
	return false
}
