package transport

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes transport failures.
type ErrorKind string

const (
	// KindTransport covers network failures, timeouts and 5xx responses.
	// These are the only retryable kind.
	KindTransport ErrorKind = "TRANSPORT"

	// KindAuth indicates central rejected the site credentials.
	KindAuth ErrorKind = "AUTH"

	// KindSiteNotAuthorised indicates the credentials are valid but central
	// has not authorised this site to sync.
	KindSiteNotAuthorised ErrorKind = "SITE_NOT_AUTHORISED"

	// KindRejected indicates central refused a well-formed request, for
	// example a push batch it could not integrate.
	KindRejected ErrorKind = "REJECTED"

	// KindProtocol indicates a response that does not follow the protocol.
	KindProtocol ErrorKind = "PROTOCOL"
)

// Error is returned by every Client method.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	Code       string // central's error code, when it sent one
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may succeed if repeated.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport
}

// KindOf returns the ErrorKind of err, or "" if err is not a transport error.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// IsRetryable returns true if err is a retryable transport error.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Retryable()
}

// IsAuth returns true if central rejected the credentials.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsSiteNotAuthorised returns true if central has not authorised the site.
func IsSiteNotAuthorised(err error) bool {
	return KindOf(err) == KindSiteNotAuthorised
}

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 401:
		return KindAuth
	case status == 403:
		return KindSiteNotAuthorised
	case status == 400, status == 409, status == 422:
		return KindRejected
	case status == 408, status == 429, status >= 500:
		return KindTransport
	default:
		return KindProtocol
	}
}
