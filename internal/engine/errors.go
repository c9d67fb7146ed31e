package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/sitesync/internal/store"
	"github.com/roach88/sitesync/internal/transport"
)

// SyncErrorCode categorizes why a cycle failed. Codes are stored on the
// cycle's sync log.
type SyncErrorCode string

const (
	// ErrCodeNotConfigured indicates no central URL or credentials are set.
	ErrCodeNotConfigured SyncErrorCode = "NOT_CONFIGURED"

	// ErrCodeAuth indicates central rejected the site credentials.
	ErrCodeAuth SyncErrorCode = "AUTH_FAILED"

	// ErrCodeSiteNotAuthorised indicates central has not authorised the site.
	ErrCodeSiteNotAuthorised SyncErrorCode = "SITE_NOT_AUTHORISED"

	// ErrCodeConnection indicates central could not be reached or failed
	// transiently. The next cycle retries.
	ErrCodeConnection SyncErrorCode = "CONNECTION_ERROR"

	// ErrCodeRejected indicates central refused a request, usually a push.
	ErrCodeRejected SyncErrorCode = "REJECTED"

	// ErrCodeProtocol indicates central answered outside the protocol.
	ErrCodeProtocol SyncErrorCode = "PROTOCOL_ERROR"

	// ErrCodeStorage indicates the local database failed.
	ErrCodeStorage SyncErrorCode = "STORAGE_ERROR"

	// ErrCodeCancelled indicates the cycle's context was cancelled.
	ErrCodeCancelled SyncErrorCode = "CANCELLED"

	// ErrCodeBusy indicates a cycle was already running.
	ErrCodeBusy SyncErrorCode = "BUSY"

	// ErrCodeInvalidTransition indicates a phase change the state machine
	// does not allow.
	ErrCodeInvalidTransition SyncErrorCode = "INVALID_TRANSITION"

	// ErrCodeInternal covers anything else.
	ErrCodeInternal SyncErrorCode = "INTERNAL"
)

// SyncError is returned when a cycle ends early.
type SyncError struct {
	Code    SyncErrorCode
	Phase   Phase
	Message string
	Err     error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := string(e.Code)
	if e.Phase != "" {
		msg += " during " + string(e.Phase)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// RequiresReconfiguration reports whether retrying without new settings
// is pointless.
func (e *SyncError) RequiresReconfiguration() bool {
	switch e.Code {
	case ErrCodeNotConfigured, ErrCodeAuth, ErrCodeSiteNotAuthorised:
		return true
	}
	return false
}

// IsSyncError returns true if err is or wraps a SyncError.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// CodeOf returns the SyncErrorCode of err, or "" if err is not a SyncError.
func CodeOf(err error) SyncErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// classify wraps err as a SyncError for the phase it occurred in.
func classify(phase Phase, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}

	code := ErrCodeInternal
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeCancelled
	case transport.IsAuth(err):
		code = ErrCodeAuth
	case transport.IsSiteNotAuthorised(err):
		code = ErrCodeSiteNotAuthorised
	case transport.KindOf(err) == transport.KindTransport:
		code = ErrCodeConnection
	case transport.KindOf(err) == transport.KindRejected:
		code = ErrCodeRejected
	case transport.KindOf(err) == transport.KindProtocol:
		code = ErrCodeProtocol
	case store.IsStorageError(err):
		code = ErrCodeStorage
	}
	return &SyncError{Code: code, Phase: phase, Err: err}
}

func errNotConfigured(msg string) *SyncError {
	return &SyncError{Code: ErrCodeNotConfigured, Message: msg}
}

func errInvalidTransition(from, to Phase) *SyncError {
	return &SyncError{
		Code:    ErrCodeInvalidTransition,
		Phase:   from,
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}
