package translate

import (
	"errors"
	"fmt"

	"github.com/roach88/sitesync/internal/model"
)

// ErrorCode categorizes translation failures.
type ErrorCode string

const (
	// ErrCodeMalformedPayload indicates the wire payload could not be decoded
	// or is missing required fields.
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeUnresolvedReference indicates a foreign key that does not resolve
	// to a local row, usually because the referenced record has not arrived.
	ErrCodeUnresolvedReference ErrorCode = "UNRESOLVED_REFERENCE"

	// ErrCodeNoTranslator indicates no registered translator owns the table.
	ErrCodeNoTranslator ErrorCode = "NO_TRANSLATOR"

	// ErrCodeRowMissing indicates a changelog entry whose row no longer exists.
	ErrCodeRowMissing ErrorCode = "ROW_MISSING"

	// ErrCodeUnsupportedAction indicates an action the table cannot apply.
	ErrCodeUnsupportedAction ErrorCode = "UNSUPPORTED_ACTION"
)

// TranslationError reports why a single record could not be translated.
type TranslationError struct {
	Code     ErrorCode
	Table    model.Table
	RecordID string
	Message  string
	Err      error
}

func (e *TranslationError) Error() string {
	msg := fmt.Sprintf("%s: %s %s: %s", e.Code, e.Table, e.RecordID, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// IsTranslationError returns true if err is or wraps a TranslationError.
func IsTranslationError(err error) bool {
	var te *TranslationError
	return errors.As(err, &te)
}

// HasCode returns true if err is a TranslationError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

func malformed(table model.Table, id string, err error) *TranslationError {
	return &TranslationError{
		Code:     ErrCodeMalformedPayload,
		Table:    table,
		RecordID: id,
		Message:  "payload does not match table shape",
		Err:      err,
	}
}

func unresolved(table model.Table, id, field, ref string, err error) *TranslationError {
	return &TranslationError{
		Code:     ErrCodeUnresolvedReference,
		Table:    table,
		RecordID: id,
		Message:  fmt.Sprintf("%s %q does not resolve", field, ref),
		Err:      err,
	}
}

func rowMissing(table model.Table, id string, err error) *TranslationError {
	return &TranslationError{
		Code:     ErrCodeRowMissing,
		Table:    table,
		RecordID: id,
		Message:  "row referenced by changelog no longer exists",
		Err:      err,
	}
}
