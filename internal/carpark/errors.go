package carpark

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes pipeline errors.
type ErrorCode string

const (
	// ErrCodePoll indicates the external feed could not be fetched or decoded.
	ErrCodePoll ErrorCode = "POLL"

	// ErrCodeParse indicates date and time fields do not form a valid timestamp.
	ErrCodeParse ErrorCode = "PARSE"

	// ErrCodeTransform indicates a raw record is missing or has malformed fields.
	ErrCodeTransform ErrorCode = "TRANSFORM"

	// ErrCodeMaterialize indicates an event violated a materializer invariant.
	// This only happens if the event log is corrupt.
	ErrCodeMaterialize ErrorCode = "MATERIALIZE"

	// ErrCodeDispatch indicates an external notification or export call failed.
	ErrCodeDispatch ErrorCode = "DISPATCH"

	// ErrCodeNotFound indicates a lookup of an unknown key.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeStorage indicates a log append failed. Storage errors are fatal.
	ErrCodeStorage ErrorCode = "STORAGE"
)

// Error is the error type returned by every pipeline stage.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Transient reports whether retrying the operation may succeed.
	Transient bool

	// Key is the car park name involved, if any.
	Key string

	// Offset is the log offset involved, or -1.
	Offset int64

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key=%s)", e.Key)
	}
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" (offset=%d)", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewPollError creates a transient error for a failed poll.
func NewPollError(message string, err error) *Error {
	return &Error{Code: ErrCodePoll, Message: message, Transient: true, Offset: -1, Err: err}
}

// NewParseError creates an error for a date/time pair that is not a valid timestamp.
func NewParseError(offset int64, date, clock string, err error) *Error {
	return &Error{
		Code:    ErrCodeParse,
		Message: fmt.Sprintf("invalid timestamp %q %q", date, clock),
		Offset:  offset,
		Err:     err,
	}
}

// NewTransformError creates an error for a raw record that cannot become an event.
func NewTransformError(offset int64, message string, err error) *Error {
	return &Error{Code: ErrCodeTransform, Message: message, Offset: offset, Err: err}
}

// NewMaterializeError creates an invariant violation error.
func NewMaterializeError(offset int64, message string) *Error {
	return &Error{Code: ErrCodeMaterialize, Message: message, Offset: offset}
}

// NewDispatchError creates a transient delivery error.
func NewDispatchError(key string, offset int64, err error) *Error {
	return &Error{
		Code:      ErrCodeDispatch,
		Message:   "delivery failed",
		Transient: true,
		Key:       key,
		Offset:    offset,
		Err:       err,
	}
}

// NewNotFoundError creates an error for an unknown car park.
func NewNotFoundError(key string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "carpark not found", Key: key, Offset: -1}
}

// NewStorageError creates a fatal durability error.
func NewStorageError(message string, err error) *Error {
	return &Error{Code: ErrCodeStorage, Message: message, Offset: -1, Err: err}
}

// IsCode reports whether err is an *Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeNotFound)
}

// IsTransient reports whether err is a retryable pipeline error.
func IsTransient(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Transient
	}
	return false
}

// IsTransformError reports whether err rejected a single raw record.
// Parse errors are transform errors too.
func IsTransformError(err error) bool {
	return IsCode(err, ErrCodeTransform) || IsCode(err, ErrCodeParse)
}
