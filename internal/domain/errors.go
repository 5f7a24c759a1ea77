package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a failure.
type ErrorKind string

const (
	KindInputValidation  ErrorKind = "input_validation"
	KindExternalSource   ErrorKind = "external_source"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindPrediction       ErrorKind = "prediction"
)

// ErrAreaTooLarge marks an area of interest above MaxAreaKm2.
var ErrAreaTooLarge = errors.New("area too large")

// Error is a classified failure carrying a user-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewInputValidationError reports a request that was rejected before any work
// was done. The message should tell the caller how to fix the request.
func NewInputValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindInputValidation, Message: fmt.Sprintf(format, args...)}
}

// NewAreaTooLargeError reports an area of interest above the processing cap.
func NewAreaTooLargeError(areaKm2 float64) *Error {
	return &Error{
		Kind: KindInputValidation,
		Message: fmt.Sprintf("area of interest is %.1f km², the maximum is %.0f km²; "+
			"split the area or draw a smaller polygon", areaKm2, MaxAreaKm2),
		Err: ErrAreaTooLarge,
	}
}

// NewExternalSourceError wraps a feature source failure after retries ran out.
func NewExternalSourceError(source string, err error) *Error {
	return &Error{Kind: KindExternalSource, Message: source + " unavailable", Err: err}
}

// NewModelUnavailableError wraps an artifact that could not be loaded.
func NewModelUnavailableError(msg string, err error) *Error {
	return &Error{Kind: KindModelUnavailable, Message: msg, Err: err}
}

// NewPredictionError reports a single cell that could not be scored.
func NewPredictionError(cellID, msg string) *Error {
	return &Error{Kind: KindPrediction, Message: fmt.Sprintf("cell %s: %s", cellID, msg)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsInputValidation reports whether err is an input validation failure.
func IsInputValidation(err error) bool {
	return KindOf(err) == KindInputValidation
}
