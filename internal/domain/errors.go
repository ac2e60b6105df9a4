package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidPrompt    = errors.New("invalid prompt")
	ErrMissingImage     = errors.New("missing image")
	ErrMissingReference = errors.New("missing reference image")
	ErrMissingBaseURL   = errors.New("missing backend base url")
	ErrMissingAPIKey    = errors.New("missing provider api key")
	ErrProviderFailure  = errors.New("provider failure")
)

// ErrorKind classifies failures crossing the generation pipeline.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindBackend       ErrorKind = "backend"
	KindTimeout       ErrorKind = "timeout"
	KindGateway       ErrorKind = "gateway"
)

const (
	CodeInvalidPrompt      = "INVALID_PROMPT"
	CodeInvalidBody        = "INVALID_BODY"
	CodeMissingImage       = "MISSING_IMAGE"
	CodeMissingReference   = "MISSING_REFERENCE"
	CodeConfig             = "CONFIG_ERROR"
	CodeBackend            = "BACKEND_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeGateway            = "GATEWAY_ERROR"
	CodeProviderValidation = "PROVIDER_VALIDATION"
)

// Error is the envelope carried from the invokers up to the HTTP boundary.
// AlreadyNotified marks errors whose FAILED status event has been published.
type Error struct {
	Kind            ErrorKind
	Code            string
	HTTPStatus      int
	Message         string
	Details         any
	AlreadyNotified bool

	cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Notified returns a copy flagged as already published to the status bus.
func (e *Error) Notified() *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.AlreadyNotified = true
	return &out
}

// WithDetails returns a copy carrying extra structured detail.
func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	out := *e
	out.Details = details
	return &out
}

// ErrorInfo is the wire shape of an error in responses and status events.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Info projects the error onto its wire shape.
func (e *Error) Info() *ErrorInfo {
	if e == nil {
		return nil
	}
	return &ErrorInfo{Code: e.Code, Message: e.Message, Details: e.Details}
}

func newError(kind ErrorKind, code string, status int, message string, cause error) *Error {
	message = strings.TrimSpace(message)
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Code: code, HTTPStatus: status, Message: message, cause: cause}
}

func Validation(code, message string, cause error) *Error {
	return newError(KindValidation, code, http.StatusBadRequest, message, cause)
}

func Configuration(message string, cause error) *Error {
	return newError(KindConfiguration, CodeConfig, http.StatusInternalServerError, message, cause)
}

// Backend mirrors an upstream failure. An empty code falls back to CodeBackend.
func Backend(status int, code, message string) *Error {
	if strings.TrimSpace(code) == "" {
		code = CodeBackend
	}
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	return newError(KindBackend, code, status, message, nil)
}

func Timeout(message string, cause error) *Error {
	return newError(KindTimeout, CodeTimeout, http.StatusGatewayTimeout, message, cause)
}

func Gateway(message string, cause error) *Error {
	return newError(KindGateway, CodeGateway, http.StatusBadGateway, message, cause)
}

// AsError converts any error into an envelope. Context cancellation and
// deadlines become timeouts, everything unknown becomes a 502.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout("generation timed out", err)
	}
	return Gateway("generation failed", err)
}
