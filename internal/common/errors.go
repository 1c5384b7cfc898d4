package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorKind is the closed set of per-document failure kinds.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindInvalidInput       ErrorKind = "INVALID_INPUT"
	KindRemoteServiceError ErrorKind = "REMOTE_SERVICE_ERROR"
	KindMalformedResponse  ErrorKind = "MALFORMED_RESPONSE"
)

// Kinds returns every documented kind.
func Kinds() []ErrorKind {
	return []ErrorKind{KindNotFound, KindInvalidInput, KindRemoteServiceError, KindMalformedResponse}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRemoteService     = errors.New("remote service error")
	ErrMalformedResponse = errors.New("malformed response")
)

var kindSentinels = map[ErrorKind]error{
	KindNotFound:           ErrNotFound,
	KindInvalidInput:       ErrInvalidInput,
	KindRemoteServiceError: ErrRemoteService,
	KindMalformedResponse:  ErrMalformedResponse,
}

// AppError represents application-specific errors
type AppError struct {
	Kind    ErrorKind
	Message string
	// Detail carries diagnostic context such as a path or the raw model output.
	Detail string
	Cause  error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error's kind.
func (e *AppError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// Code maps the kind onto a gRPC status code.
func (e *AppError) Code() codes.Code {
	switch e.Kind {
	case KindNotFound:
		return codes.NotFound
	case KindInvalidInput:
		return codes.InvalidArgument
	case KindRemoteServiceError:
		return codes.Unavailable
	case KindMalformedResponse:
		return codes.DataLoss
	default:
		return codes.Unknown
	}
}

// GRPCStatus lets status.FromError and status.Code understand AppError.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(e.Code(), e.Error())
}

// Error constructors
func NewAppError(kind ErrorKind, message string, cause error) *AppError {
	return &AppError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

func NotFoundError(message, detail string) *AppError {
	return &AppError{Kind: KindNotFound, Message: message, Detail: detail}
}

func InvalidInputError(message, detail string) *AppError {
	return &AppError{Kind: KindInvalidInput, Message: message, Detail: detail}
}

func RemoteServiceError(message string, cause error) *AppError {
	return &AppError{Kind: KindRemoteServiceError, Message: message, Cause: cause}
}

func MalformedResponseError(message, raw string, cause error) *AppError {
	return &AppError{Kind: KindMalformedResponse, Message: message, Detail: raw, Cause: cause}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// KindOf returns the kind of the first AppError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if _, known := kindSentinels[appErr.Kind]; known {
			return appErr.Kind, true
		}
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// StatusCode returns the gRPC code for err, codes.Unknown outside the taxonomy.
func StatusCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return status.Code(err)
}
