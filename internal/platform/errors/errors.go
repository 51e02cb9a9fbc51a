package errors

import (
	stderrors "errors"
	"maps"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/status"
)

// Domain is the error domain reported in gRPC error details.
const Domain = "github.com/louisbranch/tenantledger"

// Error is a coded failure. Two errors match under errors.Is when their
// codes are equal, so package sentinels can be compared against wrapped,
// metadata-carrying instances.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether the failure may clear on a later attempt.
func (e *Error) Retryable() bool { return e.Code.Retryable() }

func build(code Code, message string, metadata map[string]string, cause error) *Error {
	return &Error{Code: code, Message: message, Metadata: maps.Clone(metadata), Cause: cause}
}

// New returns an error with no metadata or cause, suitable as a sentinel.
func New(code Code, message string) *Error { return build(code, message, nil, nil) }

// WithMetadata returns an error carrying a copy of metadata.
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return build(code, message, metadata, nil)
}

// Wrap returns an error that keeps cause reachable through errors.Is/As.
func Wrap(code Code, message string, cause error) *Error {
	return build(code, message, nil, cause)
}

// WrapWithMetadata combines Wrap and WithMetadata.
func WrapWithMetadata(code Code, message string, metadata map[string]string, cause error) *Error {
	return build(code, message, metadata, cause)
}

// CodeOf returns the code of the outermost coded error in the chain, or
// CodeUnknown.
func CodeOf(err error) Code {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether err carries a retryable code anywhere in its
// chain. Store timeouts and version conflicts are retryable.
func IsRetryable(err error) bool {
	return err != nil && CodeOf(err).Retryable()
}

// ToGRPCStatus converts e to a gRPC status whose ErrorInfo reason is the
// code. Metadata is copied and gains a "retryable" entry.
func (e *Error) ToGRPCStatus() error {
	st := status.New(e.Code.GRPCCode(), e.Message)
	info := &errdetails.ErrorInfo{
		Reason:   string(e.Code),
		Domain:   Domain,
		Metadata: maps.Clone(e.Metadata),
	}
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}
	info.Metadata["retryable"] = strconv.FormatBool(e.Retryable())
	detailed, err := st.WithDetails(info)
	if err != nil {
		return st.Err()
	}
	return detailed.Err()
}
