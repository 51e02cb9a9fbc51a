// Package errors provides structured, coded error handling shared by the
// tenancy services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Identity errors
	CodeInvalidIdentity       Code = "INVALID_IDENTITY"
	CodeInvalidIdentifierName Code = "INVALID_IDENTIFIER_NAME"
	CodeMissingPredecessor    Code = "MISSING_PREDECESSOR"
	CodeIdentityMismatch      Code = "IDENTITY_MISMATCH"

	// Aggregate errors
	CodeUnknownAttribute Code = "UNKNOWN_ATTRIBUTE"
	CodeInvalidHistory   Code = "INVALID_HISTORY"

	// Event store errors
	CodeAppendFailed     Code = "APPEND_FAILED"
	CodeVersionConflict  Code = "VERSION_CONFLICT"
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeIntegrityFailed  Code = "INTEGRITY_FAILED"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"

	// Projection errors
	CodeUnsupportedOperation Code = "UNSUPPORTED_OPERATION"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidIdentity,
		CodeInvalidIdentifierName,
		CodeMissingPredecessor,
		CodeUnknownAttribute:
		return codes.InvalidArgument

	// DataLoss - the event log no longer matches what was written
	case CodeIdentityMismatch,
		CodeInvalidHistory,
		CodeIntegrityFailed:
		return codes.DataLoss

	// Aborted - concurrent writer won, caller may retry
	case CodeVersionConflict:
		return codes.Aborted

	// Unavailable - transient infrastructure failure
	case CodeStoreUnavailable:
		return codes.Unavailable

	case CodeNotFound:
		return codes.NotFound

	case CodeAlreadyExists:
		return codes.AlreadyExists

	case CodeUnsupportedOperation:
		return codes.Unimplemented

	default:
		return codes.Internal
	}
}

// Retryable reports whether a failure with this code may succeed when the
// same operation is attempted again.
func (c Code) Retryable() bool {
	switch c {
	case CodeStoreUnavailable, CodeVersionConflict:
		return true
	default:
		return false
	}
}
