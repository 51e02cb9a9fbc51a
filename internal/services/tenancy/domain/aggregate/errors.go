package aggregate

import apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"

var (
	// ErrMissingPredecessor is returned when a predecessor has no identity.
	ErrMissingPredecessor = apperrors.New(apperrors.CodeMissingPredecessor, "predecessor identity is missing")
	// ErrInvalidIdentifierName is returned when a supplied identifier does not
	// follow the schema naming convention.
	ErrInvalidIdentifierName = apperrors.New(apperrors.CodeInvalidIdentifierName, "invalid identifier name")
	// ErrIdentityMismatch is returned when a re-derived identity differs from
	// the requested one.
	ErrIdentityMismatch = apperrors.New(apperrors.CodeIdentityMismatch, "identity mismatch")
	// ErrInvalidHistory is returned for empty or malformed event histories.
	ErrInvalidHistory = apperrors.New(apperrors.CodeInvalidHistory, "invalid event history")
	// ErrUnknownAttribute is returned when setting an attribute the schema
	// does not declare.
	ErrUnknownAttribute = apperrors.New(apperrors.CodeUnknownAttribute, "unknown attribute")
)

func historyError(message string, metadata map[string]string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidHistory, message, metadata)
}
