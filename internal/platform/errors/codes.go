// Package errors provides structured error handling for Tandem services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Incident validation errors
	CodeIncidentTenantEmpty     Code = "INCIDENT_TENANT_EMPTY"
	CodeIncidentAuthorEmpty     Code = "INCIDENT_AUTHOR_EMPTY"
	CodeIncidentTitleEmpty      Code = "INCIDENT_TITLE_EMPTY"
	CodeIncidentInvalidSeverity Code = "INCIDENT_INVALID_SEVERITY"
	CodeIncidentOccurredAtZero  Code = "INCIDENT_OCCURRED_AT_ZERO"
	CodeIncidentEncodingInvalid Code = "INCIDENT_ENCODING_INVALID"

	// Ledger errors
	CodeLedgerTipConflict      Code = "LEDGER_TIP_CONFLICT"
	CodeLedgerTooManyConflicts Code = "LEDGER_TOO_MANY_CONFLICTS"
	CodeLedgerSequenceCorrupt  Code = "LEDGER_SEQUENCE_CORRUPT"

	// Integrity errors
	CodeIntegrityKeyMissing Code = "INTEGRITY_KEY_MISSING"

	// Storage errors
	CodeNotFound       Code = "NOT_FOUND"
	CodeStorageFailure Code = "STORAGE_FAILURE"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeIncidentTenantEmpty,
		CodeIncidentAuthorEmpty,
		CodeIncidentTitleEmpty,
		CodeIncidentInvalidSeverity,
		CodeIncidentOccurredAtZero,
		CodeIncidentEncodingInvalid:
		return codes.InvalidArgument

	// Aborted - optimistic concurrency lost the race; safe to retry
	case CodeLedgerTipConflict,
		CodeLedgerTooManyConflicts:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound:
		return codes.NotFound

	// FailedPrecondition - the service is misconfigured or the data is bad
	case CodeIntegrityKeyMissing,
		CodeLedgerSequenceCorrupt:
		return codes.FailedPrecondition

	default:
		return codes.Internal
	}
}
