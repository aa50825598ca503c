// Package joberr defines the job-level error taxonomy shared by source
// adapters, the store gateway, and the reconciler: spec.md §7 requires that
// a scheduler be able to tell SourceUnavailable (recovered locally) apart
// from MalformedSourcePayload, StoreError, and SafetyAbort (all fatal for
// the job, all logged, none of them fatal for the process).
package joberr

import "github.com/samber/oops"

const (
	CodeSourceUnavailable  = "source_unavailable"
	CodeMalformedPayload   = "malformed_source_payload"
	CodeStoreError         = "store_error"
	CodeSafetyAbort        = "safety_abort"
	CodeConfigurationError = "configuration_error"
)

// SourceUnavailable wraps a transport or protocol failure talking to an
// upstream. The caller should log it as a warning and make no store
// mutation; the next scheduled trigger retries naturally.
func SourceUnavailable(source string, err error) error {
	return oops.
		Code(CodeSourceUnavailable).
		With("source", source).
		Wrapf(err, "source unavailable")
}

// MalformedPayload wraps a reachable-but-invalid upstream response. It is
// fatal for the job that produced it, but not for the scheduler.
func MalformedPayload(source string, err error) error {
	return oops.
		Code(CodeMalformedPayload).
		With("source", source).
		Wrapf(err, "malformed source payload")
}

// StoreErrorf wraps a read or write failure against the persistent store.
func StoreErrorf(format string, args ...any) error {
	return oops.
		Code(CodeStoreError).
		Errorf(format, args...)
}

// WrapStoreError wraps an existing error as a StoreError.
func WrapStoreError(err error, format string, args ...any) error {
	return oops.
		Code(CodeStoreError).
		Wrapf(err, format, args...)
}

// SafetyAbort wraps the spec.md §4.3 deletion-phase guard firing: fetched
// was empty but the store held more than one ban for the source.
func SafetyAbort(adapterName string, storedCount int) error {
	return oops.
		Code(CodeSafetyAbort).
		With("adapter", adapterName).
		With("stored_count", storedCount).
		Errorf("refusing to delete %d stored bans because the source returned none", storedCount)
}

// ConfigurationError wraps a fatal startup configuration problem, naming
// the missing or invalid section.
func ConfigurationError(section string, err error) error {
	return oops.
		Code(CodeConfigurationError).
		With("section", section).
		Wrapf(err, "configuration error in %s", section)
}

// Code returns the oops error code attached to err, or "" if err was not
// constructed by this package (or carries no code at all).
func Code(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Code()
	}
	return ""
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code string) bool {
	return Code(err) == code
}
