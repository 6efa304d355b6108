// Package errors provides the structured error taxonomy the engine
// surfaces to its host: a small closed set of kinds, each carrying
// machine-readable details a caller can branch on.
package errors

import "fmt"

// MSRLError is the structured error type returned by every package in
// this module.
type MSRLError struct {
	// Kind is one of the eight stable kinds (e.g. "NOT_INDEXED").
	Kind string

	// Message is the human-readable error message.
	Message string

	// Details carries kind-specific fields (field/value/reason,
	// snapshotId, currentBuildStartedAt, ...). Values are pre-formatted
	// strings so the type stays uniform across kinds.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *MSRLError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MSRLError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by kind.
func (e *MSRLError) Is(target error) bool {
	if t, ok := target.(*MSRLError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error
// for method chaining.
func (e *MSRLError) WithDetail(key, value string) *MSRLError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new MSRLError of the given kind.
func New(kind, message string) *MSRLError {
	return &MSRLError{Kind: kind, Message: message}
}

// Wrap creates an MSRLError of the given kind from an existing error.
func Wrap(kind string, err error) *MSRLError {
	if err == nil {
		return nil
	}
	return &MSRLError{Kind: kind, Message: err.Error(), Cause: err}
}

// InvalidArgument builds an INVALID_ARGUMENT error.
func InvalidArgument(field, value, reason string) *MSRLError {
	return New(KindInvalidArgument, reason).
		WithDetail("field", field).
		WithDetail("value", value).
		WithDetail("reason", reason)
}

// NotFound builds a NOT_FOUND error for an addressed-by-name lookup miss.
func NotFound(docURI, headingPath string) *MSRLError {
	e := New(KindNotFound, "not found")
	if docURI != "" {
		e.WithDetail("docUri", docURI)
	}
	if headingPath != "" {
		e.WithDetail("headingPath", headingPath)
	}
	return e
}

// NotIndexed builds a NOT_INDEXED error for a query issued before any snapshot loaded.
func NotIndexed() *MSRLError {
	return New(KindNotIndexed, "no snapshot is loaded")
}

// IndexBusy builds an INDEX_BUSY error carrying the current build's start time.
func IndexBusy(startedAtISO8601 string) *MSRLError {
	return New(KindIndexBusy, "a build is already in progress").
		WithDetail("currentBuildStartedAt", startedAtISO8601)
}

// IndexCorrupt builds an INDEX_CORRUPT error describing a failed snapshot validation.
func IndexCorrupt(snapshotID, reason string, missingFiles []string) *MSRLError {
	e := New(KindIndexCorrupt, reason).
		WithDetail("snapshotId", snapshotID).
		WithDetail("reason", reason)
	if len(missingFiles) > 0 {
		e.WithDetail("missingFiles", fmt.Sprintf("%v", missingFiles))
	}
	return e
}

// IOError builds an IO_ERROR for a filesystem failure.
func IOError(path, operation string, cause error) *MSRLError {
	e := &MSRLError{Kind: KindIOError, Message: operation + " failed: " + path, Cause: cause}
	return e.WithDetail("path", path).WithDetail("operation", operation)
}

// ModelDownloadFailed builds a MODEL_DOWNLOAD_FAILED error for bootstrap failures.
func ModelDownloadFailed(url, reason string) *MSRLError {
	return New(KindModelDownloadFailed, reason).
		WithDetail("url", url).
		WithDetail("reason", reason)
}

// Internal wraps an unexpected error as INTERNAL.
func Internal(err error) *MSRLError {
	if err == nil {
		return New(KindInternal, "internal error")
	}
	return &MSRLError{Kind: KindInternal, Message: err.Error(), Cause: err}
}

// GetKind extracts the Kind from err, walking Unwrap chains. Returns
// "" if err does not wrap an *MSRLError.
func GetKind(err error) string {
	for err != nil {
		if e, ok := err.(*MSRLError); ok {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
