package model

import "fmt"

// ClaimErrorKind classifies why a claim did not produce a result.
type ClaimErrorKind string

// Claim error kinds. Only NotClaimable and CodeMismatch are recoverable by
// resyncing; NetworkTimeout means the outcome is unknown.
const (
	ClaimNotClaimable    ClaimErrorKind = "NotClaimable"
	ClaimCodeMismatch    ClaimErrorKind = "CodeMismatch"
	ClaimUnauthenticated ClaimErrorKind = "Unauthenticated"
	ClaimNetworkTimeout  ClaimErrorKind = "NetworkTimeout"
)

// ClaimError is returned by the claim operation.
type ClaimError struct {
	Kind    ClaimErrorKind `json:"kind"`
	Message string         `json:"message"`
}

// Error implements the error interface.
func (e *ClaimError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is a ClaimError of the same kind, so that
// errors.Is(err, model.ErrNotClaimable) matches any NotClaimable error.
func (e *ClaimError) Is(target error) bool {
	t, ok := target.(*ClaimError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller may retry after a resync.
func (e *ClaimError) Retryable() bool {
	return e.Kind != ClaimUnauthenticated
}

// Sentinel claim errors for use with errors.Is.
var (
	ErrNotClaimable    = &ClaimError{Kind: ClaimNotClaimable}
	ErrCodeMismatch    = &ClaimError{Kind: ClaimCodeMismatch}
	ErrUnauthenticated = &ClaimError{Kind: ClaimUnauthenticated}
	ErrNetworkTimeout  = &ClaimError{Kind: ClaimNetworkTimeout}
)

// NewClaimError builds a ClaimError with a message.
func NewClaimError(kind ClaimErrorKind, format string, args ...any) *ClaimError {
	return &ClaimError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
