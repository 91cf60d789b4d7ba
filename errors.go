package buildcache

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors
var (
	// ErrInvalidTargetID is returned when a target identifier cannot be used as a cache key.
	ErrInvalidTargetID = errors.New("invalid target id")
)

// ValidationError represents one or more problems found while building an
// input set or while checking cache integrity.
type ValidationError struct {
	Errors []error
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed: %v", ve.Errors[0])
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(ve.Errors)))
	for i, err := range ve.Errors {
		fmt.Fprintf(&buf, "  %d. %v\n", i+1, err)
	}
	return buf.String()
}

// Unwrap returns the underlying errors for use with errors.Is and errors.As.
func (ve *ValidationError) Unwrap() []error {
	return ve.Errors
}

// newValidationError creates a ValidationError from a slice of errors.
// Returns nil if the slice is empty.
func newValidationError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

// Issue is one integrity problem found by Validate.
type Issue struct {
	Target string // target name, empty for cache-wide problems
	Kind   IssueKind
	Detail string
	Diff   string // unified diff when snapshot and live output differ
}

// IssueKind classifies integrity problems.
type IssueKind string

const (
	IssueLockfile        IssueKind = "lockfile"
	IssueCorruptEntry    IssueKind = "corrupt-entry"
	IssueOutputMissing   IssueKind = "output-missing"
	IssueSnapshotMissing IssueKind = "snapshot-missing"
	IssueSnapshotDiffers IssueKind = "snapshot-differs"
	IssueArtifact        IssueKind = "unwanted-artifact"
)

// Error implements the error interface.
func (i *Issue) Error() string {
	if i.Target == "" {
		return fmt.Sprintf("%s: %s", i.Kind, i.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", i.Target, i.Kind, i.Detail)
}
