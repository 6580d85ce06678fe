package packmatic

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for manifest validation and encoding.
var (
	// ErrEmptyPath is returned when an entry path is empty.
	ErrEmptyPath = errors.New("packmatic: empty entry path")

	// ErrInvalidPath is returned when an entry path is absolute, contains
	// traversal elements, or exceeds the format's filename length limit.
	ErrInvalidPath = errors.New("packmatic: invalid entry path")

	// ErrDuplicatePath is returned when two entries share a path.
	ErrDuplicatePath = errors.New("packmatic: duplicate entry path")

	// ErrNilSource is returned when an entry has no source.
	ErrNilSource = errors.New("packmatic: entry has no source")

	// ErrInvalidDirective is returned when an event handler returns a
	// directive the encoder does not recognize. This is a programming
	// error in the handler and terminates the stream.
	ErrInvalidDirective = errors.New("packmatic: event handler returned an invalid directive")
)

// ManifestError aggregates the per-entry problems found while validating a
// manifest. Encoding never begins for an invalid manifest.
type ManifestError struct {
	Problems []EntryProblem
}

// EntryProblem describes why one manifest entry failed validation.
type EntryProblem struct {
	Index int
	Path  string
	Err   error
}

func (e *ManifestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "packmatic: invalid manifest (%d problem(s))", len(e.Problems))
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "\n  entry %d %q: %v", p.Index, p.Path, p.Err)
	}
	return b.String()
}

// Unwrap exposes the underlying per-entry errors for errors.Is checks.
func (e *ManifestError) Unwrap() []error {
	errs := make([]error, len(e.Problems))
	for i, p := range e.Problems {
		errs[i] = p.Err
	}
	return errs
}
