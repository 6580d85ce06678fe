package packmatic

import (
	"fmt"
	"strings"
)

// maxPathLen is the ZIP filename length field limit (16-bit).
const maxPathLen = 1<<16 - 1

// Manifest is the validated, ordered collection of entries for one encoding
// job. A manifest that failed validation is rejected by [NewEncoder].
type Manifest struct {
	entries []*Entry
	err     *ManifestError
}

// NewManifest validates entries and returns the manifest. When validation
// fails the returned error is a [*ManifestError] listing every problem; the
// manifest is still returned so callers can inspect it, but it is marked
// invalid and no encoder will accept it.
func NewManifest(entries ...*Entry) (*Manifest, error) {
	m := &Manifest{entries: append([]*Entry(nil), entries...)}

	var problems []EntryProblem
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if err := validateEntry(entry, seen); err != nil {
			path := ""
			if entry != nil {
				path = entry.Path
			}
			problems = append(problems, EntryProblem{Index: i, Path: path, Err: err})
		}
	}
	if len(problems) > 0 {
		m.err = &ManifestError{Problems: problems}
		return m, m.err
	}
	return m, nil
}

// Valid reports whether the manifest passed validation.
func (m *Manifest) Valid() bool { return m != nil && m.err == nil }

// Len returns the number of entries.
func (m *Manifest) Len() int { return len(m.entries) }

// Entries returns a copy of the entry list in manifest order.
func (m *Manifest) Entries() []*Entry {
	return append([]*Entry(nil), m.entries...)
}

func validateEntry(entry *Entry, seen map[string]struct{}) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidPath)
	}
	if err := validatePath(entry.Path); err != nil {
		return err
	}
	if entry.Source == nil {
		return ErrNilSource
	}
	if _, dup := seen[entry.Path]; dup {
		return ErrDuplicatePath
	}
	seen[entry.Path] = struct{}{}
	return nil
}

// validatePath enforces the archive member path rules: non-empty, relative,
// slash-separated, no traversal elements, bounded by the format's 16-bit
// filename length field.
func validatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if len(p) > maxPathLen {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidPath, maxPathLen)
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return fmt.Errorf("%w: %q must be relative and slash-separated", ErrInvalidPath, p)
	}
	for _, elem := range strings.Split(p, "/") {
		switch elem {
		case "":
			return fmt.Errorf("%w: %q contains an empty element", ErrInvalidPath, p)
		case ".", "..":
			return fmt.Errorf("%w: %q contains a traversal element", ErrInvalidPath, p)
		}
	}
	return nil
}
