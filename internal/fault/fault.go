// Package fault defines the structured error kinds shared across nah.
//
// Every failure the engine can report to a caller carries a Kind, a
// human-readable message, and optional structured details. Packages
// return *fault.Error for classified failures and plain wrapped errors
// for incidental plumbing; KindOf lets callers branch without string
// matching.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure. The set is closed; the CLI maps kinds to
// exit codes and JSON output includes the kind verbatim.
type Kind string

const (
	// KindInvalidManifest indicates a schema violation, missing required
	// field, absolute or escaping path, or malformed environment operation.
	KindInvalidManifest Kind = "invalid_manifest"

	// KindInvalidReference indicates an unparseable package reference:
	// unknown scheme, missing or malformed sha256 digest.
	KindInvalidReference Kind = "invalid_reference"

	// KindHashMismatch indicates fetched bytes disagree with the declared digest.
	KindHashMismatch Kind = "hash_mismatch"

	// KindInsecureScheme indicates a non-TLS http:// reference.
	KindInsecureScheme Kind = "insecure_scheme"

	// KindArchiveUnsafe indicates a symlink, traversal, or non-regular
	// entry in a package archive.
	KindArchiveUnsafe Kind = "archive_unsafe"

	// KindNotInstalled indicates the referenced id/version is absent
	// from the registry.
	KindNotInstalled Kind = "not_installed"

	// KindNakNotInstalled indicates no NAK with the given id is installed.
	KindNakNotInstalled Kind = "nak_not_installed"

	// KindNakVersionUnsatisfiable indicates NAK versions exist for the id
	// but none match the requested range.
	KindNakVersionUnsatisfiable Kind = "nak_version_unsatisfiable"

	// KindNakPinDrifted indicates the pinned NAK no longer satisfies the
	// app's version requirement (typically because it was removed).
	KindNakPinDrifted Kind = "nak_pin_drifted"

	// KindNakInUse indicates a NAK cannot be removed while app records
	// still reference it.
	KindNakInUse Kind = "nak_in_use"

	// KindAmbiguousLoaders indicates a multi-NAK compose where more than
	// one input defines loaders and no --loader-from was given.
	KindAmbiguousLoaders Kind = "ambiguous_loaders"

	// KindFileConflict indicates nak compose hit differing file contents
	// with on_conflict=error.
	KindFileConflict Kind = "file_conflict"

	// KindEnvCycle indicates placeholder substitution found a cycle.
	KindEnvCycle Kind = "env_cycle"

	// KindUnknownPlaceholder indicates a placeholder that names neither a
	// well-known key, a resolved variable, nor an inherited one.
	KindUnknownPlaceholder Kind = "unknown_placeholder"

	// KindPathEscape indicates a relative path that is absolute or whose
	// normalized join leaves its root.
	KindPathEscape Kind = "path_escape"

	// KindIOError indicates an underlying filesystem or network failure.
	KindIOError Kind = "io_error"
)

// Error is a classified nah failure.
type Error struct {
	Kind    Kind
	Message string            // human-readable context
	Details map[string]string // structured fields, safe to render as-is
	Err     error             // underlying cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Details[k]))
		}
		sb.WriteString(" (")
		sb.WriteString(strings.Join(parts, " "))
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetail returns e with an added structured detail field.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or an
// empty Kind if there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
