// Package apperr holds the error taxonomy shared by every decompilation stage.
// Stages wrap these sentinels with fmt.Errorf("...: %w", ...) and callers
// classify with errors.Is.
package apperr

import "errors"

var (
	// ErrFormat marks a bad or unsupported container magic/version. Fatal for the run.
	ErrFormat = errors.New("unsupported format")
	// ErrTruncated marks a declared range that exceeds the actual data. Fatal for the archive.
	ErrTruncated = errors.New("truncated data")
	// ErrDecryption marks cipher output that is not a valid container. Fatal for that file only.
	ErrDecryption = errors.New("decryption failed")
	// ErrParse marks a module registration whose body could not be balanced.
	ErrParse = errors.New("parse warning")
	// ErrWrite marks a filesystem failure while materializing output.
	ErrWrite = errors.New("write failed")
	// ErrDepthExceeded marks a nested archive beyond the recursion limit.
	ErrDepthExceeded = errors.New("nesting depth exceeded")
	// ErrNotFound is returned by lookups against the catalog or the output tree.
	ErrNotFound = errors.New("not found")
)

// Kind returns the short taxonomy name for err, used in run outcomes and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return "format"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrDecryption):
		return "decryption"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrWrite):
		return "write"
	case errors.Is(err, ErrDepthExceeded):
		return "depth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

// Fatal reports whether err aborts the whole archive read.
func Fatal(err error) bool {
	return errors.Is(err, ErrFormat) || errors.Is(err, ErrTruncated)
}
