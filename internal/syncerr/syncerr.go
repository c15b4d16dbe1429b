// Package syncerr defines the shared error taxonomy raised by the
// permission engine, the metadata store, the delta codec, and the sync
// server API. Callers use errors.Is against the sentinel values; the
// wrapping SyncError carries the operation-specific detail.
package syncerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, syncerr.ErrForbidden) etc.
var (
	ErrNotFound             = errors.New("syncerr: not found")
	ErrAmbiguous            = errors.New("syncerr: ambiguous match")
	ErrForbidden            = errors.New("syncerr: forbidden")
	ErrConflict             = errors.New("syncerr: conflict")
	ErrHashMismatch         = errors.New("syncerr: hash mismatch")
	ErrPatchCorrupt         = errors.New("syncerr: patch corrupt")
	ErrTransport            = errors.New("syncerr: transport")
	ErrScan                 = errors.New("syncerr: scan")
	ErrPermissionFileInvalid = errors.New("syncerr: permission file invalid")
	ErrFatal                = errors.New("syncerr: fatal")
)

// SyncError wraps a sentinel with the path and detail that produced it.
type SyncError struct {
	Op      string // operation that failed, e.g. "apply_diff"
	Path    string // relative path involved, if any
	Detail  string
	Err     error // sentinel, for errors.Is()
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("syncerr: %s %s: %s", e.Op, e.Path, e.Detail)
	}

	return fmt.Sprintf("syncerr: %s: %s", e.Op, e.Detail)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Wrap builds a SyncError around a sentinel, operation name, path, and
// detail message.
func Wrap(sentinel error, op, path, detail string) error {
	return &SyncError{Op: op, Path: path, Detail: detail, Err: sentinel}
}

// IsRetryable reports whether a consumer should re-enqueue the action that
// produced err rather than treat it as a terminal failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsFatal reports whether err should stop the sync manager's loop entirely.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}
