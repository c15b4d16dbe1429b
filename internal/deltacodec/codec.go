// Package deltacodec implements the Delta Codec component (spec §4.2):
// rolling-checksum signatures, binary diffs against a signature, and patch
// application. It wraps librsync-go, the one Go implementation of the
// librsync algorithm family available to this module (see DESIGN.md).
package deltacodec

import (
	"bytes"
	"fmt"
	"io"

	librsync "github.com/balena-os/librsync-go"

	"github.com/OpenMined/syftbox-go/internal/syncerr"
)

// defaultBlockLen and defaultStrongLen tune the signature's block size and strong-hash
// truncation. These defaults match librsync's own recommended defaults for
// small-to-medium files; they are not part of the wire format's identity
// (the signature blob is self-describing).
const (
	defaultBlockLen  = 2048
	defaultStrongLen = 8
)

// Signature computes the rolling+strong checksum block table for data. The
// result is stored with the file record in internal/store, but the callers
// in this module recompute it from the file's bytes each time and do not
// read the stored copy back.
func Signature(data []byte) ([]byte, error) {
	var out bytes.Buffer

	if err := librsync.Signature(bytes.NewReader(data), &out, defaultBlockLen, defaultStrongLen, librsync.BLAKE2_SIG_MAGIC); err != nil {
		return nil, fmt.Errorf("deltacodec: computing signature: %w", err)
	}

	return out.Bytes(), nil
}

// Diff produces a patch that, applied (via Apply) to any byte string whose
// Signature equals sig, yields data.
func Diff(sig, data []byte) ([]byte, error) {
	sigIndex, err := librsync.ReadSignature(bytes.NewReader(sig))
	if err != nil {
		return nil, fmt.Errorf("deltacodec: reading signature: %w", err)
	}

	var out bytes.Buffer

	if err := librsync.Delta(sigIndex, bytes.NewReader(data), &out); err != nil {
		return nil, fmt.Errorf("deltacodec: computing diff: %w", err)
	}

	return out.Bytes(), nil
}

// Apply reconstructs data by applying patch to base. Fails with
// syncerr.ErrPatchCorrupt if the patch references blocks not present in
// base.
func Apply(base, patch []byte) ([]byte, error) {
	var out bytes.Buffer

	baseReader := bytes.NewReader(base)

	if err := librsync.Patch(baseReader, bytes.NewReader(patch), &out); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, syncerr.Wrap(syncerr.ErrPatchCorrupt, "apply", "", err.Error())
		}

		return nil, syncerr.Wrap(syncerr.ErrPatchCorrupt, "apply", "", err.Error())
	}

	return out.Bytes(), nil
}

// PreferFullUpload reports whether a full upload should be used instead of
// the patch, per spec.md §4.2: "full uploads are used when
// len(patch) >= len(data) or when no prior version exists."
func PreferFullUpload(patchLen, dataLen int, hasPriorVersion bool) bool {
	if !hasPriorVersion {
		return true
	}

	return patchLen >= dataLen
}
