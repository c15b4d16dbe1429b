package server

import (
	"encoding/ascii85"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/OpenMined/syftbox-go/internal/deltacodec"
	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/permissions"
	"github.com/OpenMined/syftbox-go/internal/store"
	"github.com/OpenMined/syftbox-go/internal/syncerr"
)

// fileMetadataWire is the wire shape shared by dir_state and get_metadata.
type fileMetadataWire struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
	Mtime int64 `json:"mtime"`
}

func toWire(rec store.FileRecord) fileMetadataWire {
	return fileMetadataWire{Path: rec.Path, Hash: rec.Hash, Size: rec.SizeBytes, Mtime: rec.MtimeNS}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case isKind(err, syncerr.ErrNotFound):
		status = http.StatusNotFound
	case isKind(err, syncerr.ErrAmbiguous):
		status = http.StatusMultipleChoices
	case isKind(err, syncerr.ErrForbidden):
		status = http.StatusForbidden
	case isKind(err, syncerr.ErrConflict):
		status = http.StatusConflict
	case isKind(err, syncerr.ErrHashMismatch):
		status = http.StatusUnprocessableEntity
	case isKind(err, syncerr.ErrPatchCorrupt):
		status = http.StatusUnprocessableEntity
	}

	http.Error(w, err.Error(), status)
}

func isKind(err, sentinel error) bool {
	type unwrapper interface{ Unwrap() error }

	for err != nil {
		if err == sentinel {
			return true
		}

		u, ok := err.(unwrapper)
		if !ok {
			return false
		}

		err = u.Unwrap()
	}

	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleDatasites implements POST /sync/datasites.
func (s *Server) handleDatasites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.ListDatasites(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	sort.Strings(sites)
	writeJSON(w, sites)
}

// handleDirState implements POST /sync/dir_state.
func (s *Server) handleDirState(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dir string `json:"dir"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "dir_state", "", "invalid request body"))
		return
	}

	if strings.HasPrefix(req.Dir, "/") {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "dir_state", req.Dir, "absolute paths are rejected"))
		return
	}

	viewer := viewerFrom(r.Context())

	recs, err := s.store.ListByPrefix(r.Context(), req.Dir)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]fileMetadataWire, 0, len(recs))

	for _, rec := range recs {
		if s.permissions.Allowed(viewer, rec.Path, permissions.PermRead) {
			out = append(out, toWire(rec))
		}
	}

	writeJSON(w, out)
}

// handleGetMetadata implements POST /sync/get_metadata.
func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PathLike string `json:"path_like"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "get_metadata", "", "invalid request body"))
		return
	}

	viewer := viewerFrom(r.Context())

	recs, err := s.store.ListByPrefix(r.Context(), req.PathLike)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]fileMetadataWire, 0, len(recs))

	for _, rec := range recs {
		if s.permissions.Allowed(viewer, rec.Path, permissions.PermRead) {
			out = append(out, toWire(rec))
		}
	}

	writeJSON(w, out)
}

// handleGetDiff implements POST /sync/get_diff.
func (s *Server) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path      string `json:"path"`
		Signature string `json:"signature"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "get_diff", "", "invalid request body"))
		return
	}

	viewer := viewerFrom(r.Context())

	if !s.permissions.Allowed(viewer, req.Path, permissions.PermRead) {
		writeError(w, syncerr.Wrap(syncerr.ErrForbidden, "get_diff", req.Path, "read denied"))
		return
	}

	matches, err := s.store.ListByPrefix(r.Context(), req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(matches) == 0 {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "get_diff", req.Path, "no such file"))
		return
	}

	if len(matches) > 1 {
		writeError(w, syncerr.Wrap(syncerr.ErrAmbiguous, "get_diff", req.Path, "path matches more than one file"))
		return
	}

	rec := matches[0]

	data, err := os.ReadFile(filepath.Join(s.snapshotRoot, filepath.FromSlash(rec.Path)))
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "get_diff", req.Path, err.Error()))
		return
	}

	sig, err := decodeBase85(req.Signature)
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrPatchCorrupt, "get_diff", req.Path, "invalid signature payload"))
		return
	}

	var patch []byte

	if len(sig) == 0 {
		// No prior local version to diff against: the "patch" is the full
		// body, matching deltacodec.PreferFullUpload's no-prior-version case.
		patch = data
	} else {
		patch, err = deltacodec.Diff(sig, data)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	writeJSON(w, struct {
		Path string `json:"path"`
		Diff string `json:"diff"`
		Hash string `json:"hash"`
	}{Path: req.Path, Diff: encodeBase85(patch), Hash: rec.Hash})
}

// handleApplyDiff implements POST /sync/apply_diff.
func (s *Server) handleApplyDiff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path         string `json:"path"`
		Diff         string `json:"diff"`
		ExpectedHash string `json:"expected_hash"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "apply_diff", "", "invalid request body"))
		return
	}

	viewer := viewerFrom(r.Context())

	if !s.permissions.Allowed(viewer, req.Path, permissions.PermWrite) {
		writeError(w, syncerr.Wrap(syncerr.ErrForbidden, "apply_diff", req.Path, "write denied"))
		return
	}

	absPath := filepath.Join(s.snapshotRoot, filepath.FromSlash(req.Path))

	base, err := os.ReadFile(absPath)
	if err != nil {
		base = nil
	}

	patch, err := decodeBase85(req.Diff)
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrPatchCorrupt, "apply_diff", req.Path, "invalid diff payload"))
		return
	}

	previousHash := ""
	if len(base) > 0 {
		previousHash = hashutil.HashBytes(base)
	}

	result, err := deltacodec.Apply(base, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	currentHash := hashutil.HashBytes(result)
	if currentHash != req.ExpectedHash {
		writeError(w, syncerr.Wrap(syncerr.ErrHashMismatch, "apply_diff", req.Path, "reconstructed hash disagrees with expected_hash"))
		return
	}

	sig, err := deltacodec.Signature(result)
	if err != nil {
		writeError(w, fmt.Errorf("server: signing %s: %w", req.Path, err))
		return
	}

	rec := store.FileRecord{Path: req.Path, Hash: currentHash, SizeBytes: int64(len(result)), MtimeNS: time.Now().UnixNano(), Signature: sig}

	if _, err := s.store.MoveAtomic(r.Context(), rec, writeTempThenRename(absPath, result)); err != nil {
		writeError(w, err)
		return
	}

	if isPermissionFile(req.Path) {
		if err := s.reloadPermissionFile(req.Path, result); err != nil {
			s.logger.Error("failed to apply permission file on apply_diff", "path", req.Path, "error", err)
		}
	}

	writeJSON(w, struct {
		Path         string `json:"path"`
		CurrentHash  string `json:"current_hash"`
		PreviousHash string `json:"previous_hash"`
	}{Path: req.Path, CurrentHash: currentHash, PreviousHash: previousHash})
}

// handleCreate implements POST /sync/create.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "create", "", "invalid multipart body"))
		return
	}

	path := r.FormValue("path")

	viewer := viewerFrom(r.Context())

	if !s.permissions.Allowed(viewer, path, permissions.PermCreate) {
		writeError(w, syncerr.Wrap(syncerr.ErrForbidden, "create", path, "create denied"))
		return
	}

	if _, ok, err := s.store.GetFile(r.Context(), path); err != nil {
		writeError(w, err)
		return
	} else if ok {
		writeError(w, syncerr.Wrap(syncerr.ErrConflict, "create", path, "path already has a record"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "create", path, "missing file part"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("server: reading upload body: %w", err))
		return
	}

	sig, err := deltacodec.Signature(data)
	if err != nil {
		writeError(w, fmt.Errorf("server: signing %s: %w", path, err))
		return
	}

	absPath := filepath.Join(s.snapshotRoot, filepath.FromSlash(path))
	rec := store.FileRecord{Path: path, Hash: hashutil.HashBytes(data), SizeBytes: int64(len(data)), MtimeNS: time.Now().UnixNano(), Signature: sig}

	if _, err := s.store.MoveAtomic(r.Context(), rec, writeTempThenRename(absPath, data)); err != nil {
		writeError(w, err)
		return
	}

	if isPermissionFile(path) {
		if err := s.reloadPermissionFile(path, data); err != nil {
			s.logger.Error("failed to apply permission file on create", "path", path, "error", err)
		}
	}

	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "created"})
}

// handleDelete implements POST /sync/delete.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "delete", "", "invalid request body"))
		return
	}

	viewer := viewerFrom(r.Context())

	if !s.permissions.Allowed(viewer, req.Path, permissions.PermWrite) {
		writeError(w, syncerr.Wrap(syncerr.ErrForbidden, "delete", req.Path, "write denied"))
		return
	}

	absPath := filepath.Join(s.snapshotRoot, filepath.FromSlash(req.Path))

	if err := os.Remove(absPath); err != nil && !os.IsNotExist(err) {
		writeError(w, fmt.Errorf("server: removing %s: %w", req.Path, err))
		return
	}

	if err := s.store.DeleteFile(r.Context(), req.Path); err != nil {
		writeError(w, err)
		return
	}

	if isPermissionFile(req.Path) {
		if err := s.permissions.RemoveDir(filepath.ToSlash(filepath.Dir(req.Path))); err != nil {
			s.logger.Error("failed to clear permission rules on delete", "path", req.Path, "error", err)
		}
	}

	writeJSON(w, struct {
		Status string `json:"status"`
	}{Status: "deleted"})
}

// handleDownload implements POST /sync/download.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "download", "", "invalid request body"))
		return
	}

	viewer := viewerFrom(r.Context())

	if !s.permissions.Allowed(viewer, req.Path, permissions.PermRead) {
		writeError(w, syncerr.Wrap(syncerr.ErrForbidden, "download", req.Path, "read denied"))
		return
	}

	absPath := filepath.Join(s.snapshotRoot, filepath.FromSlash(req.Path))

	f, err := os.Open(absPath)
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.ErrNotFound, "download", req.Path, err.Error()))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")

	if _, err := io.Copy(w, f); err != nil {
		s.logger.Error("download: copy failed", "path", req.Path, "error", err)
	}
}

// isPermissionFile reports whether path names a current or legacy
// permission file, per spec §6's naming convention.
func isPermissionFile(path string) bool {
	base := filepath.Base(filepath.FromSlash(path))
	return base == permissions.FileName || base == permissions.LegacyFileName
}

// reloadPermissionFile rebuilds the permission engine's in-memory rules for
// the directory containing path, per spec §4.4: "on every server-side file
// mutation, if the path names a permission file, the engine re-parses the
// file and replaces all its rule records in one transaction."
func (s *Server) reloadPermissionFile(path string, data []byte) error {
	dir := filepath.ToSlash(filepath.Dir(path))
	return s.permissions.RebuildDir(dir, data)
}

// encodeBase85 / decodeBase85 are the server's side of the diff and
// signature wire encoding, byte-compatible with internal/syncclient's pair.
func encodeBase85(data []byte) string {
	out := make([]byte, ascii85.MaxEncodedLen(len(data)))
	return string(out[:ascii85.Encode(out, data)])
}

func decodeBase85(s string) ([]byte, error) {
	out := make([]byte, 4*len(s)) // each 'z' character expands to 4 bytes
	n, _, err := ascii85.Decode(out, []byte(s), true)
	if err != nil {
		return nil, err
	}

	return out[:n], nil
}

// writeTempThenRename returns a callback matching store.MoveAtomic's
// writeAndRename signature: write to a temp file beside absPath, then
// rename into place, per spec §5's crash-recovery discipline.
func writeTempThenRename(absPath string, data []byte) func() error {
	return func() error {
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return err
		}

		tmp := absPath + ".tmp"

		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}

		return os.Rename(tmp, absPath)
	}
}
