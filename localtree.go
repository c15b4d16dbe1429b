package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/OpenMined/syftbox-go/internal/changedetector"
	"github.com/OpenMined/syftbox-go/internal/store"
)

// filesystemTree adapts an on-disk workspace root plus the metadata store
// to the syncconsumer.LocalTree and syncmanager.Tracker interfaces. It is
// the only piece of the client's sync core that writes to or deletes from
// the real filesystem; internal/hashutil's ScanTree also reads it.
type filesystemTree struct {
	root  string
	store *store.SQLiteStore
}

func newFilesystemTree(root string, st *store.SQLiteStore) *filesystemTree {
	return &filesystemTree{root: root, store: st}
}

func (t *filesystemTree) absPath(relPath string) string {
	return filepath.Join(t.root, relPath)
}

func (t *filesystemTree) ReadFile(relPath string) ([]byte, error) {
	return os.ReadFile(t.absPath(relPath))
}

func (t *filesystemTree) WriteFile(relPath string, data []byte) error {
	abs := t.absPath(relPath)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}

	tmp := abs + ".syftbox-tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, abs)
}

func (t *filesystemTree) RemoveFile(relPath string) error {
	err := os.Remove(t.absPath(relPath))
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

func (t *filesystemTree) UpsertRecord(ctx context.Context, rec store.FileRecord) error {
	_, err := t.store.UpsertFile(ctx, rec)
	return err
}

func (t *filesystemTree) DeleteRecord(ctx context.Context, relPath string) error {
	return t.store.DeleteFile(ctx, relPath)
}

// TrackedPaths implements syncmanager.Tracker: the metadata store's notion
// of "previously synced" for a given datasite's subtree, per spec.md §4.6.
func (t *filesystemTree) TrackedPaths(ctx context.Context, datasite string) (map[string]changedetector.LocalRecord, error) {
	prefix := "datasites/" + datasite

	recs, err := t.store.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}

	out := make(map[string]changedetector.LocalRecord, len(recs))

	for _, r := range recs {
		out[r.Path] = changedetector.LocalRecord{
			Path:      r.Path,
			Hash:      r.Hash,
			MtimeNS:   r.MtimeNS,
			SizeBytes: r.SizeBytes,
			Tracked:   true,
		}
	}

	return out, nil
}
