// Package hashutil computes the canonical content digest, size, and mtime
// for files, and streams file descriptors for a tree scan. It is the
// Hasher component of the sync engine (spec §4.1).
package hashutil

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/OpenMined/syftbox-go/internal/deltacodec"
)

// Descriptor is the result of hashing one file: its canonical digest, size,
// modification time in nanoseconds since the Unix epoch, and the delta
// codec's signature blob for that content.
type Descriptor struct {
	RelPath   string
	Hash      string
	SizeBytes int64
	MtimeNS   int64
	Signature []byte
}

// ScanError records a file that could not be read during a tree scan. The
// file is excluded from the scan cycle and retried next cycle, per
// spec.md §4.1.
type ScanError struct {
	Path  string
	Cause error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("hashutil: scan error at %s: %v", e.Path, e.Cause)
}

func (e *ScanError) Unwrap() error {
	return e.Cause
}

// scanWorkers bounds the concurrency of the tree-scan worker pool.
const scanWorkers = 8

// HashFile computes the Descriptor for one file on disk. relPath is the
// path to record in the descriptor (typically relative to the snapshot or
// workspace root); absPath is where to actually read the file.
func HashFile(relPath, absPath string) (Descriptor, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return Descriptor{}, fmt.Errorf("hashutil: opening %s: %w", absPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Descriptor{}, fmt.Errorf("hashutil: stat %s: %w", absPath, err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return Descriptor{}, fmt.Errorf("hashutil: reading %s: %w", absPath, err)
	}

	sig, err := deltacodec.Signature(data)
	if err != nil {
		return Descriptor{}, fmt.Errorf("hashutil: signing %s: %w", absPath, err)
	}

	return Descriptor{
		RelPath:   relPath,
		Hash:      HashBytes(data),
		SizeBytes: info.Size(),
		MtimeNS:   info.ModTime().UnixNano(),
		Signature: sig,
	}, nil
}

// HashBytes returns the canonical hex-encoded digest of data. xxhash's
// 64-bit sum is the chosen digest (see DESIGN.md): non-cryptographic, fast,
// and both client and server agree on it byte-for-byte.
func HashBytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// skipNames lists hidden OS artifacts that are never synced, per spec.md §4.1.
var skipNames = map[string]bool{
	".DS_Store": true,
}

// shouldSkip reports whether a directory entry is a symlink, a device
// file, or a hidden OS artifact that the scan must exclude.
func shouldSkip(name string, info fs.FileInfo) bool {
	if skipNames[name] {
		return true
	}

	if strings.HasPrefix(name, "Icon") {
		return true
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return true
	}

	if info.Mode()&(os.ModeDevice|os.ModeCharDevice|os.ModeSocket|os.ModeNamedPipe) != 0 {
		return true
	}

	return false
}

// ScanTree walks root concurrently (bounded by scanWorkers), producing a
// Descriptor for every regular file plus any ScanErrors encountered.
// Filenames are normalized to NFC before being used as RelPath, so two
// clients on different platforms agree on the same path for
// decomposed-vs-precomposed Unicode filenames.
func ScanTree(ctx context.Context, root string) ([]Descriptor, []*ScanError, error) {
	type job struct {
		relPath string
		absPath string
	}

	var jobs []job

	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}

		if shouldSkip(d.Name(), info) {
			return nil
		}

		rel, relErr := filepath.Rel(root, absPath)
		if relErr != nil {
			return nil
		}

		relPath := norm.NFC.String(filepath.ToSlash(rel))

		jobs = append(jobs, job{relPath: relPath, absPath: absPath})

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("hashutil: walking %s: %w", root, err)
	}

	descs := make([]Descriptor, len(jobs))
	scanErrs := make([]*ScanError, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanWorkers)

	for i, j := range jobs {
		i, j := i, j

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			desc, hErr := HashFile(j.relPath, j.absPath)
			if hErr != nil {
				scanErrs[i] = &ScanError{Path: j.relPath, Cause: hErr}
				return nil
			}

			descs[i] = desc

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var results []Descriptor

	var errs []*ScanError

	for i := range jobs {
		if scanErrs[i] != nil {
			errs = append(errs, scanErrs[i])
			continue
		}

		results = append(results, descs[i])
	}

	return results, errs, nil
}
