// Package changedetector implements the Change Detector component
// (spec §4.6): it compares a local file tree against the server's
// dir_state metadata for one datasite and emits typed change events.
package changedetector

import (
	"path"
	"time"

	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/permissions"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

// LocalRecord is what the detector knows about a file from the last
// confirmed sync: its path, hash, and whether it was previously tracked
// (present in local metadata even if now missing from disk).
type LocalRecord struct {
	Path      string
	Hash      string
	MtimeNS   int64
	SizeBytes int64
	Tracked   bool
}

// Event is a detected change, ready to be fed to internal/syncqueue.
type Event struct {
	Path       string
	Kind       syncqueue.Kind
	Direction  syncqueue.Direction
	LocalHash  string
	RemoteHash string
	DetectedAt time.Time
}

// Push and Pull re-export syncqueue's Direction constants so callers in
// this package don't need a second import for them.
const (
	Push = syncqueue.Push
	Pull = syncqueue.Pull
)

// smallFileThreshold is the size boundary the priority classifier uses to
// distinguish small from large files, per spec §4.6/§3's priority rule.
const smallFileThreshold = 4 * 1024 * 1024

// Detect compares local (the current local scan, keyed by path) against
// remote (the server's dir_state for the same datasite) and produces the
// ordered list of Events for one cycle, per spec.md §4.6's decision table.
// Permission files are ordered first within the returned slice, as spec.md
// §4.6 and §5 require ("Permission files always fire before any other
// change in the same cycle").
func Detect(local map[string]hashutil.Descriptor, localTracked map[string]LocalRecord, remote []syncclient.FileMetadata, now time.Time) []Event {
	remoteByPath := make(map[string]syncclient.FileMetadata, len(remote))
	for _, m := range remote {
		remoteByPath[m.Path] = m
	}

	var events []Event

	for p, desc := range local {
		rm, remoteHas := remoteByPath[p]

		switch {
		case !remoteHas:
			events = append(events, newEvent(p, syncqueue.KindCreate, Push, desc.Hash, "", now))
		case rm.Hash != desc.Hash:
			dir := Push
			if desc.MtimeNS <= rm.MtimeNS {
				dir = Pull
			}

			events = append(events, newEvent(p, syncqueue.KindWrite, dir, desc.Hash, rm.Hash, now))
		}
	}

	for p, rm := range remoteByPath {
		if _, ok := local[p]; ok {
			continue
		}

		events = append(events, newEvent(p, syncqueue.KindCreate, Pull, "", rm.Hash, now))
	}

	for p, tr := range localTracked {
		if _, stillLocal := local[p]; stillLocal {
			continue
		}

		if !tr.Tracked {
			continue
		}

		if _, remoteHas := remoteByPath[p]; !remoteHas {
			continue
		}

		events = append(events, newEvent(p, syncqueue.KindDelete, Push, "", "", now))
	}

	sortPermissionFilesFirst(events)

	return events
}

func newEvent(p string, kind syncqueue.Kind, dir syncqueue.Direction, localHash, remoteHash string, now time.Time) Event {
	return Event{Path: p, Kind: kind, Direction: dir, LocalHash: localHash, RemoteHash: remoteHash, DetectedAt: now}
}

func sortPermissionFilesFirst(events []Event) {
	n := 0

	for i, e := range events {
		if isPermissionEvent(e) {
			events[n], events[i] = events[i], events[n]
			n++
		}
	}
}

func isPermissionEvent(e Event) bool {
	base := path.Base(e.Path)
	return base == permissions.FileName || base == permissions.LegacyFileName
}

// QueueEntry converts a detected Event into a syncqueue.Entry, computing
// its priority class per spec.md §3: permission files highest, then small
// files, then large files.
func QueueEntry(e Event, sizeBytes int64) *syncqueue.Entry {
	entry := &syncqueue.Entry{
		Path:       e.Path,
		Kind:       e.Kind,
		Direction:  e.Direction,
		LocalHash:  e.LocalHash,
		RemoteHash: e.RemoteHash,
		DetectedAt: e.DetectedAt,
	}

	switch {
	case isPermissionEvent(e):
		entry.Priority = syncqueue.PriorityPermissionFile
	case sizeBytes < smallFileThreshold:
		entry.Priority = syncqueue.PrioritySmallFile
	default:
		entry.Priority = syncqueue.PriorityLargeFile
	}

	return entry
}
