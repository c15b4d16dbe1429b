package changedetector

import (
	"testing"
	"time"

	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

func TestDetect_LocalOnlyFileIsPushCreate(t *testing.T) {
	now := time.Now()
	local := map[string]hashutil.Descriptor{
		"datasites/a@x.org/new.txt": {RelPath: "datasites/a@x.org/new.txt", Hash: "h1"},
	}

	events := Detect(local, nil, nil, now)

	if len(events) != 1 || events[0].Kind != syncqueue.KindCreate || events[0].Direction != Push {
		t.Fatalf("expected a single push create, got %+v", events)
	}
}

func TestDetect_RemoteOnlyFileIsPullCreate(t *testing.T) {
	now := time.Now()
	remote := []syncclient.FileMetadata{{Path: "datasites/a@x.org/new.txt", Hash: "h1"}}

	events := Detect(nil, nil, remote, now)

	if len(events) != 1 || events[0].Kind != syncqueue.KindCreate || events[0].Direction != Pull {
		t.Fatalf("expected a single pull create, got %+v", events)
	}
}

func TestDetect_HashMismatchPrefersNewerMtime(t *testing.T) {
	now := time.Now()
	local := map[string]hashutil.Descriptor{
		"datasites/a@x.org/f.txt": {RelPath: "datasites/a@x.org/f.txt", Hash: "h2", MtimeNS: now.UnixNano()},
	}
	remote := []syncclient.FileMetadata{{Path: "datasites/a@x.org/f.txt", Hash: "h1", MtimeNS: now.Add(-time.Hour).UnixNano()}}

	events := Detect(local, nil, remote, now)

	if len(events) != 1 || events[0].Kind != syncqueue.KindWrite || events[0].Direction != Push {
		t.Fatalf("expected push write when local is newer, got %+v", events)
	}
}

func TestDetect_HashMismatchPullsWhenRemoteNewer(t *testing.T) {
	now := time.Now()
	local := map[string]hashutil.Descriptor{
		"datasites/a@x.org/f.txt": {RelPath: "datasites/a@x.org/f.txt", Hash: "h2", MtimeNS: now.Add(-time.Hour).UnixNano()},
	}
	remote := []syncclient.FileMetadata{{Path: "datasites/a@x.org/f.txt", Hash: "h1", MtimeNS: now.UnixNano()}}

	events := Detect(local, nil, remote, now)

	if len(events) != 1 || events[0].Kind != syncqueue.KindWrite || events[0].Direction != Pull {
		t.Fatalf("expected pull write when remote is newer, got %+v", events)
	}
}

func TestDetect_TrackedLocalDeletionIsPushDelete(t *testing.T) {
	now := time.Now()
	tracked := map[string]LocalRecord{
		"datasites/a@x.org/gone.txt": {Path: "datasites/a@x.org/gone.txt", Tracked: true},
	}
	remote := []syncclient.FileMetadata{{Path: "datasites/a@x.org/gone.txt", Hash: "h1"}}

	events := Detect(nil, tracked, remote, now)

	if len(events) != 1 || events[0].Kind != syncqueue.KindDelete {
		t.Fatalf("expected a push delete, got %+v", events)
	}
}

func TestDetect_UntrackedAbsenceProducesNoEvent(t *testing.T) {
	now := time.Now()
	tracked := map[string]LocalRecord{
		"datasites/a@x.org/never-synced.txt": {Tracked: false},
	}

	events := Detect(nil, tracked, nil, now)

	if len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
}

func TestDetect_PermissionFileEventsSortFirst(t *testing.T) {
	now := time.Now()
	local := map[string]hashutil.Descriptor{
		"datasites/a@x.org/data.txt":        {RelPath: "datasites/a@x.org/data.txt", Hash: "h1"},
		"datasites/a@x.org/syftperm.yaml":    {RelPath: "datasites/a@x.org/syftperm.yaml", Hash: "h2"},
		"datasites/a@x.org/sub/more.txt":     {RelPath: "datasites/a@x.org/sub/more.txt", Hash: "h3"},
	}

	events := Detect(local, nil, nil, now)

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}

	if !isPermissionEvent(events[0]) {
		t.Fatalf("expected the permission file event first, got %+v", events[0])
	}
}

func TestQueueEntry_ClassifiesPriority(t *testing.T) {
	permEvent := Event{Path: "datasites/a@x.org/syftperm.yaml", Kind: syncqueue.KindWrite}
	if QueueEntry(permEvent, 10).Priority != syncqueue.PriorityPermissionFile {
		t.Fatal("expected permission file to classify as PriorityPermissionFile")
	}

	smallEvent := Event{Path: "datasites/a@x.org/f.txt", Kind: syncqueue.KindWrite}
	if QueueEntry(smallEvent, 10).Priority != syncqueue.PrioritySmallFile {
		t.Fatal("expected small file to classify as PrioritySmallFile")
	}

	largeEvent := Event{Path: "datasites/a@x.org/f.bin", Kind: syncqueue.KindWrite}
	if QueueEntry(largeEvent, smallFileThreshold+1).Priority != syncqueue.PriorityLargeFile {
		t.Fatal("expected large file to classify as PriorityLargeFile")
	}
}
