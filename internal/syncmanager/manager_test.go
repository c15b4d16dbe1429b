package syncmanager

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/OpenMined/syftbox-go/internal/changedetector"
	"github.com/OpenMined/syftbox-go/internal/email"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncconsumer"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

type fakeLister struct {
	datasites []string
	dirState  map[string][]syncclient.FileMetadata
	dirCalls  []string
}

func (f *fakeLister) Datasites(context.Context) ([]string, error) {
	return f.datasites, nil
}

func (f *fakeLister) DirState(_ context.Context, dir string) ([]syncclient.FileMetadata, error) {
	f.dirCalls = append(f.dirCalls, dir)
	return f.dirState[dir], nil
}

type fakeTracker struct{}

func (fakeTracker) TrackedPaths(context.Context, string) (map[string]changedetector.LocalRecord, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCycle_IncludesOwnDatasiteEvenWhenServerOmitsIt(t *testing.T) {
	self := must(email.Parse("me@x.org"))

	lister := &fakeLister{
		datasites: nil, // server returned nothing
		dirState:  map[string][]syncclient.FileMetadata{},
	}

	q := syncqueue.New()
	consumer := syncconsumer.New(q, nil, nil, testLogger())

	m := New(self, t.TempDir(), time.Second, lister, fakeTracker{}, consumer, q, testLogger(), nil)

	if err := m.runCycle(context.Background()); err != nil {
		t.Fatalf("runCycle: %v", err)
	}

	if len(lister.dirCalls) != 1 || lister.dirCalls[0] != "datasites/me@x.org" {
		t.Fatalf("expected the own datasite to be scanned, got dir_state calls %v", lister.dirCalls)
	}
}

func must(addr email.Address, err error) email.Address {
	if err != nil {
		panic(err)
	}

	return addr
}
