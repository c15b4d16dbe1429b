package syncconsumer

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/OpenMined/syftbox-go/internal/deltacodec"
	"github.com/OpenMined/syftbox-go/internal/hashutil"
	"github.com/OpenMined/syftbox-go/internal/store"
	"github.com/OpenMined/syftbox-go/internal/syncclient"
	"github.com/OpenMined/syftbox-go/internal/syncqueue"
)

type fakeTransport struct {
	files map[string][]byte // server-side content by path

	created []string
	deleted []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{files: make(map[string][]byte)}
}

func (f *fakeTransport) GetMetadata(_ context.Context, pathLike string) ([]syncclient.FileMetadata, error) {
	data, ok := f.files[pathLike]
	if !ok {
		return nil, nil
	}

	return []syncclient.FileMetadata{{Path: pathLike, Hash: hashutil.HashBytes(data), SizeBytes: int64(len(data))}}, nil
}

func (f *fakeTransport) GetDiff(_ context.Context, path string, signature []byte) (syncclient.DiffResult, error) {
	data := f.files[path]

	if len(signature) == 0 {
		return syncclient.DiffResult{Path: path, Diff: data, Hash: hashutil.HashBytes(data)}, nil
	}

	diff, err := deltacodec.Diff(signature, data)
	if err != nil {
		return syncclient.DiffResult{}, err
	}

	return syncclient.DiffResult{Path: path, Diff: diff, Hash: hashutil.HashBytes(data)}, nil
}

func (f *fakeTransport) ApplyDiff(_ context.Context, path string, diff []byte, expectedHash string) (syncclient.ApplyDiffResult, error) {
	base := f.files[path]

	result, err := deltacodec.Apply(base, diff)
	if err != nil {
		return syncclient.ApplyDiffResult{}, err
	}

	hash := hashutil.HashBytes(result)
	previous := hashutil.HashBytes(base)
	f.files[path] = result

	return syncclient.ApplyDiffResult{Path: path, CurrentHash: hash, PreviousHash: previous}, nil
}

func (f *fakeTransport) Create(_ context.Context, path string, content []byte) error {
	f.files[path] = content
	f.created = append(f.created, path)

	return nil
}

func (f *fakeTransport) Delete(_ context.Context, path string) error {
	delete(f.files, path)
	f.deleted = append(f.deleted, path)

	return nil
}

func (f *fakeTransport) Download(_ context.Context, path string) ([]byte, error) {
	return f.files[path], nil
}

type fakeLocalTree struct {
	files   map[string][]byte
	records map[string]store.FileRecord
}

func newFakeLocalTree() *fakeLocalTree {
	return &fakeLocalTree{files: make(map[string][]byte), records: make(map[string]store.FileRecord)}
}

func (l *fakeLocalTree) ReadFile(path string) ([]byte, error) {
	data, ok := l.files[path]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}

	return data, nil
}

func (l *fakeLocalTree) WriteFile(path string, data []byte) error {
	l.files[path] = data
	return nil
}

func (l *fakeLocalTree) RemoveFile(path string) error {
	delete(l.files, path)
	return nil
}

func (l *fakeLocalTree) UpsertRecord(_ context.Context, rec store.FileRecord) error {
	l.records[rec.Path] = rec
	return nil
}

func (l *fakeLocalTree) DeleteRecord(_ context.Context, path string) error {
	delete(l.records, path)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumeAll_PushCreateUploadsNewFile(t *testing.T) {
	transport := newFakeTransport()
	local := newFakeLocalTree()
	local.files["a.txt"] = []byte("hello")

	q := syncqueue.New()
	q.Push(&syncqueue.Entry{Path: "a.txt", Kind: syncqueue.KindCreate, Direction: syncqueue.Push, DetectedAt: time.Now()})

	c := New(q, transport, local, testLogger())

	if err := c.ConsumeAll(context.Background()); err != nil {
		t.Fatalf("ConsumeAll: %v", err)
	}

	if string(transport.files["a.txt"]) != "hello" {
		t.Fatalf("expected server to receive the uploaded content, got %q", transport.files["a.txt"])
	}

	if local.records["a.txt"].Hash == "" {
		t.Fatal("expected local metadata record to be populated")
	}
}

func TestConsumeAll_PullCreateWritesNewLocalFile(t *testing.T) {
	transport := newFakeTransport()
	transport.files["b.txt"] = []byte("from server")

	local := newFakeLocalTree()

	q := syncqueue.New()
	q.Push(&syncqueue.Entry{Path: "b.txt", Kind: syncqueue.KindCreate, Direction: syncqueue.Pull, DetectedAt: time.Now()})

	c := New(q, transport, local, testLogger())

	if err := c.ConsumeAll(context.Background()); err != nil {
		t.Fatalf("ConsumeAll: %v", err)
	}

	if string(local.files["b.txt"]) != "from server" {
		t.Fatalf("expected local file to be written, got %q", local.files["b.txt"])
	}
}

func TestConsumeAll_PushWriteSendsDiffAgainstServerVersion(t *testing.T) {
	transport := newFakeTransport()
	transport.files["c.txt"] = []byte("version one")

	local := newFakeLocalTree()
	local.files["c.txt"] = []byte("version two, a bit longer")

	q := syncqueue.New()
	q.Push(&syncqueue.Entry{Path: "c.txt", Kind: syncqueue.KindWrite, Direction: syncqueue.Push, DetectedAt: time.Now()})

	c := New(q, transport, local, testLogger())

	if err := c.ConsumeAll(context.Background()); err != nil {
		t.Fatalf("ConsumeAll: %v", err)
	}

	if string(transport.files["c.txt"]) != "version two, a bit longer" {
		t.Fatalf("expected server content to converge to local content, got %q", transport.files["c.txt"])
	}
}

func TestConsumeAll_PushDeleteRemovesServerAndLocalRecord(t *testing.T) {
	transport := newFakeTransport()
	transport.files["d.txt"] = []byte("gone soon")

	local := newFakeLocalTree()
	local.records["d.txt"] = store.FileRecord{Path: "d.txt", Hash: "h"}

	q := syncqueue.New()
	q.Push(&syncqueue.Entry{Path: "d.txt", Kind: syncqueue.KindDelete, Direction: syncqueue.Push, DetectedAt: time.Now()})

	c := New(q, transport, local, testLogger())

	if err := c.ConsumeAll(context.Background()); err != nil {
		t.Fatalf("ConsumeAll: %v", err)
	}

	if _, ok := transport.files["d.txt"]; ok {
		t.Fatal("expected server copy to be deleted")
	}

	if _, ok := local.records["d.txt"]; ok {
		t.Fatal("expected local metadata record to be deleted")
	}
}

func TestConsumeAll_PullDeleteRemovesLocalFileAndRecord(t *testing.T) {
	transport := newFakeTransport()

	local := newFakeLocalTree()
	local.files["e.txt"] = []byte("will be removed")
	local.records["e.txt"] = store.FileRecord{Path: "e.txt", Hash: "h"}

	q := syncqueue.New()
	q.Push(&syncqueue.Entry{Path: "e.txt", Kind: syncqueue.KindDelete, Direction: syncqueue.Pull, DetectedAt: time.Now()})

	c := New(q, transport, local, testLogger())

	if err := c.ConsumeAll(context.Background()); err != nil {
		t.Fatalf("ConsumeAll: %v", err)
	}

	if _, ok := local.files["e.txt"]; ok {
		t.Fatal("expected local file to be removed")
	}

	if _, ok := local.records["e.txt"]; ok {
		t.Fatal("expected local record to be removed")
	}
}
