package store

import (
	"context"
	"log/slog"
	"io"
	"testing"

	"github.com/OpenMined/syftbox-go/internal/permissions"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := Open(context.Background(), ":memory:", logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	t.Cleanup(func() { s.Close() })

	return s
}

func TestUpsertFile_BumpsRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := FileRecord{Path: "datasites/a@x.org/notes.txt", Hash: "abc", SizeBytes: 5, MtimeNS: 1}

	first, err := s.UpsertFile(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertFile: %v", err)
	}

	if first.Revision != 1 {
		t.Fatalf("expected revision 1, got %d", first.Revision)
	}

	rec.Hash = "def"

	second, err := s.UpsertFile(ctx, rec)
	if err != nil {
		t.Fatalf("UpsertFile (2nd): %v", err)
	}

	if second.Revision != 2 {
		t.Fatalf("expected revision 2, got %d", second.Revision)
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	paths := []string{
		"datasites/a@x.org/notes.txt",
		"datasites/a@x.org/sub/file.txt",
		"datasites/b@x.org/notes.txt",
	}

	for _, p := range paths {
		if _, err := s.UpsertFile(ctx, FileRecord{Path: p, Hash: "h", SizeBytes: 1, MtimeNS: 1}); err != nil {
			t.Fatalf("UpsertFile(%s): %v", p, err)
		}
	}

	got, err := s.ListByPrefix(ctx, "datasites/a@x.org")
	if err != nil {
		t.Fatalf("ListByPrefix: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 records under a@x.org, got %d", len(got))
	}
}

func TestListDatasites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, p := range []string{"datasites/a@x.org/n.txt", "datasites/b@x.org/n.txt", "datasites/a@x.org/m.txt"} {
		if _, err := s.UpsertFile(ctx, FileRecord{Path: p, Hash: "h", SizeBytes: 1, MtimeNS: 1}); err != nil {
			t.Fatal(err)
		}
	}

	sites, err := s.ListDatasites(ctx)
	if err != nil {
		t.Fatalf("ListDatasites: %v", err)
	}

	if len(sites) != 2 {
		t.Fatalf("expected 2 datasites, got %d: %v", len(sites), sites)
	}
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.UpsertFile(ctx, FileRecord{Path: "datasites/a@x.org/n.txt", Hash: "h", SizeBytes: 1, MtimeNS: 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteFile(ctx, "datasites/a@x.org/n.txt"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	_, ok, err := s.GetFile(ctx, "datasites/a@x.org/n.txt")
	if err != nil {
		t.Fatal(err)
	}

	if ok {
		t.Fatal("expected file to be gone")
	}
}

func TestReplaceRules_IsTransactional(t *testing.T) {
	s := newTestStore(t)

	recs := []permissions.Record{
		{PermfileDir: "datasites/a@x.org", Priority: 0, Path: "**", User: "*", CanRead: true},
		{PermfileDir: "datasites/a@x.org", Priority: 1, Path: "private/**", User: "*", Disallow: true, CanRead: true},
	}

	if err := s.ReplaceRules("datasites/a@x.org", recs); err != nil {
		t.Fatalf("ReplaceRules: %v", err)
	}

	all, err := s.AllRules()
	if err != nil {
		t.Fatalf("AllRules: %v", err)
	}

	if len(all) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(all))
	}

	// Replacing again with fewer rules drops the old ones.
	if err := s.ReplaceRules("datasites/a@x.org", recs[:1]); err != nil {
		t.Fatalf("ReplaceRules (2nd): %v", err)
	}

	all, err = s.AllRules()
	if err != nil {
		t.Fatal(err)
	}

	if len(all) != 1 {
		t.Fatalf("expected 1 rule after replace, got %d", len(all))
	}
}
