package permissions

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrateSnapshot_ConvertsLegacyFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "datasites", "a@x.org")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	legacy := `{"read": ["b@x.org", "GLOBAL"], "write": ["a@x.org"], "terminal": true, "filepath": "ignored"}`
	legacyPath := filepath.Join(dir, LegacyFileName)

	if err := os.WriteFile(legacyPath, []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := MigrateSnapshot(root, logger); err != nil {
		t.Fatalf("MigrateSnapshot: %v", err)
	}

	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Fatal("expected legacy file to be removed")
	}

	newPath := filepath.Join(dir, FileName)

	data, err := os.ReadFile(newPath)
	if err != nil {
		t.Fatalf("reading migrated file: %v", err)
	}

	rules, err := ParseFile(data)
	if err != nil {
		t.Fatalf("migrated file does not parse: %v", err)
	}

	if len(rules) != 3 {
		t.Fatalf("expected 3 rules (one per user, GLOBAL included), got %d", len(rules))
	}

	for _, r := range rules {
		if !r.Terminal {
			t.Errorf("expected migrated rule for %s to carry terminal=true", r.User)
		}
	}
}

func TestMigrateSnapshot_NoLegacyFiles(t *testing.T) {
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	if err := MigrateSnapshot(root, logger); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}
