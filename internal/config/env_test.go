package config

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReadEnvOverrides_SyncInterval(t *testing.T) {
	t.Setenv(envSyncIntervalSeconds, "2.5")

	out := ReadEnvOverrides(testLogger())
	if out.SyncInterval == nil {
		t.Fatal("expected SyncInterval to be set")
	}

	if *out.SyncInterval != 2500*time.Millisecond {
		t.Fatalf("got %v", *out.SyncInterval)
	}
}

func TestReadEnvOverrides_InvalidIntervalIgnored(t *testing.T) {
	t.Setenv(envSyncIntervalSeconds, "not-a-number")

	out := ReadEnvOverrides(testLogger())
	if out.SyncInterval != nil {
		t.Fatal("expected invalid interval to be ignored")
	}
}

func TestResolve_DefaultInterval(t *testing.T) {
	cfg, err := Resolve(testLogger())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if cfg.SyncInterval != defaultSyncInterval {
		t.Fatalf("got %v", cfg.SyncInterval)
	}
}

func TestApply_InvalidEmail(t *testing.T) {
	o := EnvOverrides{Email: "not-an-email"}

	var cfg Config
	if err := o.Apply(&cfg); err == nil {
		t.Fatal("expected error for invalid email")
	}
}
