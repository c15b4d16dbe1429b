// Package config resolves the values the sync core needs to run: the local
// datasite identity, the server to reconcile against, the snapshot/
// workspace root, the sync loop interval, and a handful of filter/safety
// toggles. Persisting this as a user-facing file format, prompting for it
// interactively, and token storage are out of core (spec.md §1); this
// package only holds the already-resolved values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/OpenMined/syftbox-go/internal/email"
)

// defaultSyncInterval matches spec.md §6's documented default.
const defaultSyncInterval = 1 * time.Second

// Config is the resolved runtime configuration for one sync participant
// (client or server).
type Config struct {
	// Email is the local participant's datasite identity. Required for a
	// client; a server instance leaves this zero.
	Email email.Address

	// ServerURL is the base URL of the sync server a client talks to.
	ServerURL string

	// WorkspaceRoot is "<root>/sync" on a client, or the snapshot root on
	// a server — see spec.md §6's on-disk layout.
	WorkspaceRoot string

	// DataDir is "<root>/config" — where the metadata store and logs live.
	DataDir string

	// SyncInterval is how often the sync manager runs a cycle. Overridden
	// by the SYNC_INTERVAL_SECONDS environment variable (spec.md §6).
	SyncInterval time.Duration

	// Filter controls which files the change detector considers.
	Filter FilterConfig

	// Safety controls protective thresholds.
	Safety SafetyConfig

	// Logging controls log output behavior.
	Logging LoggingConfig

	// Websocket enables the optional server-push wake-early channel
	// (enrichment beyond spec.md's core; see DESIGN.md).
	Websocket bool
}

// FilterConfig controls which files and directories the change detector
// includes. Mirrors the teacher's FilterConfig shape, trimmed to what the
// change detector (spec §4.6) and permission engine actually consult.
type FilterConfig struct {
	SkipDotfiles bool     `toml:"skip_dotfiles"`
	SkipSymlinks bool     `toml:"skip_symlinks"`
	IgnoreMarker string   `toml:"ignore_marker"`
	SkipPatterns []string `toml:"skip_patterns"`
}

// SafetyConfig controls protective defaults, mirroring the teacher's
// big-delete threshold concept applied to datasite sync.
type SafetyConfig struct {
	BigDeleteThreshold  int `toml:"big_delete_threshold"`
	BigDeletePercentage int `toml:"big_delete_percentage"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// fileOverlay is the optional TOML fragment a local config file may supply
// for values awkward to pass as environment variables (filter patterns,
// safety thresholds, log level). It never carries identity or server URL —
// those come from CLI flags/env so tests and local runs don't need a file
// on disk at all.
type fileOverlay struct {
	Filter  FilterConfig  `toml:"filter"`
	Safety  SafetyConfig  `toml:"safety"`
	Logging LoggingConfig `toml:"logging"`
}

// LoadOverlay reads an optional TOML fragment from path and applies it on
// top of cfg. A missing path is not an error — it simply leaves cfg
// unchanged.
func LoadOverlay(path string, cfg *Config) error {
	if path == "" {
		return nil
	}

	overlay := fileOverlay{Filter: cfg.Filter, Safety: cfg.Safety, Logging: cfg.Logging}

	meta, err := toml.DecodeFile(path, &overlay)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("config: decoding %s: %w", path, err)
	}

	_ = meta // undecoded keys are ignored; this is a narrow, additive overlay

	cfg.Filter = overlay.Filter
	cfg.Safety = overlay.Safety
	cfg.Logging = overlay.Logging

	return nil
}

// Default returns a Config with documented defaults applied, ready to be
// overridden by environment variables and an optional file overlay.
func Default() Config {
	return Config{
		SyncInterval: defaultSyncInterval,
		Safety: SafetyConfig{
			BigDeleteThreshold:  100,
			BigDeletePercentage: 50,
		},
		Logging: LoggingConfig{
			LogLevel: "info",
		},
	}
}
