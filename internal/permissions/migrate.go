package permissions

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// legacyGlobalUser is the legacy wildcard user, spelled "GLOBAL" in
// _.syftperm files instead of the new format's "*".
const legacyGlobalUser = "GLOBAL"

// MigrateSnapshot walks root looking for legacy LegacyFileName permission
// files and converts each to a FileName sibling in the new YAML rule
// format, then removes the legacy file. One-shot and idempotent: once a
// legacy file is converted and removed, re-running finds nothing to do.
// Per spec.md §9, this runs at first server startup if any legacy file is
// found.
func MigrateSnapshot(root string, logger *slog.Logger) error {
	var legacyPaths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && d.Name() == LegacyFileName {
			legacyPaths = append(legacyPaths, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("permissions: walking %s for legacy files: %w", root, err)
	}

	for _, path := range legacyPaths {
		if err := migrateOne(path, logger); err != nil {
			return fmt.Errorf("permissions: migrating %s: %w", path, err)
		}
	}

	return nil
}

func migrateOne(path string, logger *slog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("parsing legacy JSON: %w", err)
	}

	// Permission bits hold email lists; "terminal" is a boolean, kept as a
	// non-empty list when true; "filepath" and other scalars are dropped.
	doc := make(map[string][]string, len(fields))
	for key, val := range fields {
		switch v := val.(type) {
		case bool:
			if v {
				doc[key] = []string{"true"}
			}
		case []any:
			for _, item := range v {
				if addr, ok := item.(string); ok {
					doc[key] = append(doc[key], addr)
				}
			}
		}
	}

	rules := convertLegacy(doc)

	out, err := yaml.Marshal(rules)
	if err != nil {
		return fmt.Errorf("encoding migrated rules: %w", err)
	}

	newPath := filepath.Join(filepath.Dir(path), FileName)
	if err := os.WriteFile(newPath, out, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", newPath, err)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing legacy file %s: %w", path, err)
	}

	logger.Info("migrated legacy permission file", slog.String("from", path), slog.String("to", newPath))

	return nil
}

// legacyYAMLRule mirrors yamlRule's wire shape for marshaling migrated
// rules back out to YAML.
type legacyYAMLRule struct {
	Permissions []string `yaml:"permissions"`
	Path        string   `yaml:"path"`
	User        string   `yaml:"user"`
	Terminal    bool     `yaml:"terminal,omitempty"`
}

// convertLegacy ports convert_permission/map_email_to_permissions from the
// original Python implementation: the legacy document keys permission bits
// to email lists (plus a "terminal" boolean and an unused "filepath"); this
// inverts that into one rule per email, each granting "**" under the
// permission file's own directory.
func convertLegacy(doc map[string][]string) []legacyYAMLRule {
	terminal := false
	emailPerms := make(map[string][]string)

	var bits []string
	for bit := range doc {
		bits = append(bits, bit)
	}

	sort.Strings(bits)

	for _, bit := range bits {
		switch bit {
		case "terminal":
			terminal = len(doc[bit]) > 0
			continue
		case "filepath":
			continue
		}

		for _, addr := range doc[bit] {
			emailPerms[addr] = append(emailPerms[addr], bit)
		}
	}

	var users []string
	for u := range emailPerms {
		users = append(users, u)
	}

	sort.Strings(users)

	rules := make([]legacyYAMLRule, 0, len(users))

	for _, u := range users {
		user := u
		if user == legacyGlobalUser {
			user = wildcardUser
		}

		rules = append(rules, legacyYAMLRule{
			Permissions: emailPerms[u],
			Path:        "**",
			User:        user,
			Terminal:    terminal,
		})
	}

	return rules
}
