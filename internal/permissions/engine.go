package permissions

import (
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/OpenMined/syftbox-go/internal/email"
)

// RuleStore is the subset of internal/store's persistence the engine needs:
// reading every rule record under the snapshot, and replacing the rules for
// one permission-file directory in a single transaction.
type RuleStore interface {
	AllRules() ([]Record, error)
	ReplaceRules(permfileDir string, records []Record) error
}

// Effective is the per-operation answer to a (user, path) query.
type Effective struct {
	Read, Create, Write, Admin bool
}

// Allows reports whether the effective result grants p.
func (e Effective) Allows(p Permission) bool {
	switch p {
	case PermRead:
		return e.Read
	case PermCreate:
		return e.Create
	case PermWrite:
		return e.Write
	case PermAdmin:
		return e.Admin
	default:
		return false
	}
}

// Engine maintains an in-memory rule index mirrored from the store and
// answers effective-permission queries against it. Queries take a shared
// lock; a rebuild of one permission file's rules takes an exclusive lock
// for the duration of the replace.
type Engine struct {
	mu    sync.RWMutex
	store RuleStore
	rules []Record // all known rule records, unordered
}

// NewEngine constructs an Engine over store with an empty rule index. Call
// Reload after startup to populate it, or NewEngineLoaded to do both in one
// step.
func NewEngine(store RuleStore) *Engine {
	return &Engine{store: store}
}

// NewEngineLoaded constructs an Engine and immediately loads every rule
// record from store, as the spec requires at startup.
func NewEngineLoaded(store RuleStore) (*Engine, error) {
	e := NewEngine(store)
	if err := e.Reload(); err != nil {
		return nil, err
	}

	return e, nil
}

// Reload re-reads every rule record from the store, replacing the
// in-memory index wholesale.
func (e *Engine) Reload() error {
	rules, err := e.store.AllRules()
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()

	return nil
}

// RebuildDir re-parses the permission file at dir (raw bytes already
// extracted by the caller) and replaces its rule records in one
// transaction, per spec.md §4.4 ("no partial-rule state"). dir is the
// snapshot-relative directory holding the permission file; its number of
// path segments is the rules' permfile_depth.
func (e *Engine) RebuildDir(dir string, data []byte) error {
	parsed, err := ParseFile(data)
	if err != nil {
		return err
	}

	depth := strings.Count(strings.Trim(dir, "/"), "/") + 1
	if strings.Trim(dir, "/") == "" {
		depth = 0
	}

	records := make([]Record, 0, len(parsed))
	for _, r := range parsed {
		records = append(records, ToRecord(r, dir, depth))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.ReplaceRules(dir, records); err != nil {
		return err
	}

	filtered := e.rules[:0:0]
	for _, rec := range e.rules {
		if rec.PermfileDir != dir {
			filtered = append(filtered, rec)
		}
	}

	e.rules = append(filtered, records...)

	return nil
}

// RemoveDir drops every rule record owned by the permission file at dir,
// e.g. because the file itself was deleted.
func (e *Engine) RemoveDir(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.ReplaceRules(dir, nil); err != nil {
		return err
	}

	filtered := e.rules[:0:0]
	for _, rec := range e.rules {
		if rec.PermfileDir != dir {
			filtered = append(filtered, rec)
		}
	}

	e.rules = filtered

	return nil
}

// Evaluate computes the effective permission set for viewer at targetPath.
// targetPath is relative to the snapshot root (e.g. "datasites/a@x.org/notes.txt").
// Permission evaluation never errors: any unexpected input yields deny-all,
// per spec.md §7.
func (e *Engine) Evaluate(viewer email.Address, targetPath string) Effective {
	e.mu.RLock()
	candidates := e.collectAncestors(targetPath)
	e.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].PermfileDepth != candidates[j].PermfileDepth {
			return candidates[i].PermfileDepth < candidates[j].PermfileDepth
		}

		return candidates[i].Priority < candidates[j].Priority
	})

	var result Effective

	terminal := [permissionCount]bool{}
	terminalDeny := [permissionCount]bool{}

	for _, rec := range candidates {
		rule := rec.asRule()
		if !rule.matchesUser(viewer) {
			continue
		}

		effectivePath := rule.effectivePath(viewer)

		rel := relativeTo(targetPath, rec.PermfileDir)

		matched, err := doublestar.Match(effectivePath, rel)
		if err != nil || !matched {
			continue
		}

		for _, p := range rule.Permissions {
			if terminal[p] {
				continue
			}

			setEffective(&result, p, rule.Allow)

			if rule.Terminal {
				terminal[p] = true
				terminalDeny[p] = !rule.Allow
			}
		}
	}

	// Ownership invariant (spec.md §3, §8 property 5): the datasite owner
	// always holds all four permissions under their own root, unless an
	// explicit terminal rule denied one.
	if owner, ok := datasiteOwner(targetPath); ok && owner.Equal(viewer) {
		for p := Permission(0); p < permissionCount; p++ {
			if !terminalDeny[p] {
				setEffective(&result, p, true)
			}
		}
	}

	return result
}

// datasiteOwner extracts the owning email from a snapshot-relative path of
// the form "datasites/<email>/...", per spec.md §3's ownership rule. The
// datasite root itself ("datasites/<email>") also counts.
func datasiteOwner(targetPath string) (email.Address, bool) {
	clean := strings.TrimPrefix(path.Clean(targetPath), "/")

	parts := strings.SplitN(clean, "/", 3)
	if len(parts) < 2 || parts[0] != "datasites" {
		return email.Address{}, false
	}

	addr, err := email.Parse(parts[1])
	if err != nil {
		return email.Address{}, false
	}

	return addr, true
}

// Allowed is a convenience wrapper for a single-permission check.
func (e *Engine) Allowed(viewer email.Address, targetPath string, p Permission) bool {
	return e.Evaluate(viewer, targetPath).Allows(p)
}

// collectAncestors returns every rule record whose permfile_dir is an
// ancestor of, or equal to, targetPath.
func (e *Engine) collectAncestors(targetPath string) []Record {
	dir := path.Dir(path.Clean(targetPath))

	var out []Record

	for _, rec := range e.rules {
		if isAncestorOrEqual(rec.PermfileDir, dir, targetPath) {
			out = append(out, rec)
		}
	}

	return out
}

// isAncestorOrEqual reports whether permfileDir is "." (snapshot root,
// ancestor of everything) or a path-component prefix of dir/targetPath.
func isAncestorOrEqual(permfileDir, dir, targetPath string) bool {
	clean := path.Clean(permfileDir)
	if clean == "." || clean == "" {
		return true
	}

	cleanDir := path.Clean(dir)
	if cleanDir == clean {
		return true
	}

	return strings.HasPrefix(cleanDir, clean+"/") || strings.HasPrefix(path.Clean(targetPath), clean+"/")
}

// relativeTo returns targetPath relative to dir (both snapshot-relative,
// forward-slash paths), for matching against a rule's glob.
func relativeTo(targetPath, dir string) string {
	clean := path.Clean(dir)
	if clean == "." || clean == "" {
		return strings.TrimPrefix(path.Clean(targetPath), "/")
	}

	rel := strings.TrimPrefix(path.Clean(targetPath), clean+"/")

	return rel
}

func setEffective(e *Effective, p Permission, allow bool) {
	switch p {
	case PermRead:
		e.Read = allow
	case PermCreate:
		e.Create = allow
	case PermWrite:
		e.Write = allow
	case PermAdmin:
		e.Admin = allow
	}
}
