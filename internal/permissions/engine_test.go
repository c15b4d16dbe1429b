package permissions

import (
	"testing"

	"github.com/OpenMined/syftbox-go/internal/email"
)

// memRuleStore is a trivial in-memory RuleStore for engine tests.
type memRuleStore struct {
	byDir map[string][]Record
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{byDir: make(map[string][]Record)}
}

func (m *memRuleStore) AllRules() ([]Record, error) {
	var out []Record
	for _, recs := range m.byDir {
		out = append(out, recs...)
	}

	return out, nil
}

func (m *memRuleStore) ReplaceRules(dir string, records []Record) error {
	if records == nil {
		delete(m.byDir, dir)
		return nil
	}

	m.byDir[dir] = records

	return nil
}

func addRule(t *testing.T, e *Engine, dir string, data []byte) {
	t.Helper()

	if err := e.RebuildDir(dir, data); err != nil {
		t.Fatalf("RebuildDir(%s): %v", dir, err)
	}
}

// TestScenario3_WildcardReadGrant mirrors spec.md §8 scenario 3.
func TestScenario3_WildcardReadGrant(t *testing.T) {
	store := newMemRuleStore()
	e := NewEngine(store)

	addRule(t, e, "datasites/a@x.org", []byte(`
- path: "**"
  user: "*"
  permissions: [read]
`))

	viewer := mustAddr(t, "b@x.org")

	eff := e.Evaluate(viewer, "datasites/a@x.org/notes.txt")
	if !eff.Read {
		t.Fatal("expected read to be granted via wildcard rule")
	}
}

// TestScenario4_DeeperDenyOverridesShallow mirrors spec.md §8 scenario 4.
func TestScenario4_DeeperDenyOverridesShallow(t *testing.T) {
	store := newMemRuleStore()
	e := NewEngine(store)

	addRule(t, e, "datasites/a@x.org", []byte(`
- path: "**"
  user: "*"
  permissions: [read]
`))
	addRule(t, e, "datasites/a@x.org/private", []byte(`
- path: "**"
  user: "*"
  permissions: [read]
  allow: false
`))

	viewer := mustAddr(t, "b@x.org")

	if e.Evaluate(viewer, "datasites/a@x.org/private/secret.txt").Read {
		t.Fatal("expected private file to be denied")
	}

	if !e.Evaluate(viewer, "datasites/a@x.org/public.txt").Read {
		t.Fatal("expected non-private file to remain readable")
	}
}

// TestScenario5_TerminalShallowRuleWins mirrors spec.md §8 scenario 5.
func TestScenario5_TerminalShallowRuleWins(t *testing.T) {
	store := newMemRuleStore()
	e := NewEngine(store)

	addRule(t, e, "datasites/a@x.org", []byte(`
- path: "**"
  user: "*"
  permissions: [read]
  terminal: true
`))
	addRule(t, e, "datasites/a@x.org/private", []byte(`
- path: "**"
  user: "*"
  permissions: [read]
  allow: false
`))

	viewer := mustAddr(t, "b@x.org")

	if !e.Evaluate(viewer, "datasites/a@x.org/private/secret.txt").Read {
		t.Fatal("expected terminal shallow grant to win over deeper deny")
	}
}

// TestTerminalIsPerPermission resolves Open Question (a): a terminal rule
// locks only the permissions it names, not the whole rule.
func TestTerminalIsPerPermission(t *testing.T) {
	store := newMemRuleStore()
	e := NewEngine(store)

	addRule(t, e, "datasites/a@x.org", []byte(`
- path: "**"
  user: "*"
  permissions: [read]
  terminal: true
- path: "**"
  user: "*"
  permissions: [write]
`))
	addRule(t, e, "datasites/a@x.org/sub", []byte(`
- path: "**"
  user: "*"
  permissions: [read, write]
  allow: false
`))

	viewer := mustAddr(t, "b@x.org")
	eff := e.Evaluate(viewer, "datasites/a@x.org/sub/file.txt")

	if !eff.Read {
		t.Fatal("expected read to stay locked by the terminal rule")
	}

	if eff.Write {
		t.Fatal("expected write to be overridden by the deeper deny (not terminal)")
	}
}

// TestOwnerAllFourByDefault mirrors the ownership invariant from spec.md §8
// property 5: with a root rule naming the owner, the owner holds all four
// permissions on a file in their own datasite.
func TestOwnerAllFourByDefault(t *testing.T) {
	store := newMemRuleStore()
	e := NewEngine(store)

	addRule(t, e, "datasites/a@x.org", []byte(`
- path: "**"
  user: "a@x.org"
  permissions: [read, create, write, admin]
`))

	owner := mustAddr(t, "a@x.org")
	eff := e.Evaluate(owner, "datasites/a@x.org/anything.txt")

	if !(eff.Read && eff.Create && eff.Write && eff.Admin) {
		t.Fatalf("expected owner to have all permissions, got %+v", eff)
	}
}

// TestDenyAllWithNoRules covers: permission evaluation never errors and an
// unmatched path yields deny-all.
func TestDenyAllWithNoRules(t *testing.T) {
	e := NewEngine(newMemRuleStore())

	eff := e.Evaluate(mustAddr(t, "nobody@x.org"), "datasites/a@x.org/file.txt")
	if eff.Read || eff.Write || eff.Create || eff.Admin {
		t.Fatalf("expected deny-all, got %+v", eff)
	}
}

func mustAddr(t *testing.T, raw string) email.Address {
	t.Helper()

	a, err := email.Parse(raw)
	if err != nil {
		t.Fatalf("parsing %q: %v", raw, err)
	}

	return a
}
