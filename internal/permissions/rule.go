// Package permissions parses hierarchical permission files, materializes
// their rules into a queryable index, and evaluates effective permissions
// for (user, path, operation) triples.
package permissions

import (
	"fmt"
	"strings"

	"github.com/OpenMined/syftbox-go/internal/email"
)

// Permission is one of the four operations a rule can grant or deny.
type Permission int

const (
	PermRead Permission = iota
	PermCreate
	PermWrite
	PermAdmin
)

// permissionCount is the number of distinct Permission values.
const permissionCount = 4

func (p Permission) String() string {
	switch p {
	case PermRead:
		return "read"
	case PermCreate:
		return "create"
	case PermWrite:
		return "write"
	case PermAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParsePermission converts a lowercase permission name to a Permission.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return PermRead, nil
	case "create":
		return PermCreate, nil
	case "write":
		return PermWrite, nil
	case "admin":
		return PermAdmin, nil
	default:
		return 0, fmt.Errorf("permissions: unknown permission %q", s)
	}
}

// wildcardUser is the special user value matching every viewer.
const wildcardUser = "*"

// Rule is one parsed rule from a permission file, before it has been
// materialized into per-directory Record rows.
type Rule struct {
	Path        string // glob pattern, relative to the permission file's directory
	User        string // email or "*"
	Permissions []Permission
	Allow       bool
	Terminal    bool
	Priority    int // 0-based index within the file
}

// matchesUser reports whether the rule applies to viewer.
func (r Rule) matchesUser(viewer email.Address) bool {
	if r.User == wildcardUser {
		return true
	}

	return email.New(r.User).Equal(viewer)
}

// effectivePath substitutes {useremail} with the querying user's address.
func (r Rule) effectivePath(viewer email.Address) string {
	return strings.ReplaceAll(r.Path, "{useremail}", viewer.String())
}

// Validate checks invariants (a)-(c) from the permission file format:
// the path never escapes its directory, the user is "*" or a syntactically
// valid email, and "**" must not precede "{useremail}" in the same pattern.
func (r Rule) Validate() error {
	if strings.Contains(r.Path, "..") {
		return fmt.Errorf("permissions: rule path %q escapes its directory", r.Path)
	}

	if r.User != wildcardUser {
		if _, err := email.Parse(r.User); err != nil {
			return fmt.Errorf("permissions: rule user %q is invalid: %w", r.User, err)
		}
	}

	if idx := strings.Index(r.Path, "**"); idx >= 0 {
		if ue := strings.Index(r.Path, "{useremail}"); ue >= 0 && idx < ue {
			return fmt.Errorf("permissions: rule path %q has \"**\" preceding \"{useremail}\"", r.Path)
		}
	}

	return nil
}

// Record is a materialized rule, indexed by the directory of the permission
// file that declared it. This is the row persisted by internal/store and
// consulted by the evaluator.
type Record struct {
	PermfileDir   string
	PermfileDepth int
	Priority      int
	Path          string
	User          string
	CanRead       bool
	CanCreate     bool
	CanWrite      bool
	Admin         bool
	Disallow      bool
	Terminal      bool
}

// ToRecord materializes a parsed Rule into a Record for the permission file
// located at dir, at the given depth from the snapshot root.
func ToRecord(r Rule, dir string, depth int) Record {
	rec := Record{
		PermfileDir:   dir,
		PermfileDepth: depth,
		Priority:      r.Priority,
		Path:          r.Path,
		User:          r.User,
		Disallow:      !r.Allow,
		Terminal:      r.Terminal,
	}

	for _, p := range r.Permissions {
		switch p {
		case PermRead:
			rec.CanRead = true
		case PermCreate:
			rec.CanCreate = true
		case PermWrite:
			rec.CanWrite = true
		case PermAdmin:
			rec.Admin = true
		}
	}

	return rec
}

// permissionsOf reconstructs the Permission list carried by a Record, in a
// fixed canonical order, for re-evaluating against a specific query.
func (rec Record) permissionsOf() []Permission {
	var ps []Permission

	if rec.CanRead {
		ps = append(ps, PermRead)
	}

	if rec.CanCreate {
		ps = append(ps, PermCreate)
	}

	if rec.CanWrite {
		ps = append(ps, PermWrite)
	}

	if rec.Admin {
		ps = append(ps, PermAdmin)
	}

	return ps
}

// asRule reconstructs enough of the original Rule shape from a Record to
// run it back through matching/evaluation logic.
func (rec Record) asRule() Rule {
	return Rule{
		Path:        rec.Path,
		User:        rec.User,
		Permissions: rec.permissionsOf(),
		Allow:       !rec.Disallow,
		Terminal:    rec.Terminal,
		Priority:    rec.Priority,
	}
}
