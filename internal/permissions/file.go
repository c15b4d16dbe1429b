package permissions

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FileName is the canonical permission file name looked for in every
// directory of a datasite.
const FileName = "syftperm.yaml"

// LegacyFileName is the deprecated JSON-format permission file, superseded
// by FileName but still migrated on first encounter (see migrate.go).
const LegacyFileName = "_.syftperm"

// yamlRule is the wire shape of one rule as it appears in a permission
// file's YAML document.
type yamlRule struct {
	Path        string   `yaml:"path"`
	User        string   `yaml:"user"`
	Permissions []string `yaml:"permissions"`
	Allow       *bool    `yaml:"allow"`
	Type        string   `yaml:"type"` // alternate spelling: "disallow" == allow:false
	Terminal    bool     `yaml:"terminal"`
}

// ParseFile parses a permission file's raw YAML bytes into an ordered list
// of validated rules. Any syntactic or semantic error rejects the whole
// file — no partial-rule state is ever returned.
func ParseFile(data []byte) ([]Rule, error) {
	var raw []yamlRule
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("permissions: parsing %s: %w", FileName, err)
	}

	rules := make([]Rule, 0, len(raw))

	for i, yr := range raw {
		rule, err := yr.toRule(i)
		if err != nil {
			return nil, fmt.Errorf("permissions: rule %d: %w", i, err)
		}

		if err := rule.Validate(); err != nil {
			return nil, err
		}

		rules = append(rules, rule)
	}

	return rules, nil
}

func (yr yamlRule) toRule(priority int) (Rule, error) {
	if yr.Path == "" {
		return Rule{}, fmt.Errorf("missing path")
	}

	user := yr.User
	if user == "" {
		user = wildcardUser
	}

	perms := make([]Permission, 0, len(yr.Permissions))

	for _, name := range yr.Permissions {
		p, err := ParsePermission(name)
		if err != nil {
			return Rule{}, err
		}

		perms = append(perms, p)
	}

	allow := true
	if yr.Allow != nil {
		allow = *yr.Allow
	}

	if yr.Type == "disallow" {
		allow = false
	}

	return Rule{
		Path:        yr.Path,
		User:        user,
		Permissions: perms,
		Allow:       allow,
		Terminal:    yr.Terminal,
		Priority:    priority,
	}, nil
}
