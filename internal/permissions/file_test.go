package permissions

import "testing"

func TestParseFile_Basic(t *testing.T) {
	rules, err := ParseFile([]byte(`
- path: "**"
  user: "*"
  permissions: [read]
- path: "private/**"
  user: "a@x.org"
  permissions: [read, write]
  terminal: true
`))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}

	if rules[0].Priority != 0 || rules[1].Priority != 1 {
		t.Fatalf("expected priorities to be 0-based file order, got %d, %d", rules[0].Priority, rules[1].Priority)
	}

	if !rules[1].Terminal {
		t.Fatal("expected second rule to be terminal")
	}
}

func TestParseFile_AlternateDisallowSpelling(t *testing.T) {
	rules, err := ParseFile([]byte(`
- path: "**"
  user: "*"
  permissions: [read]
  type: disallow
`))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if rules[0].Allow {
		t.Fatal("expected type: disallow to set Allow=false")
	}
}

func TestParseFile_RejectsWholeFileOnError(t *testing.T) {
	_, err := ParseFile([]byte(`
- path: "**"
  user: "*"
  permissions: [bogus]
`))
	if err == nil {
		t.Fatal("expected error for unknown permission name")
	}
}

func TestParseFile_MalformedYAML(t *testing.T) {
	_, err := ParseFile([]byte("not: valid: yaml: [")) //nolint:all
	if err == nil {
		t.Fatal("expected parse error for malformed YAML")
	}
}

func TestRuleValidate_PathEscape(t *testing.T) {
	r := Rule{Path: "../escape", User: "*"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for path escaping its directory")
	}
}

func TestRuleValidate_InvalidUser(t *testing.T) {
	r := Rule{Path: "**", User: "not-an-email"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for invalid user email")
	}
}

func TestRuleValidate_DoubleStarBeforeUserEmailPlaceholder(t *testing.T) {
	r := Rule{Path: "**/{useremail}/x", User: "*"}
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for ** preceding {useremail}")
	}
}

func TestRuleValidate_UserEmailPlaceholderBeforeDoubleStar(t *testing.T) {
	r := Rule{Path: "{useremail}/**", User: "*"}
	if err := r.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
