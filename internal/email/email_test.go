package email

import "testing"

func TestNew_Normalizes(t *testing.T) {
	a := New("  Alice@Example.COM  ")
	if a.String() != "alice@example.com" {
		t.Fatalf("got %q", a.String())
	}
}

func TestNew_Empty(t *testing.T) {
	if !New("").IsZero() {
		t.Fatal("expected zero Address for empty input")
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{"", "noatsign", "@example.com", "alice@", "a@b@c.com"}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) expected error", c)
		}
	}
}

func TestParse_Valid(t *testing.T) {
	a, err := Parse("Bob@Example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if a.String() != "bob@example.com" {
		t.Fatalf("got %q", a.String())
	}
}

func TestEqual(t *testing.T) {
	a := New("alice@example.com")
	b := New("Alice@Example.com")

	if !a.Equal(b) {
		t.Fatal("expected equal addresses")
	}
}

func TestDomain(t *testing.T) {
	a := New("alice@example.com")
	if a.Domain() != "example.com" {
		t.Fatalf("got %q", a.Domain())
	}

	if (Address{}).Domain() != "" {
		t.Fatal("expected empty domain for zero Address")
	}
}
