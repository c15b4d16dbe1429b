// Package email provides a normalized, type-safe wrapper around datasite
// owner email addresses. It consolidates lowercasing and validation so the
// rest of the codebase never compares raw strings.
package email

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"fmt"
	"strings"
)

// Address is a normalized datasite owner identifier (lowercase email). The
// zero value (Address{}) represents an absent or unknown owner.
type Address struct {
	value string
}

// New creates a normalized Address from a raw email string. Applies
// lowercasing and trims surrounding whitespace. Empty input returns the zero
// Address.
func New(raw string) Address {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}
	}

	return Address{value: strings.ToLower(trimmed)}
}

// Parse validates that raw looks like an email address (contains exactly one
// "@" with non-empty local and domain parts) before normalizing it.
func Parse(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, fmt.Errorf("email: empty address")
	}

	at := strings.IndexByte(trimmed, '@')
	if at <= 0 || at == len(trimmed)-1 || strings.IndexByte(trimmed[at+1:], '@') >= 0 {
		return Address{}, fmt.Errorf("email: %q is not a valid address", raw)
	}

	return Address{value: strings.ToLower(trimmed)}, nil
}

// String returns the normalized email string.
func (a Address) String() string {
	return a.value
}

// IsZero reports whether this is the zero-value Address.
func (a Address) IsZero() bool {
	return a.value == ""
}

// Equal reports whether two addresses are identical once normalized.
func (a Address) Equal(other Address) bool {
	return a.value == other.value
}

// Domain returns the portion of the address after "@", or "" for the zero
// Address.
func (a Address) Domain() string {
	at := strings.IndexByte(a.value, '@')
	if at < 0 {
		return ""
	}

	return a.value[at+1:]
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, normalizing the input.
func (a *Address) UnmarshalText(text []byte) error {
	*a = New(string(text))
	return nil
}

// Scan implements sql.Scanner for reading addresses out of SQLite. SQL NULL
// produces the zero Address.
func (a *Address) Scan(src any) error {
	if src == nil {
		*a = Address{}
		return nil
	}

	switch v := src.(type) {
	case string:
		*a = New(v)
		return nil
	case []byte:
		*a = New(string(v))
		return nil
	default:
		return fmt.Errorf("email.Address.Scan: unsupported type %T", src)
	}
}

// Value implements driver.Valuer. The zero Address writes SQL NULL.
func (a Address) Value() (driver.Value, error) {
	if a.IsZero() {
		return nil, nil
	}

	return a.value, nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = Address{}
	_ encoding.TextUnmarshaler = (*Address)(nil)
	_ fmt.Stringer             = Address{}
	_ driver.Valuer            = Address{}
	_ sql.Scanner              = (*Address)(nil)
)
