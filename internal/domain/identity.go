package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// Identity is an opaque user handle, usually an email address.
// The zero value means "not signed in".
type Identity string

var folder = cases.Fold()

// NewIdentity normalizes a raw handle: surrounding space is trimmed and
// case is folded so "Ops@Example.com" and "ops@example.com" are equal.
func NewIdentity(raw string) Identity {
	return Identity(folder.String(strings.TrimSpace(raw)))
}

// IsZero returns true if no identity is present.
func (id Identity) IsZero() bool {
	return id == ""
}

// String returns the identity as a string.
func (id Identity) String() string {
	return string(id)
}
