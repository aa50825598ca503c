// Package ckey canonicalizes the player and moderator keys that flow through
// the reconciler: lowercase, then strip every character outside [a-z0-9].
package ckey

import "strings"

// Canonicalize reduces s to its canonical form. It is idempotent:
// Canonicalize(Canonicalize(x)) == Canonicalize(x) for all x.
func Canonicalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r - 'A' + 'a')
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CanonicalizePtr applies Canonicalize to *s in place, or returns nil for a
// nil input. Used for the optional UnbannedBy field.
func CanonicalizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	canon := Canonicalize(*s)
	return &canon
}
