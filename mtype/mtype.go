// Package mtype implements message-type naming and the wildcard matching
// rules used to route messages to subscribed clients. An mtype is a
// sequence of atoms joined by dots, and a subscription pattern may end in
// a "*" atom that stands for zero or more trailing atoms.
package mtype

import "strings"

const wildcard = "*"

// Valid reports whether s is a well-formed mtype or subscription pattern.
// Atoms must be non-empty and drawn from letters, digits, underscore and
// hyphen. A final "*" atom is accepted since patterns share the syntax.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	atoms := strings.Split(s, ".")
	for i, a := range atoms {
		if a == wildcard && i == len(atoms)-1 {
			continue
		}
		if !validAtom(a) {
			return false
		}
	}
	return true
}

func validAtom(a string) bool {
	if a == "" {
		return false
	}
	for _, r := range a {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Matches reports whether the mtype mt falls under pattern. A trailing
// "*" atom matches zero or more remaining atoms, so "samp.app.*" covers
// "samp.app" as well as "samp.app.ping". A "*" anywhere else, or embedded
// in an atom, only matches itself. Comparison is case-sensitive.
func Matches(pattern, mt string) bool {
	pa := strings.Split(pattern, ".")
	ma := strings.Split(mt, ".")
	if pa[len(pa)-1] == wildcard {
		pa = pa[:len(pa)-1]
		if len(ma) < len(pa) {
			return false
		}
		ma = ma[:len(pa)]
	} else if len(ma) != len(pa) {
		return false
	}
	for i := range pa {
		if pa[i] != ma[i] {
			return false
		}
	}
	return true
}
