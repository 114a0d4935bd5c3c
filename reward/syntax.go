package reward

import (
	"strings"
	"unicode"
)

const bondSymbols = "-=#$:/\\."

// Syntax is a Validator which performs a purely syntactic
// check of a line notation such as SMILES.
//
// It checks that a string is non-empty, that branches are
// balanced and non-empty, that bracket atoms are closed
// and not nested, and that every ring-closure label
// (a digit, or % followed by two digits) is used an even
// number of times.
// It does not check valences or aromaticity.
type Syntax struct{}

// Parser states of Syntax.Valid.
const (
	afterNothing = iota
	afterAtom
	afterBond
	afterBranch
)

// Valid checks the syntax of s.
func (Syntax) Valid(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 {
		return false
	}
	var depth int
	var inBracket bool
	openRings := map[int]bool{}
	state := afterNothing
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inBracket {
			if r == ']' {
				inBracket = false
				state = afterAtom
			} else if r == '[' {
				return false
			}
			continue
		}
		switch {
		case r == '[':
			inBracket = true
		case r == ']':
			return false
		case r == '(':
			if state != afterAtom {
				return false
			}
			depth++
			state = afterBranch
		case r == ')':
			if depth == 0 || state != afterAtom {
				return false
			}
			depth--
		case r == '%':
			if i+2 >= len(runes) || !unicode.IsDigit(runes[i+1]) ||
				!unicode.IsDigit(runes[i+2]) || !ringAllowed(state) {
				return false
			}
			label := 10*int(runes[i+1]-'0') + int(runes[i+2]-'0')
			openRings[label] = !openRings[label]
			state = afterAtom
			i += 2
		case unicode.IsDigit(r):
			if !ringAllowed(state) {
				return false
			}
			label := int(r - '0')
			openRings[label] = !openRings[label]
			state = afterAtom
		case unicode.IsSpace(r):
			return false
		case unicode.IsLetter(r) || r == '*':
			state = afterAtom
		case strings.ContainsRune(bondSymbols, r):
			if state != afterAtom && state != afterBranch {
				return false
			}
			state = afterBond
		default:
			return false
		}
	}
	if inBracket || depth != 0 || state != afterAtom {
		return false
	}
	for _, open := range openRings {
		if open {
			return false
		}
	}
	return true
}

// ringAllowed reports whether a ring-closure label may
// follow; a bond may precede the label.
func ringAllowed(state int) bool {
	return state == afterAtom || state == afterBond
}
