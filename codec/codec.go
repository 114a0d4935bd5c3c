// Package codec turns raw strings into one-hot training
// tensors and turns generated symbols back into strings.
//
// Two policies are provided.
// Windowed splits every string into fixed-length windows,
// each paired with the symbol that follows it.
// FullSequence pads every string to a common length and
// pairs each position with its successor.
package codec

import (
	"fmt"

	"github.com/stjordanis/MolBot/vocab"
	"gonum.org/v1/gonum/mat"
)

// A LengthError indicates that a string does not fit
// within the length limits of a policy.
type LengthError struct {
	String string
	Length int
	Limit  int

	// Min is true if Limit is a lower bound rather than an
	// upper bound.
	Min bool
}

func (l *LengthError) Error() string {
	if l.Min {
		return fmt.Sprintf("string %q has padded length %d, shorter than the minimum of %d",
			l.String, l.Length, l.Limit)
	}
	return fmt.Sprintf("string %q has padded length %d, exceeding the maximum length of %d",
		l.String, l.Length, l.Limit)
}

// A Policy encodes training data and drives the context
// used during generation.
type Policy interface {
	// Vocab returns the policy's vocabulary.
	Vocab() *vocab.Vocab

	// Encode encodes training strings.
	Encode(strs []string) (*Set, error)

	// Seed produces the Start-prefixed context from which
	// a continuation of fragment should be generated.
	// The fragLen argument limits how much of fragment is
	// used, where applicable.
	Seed(fragment string, fragLen int) (string, error)

	// Context selects the part of a running context which
	// is fed to the model for the next prediction.
	Context(symbols []int) []int

	// Clean strips boundary and filler symbols from a
	// generated string.
	Clean(s string) string
}

// A Set is a list of encoded training rows.
type Set struct {
	Inputs  []*mat.Dense
	Targets []*mat.Dense

	// Padded stores the padded version of every encoded
	// string, in order.
	Padded []string

	// Index maps strings to rows.
	// It is nil when every string produces exactly one
	// row.
	Index WindowIndex
}

// Len returns the number of rows.
func (s *Set) Len() int {
	return len(s.Inputs)
}

// NumStrings returns the number of strings which were
// encoded to produce the set.
func (s *Set) NumStrings() int {
	return len(s.Padded)
}

// Select creates a new Set containing the rows produced
// by the strings at the given indices.
func (s *Set) Select(idx []int) (*Set, error) {
	res := &Set{}
	if s.Index != nil {
		res.Index = WindowIndex{0}
	}
	for _, i := range idx {
		if i < 0 || i >= len(s.Padded) {
			return nil, fmt.Errorf("select: string index %d out of range [0, %d)", i, len(s.Padded))
		}
		start, end := i, i+1
		if s.Index != nil {
			start, end = s.Index.Rows(i)
		}
		res.Inputs = append(res.Inputs, s.Inputs[start:end]...)
		res.Targets = append(res.Targets, s.Targets[start:end]...)
		res.Padded = append(res.Padded, s.Padded[i])
		if res.Index != nil {
			res.Index = append(res.Index, res.Index[len(res.Index)-1]+end-start)
		}
	}
	return res, nil
}

// A WindowIndex records where each string's rows begin
// in a Set.
//
// It has one more entry than there are strings; the last
// entry is the total number of rows.
type WindowIndex []int

// Rows returns the half-open range of rows belonging to
// the i-th string.
func (w WindowIndex) Rows(i int) (start, end int) {
	return w[i], w[i+1]
}

// Select returns the row indices for the given strings,
// in order.
func (w WindowIndex) Select(idx []int) ([]int, error) {
	var res []int
	for _, i := range idx {
		if i < 0 || i >= len(w)-1 {
			return nil, fmt.Errorf("select: string index %d out of range [0, %d)", i, len(w)-1)
		}
		start, end := w.Rows(i)
		for j := start; j < end; j++ {
			res = append(res, j)
		}
	}
	return res, nil
}

func wrap(s string) string {
	return string(vocab.Start) + s + string(vocab.End)
}
