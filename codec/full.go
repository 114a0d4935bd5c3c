package codec

import (
	"errors"
	"strings"

	"github.com/stjordanis/MolBot/vocab"
	"gonum.org/v1/gonum/mat"
)

// FullSequence is a Policy which trains on entire
// strings, padded to a common length.
type FullSequence struct {
	V *vocab.Vocab

	// MaxSize is the padded length of every string,
	// including the Start and End symbols.
	MaxSize int
}

// NewFullSequence creates a FullSequence policy with an
// existing vocabulary and maximum size.
func NewFullSequence(v *vocab.Vocab, maxSize int) (*FullSequence, error) {
	if v == nil {
		return nil, errors.New("new full-sequence policy: nil vocabulary")
	}
	if maxSize < 2 {
		return nil, errors.New("new full-sequence policy: max size must be at least 2")
	}
	return &FullSequence{V: v, MaxSize: maxSize}, nil
}

// DiscoverFullSequence builds a vocabulary from strs and
// sets MaxSize to fit the longest string.
func DiscoverFullSequence(strs []string) (*FullSequence, error) {
	maxSize := 2
	for _, s := range strs {
		if n := len([]rune(s)) + 2; n > maxSize {
			maxSize = n
		}
	}
	return NewFullSequence(vocab.Build(strs), maxSize)
}

// Vocab returns the vocabulary.
func (f *FullSequence) Vocab() *vocab.Vocab {
	return f.V
}

// Pad wraps s with Start and End, then fills it with Pad
// symbols up to MaxSize.
func (f *FullSequence) Pad(s string) (string, error) {
	wrapped := wrap(s)
	n := len([]rune(wrapped))
	if n > f.MaxSize {
		return "", &LengthError{String: s, Length: n, Limit: f.MaxSize}
	}
	return wrapped + strings.Repeat(string(vocab.Pad), f.MaxSize-n), nil
}

// Encode pads every string and encodes it.
// Each target is its input shifted by one symbol; the
// final target row is all zeros.
func (f *FullSequence) Encode(strs []string) (*Set, error) {
	res := &Set{}
	for _, s := range strs {
		padded, err := f.Pad(s)
		if err != nil {
			return nil, err
		}
		indices, err := f.V.Indices(padded)
		if err != nil {
			return nil, err
		}
		target := mat.NewDense(len(indices), f.V.Len(), nil)
		for i, idx := range indices[1:] {
			target.Set(i, idx, 1)
		}
		res.Inputs = append(res.Inputs, f.V.OneHotIndices(indices))
		res.Targets = append(res.Targets, target)
		res.Padded = append(res.Padded, padded)
	}
	return res, nil
}

// Seed prefixes the first fragLen symbols of fragment
// with a Start symbol.
// If fragLen is not positive, the whole fragment is used.
func (f *FullSequence) Seed(fragment string, fragLen int) (string, error) {
	runes := []rune(fragment)
	if fragLen > 0 && fragLen < len(runes) {
		runes = runes[:fragLen]
	}
	seed := string(vocab.Start) + string(runes)
	if n := len(runes) + 1; n > f.MaxSize {
		return "", &LengthError{String: fragment, Length: n, Limit: f.MaxSize}
	}
	if _, err := f.V.Indices(seed); err != nil {
		return "", err
	}
	return seed, nil
}

// Context returns the entire context.
func (f *FullSequence) Context(symbols []int) []int {
	return symbols
}

// Clean strips the Start and End symbols and removes all
// Pad symbols.
//
// Trailing padding is trimmed before the End symbol is
// stripped, since padding follows End in a padded string.
func (f *FullSequence) Clean(s string) string {
	s = vocab.Strip(strings.TrimRight(s, string(vocab.Pad)))
	return strings.Replace(s, string(vocab.Pad), "", -1)
}
