package codec

import (
	"errors"

	"github.com/stjordanis/MolBot/vocab"
)

// Windowed is a Policy which trains on fixed-length
// windows of Start/End wrapped strings.
//
// A string of n symbols yields n+2-Window rows.
type Windowed struct {
	V      *vocab.Vocab
	Window int
}

// NewWindowed creates a Windowed policy with an existing
// vocabulary.
func NewWindowed(v *vocab.Vocab, window int) (*Windowed, error) {
	if v == nil {
		return nil, errors.New("new windowed policy: nil vocabulary")
	}
	if window < 1 {
		return nil, errors.New("new windowed policy: window length must be positive")
	}
	return &Windowed{V: v, Window: window}, nil
}

// DiscoverWindowed builds a vocabulary from strs and
// creates a Windowed policy with it.
func DiscoverWindowed(strs []string, window int) (*Windowed, error) {
	return NewWindowed(vocab.Build(strs), window)
}

// Vocab returns the vocabulary.
func (w *Windowed) Vocab() *vocab.Vocab {
	return w.V
}

// Encode splits every string into windows.
// Inputs have Window rows, targets have a single row.
func (w *Windowed) Encode(strs []string) (*Set, error) {
	res := &Set{Index: WindowIndex{0}}
	for _, s := range strs {
		padded := wrap(s)
		indices, err := w.V.Indices(padded)
		if err != nil {
			return nil, err
		}
		for i := 0; i+w.Window < len(indices); i++ {
			res.Inputs = append(res.Inputs, w.V.OneHotIndices(indices[i:i+w.Window]))
			res.Targets = append(res.Targets, w.V.OneHotIndices(indices[i+w.Window:i+w.Window+1]))
		}
		res.Padded = append(res.Padded, padded)
		res.Index = append(res.Index, len(res.Inputs))
	}
	return res, nil
}

// Seed returns the first window of the wrapped fragment.
// The fragLen argument is ignored, since the model always
// predicts from a full window.
func (w *Windowed) Seed(fragment string, fragLen int) (string, error) {
	padded := []rune(wrap(fragment))
	if len(padded) < w.Window {
		return "", &LengthError{
			String: fragment,
			Length: len(padded),
			Limit:  w.Window,
			Min:    true,
		}
	}
	seed := string(padded[:w.Window])
	if _, err := w.V.Indices(seed); err != nil {
		return "", err
	}
	return seed, nil
}

// Context returns the last Window symbols.
func (w *Windowed) Context(symbols []int) []int {
	if len(symbols) <= w.Window {
		return symbols
	}
	return symbols[len(symbols)-w.Window:]
}

// Clean strips the Start and End symbols.
func (w *Windowed) Clean(s string) string {
	return vocab.Strip(s)
}
