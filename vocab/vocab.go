// Package vocab maps the characters of a training
// alphabet to dense indices and back.
//
// A Vocab is built once from training data and never
// changes afterwards.
// Strings containing characters which were not seen at
// build time cannot be encoded.
package vocab

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// These are the reserved symbols.
// They are part of every Vocab, whether or not they
// appear in the training data.
const (
	Start = 'G'
	End   = 'E'
	Pad   = 'A'
)

func init() {
	var v Vocab
	serializer.RegisterTypedDeserializer(v.SerializerType(), DeserializeVocab)
}

// An UnknownSymbolError is returned when a symbol is not
// part of a Vocab.
type UnknownSymbolError struct {
	Symbol rune
}

func (u *UnknownSymbolError) Error() string {
	return fmt.Sprintf("unknown symbol %q (not present when the vocabulary was built)",
		u.Symbol)
}

// A Vocab is an immutable bijection between symbols and
// indices.
type Vocab struct {
	symbols []rune
	index   map[rune]int
}

// Build creates a Vocab from every symbol in strs plus
// the reserved symbols.
// Symbols are sorted by code point, so identical inputs
// always produce identical indices.
func Build(strs []string) *Vocab {
	set := map[rune]bool{Start: true, End: true, Pad: true}
	for _, s := range strs {
		for _, r := range s {
			set[r] = true
		}
	}
	symbols := make([]rune, 0, len(set))
	for r := range set {
		symbols = append(symbols, r)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i] < symbols[j]
	})
	return newSorted(symbols)
}

// New creates a Vocab with a predetermined index order,
// as produced by Symbols().
//
// It fails if a symbol is repeated or if a reserved
// symbol is missing.
func New(symbols []rune) (*Vocab, error) {
	seen := map[rune]bool{}
	for _, r := range symbols {
		if seen[r] {
			return nil, fmt.Errorf("new vocab: duplicate symbol %q", r)
		}
		seen[r] = true
	}
	for _, r := range []rune{Start, End, Pad} {
		if !seen[r] {
			return nil, fmt.Errorf("new vocab: missing reserved symbol %q", r)
		}
	}
	return newSorted(append([]rune{}, symbols...)), nil
}

func newSorted(symbols []rune) *Vocab {
	index := make(map[rune]int, len(symbols))
	for i, r := range symbols {
		index[r] = i
	}
	return &Vocab{symbols: symbols, index: index}
}

// DeserializeVocab deserializes a Vocab.
func DeserializeVocab(d []byte) (*Vocab, error) {
	var s string
	if err := serializer.DeserializeAny(d, &s); err != nil {
		return nil, essentials.AddCtx("deserialize Vocab", err)
	}
	v, err := New([]rune(s))
	if err != nil {
		return nil, essentials.AddCtx("deserialize Vocab", err)
	}
	return v, nil
}

// Len returns the number of symbols.
func (v *Vocab) Len() int {
	return len(v.symbols)
}

// Symbols returns the symbols in index order.
func (v *Vocab) Symbols() []rune {
	return append([]rune{}, v.symbols...)
}

// Index returns the index of a symbol.
func (v *Vocab) Index(r rune) (int, error) {
	if idx, ok := v.index[r]; ok {
		return idx, nil
	}
	return 0, &UnknownSymbolError{Symbol: r}
}

// Symbol returns the symbol at an index.
func (v *Vocab) Symbol(idx int) (rune, error) {
	if idx < 0 || idx >= len(v.symbols) {
		return 0, fmt.Errorf("symbol index %d out of range [0, %d)", idx, len(v.symbols))
	}
	return v.symbols[idx], nil
}

// Indices converts a string to a list of indices.
func (v *Vocab) Indices(s string) ([]int, error) {
	var res []int
	for _, r := range s {
		idx, err := v.Index(r)
		if err != nil {
			return nil, err
		}
		res = append(res, idx)
	}
	return res, nil
}

// String converts a list of indices to a string.
//
// Every index must be in range.
func (v *Vocab) String(indices []int) string {
	var b strings.Builder
	for _, idx := range indices {
		b.WriteRune(v.symbols[idx])
	}
	return b.String()
}

// OneHot encodes a string as a matrix with one row per
// symbol and one column per vocabulary entry.
func (v *Vocab) OneHot(s string) (*mat.Dense, error) {
	indices, err := v.Indices(s)
	if err != nil {
		return nil, err
	}
	return v.OneHotIndices(indices), nil
}

// OneHotIndices is like OneHot, but for a list of
// indices.
func (v *Vocab) OneHotIndices(indices []int) *mat.Dense {
	if len(indices) == 0 {
		return nil
	}
	res := mat.NewDense(len(indices), len(v.symbols), nil)
	for i, idx := range indices {
		res.Set(i, idx, 1)
	}
	return res
}

// Decode maps each row of m to the symbol with the
// largest value in that row.
func (v *Vocab) Decode(m mat.Matrix) string {
	rows, cols := m.Dims()
	if cols != len(v.symbols) {
		panic(fmt.Sprintf("decode: expected %d columns but got %d", len(v.symbols), cols))
	}
	row := make([]float64, cols)
	var b strings.Builder
	for i := 0; i < rows; i++ {
		mat.Row(row, i, m)
		b.WriteRune(v.symbols[floats.MaxIdx(row)])
	}
	return b.String()
}

// SerializerType returns the unique ID used to serialize
// a Vocab with the serializer package.
func (v *Vocab) SerializerType() string {
	return "github.com/stjordanis/MolBot/vocab.Vocab"
}

// Serialize serializes the Vocab.
func (v *Vocab) Serialize() ([]byte, error) {
	if len(v.symbols) == 0 {
		return nil, errors.New("serialize Vocab: empty vocabulary")
	}
	return serializer.SerializeAny(string(v.symbols))
}

// Strip removes a single leading Start symbol and a
// single trailing End symbol, if present.
func Strip(s string) string {
	s = strings.TrimPrefix(s, string(Start))
	return strings.TrimSuffix(s, string(End))
}
