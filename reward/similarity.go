package reward

import (
	"errors"
	"hash/fnv"
	"math/bits"
)

// DefaultFingerprintBits is the fingerprint size used by
// NGrams when Bits is 0.
const DefaultFingerprintBits = 2048

// A Fingerprint is a bit set of structural features.
type Fingerprint []uint64

// NewFingerprint creates an empty fingerprint which can
// hold numBits bits.
func NewFingerprint(numBits int) Fingerprint {
	return make(Fingerprint, (numBits+63)/64)
}

// Set sets the i-th bit.
func (f Fingerprint) Set(i int) {
	f[i/64] |= 1 << uint(i%64)
}

// Count returns the number of set bits.
func (f Fingerprint) Count() int {
	var res int
	for _, x := range f {
		res += bits.OnesCount64(x)
	}
	return res
}

// Tanimoto computes the Tanimoto coefficient of two
// fingerprints: the size of their intersection over the
// size of their union.
//
// It is 0 if both fingerprints are empty.
func Tanimoto(f1, f2 Fingerprint) float64 {
	var both, either int
	for i := 0; i < max(len(f1), len(f2)); i++ {
		var x, y uint64
		if i < len(f1) {
			x = f1[i]
		}
		if i < len(f2) {
			y = f2[i]
		}
		both += bits.OnesCount64(x & y)
		either += bits.OnesCount64(x | y)
	}
	if either == 0 {
		return 0
	}
	return float64(both) / float64(either)
}

// A Fingerprinter computes fingerprints of strings.
//
// The second return value is false if the string does not
// describe a valid structure.
type Fingerprinter interface {
	Fingerprint(s string) (Fingerprint, bool)
}

// NGrams is a Fingerprinter which hashes every substring
// of up to N characters into a bit set, much like a path
// fingerprint over a linear notation.
type NGrams struct {
	// Validator, if non-nil, rejects strings which should
	// not be fingerprinted.
	Validator Validator

	// N is the longest substring length.
	// If it is 0, 4 is used.
	N int

	// Bits is the fingerprint size.
	// If it is 0, DefaultFingerprintBits is used.
	Bits int
}

// Fingerprint fingerprints s.
func (n *NGrams) Fingerprint(s string) (Fingerprint, bool) {
	if n.Validator != nil && !n.Validator.Valid(s) {
		return nil, false
	}
	maxLen := n.N
	if maxLen == 0 {
		maxLen = 4
	}
	numBits := n.Bits
	if numBits == 0 {
		numBits = DefaultFingerprintBits
	}
	res := NewFingerprint(numBits)
	runes := []rune(s)
	h := fnv.New32a()
	for i := range runes {
		for j := i + 1; j <= len(runes) && j-i <= maxLen; j++ {
			h.Reset()
			h.Write([]byte(string(runes[i:j])))
			res.Set(int(h.Sum32() % uint32(numBits)))
		}
	}
	return res, true
}

// Similarity compares every string in strs to a set of
// reference strings.
//
// It returns the average Tanimoto coefficient of each
// valid string against all valid references, and the
// number of identical fingerprint pairs divided by the
// number of valid strings.
// Strings that fp rejects are skipped.
// If no string in strs is valid, the duplicate fraction
// is 1.
func Similarity(fp Fingerprinter, strs, refs []string) (coeffs []float64,
	duplicates float64, err error) {
	refPrints := fingerprints(fp, refs)
	if len(refPrints) == 0 {
		return nil, 0, errors.New("similarity: no valid reference strings")
	}
	var numDuplicates int
	for _, f := range fingerprints(fp, strs) {
		var sum float64
		for _, ref := range refPrints {
			c := Tanimoto(f, ref)
			sum += c
			if c == 1 {
				numDuplicates++
			}
		}
		coeffs = append(coeffs, sum/float64(len(refPrints)))
	}
	if len(coeffs) == 0 {
		return nil, 1, nil
	}
	return coeffs, float64(numDuplicates) / float64(len(coeffs)), nil
}

func fingerprints(fp Fingerprinter, strs []string) []Fingerprint {
	var res []Fingerprint
	for _, s := range strs {
		if f, ok := fp.Fingerprint(s); ok {
			res = append(res, f)
		}
	}
	return res
}
