package seqmodel

import (
	"crypto/sha256"
	"io"
	"math"

	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"gonum.org/v1/gonum/mat"
)

// A Sample is a training sequence paired with its
// desired outputs.
//
// Target is aligned to the end of Input: the i-th target
// vector is the desired output for timestep
// len(Input)-len(Target)+i.
type Sample struct {
	Input  []anyvec.Vector
	Target []anyvec.Vector
}

// A SampleList is an anysgd.SampleList which produces
// samples for a Trainer.
type SampleList interface {
	anysgd.SampleList

	GetSample(idx int) (*Sample, error)
	Creator() anyvec.Creator
}

// Samples is a SampleList backed by one-hot matrices.
//
// It implements anysgd.Hasher, so it can be split into
// training and validation data with anysgd.HashSplit.
type Samples struct {
	Inputs  []*mat.Dense
	Targets []*mat.Dense

	// C is the creator used to build vectors.
	C anyvec.Creator
}

// Len returns the number of samples.
func (s *Samples) Len() int {
	return len(s.Inputs)
}

// Swap swaps two samples.
func (s *Samples) Swap(i, j int) {
	s.Inputs[i], s.Inputs[j] = s.Inputs[j], s.Inputs[i]
	s.Targets[i], s.Targets[j] = s.Targets[j], s.Targets[i]
}

// Slice copies a sub-slice of the list.
func (s *Samples) Slice(i, j int) anysgd.SampleList {
	return &Samples{
		Inputs:  append([]*mat.Dense{}, s.Inputs[i:j]...),
		Targets: append([]*mat.Dense{}, s.Targets[i:j]...),
		C:       s.C,
	}
}

// Creator returns s.C.
func (s *Samples) Creator() anyvec.Creator {
	return s.C
}

// GetSample converts the matrices at an index into
// vectors.
func (s *Samples) GetSample(idx int) (*Sample, error) {
	return &Sample{
		Input:  denseToVecs(s.C, s.Inputs[idx]),
		Target: denseToVecs(s.C, s.Targets[idx]),
	}, nil
}

// Hash hashes the contents of a sample.
func (s *Samples) Hash(idx int) []byte {
	h := sha256.New()
	for _, m := range []*mat.Dense{s.Inputs[idx], s.Targets[idx]} {
		rows, cols := m.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if m.At(i, j) != 0 {
					writeIndex(h, i*cols+j)
				}
			}
		}
		writeIndex(h, math.MaxInt32)
	}
	return h.Sum(nil)
}

func writeIndex(w io.Writer, idx int) {
	w.Write([]byte{byte(idx >> 24), byte(idx >> 16), byte(idx >> 8), byte(idx)})
}

func denseToVecs(c anyvec.Creator, m *mat.Dense) []anyvec.Vector {
	rows, _ := m.Dims()
	res := make([]anyvec.Vector, rows)
	for i := range res {
		row := append([]float64{}, m.RawRowView(i)...)
		res[i] = c.MakeVectorData(c.MakeNumericList(row))
	}
	return res
}

func vecToFloats(v anyvec.Vector) []float64 {
	switch d := v.Data().(type) {
	case []float64:
		return d
	case []float32:
		res := make([]float64, len(d))
		for i, x := range d {
			res[i] = float64(x)
		}
		return res
	default:
		panic("unsupported numeric type")
	}
}

func numericFloat(n anyvec.Numeric) float64 {
	switch n := n.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		panic("unsupported numeric type")
	}
}
