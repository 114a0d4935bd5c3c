package seqmodel

import (
	"errors"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Batch stores input and desired output sequences in a
// packed format.
//
// Outputs has the same shape as Inputs; timesteps without
// a target carry zero vectors.
type Batch struct {
	Inputs  anyseq.Seq
	Outputs anyseq.Seq

	// NumTargets is the number of supervised timesteps.
	NumTargets int
}

// A Trainer creates batches, computes gradients, and adds
// up costs for a recurrent next-symbol model.
type Trainer struct {
	Block  anyrnn.Block
	Cost   anynet.Cost
	Params []*anydiff.Var

	// Average indicates whether or not the total cost should
	// be divided by the number of supervised timesteps.
	Average bool

	// After every gradient computation, LastCost is set to
	// the cost from the batch.
	LastCost anyvec.Numeric
}

// Fetch produces a *Batch for the subset of samples.
// The s argument must implement SampleList.
func (t *Trainer) Fetch(s anysgd.SampleList) (anysgd.Batch, error) {
	if s.Len() == 0 {
		return nil, errors.New("fetch batch: empty batch")
	}
	l := s.(SampleList)
	c := l.Creator()
	ins := make([][]anyvec.Vector, l.Len())
	outs := make([][]anyvec.Vector, l.Len())
	var numTargets int
	for i := 0; i < l.Len(); i++ {
		sample, err := l.GetSample(i)
		if err != nil {
			return nil, essentials.AddCtx("fetch batch", err)
		}
		if len(sample.Input) == 0 {
			return nil, errors.New("fetch batch: empty sequence")
		}
		offset := len(sample.Input) - len(sample.Target)
		if offset < 0 {
			return nil, errors.New("fetch batch: more targets than timesteps")
		}
		ins[i] = sample.Input
		outs[i] = make([]anyvec.Vector, len(sample.Input))
		for j := range outs[i] {
			if j < offset {
				outs[i][j] = c.MakeVector(sample.Input[j].Len())
			} else {
				outs[i][j] = sample.Target[j-offset]
				if numericFloat(anyvec.Sum(outs[i][j])) != 0 {
					numTargets++
				}
			}
		}
	}
	return &Batch{
		Inputs:     anyseq.ConstSeqList(c, ins),
		Outputs:    anyseq.ConstSeqList(c, outs),
		NumTargets: numTargets,
	}, nil
}

// TotalCost computes the total cost for the *Batch.
func (t *Trainer) TotalCost(batch anysgd.Batch) anydiff.Res {
	b := batch.(*Batch)
	actual := anyrnn.Map(b.Inputs, t.Block)

	if len(actual.Output()) != len(b.Outputs.Output()) {
		panic("mismatching actual and desired sequence shapes")
	}

	var idx int
	allCosts := anyseq.Map(actual, func(a anydiff.Res, n int) anydiff.Res {
		desired := b.Outputs.Output()[idx]
		if desired.NumPresent() != n {
			panic("mismatching actual and desired sequence shapes")
		}
		idx++
		return t.Cost.Cost(anydiff.NewConst(desired.Packed), a, n)
	})

	sum := anydiff.Sum(anyseq.Sum(allCosts))
	if t.Average && b.NumTargets > 0 {
		scaler := sum.Output().Creator().MakeNumeric(1 / float64(b.NumTargets))
		return anydiff.Scale(sum, scaler)
	}
	return sum
}

// Gradient computes the gradient for the batch's cost.
// It also sets t.LastCost to the numerical value of the
// total cost.
//
// The b argument must be a *Batch.
func (t *Trainer) Gradient(b anysgd.Batch) anydiff.Grad {
	res := anydiff.NewGrad(t.Params...)

	cost := t.TotalCost(b)
	t.LastCost = anyvec.Sum(cost.Output())

	c := cost.Output().Creator()
	upstream := c.MakeVectorData(c.MakeNumericList([]float64{1}))
	cost.Propagate(upstream, res)

	return res
}
