// Package seqmodel defines the sequence model capability
// used for training and generation, and provides an LSTM
// implementation of it built on anynet.
//
// All sequences are exchanged as one-hot matrices with
// one row per timestep and one column per symbol.
package seqmodel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// A Predictor produces, for every timestep of an input
// sequence, a probability distribution over the next
// symbol.
type Predictor interface {
	Predict(in *mat.Dense) (*mat.Dense, error)
}

// A Model is a trainable Predictor.
type Model interface {
	Predictor

	// TrainStep performs one gradient update on a batch
	// and returns the average cost before the update.
	//
	// Each target matrix is aligned with the final rows of
	// its input, so a single-row target only supervises
	// the last timestep.
	// All-zero target rows do not contribute to the cost.
	TrainStep(inputs, targets []*mat.Dense) (float64, error)

	// Reinforce performs one gradient update which pulls
	// the log-likelihood of seq towards target, minimizing
	// the squared difference.
	// It returns the log-likelihood before the update.
	Reinforce(seq *mat.Dense, target float64) (float64, error)

	// Clone creates a deep copy of the model.
	Clone() (Model, error)

	// WithTemperature creates a model which shares this
	// model's parameters, but whose output distribution is
	// softmax(scores/t) rather than softmax(scores).
	WithTemperature(t float64) (Model, error)
}

// LogLikelihood computes the log-probability that p
// assigns to the symbols of seq after the first one.
//
// Per-step log-probabilities are summed, so long
// sequences do not underflow.
func LogLikelihood(p Predictor, seq *mat.Dense) (float64, error) {
	rows, cols := seq.Dims()
	if rows < 2 {
		return 0, nil
	}
	probs, err := p.Predict(seq)
	if err != nil {
		return 0, err
	}
	if r, c := probs.Dims(); r != rows || c != cols {
		return 0, fmt.Errorf("log likelihood: prediction shape %dx%d does not match %dx%d",
			r, c, rows, cols)
	}
	var sum float64
	for i := 0; i+1 < rows; i++ {
		sum += math.Log(floats.Dot(seq.RawRowView(i+1), probs.RawRowView(i)))
	}
	return sum, nil
}

// CrossEntropy computes the average cross-entropy of p's
// predictions, using the same target alignment as
// Model.TrainStep.
func CrossEntropy(p Predictor, inputs, targets []*mat.Dense) (float64, error) {
	if len(inputs) != len(targets) {
		return 0, errors.New("cross entropy: input and target counts differ")
	}
	var total float64
	var count int
	for i, in := range inputs {
		probs, err := p.Predict(in)
		if err != nil {
			return 0, err
		}
		inRows, _ := in.Dims()
		targetRows, _ := targets[i].Dims()
		offset := inRows - targetRows
		if offset < 0 {
			return 0, errors.New("cross entropy: target longer than input")
		}
		for j := 0; j < targetRows; j++ {
			target := targets[i].RawRowView(j)
			if floats.Sum(target) == 0 {
				continue
			}
			total -= math.Log(floats.Dot(target, probs.RawRowView(j+offset)))
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return total / float64(count), nil
}
