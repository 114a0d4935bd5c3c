// Package sampler generates strings one symbol at a time
// from a sequence model.
package sampler

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/stjordanis/MolBot/codec"
	"github.com/stjordanis/MolBot/seqmodel"
	"github.com/stjordanis/MolBot/vocab"
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// An Episode is the result of a decode.
type Episode struct {
	// Text is the cleaned string.
	Text string

	// Raw is the generated string, including the Start
	// symbol and, if it was emitted, the End symbol.
	Raw string

	// Symbols are the vocabulary indices of Raw.
	Symbols []int

	// Trace is the one-hot encoding of Raw, suitable for
	// computing log-likelihoods.
	Trace *mat.Dense
}

// A Sampler decodes strings from a model.
//
// Temperature is not applied by the Sampler; it belongs
// to the model's output layer.
type Sampler struct {
	Model  seqmodel.Predictor
	Policy codec.Policy

	// MaxLen bounds the length of a generated string,
	// counting the Start and End symbols.
	MaxLen int

	// Rand is used for stochastic decoding.
	// If it is nil, the global source is used.
	Rand *rand.Rand
}

// Greedy extends a seed by always picking the most likely
// symbol.
//
// The seed should come from the policy's Seed method.
func (s *Sampler) Greedy(ctx context.Context, seed string) (*Episode, error) {
	v := s.Policy.Vocab()
	indices, err := v.Indices(seed)
	if err != nil {
		return nil, err
	}
	return s.decode(ctx, indices, floats.MaxIdx)
}

// Sample generates a string from scratch, drawing each
// symbol from the model's distribution.
func (s *Sampler) Sample(ctx context.Context) (*Episode, error) {
	start, err := s.Policy.Vocab().Index(vocab.Start)
	if err != nil {
		return nil, err
	}
	return s.decode(ctx, []int{start}, s.draw)
}

func (s *Sampler) draw(probs []float64) int {
	var src rand.Source
	if s.Rand != nil {
		src = s.Rand
	}
	return int(distuv.NewCategorical(probs, src).Rand())
}

func (s *Sampler) decode(ctx context.Context, seed []int,
	choose func(probs []float64) int) (*Episode, error) {
	if s.MaxLen < 2 {
		return nil, errors.New("decode: maximum length must be at least 2")
	} else if len(seed) == 0 {
		return nil, errors.New("decode: empty seed")
	}
	v := s.Policy.Vocab()
	end, err := v.Index(vocab.End)
	if err != nil {
		return nil, err
	}

	symbols := append([]int{}, seed...)
	for len(symbols) < s.MaxLen-1 && symbols[len(symbols)-1] != end {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		probs, err := s.Model.Predict(v.OneHotIndices(s.Policy.Context(symbols)))
		if err != nil {
			return nil, essentials.AddCtx("decode", err)
		}
		rows, _ := probs.Dims()
		next := choose(probs.RawRowView(rows - 1))
		symbols = append(symbols, next)
		if next == end {
			break
		}
	}

	raw := v.String(symbols)
	return &Episode{
		Text:    s.Policy.Clean(raw),
		Raw:     raw,
		Symbols: symbols,
		Trace:   v.OneHotIndices(symbols),
	}, nil
}
