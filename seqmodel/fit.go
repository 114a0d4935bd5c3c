package seqmodel

import (
	"context"
	"errors"

	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultValidation = 0.05
	maxAutoBatchSize  = 100
)

// FitStatus describes the state of training after a
// mini-batch.
type FitStatus struct {
	Epoch int
	Batch int

	// Cost is the average cost of the batch, as computed
	// before the update.
	Cost float64

	// Validation is the average cost on the validation
	// samples.
	// It is only set on the last batch of each epoch, and
	// only when there are validation samples.
	Validation    float64
	HasValidation bool
}

// FitConfig configures Fit.
type FitConfig struct {
	Epochs int

	// BatchSize is the requested mini-batch size.
	// If it is 0, a size is picked automatically.
	BatchSize int

	// Validation is the fraction of samples held out for
	// validation.
	// If it is 0, DefaultValidation is used.
	// If it is negative, nothing is held out.
	Validation float64

	// StatusFunc, if non-nil, is called after every batch.
	StatusFunc func(s *FitStatus)
}

// BatchSize picks the mini-batch size for n samples.
//
// A requested size of 0 means min(100, n).
// The size is then balanced so that every batch in an
// epoch has nearly the same number of samples.
func BatchSize(requested, n int) int {
	if n <= 0 {
		return 0
	}
	b := requested
	if b <= 0 {
		b = min(maxAutoBatchSize, n)
	}
	b = min(b, n)
	numBatches := (n + b - 1) / b
	return (n + numBatches - 1) / numBatches
}

// Fit trains m with mini-batches for cfg.Epochs epochs.
//
// The samples are split into training and validation sets
// by content hash, so the split does not depend on the
// order of the samples.
// The context is checked before every batch.
func Fit(ctx context.Context, m Model, inputs, targets []*mat.Dense, cfg FitConfig) error {
	if len(inputs) != len(targets) {
		return errors.New("fit: input and target counts differ")
	}
	if len(inputs) == 0 {
		return errors.New("fit: no samples")
	}
	all := &Samples{
		Inputs:  append([]*mat.Dense{}, inputs...),
		Targets: append([]*mat.Dense{}, targets...),
	}

	ratio := cfg.Validation
	if ratio == 0 {
		ratio = DefaultValidation
	} else if ratio < 0 {
		ratio = 0
	}
	validation, training := anysgd.HashSplit(all, ratio)
	if training.Len() == 0 {
		training, validation = validation, training
	}
	train := training.(*Samples)
	valid := validation.(*Samples)

	batchSize := BatchSize(cfg.BatchSize, train.Len())
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		anysgd.Shuffle(train)
		var batchIdx int
		for i := 0; i < train.Len(); i += batchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			end := min(i+batchSize, train.Len())
			cost, err := m.TrainStep(train.Inputs[i:end], train.Targets[i:end])
			if err != nil {
				return essentials.AddCtx("fit", err)
			}
			status := &FitStatus{Epoch: epoch, Batch: batchIdx, Cost: cost}
			if end == train.Len() && valid.Len() > 0 {
				status.Validation, err = CrossEntropy(m, valid.Inputs, valid.Targets)
				if err != nil {
					return essentials.AddCtx("fit", err)
				}
				status.HasValidation = true
			}
			if cfg.StatusFunc != nil {
				cfg.StatusFunc(status)
			}
			batchIdx++
		}
	}
	return nil
}
