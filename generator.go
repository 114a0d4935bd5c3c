// Package molbot trains character-level recurrent models
// on line notations such as SMILES, generates new strings
// from them, and fine-tunes them towards a reward.
package molbot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/stjordanis/MolBot/codec"
	"github.com/stjordanis/MolBot/finetune"
	"github.com/stjordanis/MolBot/reward"
	"github.com/stjordanis/MolBot/sampler"
	"github.com/stjordanis/MolBot/seqmodel"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/essentials"
)

// State describes whether a Generator has a model.
type State int

const (
	Untrained State = iota
	Fitted
	Loaded
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Untrained:
		return "untrained"
	case Fitted:
		return "fitted"
	case Loaded:
		return "loaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// PredictOptions configures decoding.
type PredictOptions struct {
	// FragLen limits how many symbols of each fragment seed
	// the full-sequence policy.
	// If it is 0, whole fragments are used.
	FragLen int

	// Temperature scales the model's output scores.
	// If it is 0, 1 is used.
	Temperature float64

	// MaxLen bounds generated strings, counting the Start
	// and End symbols.
	// If it is 0, 100 is used.
	MaxLen int
}

func (p PredictOptions) withDefaults() (PredictOptions, error) {
	if p.Temperature == 0 {
		p.Temperature = 1
	}
	if p.MaxLen == 0 {
		p.MaxLen = 100
	}
	if !(p.Temperature > 0) {
		return p, &ConfigError{Field: "temperature", Value: p.Temperature, Reason: "must be positive"}
	}
	if p.MaxLen < 2 {
		return p, &ConfigError{Field: "max_len", Value: p.MaxLen, Reason: "must be at least 2"}
	}
	if p.FragLen < 0 {
		return p, &ConfigError{Field: "frag_len", Value: p.FragLen, Reason: "must not be negative"}
	}
	return p, nil
}

// A Generator trains a sequence model and generates
// strings from it.
//
// A Generator is not safe for concurrent use.
type Generator struct {
	Config Config

	// Logger, if non-nil, receives training progress.
	Logger *log.Logger

	data  []string
	state State

	// policy and model are set whenever state is not
	// Untrained.
	policy codec.Policy
	model  seqmodel.Model

	rand *rand.Rand
}

// New creates an untrained Generator.
//
// If data is non-nil, it is stored so that the index-based
// methods can refer to it.
func New(cfg Config, data []string) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Generator{
		Config: cfg,
		data:   append([]string{}, data...),
	}
	if cfg.Seed != 0 {
		g.rand = rand.New(rand.NewPCG(cfg.Seed, cfg.Seed>>32|cfg.Seed<<32))
	}
	return g, nil
}

// State returns the model state.
func (g *Generator) State() State {
	return g.state
}

// Policy returns the encoding policy, or nil if the
// Generator is untrained.
func (g *Generator) Policy() codec.Policy {
	return g.policy
}

// Fit trains on a list of strings.
//
// If ctx is done before training finishes, the model
// trained so far is kept and ctx's error is returned.
//
// The first call builds the vocabulary (and, for the
// full-sequence policy, the padded length) from strs.
// Later calls reuse them, so strings with unseen symbols
// or excessive length fail without changing the model.
func (g *Generator) Fit(ctx context.Context, strs []string) error {
	if len(strs) == 0 {
		return ErrMissingInput
	}
	policy, model, err := g.prepare(strs)
	if err != nil {
		return err
	}
	set, err := policy.Encode(strs)
	if err != nil {
		return err
	}
	return g.train(ctx, policy, model, set)
}

// FitIndices is like Fit, but it trains on the stored
// strings at the given indices.
//
// The vocabulary is built from all of the stored strings,
// so later index-based calls cannot hit unseen symbols.
func (g *Generator) FitIndices(ctx context.Context, idx []int) error {
	if len(g.data) == 0 || len(idx) == 0 {
		return ErrMissingInput
	}
	policy, model, err := g.prepare(g.data)
	if err != nil {
		return err
	}
	all, err := policy.Encode(g.data)
	if err != nil {
		return err
	}
	set, err := all.Select(idx)
	if err != nil {
		return err
	}
	return g.train(ctx, policy, model, set)
}

// Predict continues every fragment greedily.
func (g *Generator) Predict(ctx context.Context, fragments []string,
	opts PredictOptions) ([]string, error) {
	if g.state == Untrained {
		return nil, ErrNotFitted
	}
	if len(fragments) == 0 {
		return nil, ErrMissingInput
	}
	s, err := g.sampler(opts)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(fragments))
	for i, frag := range fragments {
		seed, err := g.policy.Seed(frag, opts.FragLen)
		if err != nil {
			return nil, err
		}
		episode, err := s.Greedy(ctx, seed)
		if err != nil {
			return nil, err
		}
		res[i] = episode.Text
	}
	return res, nil
}

// PredictIndices is like Predict, but it continues the
// stored strings at the given indices.
func (g *Generator) PredictIndices(ctx context.Context, idx []int,
	opts PredictOptions) ([]string, error) {
	if g.state == Untrained {
		return nil, ErrNotFitted
	}
	if len(g.data) == 0 || len(idx) == 0 {
		return nil, ErrMissingInput
	}
	fragments := make([]string, len(idx))
	for i, j := range idx {
		if j < 0 || j >= len(g.data) {
			return nil, fmt.Errorf("predict: index %d out of range [0, %d)", j, len(g.data))
		}
		fragments[i] = g.data[j]
	}
	return g.Predict(ctx, fragments, opts)
}

// Generate samples n strings from scratch.
//
// Only the full-sequence policy can generate without a
// fragment.
func (g *Generator) Generate(ctx context.Context, n int, opts PredictOptions) ([]string, error) {
	if g.state == Untrained {
		return nil, ErrNotFitted
	}
	if _, ok := g.policy.(*codec.FullSequence); !ok {
		return nil, ErrUnsupported
	}
	s, err := g.sampler(opts)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, &ConfigError{Field: "n", Value: n, Reason: "must not be negative"}
	}
	res := make([]string, n)
	for i := range res {
		episode, err := s.Sample(ctx)
		if err != nil {
			return nil, err
		}
		res[i] = episode.Text
	}
	return res, nil
}

// Score continues every fragment and returns the fraction
// of results accepted by v.
func (g *Generator) Score(ctx context.Context, v reward.Validator, fragments []string,
	opts PredictOptions) (float64, error) {
	preds, err := g.Predict(ctx, fragments, opts)
	if err != nil {
		return 0, err
	}
	return reward.ValidFraction(preds, v), nil
}

// ScoreSimilarity compares strs to a set of reference
// strings; see reward.Similarity.
//
// It does not need a trained model, so it can compare
// generated strings to the training data.
func (g *Generator) ScoreSimilarity(fp reward.Fingerprinter, strs,
	refs []string) ([]float64, float64, error) {
	if len(strs) == 0 || len(refs) == 0 {
		return nil, 0, ErrMissingInput
	}
	return reward.Similarity(fp, strs, refs)
}

// FineTune adjusts the model towards strings with high
// rewards.
//
// Zero fields of cfg take their values from
// g.Config.FineTune, then from the package defaults.
// The model is updated in place.
func (g *Generator) FineTune(ctx context.Context, r reward.Func,
	cfg finetune.Config) (*finetune.Stats, error) {
	if g.state == Untrained {
		return nil, ErrNotFitted
	}
	if _, ok := g.policy.(*codec.FullSequence); !ok {
		return nil, ErrUnsupported
	}
	cfg = mergeFineTune(cfg, g.Config.FineTune).WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Field: "fine_tune", Value: cfg, Reason: err.Error()}
	}

	agent, err := g.model.WithTemperature(cfg.Temperature)
	if err != nil {
		return nil, err
	}
	clone, err := g.model.Clone()
	if err != nil {
		return nil, err
	}
	prior, err := clone.WithTemperature(cfg.Temperature)
	if err != nil {
		return nil, err
	}

	tuner := &finetune.Tuner{
		Agent:  agent,
		Prior:  prior,
		Policy: g.policy,
		Reward: r,
		Config: cfg,
		Rand:   g.rand,
		StatusFunc: func(s *finetune.Stats) {
			g.logf("fine-tune iteration %d: episodes=%d invalid=%d updates=%d best=%f",
				s.Iterations, s.Episodes, s.Invalid, s.Updates, s.BestReward)
		},
	}
	return tuner.Run(ctx)
}

// Export captures the trained state.
func (g *Generator) Export() (*Bundle, error) {
	if g.state == Untrained {
		return nil, ErrNotFitted
	}
	rnn, ok := g.model.(*seqmodel.RNN)
	if !ok {
		return nil, fmt.Errorf("export: unsupported model type %T", g.model)
	}
	clone, err := rnn.Clone()
	if err != nil {
		return nil, essentials.AddCtx("export", err)
	}
	b := &Bundle{
		Vocab: g.policy.Vocab(),
		Model: clone.(*seqmodel.RNN),
	}
	switch p := g.policy.(type) {
	case *codec.Windowed:
		b.Policy = PolicyWindowed
		b.Window = p.Window
	case *codec.FullSequence:
		b.Policy = PolicyFull
		b.MaxSize = p.MaxSize
	}
	return b, nil
}

// Import replaces the trained state with a bundle.
// On failure, the Generator is left unchanged.
func (g *Generator) Import(b *Bundle) error {
	if b == nil || b.Vocab == nil || b.Model == nil {
		return errors.New("import: incomplete bundle")
	}
	policy, err := b.policy()
	if err != nil {
		return err
	}
	g.policy = policy
	g.model = b.Model
	g.Config.Policy = b.Policy
	if b.Policy == PolicyWindowed {
		g.Config.Window = b.Window
	}
	g.state = Loaded
	return nil
}

func (g *Generator) prepare(strs []string) (codec.Policy, seqmodel.Model, error) {
	if g.state != Untrained {
		return g.policy, g.model, nil
	}
	var policy codec.Policy
	var err error
	if g.Config.Policy == PolicyWindowed {
		policy, err = codec.DiscoverWindowed(strs, g.Config.Window)
	} else {
		policy, err = codec.DiscoverFullSequence(strs)
	}
	if err != nil {
		return nil, nil, err
	}
	rnn := seqmodel.NewRNN(anyvec64.DefaultCreator{}, policy.Vocab().Len(),
		g.Config.Hidden1, g.Config.Hidden2, g.Config.Dropout1, g.Config.Dropout2)
	rnn.LearningRate = g.Config.LearningRate
	return policy, rnn, nil
}

func (g *Generator) train(ctx context.Context, policy codec.Policy, model seqmodel.Model,
	set *codec.Set) error {
	if set.Len() == 0 {
		return ErrMissingInput
	}
	err := seqmodel.Fit(ctx, model, set.Inputs, set.Targets, seqmodel.FitConfig{
		Epochs:     g.Config.Epochs,
		BatchSize:  g.Config.BatchSize,
		Validation: g.Config.Validation,
		StatusFunc: func(s *seqmodel.FitStatus) {
			if s.HasValidation {
				g.logf("epoch %d batch %d: cost=%f validation=%f", s.Epoch, s.Batch,
					s.Cost, s.Validation)
			} else {
				g.logf("epoch %d batch %d: cost=%f", s.Epoch, s.Batch, s.Cost)
			}
		},
	})
	stopped := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !stopped {
		return err
	}
	if g.state == Untrained {
		g.policy = policy
		g.model = model
	}
	g.state = Fitted
	return err
}

func (g *Generator) sampler(opts PredictOptions) (*sampler.Sampler, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	model, err := g.model.WithTemperature(opts.Temperature)
	if err != nil {
		return nil, err
	}
	return &sampler.Sampler{
		Model:  model,
		Policy: g.policy,
		MaxLen: opts.MaxLen,
		Rand:   g.rand,
	}, nil
}

func (g *Generator) logf(format string, args ...interface{}) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}

func mergeFineTune(cfg, fallback finetune.Config) finetune.Config {
	if cfg.Episodes == 0 {
		cfg.Episodes = fallback.Episodes
	}
	if cfg.Batch == 0 {
		cfg.Batch = fallback.Batch
	}
	if cfg.Retain == 0 {
		cfg.Retain = fallback.Retain
	}
	if cfg.ReplaySteps == 0 {
		cfg.ReplaySteps = fallback.ReplaySteps
	}
	if cfg.Sigma == 0 {
		cfg.Sigma = fallback.Sigma
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = fallback.Temperature
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = fallback.MaxLength
	}
	return cfg
}
