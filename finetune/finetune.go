// Package finetune adjusts a trained sequence model
// towards highly rewarded strings with a reward-augmented
// likelihood objective.
package finetune

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"github.com/stjordanis/MolBot/codec"
	"github.com/stjordanis/MolBot/replay"
	"github.com/stjordanis/MolBot/reward"
	"github.com/stjordanis/MolBot/sampler"
	"github.com/stjordanis/MolBot/seqmodel"
	"github.com/unixpickle/essentials"
)

// Defaults for Config fields.
const (
	DefaultEpisodes    = 10
	DefaultBatch       = 30
	DefaultRetain      = 15
	DefaultReplaySteps = 10
	DefaultSigma       = 60
	DefaultTemperature = 1
	DefaultMaxLength   = 100
)

// Config stores the hyper-parameters of fine-tuning.
//
// Zero fields take the corresponding default, so a zero
// Sigma or ReplaySteps cannot be requested; either one
// would leave the reward without effect on the model.
type Config struct {
	// Episodes determines the number of outer iterations,
	// which is max(1, Episodes/10).
	Episodes int `yaml:"episodes"`

	// Batch is the number of strings generated per outer
	// iteration.
	Batch int `yaml:"batch"`

	// Retain is the capacity of the experience buffer.
	Retain int `yaml:"retain"`

	// ReplaySteps is the number of updates per outer
	// iteration.
	ReplaySteps int `yaml:"replay_steps"`

	// Sigma scales the reward in the augmented target.
	Sigma float64 `yaml:"sigma"`

	Temperature float64 `yaml:"temperature"`
	MaxLength   int     `yaml:"max_length"`
}

// WithDefaults returns a copy of c with zero fields set to
// their defaults.
func (c Config) WithDefaults() Config {
	if c.Episodes == 0 {
		c.Episodes = DefaultEpisodes
	}
	if c.Batch == 0 {
		c.Batch = DefaultBatch
	}
	if c.Retain == 0 {
		c.Retain = DefaultRetain
	}
	if c.ReplaySteps == 0 {
		c.ReplaySteps = DefaultReplaySteps
	}
	if c.Sigma == 0 {
		c.Sigma = DefaultSigma
	}
	if c.Temperature == 0 {
		c.Temperature = DefaultTemperature
	}
	if c.MaxLength == 0 {
		c.MaxLength = DefaultMaxLength
	}
	return c
}

// Validate checks that the (defaulted) configuration makes
// sense.
func (c Config) Validate() error {
	switch {
	case c.Episodes < 0 || c.Batch < 0 || c.Retain < 0 || c.ReplaySteps < 0:
		return errors.New("counts must not be negative")
	case c.Temperature <= 0 || math.IsNaN(c.Temperature):
		return errors.New("temperature must be positive")
	case c.MaxLength < 2:
		return errors.New("max length must be at least 2")
	}
	return nil
}

// Iterations returns the number of outer iterations.
func (c Config) Iterations() int {
	return max(1, c.Episodes/10)
}

// Stats summarizes a fine-tuning run.
type Stats struct {
	Iterations int
	Episodes   int
	Invalid    int
	Updates    int

	// BestReward is the best reward seen so far.
	// It is -Inf if no episode was valid.
	BestReward float64

	// BufferSize is the number of stored triples.
	BufferSize int
}

// A Tuner runs fine-tuning.
//
// The Agent and Prior should already be reconfigured for
// the fine-tuning temperature.
// Only the Agent is updated.
type Tuner struct {
	Agent  seqmodel.Model
	Prior  seqmodel.Predictor
	Policy codec.Policy
	Reward reward.Func
	Config Config

	// Rand is used for sampling episodes and replay
	// triples.
	// If it is nil, the global source is used.
	Rand *rand.Rand

	// StatusFunc, if non-nil, is called after every outer
	// iteration.
	StatusFunc func(s *Stats)

	buffer *replay.Buffer
}

// Buffer returns the experience buffer of the last run,
// or nil before the first run.
func (t *Tuner) Buffer() *replay.Buffer {
	return t.buffer
}

// Run performs every outer iteration.
//
// Invalid episodes, including those with a NaN or
// infinite reward, are dropped silently.
// If no valid episode has been seen, replay updates are
// skipped.
func (t *Tuner) Run(ctx context.Context) (*Stats, error) {
	cfg := t.Config.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, essentials.AddCtx("fine-tune", err)
	}
	t.buffer = replay.New(cfg.Retain)
	s := &sampler.Sampler{
		Model:  t.Agent,
		Policy: t.Policy,
		MaxLen: cfg.MaxLength,
		Rand:   t.Rand,
	}
	stats := &Stats{BestReward: math.Inf(-1)}

	for iter := 0; iter < cfg.Iterations(); iter++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		for i := 0; i < cfg.Batch; i++ {
			episode, err := s.Sample(ctx)
			if err != nil {
				return stats, err
			}
			stats.Episodes++
			score, ok := t.Reward.Score(episode.Text)
			if !ok || math.IsNaN(score) || math.IsInf(score, 0) {
				stats.Invalid++
				continue
			}
			priorLL, err := seqmodel.LogLikelihood(t.Prior, episode.Trace)
			if err != nil {
				return stats, essentials.AddCtx("fine-tune", err)
			}
			stats.BestReward = math.Max(stats.BestReward, score)
			t.buffer.Offer(replay.Triple{
				Trace:              episode.Trace,
				PriorLogLikelihood: priorLL,
				Reward:             score,
			})
		}

		if t.buffer.Len() > 0 {
			t.buffer.Shuffle(t.Rand)
			for i := 0; i < cfg.ReplaySteps; i++ {
				triple, _ := t.buffer.Sample(t.Rand)
				target := triple.PriorLogLikelihood + cfg.Sigma*triple.Reward
				if _, err := t.Agent.Reinforce(triple.Trace, target); err != nil {
					return stats, essentials.AddCtx("fine-tune", err)
				}
				stats.Updates++
			}
		}

		stats.Iterations++
		stats.BufferSize = t.buffer.Len()
		if t.StatusFunc != nil {
			t.StatusFunc(stats)
		}
	}
	return stats, nil
}
