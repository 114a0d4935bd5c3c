package finetune

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stjordanis/MolBot/codec"
	"github.com/stjordanis/MolBot/reward"
	"github.com/stjordanis/MolBot/seqmodel"
	"gonum.org/v1/gonum/mat"
)

type stubModel struct {
	targets []float64
}

func (s *stubModel) Predict(in *mat.Dense) (*mat.Dense, error) {
	rows, cols := in.Dims()
	res := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			res.Set(i, j, 1/float64(cols))
		}
	}
	return res, nil
}

func (s *stubModel) TrainStep(inputs, targets []*mat.Dense) (float64, error) {
	return 0, nil
}

func (s *stubModel) Reinforce(seq *mat.Dense, target float64) (float64, error) {
	s.targets = append(s.targets, target)
	return seqmodel.LogLikelihood(s, seq)
}

func (s *stubModel) Clone() (seqmodel.Model, error) {
	return &stubModel{}, nil
}

func (s *stubModel) WithTemperature(t float64) (seqmodel.Model, error) {
	return s, nil
}

func testPolicy(t *testing.T) codec.Policy {
	policy, err := codec.DiscoverFullSequence([]string{"ab", "ba"})
	if err != nil {
		t.Fatal(err)
	}
	return policy
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	expected := Config{
		Episodes:    10,
		Batch:       30,
		Retain:      15,
		ReplaySteps: 10,
		Sigma:       60,
		Temperature: 1,
		MaxLength:   100,
	}
	if cfg != expected {
		t.Errorf("expected %+v but got %+v", expected, cfg)
	}
	if cfg.Iterations() != 1 || (Config{Episodes: 35}).Iterations() != 3 {
		t.Error("unexpected iteration count")
	}
	if err := (Config{Temperature: -1}).WithDefaults().Validate(); err == nil {
		t.Error("expected error for negative temperature")
	}
}

func TestRunAllInvalid(t *testing.T) {
	agent := &stubModel{}
	tuner := &Tuner{
		Agent:  agent,
		Prior:  &stubModel{},
		Policy: testPolicy(t),
		Reward: reward.ScoreFunc(func(s string) (float64, bool) {
			return 0, false
		}),
		Rand: rand.New(rand.NewPCG(1, 2)),
	}
	stats, err := tuner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if tuner.Buffer().Len() != 0 {
		t.Errorf("buffer should be empty, has %d triples", tuner.Buffer().Len())
	}
	if stats.Updates != 0 || len(agent.targets) != 0 {
		t.Errorf("expected no updates, got %d", stats.Updates)
	}
	if stats.Episodes != 30 || stats.Invalid != 30 || stats.Iterations != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !math.IsInf(stats.BestReward, -1) {
		t.Errorf("unexpected best reward: %f", stats.BestReward)
	}
}

func TestRunUpdates(t *testing.T) {
	agent := &stubModel{}
	var statusCalls int
	tuner := &Tuner{
		Agent:  agent,
		Prior:  &stubModel{},
		Policy: testPolicy(t),
		Reward: reward.ScoreFunc(func(s string) (float64, bool) {
			if strings.Contains(s, "a") {
				return 1, true
			}
			return 0, false
		}),
		Config: Config{Episodes: 20, Batch: 40, Retain: 5, ReplaySteps: 3, MaxLength: 8},
		Rand:   rand.New(rand.NewPCG(3, 4)),
		StatusFunc: func(s *Stats) {
			statusCalls++
		},
	}
	stats, err := tuner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Iterations != 2 || statusCalls != 2 {
		t.Errorf("expected 2 iterations, got %d (%d status calls)", stats.Iterations,
			statusCalls)
	}
	if stats.Updates != 6 || len(agent.targets) != 6 {
		t.Fatalf("expected 6 updates, got %d", stats.Updates)
	}
	if tuner.Buffer().Len() != 5 {
		t.Errorf("expected a full buffer, got %d", tuner.Buffer().Len())
	}
	for _, triple := range tuner.Buffer().Triples() {
		rows, _ := triple.Trace.Dims()
		expected := float64(rows-1) * math.Log(1.0/5)
		if math.Abs(triple.PriorLogLikelihood-expected) > 1e-8 {
			t.Errorf("unexpected prior log-likelihood %f (expected %f)",
				triple.PriorLogLikelihood, expected)
		}
	}
	for _, target := range agent.targets {
		if target < 60+8*math.Log(1.0/5)-1e-8 || target > 60 {
			t.Errorf("unexpected target %f", target)
		}
	}
	if stats.BestReward != 1 {
		t.Errorf("unexpected best reward %f", stats.BestReward)
	}
}

func TestRunNonFiniteRewards(t *testing.T) {
	agent := &stubModel{}
	var calls int
	tuner := &Tuner{
		Agent:  agent,
		Prior:  &stubModel{},
		Policy: testPolicy(t),
		Reward: reward.ScoreFunc(func(s string) (float64, bool) {
			calls++
			switch calls % 3 {
			case 0:
				return math.NaN(), true
			case 1:
				return math.Inf(1), true
			default:
				return math.Inf(-1), true
			}
		}),
		Config: Config{Batch: 9, MaxLength: 8},
		Rand:   rand.New(rand.NewPCG(5, 6)),
	}
	stats, err := tuner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Invalid != 9 || stats.Updates != 0 || tuner.Buffer().Len() != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !math.IsInf(stats.BestReward, -1) {
		t.Errorf("unexpected best reward %f", stats.BestReward)
	}
}

func TestRunCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tuner := &Tuner{
		Agent:  &stubModel{},
		Prior:  &stubModel{},
		Policy: testPolicy(t),
		Reward: reward.ScoreFunc(func(s string) (float64, bool) { return 1, true }),
	}
	if _, err := tuner.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation but got %v", err)
	}
}
