package replay

import (
	"math"
	"math/rand/v2"
	"reflect"
	"sort"
	"testing"
)

func rewards(b *Buffer) []float64 {
	var res []float64
	for _, tr := range b.Triples() {
		res = append(res, tr.Reward)
	}
	sort.Float64s(res)
	return res
}

func TestOfferIncreasing(t *testing.T) {
	b := New(3)
	for i := 0; i < 4; i++ {
		if !b.Offer(Triple{Reward: float64(i)}) {
			t.Errorf("triple %d should be kept", i)
		}
	}
	if b.Len() != 3 {
		t.Fatalf("expected 3 triples but got %d", b.Len())
	}
	if actual := rewards(b); !reflect.DeepEqual(actual, []float64{1, 2, 3}) {
		t.Errorf("unexpected rewards: %v", actual)
	}
}

func TestOfferBelowMinimum(t *testing.T) {
	b := New(2)
	b.Offer(Triple{Reward: 5, PriorLogLikelihood: -1})
	b.Offer(Triple{Reward: 7, PriorLogLikelihood: -2})
	before := b.Triples()
	for _, r := range []float64{4, 5, -10} {
		if b.Offer(Triple{Reward: r}) {
			t.Errorf("reward %f should be rejected", r)
		}
	}
	if !reflect.DeepEqual(before, b.Triples()) {
		t.Error("buffer changed")
	}
	if m, ok := b.MinReward(); !ok || m != 5 {
		t.Errorf("unexpected minimum: %f", m)
	}
}

func TestOfferNaN(t *testing.T) {
	b := New(2)
	if b.Offer(Triple{Reward: math.NaN()}) {
		t.Error("NaN reward should be rejected by an empty buffer")
	}
	b.Offer(Triple{Reward: 1})
	b.Offer(Triple{Reward: 2})
	if b.Offer(Triple{Reward: math.NaN()}) {
		t.Error("NaN reward should be rejected by a full buffer")
	}
	if actual := rewards(b); !reflect.DeepEqual(actual, []float64{1, 2}) {
		t.Errorf("unexpected rewards: %v", actual)
	}
	if !b.Offer(Triple{Reward: 3}) {
		t.Error("reward 3 should be kept")
	}
	if actual := rewards(b); !reflect.DeepEqual(actual, []float64{2, 3}) {
		t.Errorf("unexpected rewards: %v", actual)
	}
}

func TestOfferTieBreak(t *testing.T) {
	b := New(3)
	b.Offer(Triple{Reward: 1, PriorLogLikelihood: 1})
	b.Offer(Triple{Reward: 2, PriorLogLikelihood: 2})
	b.Offer(Triple{Reward: 1, PriorLogLikelihood: 3})
	b.Offer(Triple{Reward: 4, PriorLogLikelihood: 4})

	var priors []float64
	for _, tr := range b.Triples() {
		priors = append(priors, tr.PriorLogLikelihood)
	}
	sort.Float64s(priors)
	if !reflect.DeepEqual(priors, []float64{2, 3, 4}) {
		t.Errorf("oldest minimum should be evicted, got %v", priors)
	}
}

func TestShuffleKeepsContents(t *testing.T) {
	b := New(10)
	for i := 0; i < 10; i++ {
		b.Offer(Triple{Reward: float64(i)})
	}
	b.Shuffle(rand.New(rand.NewPCG(1, 2)))
	if actual := rewards(b); len(actual) != 10 || actual[0] != 0 || actual[9] != 9 {
		t.Errorf("unexpected rewards: %v", actual)
	}
	b.Offer(Triple{Reward: 20})
	if m, _ := b.MinReward(); m != 1 {
		t.Errorf("expected minimum 1 but got %f", m)
	}
}

func TestSample(t *testing.T) {
	b := New(4)
	if _, ok := b.Sample(nil); ok {
		t.Error("empty buffer should not produce samples")
	}
	b.Offer(Triple{Reward: 1})
	b.Offer(Triple{Reward: 2})
	r := rand.New(rand.NewPCG(5, 6))
	counts := map[float64]int{}
	for i := 0; i < 1000; i++ {
		triple, ok := b.Sample(r)
		if !ok {
			t.Fatal("expected a sample")
		}
		counts[triple.Reward]++
	}
	if len(counts) != 2 || counts[1] < 400 || counts[2] < 400 {
		t.Errorf("unexpected distribution: %v", counts)
	}
}
