// Package replay implements a bounded experience buffer
// which retains the highest-reward episodes.
package replay

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// A Triple is an episode stored for replay.
type Triple struct {
	// Trace is the one-hot encoded sequence.
	Trace *mat.Dense

	// PriorLogLikelihood is the log-likelihood of Trace
	// under the prior model.
	PriorLogLikelihood float64

	Reward float64
}

type entry struct {
	Triple
	seq int
}

// A Buffer keeps up to a fixed number of triples.
//
// Once the buffer is full, a new triple is only kept if
// its reward is strictly greater than the minimum reward
// in the buffer, in which case the minimum is evicted.
// Among triples with equal minimal rewards, the one that
// was inserted first is evicted.
type Buffer struct {
	capacity int
	entries  []entry
	nextSeq  int
}

// New creates an empty buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity < 1 {
		panic("buffer capacity must be positive")
	}
	return &Buffer{capacity: capacity}
}

// Cap returns the capacity of the buffer.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Len returns the number of stored triples.
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Offer adds a triple, evicting the worst one if the
// buffer is full.
// It returns true if the triple was kept.
// Triples with a NaN reward are never kept.
func (b *Buffer) Offer(t Triple) bool {
	if math.IsNaN(t.Reward) {
		return false
	}
	e := entry{Triple: t, seq: b.nextSeq}
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, e)
		b.nextSeq++
		return true
	}
	minIdx := b.minIndex()
	if t.Reward <= b.entries[minIdx].Reward {
		return false
	}
	b.entries[minIdx] = e
	b.nextSeq++
	return true
}

// Triples returns a copy of the stored triples.
func (b *Buffer) Triples() []Triple {
	res := make([]Triple, len(b.entries))
	for i, e := range b.entries {
		res[i] = e.Triple
	}
	return res
}

// MinReward returns the smallest stored reward.
// It returns false if the buffer is empty.
func (b *Buffer) MinReward() (float64, bool) {
	if len(b.entries) == 0 {
		return 0, false
	}
	return b.entries[b.minIndex()].Reward, true
}

// Shuffle randomly reorders the stored triples.
// If r is nil, the global source is used.
func (b *Buffer) Shuffle(r *rand.Rand) {
	swap := func(i, j int) {
		b.entries[i], b.entries[j] = b.entries[j], b.entries[i]
	}
	if r == nil {
		rand.Shuffle(len(b.entries), swap)
	} else {
		r.Shuffle(len(b.entries), swap)
	}
}

// Sample draws a triple uniformly at random, with
// replacement.
// It returns false if the buffer is empty.
func (b *Buffer) Sample(r *rand.Rand) (Triple, bool) {
	if len(b.entries) == 0 {
		return Triple{}, false
	}
	var idx int
	if r == nil {
		idx = rand.IntN(len(b.entries))
	} else {
		idx = r.IntN(len(b.entries))
	}
	return b.entries[idx].Triple, true
}

func (b *Buffer) minIndex() int {
	minIdx := 0
	for i, e := range b.entries[1:] {
		cur := b.entries[minIdx]
		if e.Reward < cur.Reward || (e.Reward == cur.Reward && e.seq < cur.seq) {
			minIdx = i + 1
		}
	}
	return minIdx
}
