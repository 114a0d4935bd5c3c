// Package reward defines how generated strings are scored
// and validated during fine-tuning.
package reward

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// A Func scores generated strings.
//
// The second return value is false if the string is
// invalid, in which case the score is meaningless.
type Func interface {
	Score(s string) (float64, bool)
}

// ScoreFunc is a Func backed by a function.
type ScoreFunc func(s string) (float64, bool)

// Score calls f.
func (f ScoreFunc) Score(s string) (float64, bool) {
	return f(s)
}

// A Validator decides whether a string is well-formed.
type Validator interface {
	Valid(s string) bool
}

// ValidatorFunc is a Validator backed by a function.
type ValidatorFunc func(s string) bool

// Valid calls f.
func (f ValidatorFunc) Valid(s string) bool {
	return f(s)
}

// Gate is a Func which reports strings rejected by a
// Validator as invalid, and otherwise defers to Func.
type Gate struct {
	Validator Validator
	Func      Func
}

// Score scores s.
func (g *Gate) Score(s string) (float64, bool) {
	if !g.Validator.Valid(s) {
		return 0, false
	}
	return g.Func.Score(s)
}

type cachedScore struct {
	Score float64
	Valid bool
}

// Cached is a Func which remembers the scores of recently
// seen strings.
//
// Generated strings repeat often, and reward functions
// tend to be expensive.
type Cached struct {
	Func Func

	lock  sync.Mutex
	cache *lru.Cache
}

// NewCached creates a Cached that remembers up to size
// strings.
func NewCached(f Func, size int) (*Cached, error) {
	if size < 1 {
		return nil, errors.New("new cached reward: size must be positive")
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Cached{Func: f, cache: cache}, nil
}

// Score returns the cached score of s, or computes it.
func (c *Cached) Score(s string) (float64, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if lookup, ok := c.cache.Get(s); ok {
		res := lookup.(cachedScore)
		return res.Score, res.Valid
	}
	score, valid := c.Func.Score(s)
	c.cache.Add(s, cachedScore{Score: score, Valid: valid})
	return score, valid
}

// ValidFraction returns the fraction of strings accepted
// by v.
// It returns 0 for an empty list.
func ValidFraction(strs []string, v Validator) float64 {
	if len(strs) == 0 {
		return 0
	}
	var valid int
	for _, s := range strs {
		if v.Valid(s) {
			valid++
		}
	}
	return float64(valid) / float64(len(strs))
}
