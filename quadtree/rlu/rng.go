package rlu

import "math/rand/v2"

// RNG is the source of randomness a Context draws on for the tree
// engine's probabilistic decisions (currently just the top-growth coin
// flip in Insert). It is injected per-Context rather than called off a
// process-global generator, so tests can substitute a scripted sequence
// — spec.md's "deterministic testing hook" — without touching any
// global state.
type RNG interface {
	// Intn returns a pseudo-random value in [0, n).
	Intn(n int) int
}

// defaultRNG wraps math/rand/v2's per-goroutine generator. It requires
// no seeding and no shared state between goroutines, unlike the
// original implementation's process-wide Marsaglia generator.
type defaultRNG struct{}

func (defaultRNG) Intn(n int) int {
	return rand.IntN(n)
}

// ScriptedRNG replays a fixed sequence of values, looping once it runs
// out. It exists for tests that need to force specific top-growth
// decisions (spec.md's "trough").
type ScriptedRNG struct {
	values []int
	pos    int
}

// NewScriptedRNG returns an RNG that yields values from the given
// trough in order, wrapping around once exhausted.
func NewScriptedRNG(values ...int) *ScriptedRNG {
	if len(values) == 0 {
		panic("rlu: NewScriptedRNG requires at least one value")
	}
	return &ScriptedRNG{values: values}
}

func (s *ScriptedRNG) Intn(n int) int {
	v := s.values[s.pos%len(s.values)]
	s.pos++
	if v >= n {
		v = v % n
	}
	return v
}
