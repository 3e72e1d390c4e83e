// Package generator produces synthetic power values for the meter and PV streams.
//
// Models are pure: Next(state, instant, draw) returns the value and the next state,
// where draw is a uniform random number in [0, 1). Generator threads the state and
// owns the seeded random source, so a run is reproducible from its seed.
package generator

import (
	"math/rand"
	"time"
)

// State is the per-generator state mutated on every tick
type State struct {
	LastValue float64
	TickIndex int
}

// Model computes one value per tick
type Model interface {
	Next(state State, at time.Time, draw float64) (float64, State)
}

// Generator binds a model to its own random source and state
type Generator struct {
	model Model
	rng   *rand.Rand
	state State
}

// New creates a generator seeded with seed
func New(model Model, seed int64) *Generator {
	return &Generator{
		model: model,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Sample advances the generator by one tick at the given simulated instant
func (g *Generator) Sample(at time.Time) float64 {
	value, next := g.model.Next(g.state, at, g.rng.Float64())
	g.state = next
	return value
}

// State returns the current generator state
func (g *Generator) State() State {
	return g.state
}

func clamp(value, lower, upper float64) float64 {
	if value < lower {
		return lower
	}
	if value > upper {
		return upper
	}
	return value
}
