package evo

import (
	"errors"
	"math/rand"

	"progsynth/internal/model"
)

var (
	ErrNoRandomSource  = errors.New("random source is required")
	ErrEmptyPopulation = errors.New("empty population")
)

// Operator transforms one program into a variant.
type Operator interface {
	Name() string
	Apply(rng *rand.Rand, program string) (string, error)
}

// SettingsFollower is implemented by operators whose parameters derive from
// the run settings. The manager rebuilds them on every settings update;
// other injected operators keep their own parameters.
type SettingsFollower interface {
	WithSettings(settings model.Settings) Operator
}

// Recombiner combines two parents into two children.
type Recombiner interface {
	Name() string
	Recombine(rng *rand.Rand, a, b string) (string, string, error)
}
