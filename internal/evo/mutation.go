package evo

import (
	"math/rand"

	"progsynth/internal/interp"
	"progsynth/internal/model"
)

// fallbackProgram replaces any operator result that would be empty.
const fallbackProgram = string(interp.OpInc)

// Relative weights of the per-symbol mutation events.
const (
	replaceEventShare = 0.4
	insertEventShare  = 0.3
	deletePairChance  = 0.3

	growthRateFactor = 0.5
	shrinkRateFactor = 0.3
)

// Mutate rewrites program symbol by symbol with probability rate per symbol,
// then applies a global growth pass and a global shrink pass. The result is
// at most maxLength symbols and never empty.
func Mutate(rng *rand.Rand, program string, rate float64, maxLength int) string {
	out := mutateSymbols(rng, program, rate)
	if rng.Float64() < rate*growthRateFactor {
		out = growProgram(rng, out, maxLength)
	}
	if rng.Float64() < rate*shrinkRateFactor {
		out = shrinkProgram(rng, out)
	}

	if maxLength > 0 && len(out) > maxLength {
		out = out[:maxLength]
	}
	if len(out) == 0 {
		return fallbackProgram
	}
	return string(out)
}

// mutateSymbols hits each symbol with probability rate. A hit replaces the
// symbol, keeps it and inserts 1-4 random symbols after it, or deletes it
// (sometimes together with its successor).
func mutateSymbols(rng *rand.Rand, program string, rate float64) []byte {
	out := make([]byte, 0, len(program)+8)
	for i := 0; i < len(program); i++ {
		if rng.Float64() >= rate {
			out = append(out, program[i])
			continue
		}
		event := rng.Float64()
		switch {
		case event < replaceEventShare:
			out = append(out, randomSymbol(rng))
		case event < replaceEventShare+insertEventShare:
			out = append(out, program[i])
			out = append(out, randomSymbols(rng, 1+rng.Intn(4))...)
		default:
			if rng.Float64() < deletePairChance {
				i++
			}
		}
	}
	return out
}

// growProgram adds 1-5 random symbols at the front or the back, clipped to
// the room left under maxLength.
func growProgram(rng *rand.Rand, out []byte, maxLength int) []byte {
	count := 1 + rng.Intn(5)
	if room := maxLength - len(out); count > room {
		count = room
	}
	if count <= 0 {
		return out
	}
	extra := randomSymbols(rng, count)
	if rng.Intn(2) == 0 {
		return append(extra, out...)
	}
	return append(out, extra...)
}

// shrinkProgram cuts one contiguous run of 1-5 symbols from programs longer
// than three symbols, always leaving at least one.
func shrinkProgram(rng *rand.Rand, out []byte) []byte {
	if len(out) <= 3 {
		return out
	}
	segment := 1 + rng.Intn(5)
	if segment > len(out)-1 {
		segment = len(out) - 1
	}
	start := rng.Intn(len(out) - segment + 1)
	return append(out[:start], out[start+segment:]...)
}

// PointMutation adapts Mutate to the Operator interface.
type PointMutation struct {
	Rate      float64
	MaxLength int
}

func (PointMutation) Name() string {
	return "point_mutation"
}

// WithSettings returns a PointMutation using the rate and length limit of
// settings.
func (PointMutation) WithSettings(settings model.Settings) Operator {
	return PointMutation{Rate: settings.MutationRate, MaxLength: settings.MaxProgramLength}
}

func (m PointMutation) Apply(rng *rand.Rand, program string) (string, error) {
	if rng == nil {
		return "", ErrNoRandomSource
	}
	return Mutate(rng, program, m.Rate, m.MaxLength), nil
}
