package evo

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progsynth/internal/interp"
)

func TestGenerateProgramClosesLoopsAndUsesAlphabet(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		target := 1 + rng.Intn(60)
		program := GenerateProgram(rng, target, 200)
		require.GreaterOrEqual(t, len(program), target)
		require.LessOrEqual(t, len(program), 200)

		depth := 0
		for j := 0; j < len(program); j++ {
			require.True(t, interp.IsSymbol(program[j]), "unexpected symbol %q", program[j])
			switch program[j] {
			case '[':
				depth++
			case ']':
				depth--
			}
			require.GreaterOrEqual(t, depth, 0, "close bracket at depth zero in %q", program)
		}
		assert.Equal(t, 0, depth, "unbalanced program %q", program)
	}
}

func TestGenerateProgramTruncatesToMaxLength(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		program := GenerateProgram(rng, 40, 12)
		require.Len(t, program, 12)
	}
}

func TestGenerateProgramIsReproducibleForSeed(t *testing.T) {
	a := GenerateProgram(rand.New(rand.NewSource(99)), 30, 100)
	b := GenerateProgram(rand.New(rand.NewSource(99)), 30, 100)
	assert.Equal(t, a, b)
}

func TestPickInitialLengthFollowsBands(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	counts := map[string]int{}
	const draws = 20000
	for i := 0; i < draws; i++ {
		n := pickInitialLength(rng, 100)
		require.GreaterOrEqual(t, n, 5)
		require.LessOrEqual(t, n, 100)
		switch {
		case n <= 15:
			counts["short"]++
		case n <= 40:
			counts["medium"]++
		default:
			counts["long"]++
		}
	}
	assert.InDelta(t, 0.2, float64(counts["short"])/draws, 0.03)
	assert.InDelta(t, 0.6, float64(counts["medium"])/draws, 0.03)
	assert.InDelta(t, 0.2, float64(counts["long"])/draws, 0.03)
}

func TestPickInitialLengthClampsToSmallMaximum(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 1000; i++ {
		n := pickInitialLength(rng, 10)
		require.GreaterOrEqual(t, n, 5)
		require.LessOrEqual(t, n, 10)
	}
	assert.Equal(t, 1, pickInitialLength(rng, 1))
}

func TestRandomSymbolsCoverAlphabet(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	got := string(randomSymbols(rng, 2000))
	for _, c := range interp.Alphabet {
		assert.True(t, strings.ContainsRune(got, c), "missing %q", c)
	}
}
