package evo

import (
	"math/rand"

	"progsynth/internal/interp"
)

// openDepthSymbols excludes loop-close so a program never starts a close
// bracket it cannot match.
const openDepthSymbols = "><+-.,["

func randomSymbol(rng *rand.Rand) byte {
	return interp.Alphabet[rng.Intn(len(interp.Alphabet))]
}

func randomSymbols(rng *rand.Rand, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = randomSymbol(rng)
	}
	return out
}

// GenerateProgram draws targetLength symbols, closes any loops still open
// while room remains, and truncates the result to maxLength. Truncation can
// leave loops open; the interpreter halts on those instead of failing.
func GenerateProgram(rng *rand.Rand, targetLength, maxLength int) string {
	if targetLength < 0 {
		targetLength = 0
	}
	buf := make([]byte, 0, targetLength+8)
	depth := 0
	for len(buf) < targetLength {
		var c byte
		if depth == 0 {
			c = openDepthSymbols[rng.Intn(len(openDepthSymbols))]
		} else {
			c = randomSymbol(rng)
		}
		switch c {
		case interp.OpLoopOpen:
			depth++
		case interp.OpLoopClose:
			depth--
		}
		buf = append(buf, c)
	}
	for depth > 0 && len(buf) < maxLength {
		buf = append(buf, interp.OpLoopClose)
		depth--
	}
	if maxLength >= 0 && len(buf) > maxLength {
		buf = buf[:maxLength]
	}
	return string(buf)
}

// lengthBand is one bucket of the initial program length mix.
type lengthBand struct {
	weight float64
	min    int
	max    int
}

var initialLengthMix = []lengthBand{
	{weight: 0.2, min: 5, max: 15},
	{weight: 0.6, min: 16, max: 40},
	{weight: 0.2, min: 41, max: -1},
}

// pickInitialLength samples a target length from the short/medium/long mix.
// The long band runs up to maxLength.
func pickInitialLength(rng *rand.Rand, maxLength int) int {
	pick := rng.Float64()
	acc := 0.0
	band := initialLengthMix[len(initialLengthMix)-1]
	for _, item := range initialLengthMix {
		acc += item.weight
		if pick < acc {
			band = item
			break
		}
	}
	hi := band.max
	if hi < 0 || hi > maxLength {
		hi = maxLength
	}
	lo := band.min
	if lo > hi {
		lo = hi
	}
	if hi < 1 {
		return 1
	}
	return lo + rng.Intn(hi-lo+1)
}
