package evo

import "math/rand"

const (
	StrategySinglePoint = "single_point"
	StrategyTwoPoint    = "two_point"
	StrategyInterleave  = "interleave"
	StrategyConcatenate = "concatenate"
	StrategyUniform     = "uniform"
	StrategyPassthrough = "passthrough"
)

type weightedStrategy struct {
	name   string
	weight float64
}

// The merge share is split between interleave and concatenate at call time.
var crossoverStrategies = []weightedStrategy{
	{name: StrategySinglePoint, weight: 0.40},
	{name: StrategyTwoPoint, weight: 0.30},
	{name: "merge", weight: 0.15},
	{name: StrategyUniform, weight: 0.15},
}

// Crossover recombines two parents into two children. Empty parents are
// returned unchanged; otherwise neither child is empty.
func Crossover(rng *rand.Rand, a, b string) (string, string) {
	childA, childB, _ := CrossoverNamed(rng, a, b)
	return childA, childB
}

// CrossoverNamed is Crossover that also reports the strategy it used.
func CrossoverNamed(rng *rand.Rand, a, b string) (string, string, string) {
	if a == "" || b == "" {
		return a, b, StrategyPassthrough
	}
	strategy := pickStrategy(rng)
	if strategy == "merge" {
		if rng.Intn(2) == 0 {
			strategy = StrategyInterleave
		} else {
			strategy = StrategyConcatenate
		}
	}
	childA, childB := crossoverWith(rng, strategy, a, b)
	return nonEmpty(childA), nonEmpty(childB), strategy
}

func pickStrategy(rng *rand.Rand) string {
	total := 0.0
	for _, item := range crossoverStrategies {
		total += item.weight
	}
	pick := rng.Float64() * total
	acc := 0.0
	for _, item := range crossoverStrategies {
		acc += item.weight
		if pick < acc {
			return item.name
		}
	}
	return crossoverStrategies[len(crossoverStrategies)-1].name
}

func crossoverWith(rng *rand.Rand, strategy, a, b string) (string, string) {
	switch strategy {
	case StrategySinglePoint:
		return singlePoint(rng, a, b)
	case StrategyTwoPoint:
		return twoPoint(rng, a, b)
	case StrategyInterleave:
		return interleave(rng, a, b)
	case StrategyConcatenate:
		if rng.Intn(2) == 0 {
			return a + b, b + a
		}
		return b + a, a + b
	case StrategyUniform:
		return uniform(rng, a, b)
	default:
		return a, b
	}
}

func singlePoint(rng *rand.Rand, a, b string) (string, string) {
	pa := 1 + rng.Intn(len(a))
	pb := rng.Intn(len(b))
	return a[:pa] + b[pb:], b[:pb] + a[pa:]
}

func twoPoint(rng *rand.Rand, a, b string) (string, string) {
	a1, a2 := cutPoints(rng, len(a))
	b1, b2 := cutPoints(rng, len(b))
	return a[:a1] + b[b1:b2] + a[a2:], b[:b1] + a[a1:a2] + b[b2:]
}

// cutPoints returns 0 <= lo <= hi <= n.
func cutPoints(rng *rand.Rand, n int) (int, int) {
	lo := rng.Intn(n + 1)
	hi := rng.Intn(n + 1)
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// interleave alternates segments of 1-4 symbols from each parent until both
// are exhausted. The first child starts with a, the second with b.
func interleave(rng *rand.Rand, a, b string) (string, string) {
	build := func(first, second string) string {
		out := make([]byte, 0, len(first)+len(second))
		i, j := 0, 0
		takeFirst := true
		for i < len(first) || j < len(second) {
			seg := 1 + rng.Intn(4)
			if takeFirst {
				end := min(i+seg, len(first))
				out = append(out, first[i:end]...)
				i = end
			} else {
				end := min(j+seg, len(second))
				out = append(out, second[j:end]...)
				j = end
			}
			takeFirst = !takeFirst
		}
		return string(out)
	}
	return build(a, b), build(b, a)
}

// uniform swaps the symbol at every position between children with even odds.
// Positions past the end of the shorter parent carry the longer parent's
// symbol into whichever child the coin picks.
func uniform(rng *rand.Rand, a, b string) (string, string) {
	n := max(len(a), len(b))
	ca := make([]byte, 0, n)
	cb := make([]byte, 0, n)
	for i := 0; i < n; i++ {
		swap := rng.Intn(2) == 0
		if i < len(a) {
			if swap {
				cb = append(cb, a[i])
			} else {
				ca = append(ca, a[i])
			}
		}
		if i < len(b) {
			if swap {
				ca = append(ca, b[i])
			} else {
				cb = append(cb, b[i])
			}
		}
	}
	return string(ca), string(cb)
}

func nonEmpty(program string) string {
	if program == "" {
		return fallbackProgram
	}
	return program
}

// MixedCrossover adapts CrossoverNamed to the Recombiner interface.
type MixedCrossover struct{}

func (MixedCrossover) Name() string {
	return "mixed_crossover"
}

func (MixedCrossover) Recombine(rng *rand.Rand, a, b string) (string, string, error) {
	if rng == nil {
		return "", "", ErrNoRandomSource
	}
	childA, childB, _ := CrossoverNamed(rng, a, b)
	return childA, childB, nil
}
