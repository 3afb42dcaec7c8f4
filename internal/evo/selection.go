package evo

import (
	"fmt"
	"math/rand"

	"progsynth/internal/model"
)

// Selector chooses parents from a ranked population for replication.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []model.Individual) (model.Individual, error)
}

// TournamentSelector samples candidates with replacement and keeps the one
// with the highest fitness. The earliest draw wins ties.
type TournamentSelector struct {
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []model.Individual) (model.Individual, error) {
	if rng == nil {
		return model.Individual{}, ErrNoRandomSource
	}
	if len(ranked) == 0 {
		return model.Individual{}, ErrEmptyPopulation
	}

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}

	best := ranked[rng.Intn(len(ranked))]
	for i := 1; i < tournamentSize; i++ {
		candidate := ranked[rng.Intn(len(ranked))]
		if candidate.Fitness > best.Fitness {
			best = candidate
		}
	}
	return best, nil
}

// EliteSelector picks uniformly among the first Count individuals.
type EliteSelector struct {
	Count int
}

func (EliteSelector) Name() string {
	return "elite"
}

func (s EliteSelector) PickParent(rng *rand.Rand, ranked []model.Individual) (model.Individual, error) {
	if rng == nil {
		return model.Individual{}, ErrNoRandomSource
	}
	if s.Count <= 0 || s.Count > len(ranked) {
		return model.Individual{}, fmt.Errorf("invalid elite count: %d", s.Count)
	}
	return ranked[rng.Intn(s.Count)], nil
}
