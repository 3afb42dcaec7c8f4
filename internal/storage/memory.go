package storage

import (
	"context"
	"sync"

	"progsynth/internal/model"
)

type MemoryStore struct {
	mu      sync.RWMutex
	genomes map[string]model.StoredGenome
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.genomes == nil {
		s.genomes = make(map[string]model.StoredGenome)
	}
	return nil
}

func (s *MemoryStore) SaveGenome(_ context.Context, genome model.StoredGenome) error {
	if err := validateGenome(genome); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.genomes == nil {
		return errNotInitialized
	}
	s.genomes[genome.ID] = cloneGenome(genome)
	return nil
}

func (s *MemoryStore) GetGenome(_ context.Context, id string) (model.StoredGenome, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.genomes == nil {
		return model.StoredGenome{}, false, errNotInitialized
	}
	genome, ok := s.genomes[id]
	if !ok {
		return model.StoredGenome{}, false, nil
	}
	return cloneGenome(genome), true, nil
}

func (s *MemoryStore) ListBestForTask(_ context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error) {
	all, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return bestForTask(all, TaskKey(train, test), limit), nil
}

func (s *MemoryStore) ListSimilarTasks(_ context.Context, train, test []model.TestCase, limit int) ([]model.StoredGenome, error) {
	all, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return similarTo(all, train, test, limit), nil
}

func (s *MemoryStore) ListAll(_ context.Context, limit int) ([]model.StoredGenome, error) {
	all, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	rankGenomes(all)
	return limitGenomes(all, limit), nil
}

func (s *MemoryStore) DeleteGenome(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.genomes == nil {
		return errNotInitialized
	}
	delete(s.genomes, id)
	return nil
}

func (s *MemoryStore) TaskStatistics(_ context.Context) ([]model.TaskStats, error) {
	all, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	return taskStatistics(all), nil
}

func (s *MemoryStore) snapshot() ([]model.StoredGenome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.genomes == nil {
		return nil, errNotInitialized
	}
	out := make([]model.StoredGenome, 0, len(s.genomes))
	for _, genome := range s.genomes {
		out = append(out, cloneGenome(genome))
	}
	return out, nil
}
