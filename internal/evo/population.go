package evo

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"

	"progsynth/internal/interp"
	"progsynth/internal/model"
)

const (
	// seedSharePercent caps seed genomes at this share of the population.
	seedSharePercent = 30
	// attemptFactor bounds uniqueness retries at PopulationSize * attemptFactor.
	attemptFactor = 10
)

// ManagerConfig wires a Manager. Mutation defaults to a PointMutation built
// from Settings. An injected SettingsFollower is rebuilt by UpdateSettings;
// any other injected operator keeps its own parameters.
type ManagerConfig struct {
	Settings  model.Settings
	Train     []model.TestCase
	Test      []model.TestCase
	MaxSteps  int
	Seed      int64
	Rand      *rand.Rand
	Selector  Selector
	Mutation  Operator
	Crossover Recombiner
	Logger    *slog.Logger
}

// Manager owns the current generation. Each Initialize or Advance builds a
// new population and swaps it in whole, so readers never observe a partially
// built generation. Mutating calls must come from a single goroutine.
type Manager struct {
	mu sync.RWMutex

	rng       *rand.Rand
	selector  Selector
	mutation  Operator
	crossover Recombiner
	logger    *slog.Logger
	maxSteps  int

	settings    model.Settings
	train       []model.TestCase
	test        []model.TestCase
	seeds       []string
	seededCount int

	population     []model.Individual
	generation     int
	initialized    bool
	lastRandomFill int
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Seed))
	}
	if cfg.Selector == nil {
		cfg.Selector = TournamentSelector{TournamentSize: 3}
	}
	if cfg.Crossover == nil {
		cfg.Crossover = MixedCrossover{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		rng:       cfg.Rand,
		selector:  cfg.Selector,
		mutation:  cfg.Mutation,
		crossover: cfg.Crossover,
		logger:    cfg.Logger,
		maxSteps:  cfg.MaxSteps,
		settings:  cfg.Settings,
		train:     cloneCases(cfg.Train),
		test:      cloneCases(cfg.Test),
	}, nil
}

// Initialize discards any current population and builds generation zero from
// seed genomes and randomly generated programs.
func (m *Manager) Initialize() error {
	m.mu.RLock()
	settings := m.settings
	seeds := append([]string(nil), m.seeds...)
	eval := m.evaluatorLocked()
	m.mu.RUnlock()

	target := settings.PopulationSize
	maxLength := settings.MaxProgramLength
	next := make([]model.Individual, 0, target)
	seen := make(map[string]struct{}, target)

	maxSeeds := target * seedSharePercent / 100
	seeded := 0
	for _, seed := range seeds {
		if seeded >= maxSeeds {
			break
		}
		program := truncateProgram(seed, maxLength)
		if program == "" {
			continue
		}
		if _, dup := seen[program]; dup {
			continue
		}
		seen[program] = struct{}{}
		next = append(next, eval.Evaluate(program))
		seeded++
	}

	budget := target * attemptFactor
	attempts := 0
	for len(next) < target {
		program := nonEmpty(GenerateProgram(m.rng, pickInitialLength(m.rng, maxLength), maxLength))
		attempts++
		if _, dup := seen[program]; dup && attempts <= budget {
			continue
		}
		seen[program] = struct{}{}
		next = append(next, eval.Evaluate(program))
	}
	sortByFitness(next)

	m.mu.Lock()
	m.population = next
	m.generation = 0
	m.seededCount = seeded
	m.initialized = true
	m.lastRandomFill = 0
	m.mu.Unlock()

	m.logger.Debug("population initialized",
		slog.Int("size", len(next)),
		slog.Int("seeded", seeded),
		slog.Float64("best_fitness", next[0].Fitness),
	)
	return nil
}

// Advance produces the next generation: elites carried over unchanged, then
// unique offspring from tournament parents, then random programs when the
// attempt budget runs out before the population is full.
func (m *Manager) Advance() error {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		if err := m.Initialize(); err != nil {
			return err
		}
	}

	m.mu.RLock()
	settings := m.settings
	current := m.population
	eval := m.evaluatorLocked()
	mutation := m.mutationLocked()
	generation := m.generation
	m.mu.RUnlock()

	target := settings.PopulationSize
	next := make([]model.Individual, 0, target)
	seen := make(map[string]struct{}, target)

	elites := min(settings.Elitism, len(current), target)
	for i := 0; i < elites; i++ {
		next = append(next, current[i])
		seen[current[i].Program] = struct{}{}
	}

	budget := target * attemptFactor
	for attempts := 0; len(next) < target && attempts < budget; attempts++ {
		parentA, err := m.selector.PickParent(m.rng, current)
		if err != nil {
			return fmt.Errorf("select parent: %w", err)
		}
		parentB, err := m.selector.PickParent(m.rng, current)
		if err != nil {
			return fmt.Errorf("select parent: %w", err)
		}

		childA, childB := parentA.Program, parentB.Program
		if m.rng.Float64() < settings.CrossoverRate {
			childA, childB, err = m.crossover.Recombine(m.rng, childA, childB)
			if err != nil {
				return fmt.Errorf("%s: %w", m.crossover.Name(), err)
			}
		}
		if childA, err = mutation.Apply(m.rng, childA); err != nil {
			return fmt.Errorf("%s: %w", mutation.Name(), err)
		}
		if childB, err = mutation.Apply(m.rng, childB); err != nil {
			return fmt.Errorf("%s: %w", mutation.Name(), err)
		}

		for _, child := range [2]string{childA, childB} {
			if len(next) >= target {
				break
			}
			if _, dup := seen[child]; dup {
				continue
			}
			seen[child] = struct{}{}
			next = append(next, eval.Evaluate(child))
		}
	}

	randomFill := 0
	for len(next) < target {
		program := nonEmpty(GenerateProgram(m.rng, pickInitialLength(m.rng, settings.MaxProgramLength), settings.MaxProgramLength))
		next = append(next, eval.Evaluate(program))
		randomFill++
	}
	if len(next) > target {
		next = next[:target]
	}
	sortByFitness(next)

	m.mu.Lock()
	m.population = next
	m.generation = generation + 1
	m.lastRandomFill = randomFill
	m.mu.Unlock()

	if randomFill > 0 {
		m.logger.Debug("offspring attempt budget exhausted",
			slog.Int("generation", generation+1),
			slog.Int("random_fill", randomFill),
		)
	}
	return nil
}

// HasPerfectSolution reports whether the best individual solves every train
// case and, when test cases exist, every test case.
func (m *Manager) HasPerfectSolution() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.population) == 0 {
		return false
	}
	return IsPerfect(m.population[0], len(m.test) > 0)
}

// IsPerfect applies the convergence rule to a single individual.
func IsPerfect(ind model.Individual, hasTestCases bool) bool {
	if ind.TrainAccuracy != 100 {
		return false
	}
	return !hasTestCases || ind.TestAccuracy == 100
}

// Restore adopts a previously produced population, for example one loaded
// from storage. The slice is copied and re-sorted.
func (m *Manager) Restore(population []model.Individual, generation int) error {
	if len(population) == 0 {
		return ErrEmptyPopulation
	}
	next := append([]model.Individual(nil), population...)
	sortByFitness(next)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.population = next
	m.generation = generation
	m.initialized = true
	m.lastRandomFill = 0
	return nil
}

// UpdateSettings replaces the settings used by later generations. An injected
// mutation operator that implements SettingsFollower is rebuilt from them.
// Invalid settings are rejected with an error wrapping
// model.ErrInvalidSettings.
func (m *Manager) UpdateSettings(settings model.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	if follower, ok := m.mutation.(SettingsFollower); ok {
		m.mutation = follower.WithSettings(settings)
	}
	return nil
}

// UpdateTrainCases affects evaluations from the next generation on; the
// current population keeps its scores.
func (m *Manager) UpdateTrainCases(cases []model.TestCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.train = cloneCases(cases)
}

func (m *Manager) UpdateTestCases(cases []model.TestCase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.test = cloneCases(cases)
}

// SetSeedGenomes replaces the seeds used by the next Initialize. Symbols
// outside the language alphabet are stripped and duplicates dropped.
func (m *Manager) SetSeedGenomes(seeds []string) {
	cleaned := make([]string, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for _, seed := range seeds {
		program := SanitizeProgram(seed)
		if program == "" {
			continue
		}
		if _, dup := seen[program]; dup {
			continue
		}
		seen[program] = struct{}{}
		cleaned = append(cleaned, program)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = cleaned
}

func (m *Manager) SeedGenomes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.seeds...)
}

func (m *Manager) ClearSeedGenomes() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds = nil
}

// SeededCount is the number of seeds the last Initialize placed.
func (m *Manager) SeededCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.seededCount
}

// Population returns a copy of the current generation, best first.
func (m *Manager) Population() []model.Individual {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Individual(nil), m.population...)
}

func (m *Manager) Best() (model.Individual, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.population) == 0 {
		return model.Individual{}, false
	}
	return m.population[0], true
}

func (m *Manager) Generation() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *Manager) Settings() model.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

func (m *Manager) TrainCases() []model.TestCase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneCases(m.train)
}

func (m *Manager) TestCases() []model.TestCase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneCases(m.test)
}

// Snapshot summarizes the current generation.
func (m *Manager) Snapshot() model.GenerationSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Summarize(m.population, m.generation)
	snap.RandomFill = m.lastRandomFill
	return snap
}

// Summarize computes a generation snapshot for a population sorted best first.
func Summarize(population []model.Individual, generation int) model.GenerationSnapshot {
	snap := model.GenerationSnapshot{Generation: generation}
	if len(population) == 0 {
		return snap
	}
	best := population[0]
	snap.BestFitness = best.Fitness
	snap.BestAccuracy = best.Accuracy
	snap.BestProgram = best.Program
	snap.BestTrainAccuracy = best.TrainAccuracy
	snap.BestTestAccuracy = best.TestAccuracy

	totalFitness, totalAccuracy := 0.0, 0.0
	unique := make(map[string]struct{}, len(population))
	for _, ind := range population {
		totalFitness += ind.Fitness
		totalAccuracy += ind.Accuracy
		unique[ind.Program] = struct{}{}
	}
	snap.AverageFitness = totalFitness / float64(len(population))
	snap.AverageAccuracy = totalAccuracy / float64(len(population))
	snap.UniquePrograms = len(unique)
	return snap
}

func (m *Manager) evaluatorLocked() Evaluator {
	return Evaluator{Train: m.train, Test: m.test, MaxSteps: m.maxSteps}
}

func (m *Manager) mutationLocked() Operator {
	if m.mutation != nil {
		return m.mutation
	}
	return PointMutation{}.WithSettings(m.settings)
}

// SanitizeProgram drops every byte that is not a language symbol.
func SanitizeProgram(program string) string {
	out := make([]byte, 0, len(program))
	for i := 0; i < len(program); i++ {
		if interp.IsSymbol(program[i]) {
			out = append(out, program[i])
		}
	}
	return string(out)
}

func truncateProgram(program string, maxLength int) string {
	if maxLength > 0 && len(program) > maxLength {
		return program[:maxLength]
	}
	return program
}

func sortByFitness(population []model.Individual) {
	sort.SliceStable(population, func(i, j int) bool {
		return population[i].Fitness > population[j].Fitness
	})
}

func cloneCases(cases []model.TestCase) []model.TestCase {
	if cases == nil {
		return nil
	}
	return append([]model.TestCase(nil), cases...)
}
