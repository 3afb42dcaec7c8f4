package evo

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progsynth/internal/interp"
	"progsynth/internal/model"
)

var doubleTask = []model.TestCase{
	{Input: 1, Expected: 2},
	{Input: 2, Expected: 4},
	{Input: 3, Expected: 6},
}

func testSettings() model.Settings {
	return model.Settings{
		PopulationSize:   30,
		MutationRate:     0.1,
		CrossoverRate:    0.7,
		Elitism:          2,
		MaxGenerations:   100,
		MaxProgramLength: 60,
	}
}

func newTestManager(t *testing.T, settings model.Settings, seed int64) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Settings: settings,
		Train:    doubleTask,
		MaxSteps: 2000,
		Seed:     seed,
	})
	require.NoError(t, err)
	return m
}

func requireSortedByFitness(t *testing.T, population []model.Individual) {
	t.Helper()
	require.True(t, sort.SliceIsSorted(population, func(i, j int) bool {
		return population[i].Fitness > population[j].Fitness
	}), "population not sorted by fitness")
}

func TestNewManagerRejectsInvalidSettings(t *testing.T) {
	settings := testSettings()
	settings.Elitism = settings.PopulationSize + 1
	_, err := NewManager(ManagerConfig{Settings: settings})
	require.ErrorIs(t, err, model.ErrInvalidSettings)
}

func TestInitializeBuildsUniqueSortedPopulation(t *testing.T) {
	m := newTestManager(t, testSettings(), 1)
	require.False(t, m.Initialized())
	require.NoError(t, m.Initialize())

	population := m.Population()
	require.Len(t, population, 30)
	requireSortedByFitness(t, population)

	seen := map[string]struct{}{}
	for _, ind := range population {
		require.NotEmpty(t, ind.Program)
		require.LessOrEqual(t, len(ind.Program), 60)
		_, dup := seen[ind.Program]
		require.False(t, dup, "duplicate program %q", ind.Program)
		seen[ind.Program] = struct{}{}
		require.GreaterOrEqual(t, ind.Fitness, 0.0)
		require.LessOrEqual(t, ind.Fitness, 100.0)
	}
	assert.Equal(t, 0, m.Generation())
	assert.True(t, m.Initialized())
}

func TestInitializeCapsSeedGenomes(t *testing.T) {
	m := newTestManager(t, testSettings(), 2)
	seeds := make([]string, 0, 20)
	for i := 1; i <= 20; i++ {
		program := ","
		for j := 0; j < i; j++ {
			program += "+"
		}
		seeds = append(seeds, program+".")
	}
	m.SetSeedGenomes(seeds)
	require.NoError(t, m.Initialize())

	assert.Equal(t, 9, m.SeededCount())
	programs := map[string]struct{}{}
	for _, ind := range m.Population() {
		programs[ind.Program] = struct{}{}
	}
	for _, seed := range seeds[:9] {
		assert.Contains(t, programs, seed)
	}

	// Seeds apply to the next Initialize only.
	m.ClearSeedGenomes()
	assert.Equal(t, 9, m.SeededCount())
	require.NoError(t, m.Initialize())
	assert.Equal(t, 0, m.SeededCount())
}

func TestSetSeedGenomesSanitizesAndDeduplicates(t *testing.T) {
	m := newTestManager(t, testSettings(), 3)
	m.SetSeedGenomes([]string{",+.", "x,+.y", "", "abc", ",++."})
	assert.Equal(t, []string{",+.", ",++."}, m.SeedGenomes())
}

func TestAdvanceKeepsSizeOrderAndElites(t *testing.T) {
	m := newTestManager(t, testSettings(), 4)
	require.NoError(t, m.Initialize())

	for gen := 1; gen <= 25; gen++ {
		before := m.Population()
		require.NoError(t, m.Advance())
		after := m.Population()

		require.Len(t, after, 30)
		requireSortedByFitness(t, after)
		assert.Equal(t, gen, m.Generation())

		programs := map[string]struct{}{}
		for _, ind := range after {
			programs[ind.Program] = struct{}{}
		}
		for _, elite := range before[:2] {
			assert.Contains(t, programs, elite.Program)
		}
		assert.GreaterOrEqual(t, after[0].Fitness, before[0].Fitness)
	}
}

func TestAdvanceInitializesWhenNeeded(t *testing.T) {
	m := newTestManager(t, testSettings(), 5)
	require.NoError(t, m.Advance())
	assert.Len(t, m.Population(), 30)
	assert.Equal(t, 1, m.Generation())
}

func TestAdvanceFallsBackToRandomFillInTinySearchSpace(t *testing.T) {
	settings := testSettings()
	settings.PopulationSize = 20
	settings.MaxProgramLength = 1
	m := newTestManager(t, settings, 6)

	require.NoError(t, m.Initialize())
	require.Len(t, m.Population(), 20)

	require.NoError(t, m.Advance())
	require.Len(t, m.Population(), 20)
	snap := m.Snapshot()
	assert.Positive(t, snap.RandomFill)
	assert.LessOrEqual(t, snap.UniquePrograms, 8)
}

func TestHasPerfectSolution(t *testing.T) {
	cases := []struct {
		name     string
		train    float64
		test     float64
		hasTests bool
		want     bool
	}{
		{name: "train only perfect", train: 100, hasTests: false, want: true},
		{name: "train only imperfect", train: 99, hasTests: false, want: false},
		{name: "both perfect", train: 100, test: 100, hasTests: true, want: true},
		{name: "test imperfect", train: 100, test: 50, hasTests: true, want: false},
		{name: "train imperfect", train: 50, test: 100, hasTests: true, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t, testSettings(), 7)
			if tc.hasTests {
				m.UpdateTestCases([]model.TestCase{{Input: 4, Expected: 8}})
			}
			require.NoError(t, m.Restore([]model.Individual{
				{Program: "+", Fitness: 1},
				{Program: ",.", Fitness: 90, TrainAccuracy: tc.train, TestAccuracy: tc.test},
			}, 3))
			assert.Equal(t, tc.want, m.HasPerfectSolution())
			assert.Equal(t, 3, m.Generation())
		})
	}
}

func TestHasPerfectSolutionFalseWhenEmpty(t *testing.T) {
	m := newTestManager(t, testSettings(), 8)
	assert.False(t, m.HasPerfectSolution())
	_, ok := m.Best()
	assert.False(t, ok)
	require.ErrorIs(t, m.Restore(nil, 0), ErrEmptyPopulation)
}

func TestUpdateSettingsValidates(t *testing.T) {
	m := newTestManager(t, testSettings(), 9)

	bad := testSettings()
	bad.MutationRate = 1.5
	require.ErrorIs(t, m.UpdateSettings(bad), model.ErrInvalidSettings)
	assert.Equal(t, testSettings(), m.Settings())

	good := testSettings()
	good.PopulationSize = 12
	require.NoError(t, m.UpdateSettings(good))
	require.NoError(t, m.Advance())
	assert.Len(t, m.Population(), 12)
}

func TestUpdateCasesDoesNotRescoreCurrentPopulation(t *testing.T) {
	m := newTestManager(t, testSettings(), 10)
	require.NoError(t, m.Initialize())
	before := m.Population()

	m.UpdateTrainCases([]model.TestCase{{Input: 0, Expected: 0}})
	assert.Equal(t, before, m.Population())
	assert.Equal(t, []model.TestCase{{Input: 0, Expected: 0}}, m.TrainCases())
}

func TestPopulationReturnsCopy(t *testing.T) {
	m := newTestManager(t, testSettings(), 11)
	require.NoError(t, m.Initialize())
	population := m.Population()
	population[0].Program = "mutated"
	assert.NotEqual(t, "mutated", m.Population()[0].Program)
}

type failingOperator struct{}

func (failingOperator) Name() string { return "failing" }

func (failingOperator) Apply(*rand.Rand, string) (string, error) {
	return "", errors.New("boom")
}

func TestAdvancePropagatesOperatorErrors(t *testing.T) {
	m, err := NewManager(ManagerConfig{
		Settings: testSettings(),
		Train:    doubleTask,
		Seed:     12,
		Mutation: failingOperator{},
	})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	err = m.Advance()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing")
}

func TestUpdateSettingsRebuildsInjectedPointMutation(t *testing.T) {
	m, err := NewManager(ManagerConfig{
		Settings: testSettings(),
		Train:    doubleTask,
		MaxSteps: 2000,
		Seed:     14,
		Mutation: PointMutation{Rate: 0.9, MaxLength: 60},
	})
	require.NoError(t, err)
	require.NoError(t, m.Initialize())

	narrow := testSettings()
	narrow.MutationRate = 0.2
	narrow.MaxProgramLength = 8
	require.NoError(t, m.UpdateSettings(narrow))
	assert.Equal(t, PointMutation{Rate: 0.2, MaxLength: 8}, m.mutationLocked())

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Advance())
		long := 0
		for _, ind := range m.Population() {
			if len(ind.Program) > 8 {
				long++
			}
		}
		// Only carried-over elites may predate the new limit.
		assert.LessOrEqual(t, long, narrow.Elitism)
	}
}

func TestUpdateSettingsKeepsCustomMutation(t *testing.T) {
	m, err := NewManager(ManagerConfig{
		Settings: testSettings(),
		Train:    doubleTask,
		Seed:     15,
		Mutation: failingOperator{},
	})
	require.NoError(t, err)
	require.NoError(t, m.UpdateSettings(testSettings()))
	assert.Equal(t, failingOperator{}, m.mutationLocked())
}

func TestSummarize(t *testing.T) {
	snap := Summarize([]model.Individual{
		{Program: ",+.", Fitness: 60, Accuracy: 66, TrainAccuracy: 66, TestAccuracy: 50},
		{Program: "+", Fitness: 20, Accuracy: 30},
		{Program: "+", Fitness: 10, Accuracy: 0},
	}, 4)
	assert.Equal(t, 4, snap.Generation)
	assert.Equal(t, ",+.", snap.BestProgram)
	assert.Equal(t, 60.0, snap.BestFitness)
	assert.InDelta(t, 30.0, snap.AverageFitness, 1e-9)
	assert.InDelta(t, 32.0, snap.AverageAccuracy, 1e-9)
	assert.Equal(t, 66.0, snap.BestTrainAccuracy)
	assert.Equal(t, 50.0, snap.BestTestAccuracy)
	assert.Equal(t, 2, snap.UniquePrograms)

	assert.Equal(t, model.GenerationSnapshot{Generation: 1}, Summarize(nil, 1))
}

// evolveUntilSolved advances m until it holds a perfect solution or the
// generation ceiling is hit, checking that the best fitness never drops.
func evolveUntilSolved(t *testing.T, m *Manager, ceiling int) {
	t.Helper()
	require.NoError(t, m.Initialize())
	best := m.Snapshot().BestFitness
	for gen := 0; gen < ceiling && !m.HasPerfectSolution(); gen++ {
		require.NoError(t, m.Advance())
		snap := m.Snapshot()
		require.GreaterOrEqual(t, snap.BestFitness, best, "best fitness regressed at generation %d", snap.Generation)
		best = snap.BestFitness
	}
}

func evolveSettings() model.Settings {
	return model.Settings{
		PopulationSize:   50,
		MutationRate:     0.1,
		CrossoverRate:    0.7,
		Elitism:          2,
		MaxGenerations:   300,
		MaxProgramLength: 50,
	}
}

func TestEvolveIncrementTaskSolves(t *testing.T) {
	increment := []model.TestCase{
		{Input: 1, Expected: 2},
		{Input: 2, Expected: 3},
		{Input: 3, Expected: 4},
	}
	for seed := int64(1); seed <= 5; seed++ {
		m, err := NewManager(ManagerConfig{Settings: evolveSettings(), Train: increment, MaxSteps: 2000, Seed: seed})
		require.NoError(t, err)
		evolveUntilSolved(t, m, 100)

		require.True(t, m.HasPerfectSolution(), "seed %d not solved by generation %d", seed, m.Generation())
		top, ok := m.Best()
		require.True(t, ok)
		assert.Equal(t, 100.0, top.TrainAccuracy)
		for _, tc := range increment {
			assert.Equal(t, string([]byte{tc.Expected}), interp.Execute(top.Program, []byte{tc.Input}, 2000), "seed %d program %q", seed, top.Program)
		}
	}
}

func TestSeededDoublingProgramSolvesImmediately(t *testing.T) {
	m := newTestManager(t, testSettings(), 16)
	m.SetSeedGenomes([]string{",[->++<]>."})
	require.NoError(t, m.Initialize())

	assert.True(t, m.HasPerfectSolution())
	top, ok := m.Best()
	require.True(t, ok)
	assert.Equal(t, ",[->++<]>.", top.Program)
	assert.Equal(t, 0, m.Generation())
}

// The double task has no partial credit between one case and all three:
// no program under eight symbols passes two cases and the shortest full
// solutions have ten. Runs settle on a one-case program such as ",+." and
// the length penalty keeps them there.
func TestEvolveDoubleTaskReachesOneCasePlateau(t *testing.T) {
	ceiling := 150
	if testing.Short() {
		ceiling = 40
	}
	for seed := int64(1); seed <= 5; seed++ {
		m, err := NewManager(ManagerConfig{Settings: evolveSettings(), Train: doubleTask, MaxSteps: 2000, Seed: seed})
		require.NoError(t, err)
		evolveUntilSolved(t, m, ceiling)

		top, ok := m.Best()
		require.True(t, ok)
		assert.GreaterOrEqual(t, top.TrainAccuracy, 100.0/3-1e-9, "seed %d best %q", seed, top.Program)
		assert.GreaterOrEqual(t, top.Fitness, 100.0/3-maxLengthPenalty)
	}
}
