package stats

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progsynth/internal/model"
)

func TestBuildBenchmarkStats(t *testing.T) {
	summaries := []RunSummary{
		{RunID: "r1", Solved: true, Generations: 10, GenerationFound: 10, Best: model.Individual{Fitness: 99}},
		{RunID: "r2", Solved: true, Generations: 30, GenerationFound: 30, Best: model.Individual{Fitness: 97}},
		{RunID: "r3", Solved: false, Generations: 100, Best: model.Individual{Fitness: 50}},
		{RunID: "r4", Solved: true, Generations: 20, GenerationFound: 20, Best: model.Individual{Fitness: 98}},
	}
	got := BuildBenchmarkStats(summaries)

	assert.Equal(t, 4, got.TotalRuns)
	assert.Equal(t, 3, got.SolvedRuns)
	assert.InDelta(t, 0.75, got.SuccessRate, 1e-9)
	assert.InDelta(t, 20.0, got.AvgGenerations, 1e-9)
	assert.InDelta(t, 10.0, got.StdGenerations, 1e-9)
	assert.Equal(t, 10.0, got.MinGenerations)
	assert.Equal(t, 30.0, got.MaxGenerations)
	assert.InDelta(t, 86.0, got.AvgBestFitness, 1e-9)
	assert.Len(t, got.Runs, 4)
}

func TestBuildBenchmarkStatsEmpty(t *testing.T) {
	got := BuildBenchmarkStats(nil)
	assert.Equal(t, 0, got.TotalRuns)
	assert.Zero(t, got.SuccessRate)
	assert.Empty(t, got.Runs)
}

func TestBenchmarkExperimentRoundTripAndReport(t *testing.T) {
	baseDir := t.TempDir()
	for _, id := range []string{"run-1", "run-2"} {
		_, err := WriteRunArtifacts(baseDir, sampleArtifacts(id))
		require.NoError(t, err)
	}

	exp := BenchmarkExperiment{ID: "exp-1", TotalRuns: 2, StartedAtUTC: "2026-01-01T00:00:00Z", RunIDs: []string{"run-1", "run-2"}}
	require.NoError(t, WriteBenchmarkExperiment(baseDir, exp))
	require.NoError(t, WriteBenchmarkExperiment(baseDir, BenchmarkExperiment{ID: "exp-0"}))

	loaded, ok, err := ReadBenchmarkExperiment(baseDir, "exp-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, exp, loaded)

	all, err := ListBenchmarkExperiments(baseDir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "exp-1", all[0].ID)

	report, err := BuildBenchmarkReport(baseDir, exp)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.SolvedRuns)

	dir, err := WriteBenchmarkReport(baseDir, report)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "report.json"))
	require.NoError(t, err)

	_, err = BuildBenchmarkReport(baseDir, BenchmarkExperiment{ID: "x", RunIDs: []string{"missing"}})
	require.Error(t, err)
}

func TestWriteFitnessPlot(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteFitnessPlot(dir, "run", sampleArtifacts("run-1").Snapshots)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	_, err = WriteFitnessPlot(dir, "empty", nil)
	require.Error(t, err)
}
