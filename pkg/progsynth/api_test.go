package progsynth

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progsynth/internal/config"
	"progsynth/internal/platform"
)

func newTestClient(t *testing.T, storeKind string) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	client, err := New(Options{
		StoreKind:    storeKind,
		DBPath:       filepath.Join(dir, "progsynth.db"),
		ArtifactsDir: filepath.Join(dir, "runs"),
		ExportsDir:   filepath.Join(dir, "exports"),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      platform.NewMetrics(nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, dir
}

func identityConfig() RunConfig {
	cfg := config.Default()
	cfg.Train = []CaseSpec{{Input: "4", Expected: "4"}, {Input: "9", Expected: "9"}}
	cfg.Test = []CaseSpec{{Input: "200", Expected: "200"}}
	cfg.Settings = Settings{
		PopulationSize:   16,
		MutationRate:     0.1,
		CrossoverRate:    0.7,
		Elitism:          2,
		MaxGenerations:   2,
		MaxProgramLength: 20,
	}
	cfg.MaxSteps = 300
	cfg.SeedGenomes = []string{",."}
	return cfg
}

func TestClientRunStoresGenomeAndArtifacts(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t, "sqlite")

	var generations []int
	summary, err := client.Run(ctx, identityConfig(), func(snap GenerationSnapshot) {
		generations = append(generations, snap.Generation)
	})
	require.NoError(t, err)
	assert.True(t, summary.Result.Solved)
	assert.Equal(t, []int{0}, generations)
	_, err = os.Stat(filepath.Join(summary.ArtifactsDir, "summary.json"))
	require.NoError(t, err)

	genomes, err := client.ListGenomes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, genomes, 1)
	assert.Equal(t, ",.", genomes[0].Program)

	genome, ok, err := client.GetGenome(ctx, summary.Result.SavedGenomeID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 100.0, genome.TestAccuracy)

	cfg := identityConfig()
	train, err := cfg.TrainCases()
	require.NoError(t, err)
	test, err := cfg.TestCases()
	require.NoError(t, err)
	best, err := client.BestForTask(ctx, train, test, 5)
	require.NoError(t, err)
	assert.Len(t, best, 1)

	similar, err := client.SimilarTasks(ctx, train[:1], nil, 5)
	require.NoError(t, err)
	assert.Len(t, similar, 1)

	tasks, err := client.TaskStatistics(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].Count)

	runs, err := client.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.True(t, runs[0].Solved)

	exported, err := client.Export(ctx, ExportRequest{Latest: true})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, exported.RunID)
	_, err = os.Stat(filepath.Join(exported.Directory, "config.json"))
	require.NoError(t, err)

	require.NoError(t, client.DeleteGenome(ctx, genome.ID))
	genomes, err = client.ListGenomes(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, genomes)
}

func TestClientExportValidation(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	ctx := context.Background()

	_, err := client.Export(ctx, ExportRequest{})
	require.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{RunID: "a", Latest: true})
	require.Error(t, err)
	_, err = client.Export(ctx, ExportRequest{Latest: true})
	require.Error(t, err)
	require.Error(t, client.DeleteGenome(ctx, ""))
}

func TestClientBenchmark(t *testing.T) {
	client, _ := newTestClient(t, "memory")
	cfg := identityConfig()
	cfg.SeedGenomes = nil
	cfg.Train = []CaseSpec{{Input: "1", Expected: "2"}, {Input: "1", Expected: "3"}}
	cfg.Test = nil

	summary, err := client.Benchmark(context.Background(), BenchmarkRequest{Config: cfg, Runs: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Stats.TotalRuns)
	assert.Equal(t, 0, summary.Stats.SolvedRuns)
	_, err = os.Stat(filepath.Join(summary.ReportDir, "report.json"))
	require.NoError(t, err)

	runs, err := client.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = client.Benchmark(context.Background(), BenchmarkRequest{Config: cfg})
	require.Error(t, err)
}

func TestClientRunWritesPlot(t *testing.T) {
	dir := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(dir, "runs"),
		Plot:         true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:      platform.NewMetrics(nil),
	})
	require.NoError(t, err)

	summary, err := client.Run(context.Background(), identityConfig(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, summary.PlotPath)
	_, err = os.Stat(summary.PlotPath)
	require.NoError(t, err)
}

func TestNewRejectsUnknownStore(t *testing.T) {
	_, err := New(Options{StoreKind: "postgres"})
	require.Error(t, err)
}
