// Package progsynth is the public entry point for running program synthesis
// and browsing the genome repository.
package progsynth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"progsynth/internal/config"
	"progsynth/internal/model"
	"progsynth/internal/platform"
	"progsynth/internal/stats"
	"progsynth/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "progsynth.db"
	defaultRunsLimit    = 20
)

type (
	RunConfig          = config.RunConfig
	CaseSpec           = config.CaseSpec
	Settings           = model.Settings
	TestCase           = model.TestCase
	Individual         = model.Individual
	GenerationSnapshot = model.GenerationSnapshot
	StoredGenome       = model.StoredGenome
	TaskStats          = model.TaskStats
	RunResult          = platform.RunResult
	BenchmarkStats     = stats.BenchmarkStats
)

type Options struct {
	StoreKind string
	// DBPath is the sqlite file or badger directory.
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	// Plot renders fitness.png next to each run's artifacts.
	Plot           bool
	Logger         *slog.Logger
	Metrics        *platform.Metrics
	TracerProvider trace.TracerProvider
}

type Client struct {
	store  storage.Store
	runner *platform.Runner
	logger *slog.Logger

	artifactsDir string
	exportsDir   string
	plot         bool
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store: store,
		runner: platform.NewRunner(platform.Config{
			Store:          store,
			Logger:         logger,
			Metrics:        opts.Metrics,
			TracerProvider: opts.TracerProvider,
		}),
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		plot:         opts.Plot,
	}, nil
}

// Init opens the genome repository. Other methods call it as needed.
func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

type RunSummary struct {
	RunID        string    `json:"run_id"`
	ArtifactsDir string    `json:"artifacts_dir"`
	PlotPath     string    `json:"plot_path,omitempty"`
	Result       RunResult `json:"result"`
}

// Run executes one evolution run and writes its artifacts.
func (c *Client) Run(ctx context.Context, cfg RunConfig, onGeneration func(GenerationSnapshot)) (RunSummary, error) {
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	result, err := c.runner.Run(ctx, cfg, platform.RunOptions{OnGeneration: onGeneration})
	if err != nil {
		return RunSummary{}, err
	}

	runDir, err := c.writeArtifacts(cfg, result)
	if err != nil {
		return RunSummary{}, fmt.Errorf("write run artifacts: %w", err)
	}
	summary := RunSummary{RunID: result.RunID, ArtifactsDir: runDir, Result: result}
	if c.plot && len(result.Snapshots) > 0 {
		path, err := stats.WriteFitnessPlot(runDir, "run "+result.RunID, result.Snapshots)
		if err != nil {
			return RunSummary{}, fmt.Errorf("write fitness plot: %w", err)
		}
		summary.PlotPath = path
	}
	return summary, nil
}

func (c *Client) PauseRun(runID string) error {
	return c.runner.PauseRun(runID)
}

func (c *Client) ContinueRun(runID string) error {
	return c.runner.ContinueRun(runID)
}

func (c *Client) StopRun(runID string) error {
	return c.runner.StopRun(runID)
}

func (c *Client) writeArtifacts(cfg RunConfig, result RunResult) (string, error) {
	train, err := cfg.TrainCases()
	if err != nil {
		return "", err
	}
	test, err := cfg.TestCases()
	if err != nil {
		return "", err
	}

	summary := stats.RunSummary{
		RunID:           result.RunID,
		Solved:          result.Solved,
		StopReason:      string(result.StopReason),
		Generations:     result.Generations,
		GenerationFound: result.GenerationFound,
		SeededCount:     result.SeededCount,
		SavedGenomeID:   result.SavedGenomeID,
		Best:            result.Best,
		StartedAtUTC:    result.StartedAt.Format(time.RFC3339Nano),
		FinishedAtUTC:   result.FinishedAt.Format(time.RFC3339Nano),
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config:    cfg,
		Summary:   summary,
		Snapshots: result.Snapshots,
		Top:       stats.RankTop(result.Top),
	})
	if err != nil {
		return "", err
	}

	err = stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:          result.RunID,
		TaskKey:        storage.TaskKey(train, test),
		PopulationSize: cfg.Settings.PopulationSize,
		MaxGenerations: cfg.Settings.MaxGenerations,
		Seed:           cfg.Seed,
		Solved:         result.Solved,
		Generations:    result.Generations,
		BestProgram:    result.Best.Program,
		BestFitness:    result.Best.Fitness,
		CreatedAtUTC:   summary.FinishedAtUTC,
	})
	if err != nil {
		return "", err
	}
	return runDir, nil
}

type BenchmarkRequest struct {
	Config RunConfig
	// Runs repeats Config with seeds Config.Seed, Config.Seed+1, ...
	Runs  int
	Notes string
}

type BenchmarkSummary struct {
	ExperimentID string         `json:"experiment_id"`
	ReportDir    string         `json:"report_dir"`
	Stats        BenchmarkStats `json:"stats"`
}

// Benchmark repeats a run under consecutive seeds and reports how often and
// how quickly the task was solved.
func (c *Client) Benchmark(ctx context.Context, req BenchmarkRequest) (BenchmarkSummary, error) {
	if req.Runs <= 0 {
		return BenchmarkSummary{}, errors.New("benchmark requires at least one run")
	}
	train, err := req.Config.TrainCases()
	if err != nil {
		return BenchmarkSummary{}, err
	}
	test, err := req.Config.TestCases()
	if err != nil {
		return BenchmarkSummary{}, err
	}

	exp := stats.BenchmarkExperiment{
		ID:           uuid.NewString(),
		Notes:        req.Notes,
		TaskKey:      storage.TaskKey(train, test),
		TotalRuns:    req.Runs,
		StartedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
	}
	for i := 0; i < req.Runs; i++ {
		cfg := req.Config
		cfg.RunID = fmt.Sprintf("%s-%03d", exp.ID, i+1)
		cfg.Seed = req.Config.Seed + int64(i)
		summary, err := c.Run(ctx, cfg, nil)
		if err != nil {
			return BenchmarkSummary{}, fmt.Errorf("benchmark run %d: %w", i+1, err)
		}
		exp.RunIDs = append(exp.RunIDs, summary.RunID)
		c.logger.Info("benchmark run finished",
			slog.String("experiment_id", exp.ID),
			slog.Int("run", i+1),
			slog.Bool("solved", summary.Result.Solved),
		)
		if ctx.Err() != nil {
			break
		}
	}
	exp.CompletedAtUTC = time.Now().UTC().Format(time.RFC3339Nano)
	if err := stats.WriteBenchmarkExperiment(c.artifactsDir, exp); err != nil {
		return BenchmarkSummary{}, err
	}

	report, err := stats.BuildBenchmarkReport(c.artifactsDir, exp)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	dir, err := stats.WriteBenchmarkReport(c.artifactsDir, report)
	if err != nil {
		return BenchmarkSummary{}, err
	}
	return BenchmarkSummary{ExperimentID: exp.ID, ReportDir: dir, Stats: report.Stats}, nil
}

func (c *Client) ListGenomes(ctx context.Context, limit int) ([]StoredGenome, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListAll(ctx, limit)
}

func (c *Client) BestForTask(ctx context.Context, train, test []TestCase, limit int) ([]StoredGenome, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListBestForTask(ctx, train, test, limit)
}

func (c *Client) SimilarTasks(ctx context.Context, train, test []TestCase, limit int) ([]StoredGenome, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListSimilarTasks(ctx, train, test, limit)
}

func (c *Client) GetGenome(ctx context.Context, id string) (StoredGenome, bool, error) {
	if err := c.Init(ctx); err != nil {
		return StoredGenome{}, false, err
	}
	return c.store.GetGenome(ctx, id)
}

func (c *Client) DeleteGenome(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("genome id is required")
	}
	if err := c.Init(ctx); err != nil {
		return err
	}
	return c.store.DeleteGenome(ctx, id)
}

func (c *Client) TaskStatistics(ctx context.Context) ([]TaskStats, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.TaskStatistics(ctx)
}

type RunItem struct {
	RunID        string  `json:"run_id"`
	CreatedAtUTC string  `json:"created_at_utc"`
	TaskKey      string  `json:"task_key"`
	Seed         int64   `json:"seed"`
	Population   int     `json:"population"`
	Generations  int     `json:"generations"`
	Solved       bool    `json:"solved"`
	BestProgram  string  `json:"best_program"`
	BestFitness  float64 `json:"best_fitness"`
}

// Runs lists indexed runs newest first. limit <= 0 uses a default of 20.
func (c *Client) Runs(_ context.Context, limit int) ([]RunItem, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			TaskKey:      e.TaskKey,
			Seed:         e.Seed,
			Population:   e.PopulationSize,
			Generations:  e.Generations,
			Solved:       e.Solved,
			BestProgram:  e.BestProgram,
			BestFitness:  e.BestFitness,
		})
	}
	return out, nil
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}
