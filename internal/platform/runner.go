// Package platform drives evolution runs: it seeds populations from the
// genome repository, advances generations until a stop condition, and stores
// what it finds.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"progsynth/internal/config"
	"progsynth/internal/evo"
	"progsynth/internal/model"
	"progsynth/internal/storage"
)

const tracerName = "progsynth/platform"

type Config struct {
	// Store is optional; without it runs neither seed from nor save to the
	// repository.
	Store          storage.Store
	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

type RunOptions struct {
	// OnGeneration receives a snapshot after generation zero and after every
	// advance. It runs on the driver goroutine.
	OnGeneration func(model.GenerationSnapshot)
	// Control carries pause, continue and stop commands. Runner creates one
	// when nil so PauseRun and friends still work.
	Control chan Command
}

type RunResult struct {
	RunID           string                     `json:"run_id"`
	Snapshots       []model.GenerationSnapshot `json:"snapshots"`
	Best            model.Individual           `json:"best"`
	Solved          bool                       `json:"solved"`
	GenerationFound int                        `json:"generation_found"`
	Generations     int                        `json:"generations"`
	StopReason      StopReason                 `json:"stop_reason"`
	SeededCount     int                        `json:"seeded_count"`
	SavedGenomeID   string                     `json:"saved_genome_id,omitempty"`
	Top             []model.Individual         `json:"top"`
	StartedAt       time.Time                  `json:"started_at"`
	FinishedAt      time.Time                  `json:"finished_at"`
}

type Runner struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu   sync.RWMutex
	runs map[string]chan Command
}

func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = DefaultMetrics()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	return &Runner{
		store:   cfg.Store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.TracerProvider.Tracer(tracerName),
		runs:    make(map[string]chan Command),
	}
}

// Run evolves a population for cfg until a program passes every case,
// MaxGenerations advances have run, a stop command arrives, or ctx is
// cancelled. Cancellation is observed between generations and is not an
// error: the partial result is returned with StopReasonCancelled.
func (r *Runner) Run(ctx context.Context, cfg config.RunConfig, opts RunOptions) (RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return RunResult{}, err
	}
	train, err := cfg.TrainCases()
	if err != nil {
		return RunResult{}, err
	}
	test, err := cfg.TestCases()
	if err != nil {
		return RunResult{}, err
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := r.logger.With(slog.String("run_id", runID))

	ctx, span := r.tracer.Start(ctx, "platform.Runner.Run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("population_size", cfg.Settings.PopulationSize),
		attribute.Int("max_generations", cfg.Settings.MaxGenerations),
		attribute.Int("train_cases", len(train)),
		attribute.Int("test_cases", len(test)),
	))
	defer span.End()

	selector, err := buildSelector(cfg)
	if err != nil {
		return RunResult{}, r.fail(span, err)
	}
	manager, err := evo.NewManager(evo.ManagerConfig{
		Settings: cfg.Settings,
		Train:    train,
		Test:     test,
		MaxSteps: cfg.MaxSteps,
		Seed:     cfg.Seed,
		Selector: selector,
		Logger:   logger,
	})
	if err != nil {
		return RunResult{}, r.fail(span, err)
	}

	seeds, err := r.collectSeeds(ctx, cfg, train, test, logger)
	if err != nil {
		return RunResult{}, r.fail(span, err)
	}
	manager.SetSeedGenomes(seeds)

	control := opts.Control
	if control == nil {
		control = make(chan Command, 8)
	}
	if err := r.registerRunControl(runID, control); err != nil {
		return RunResult{}, r.fail(span, err)
	}
	defer r.unregisterRunControl(runID)

	result := RunResult{RunID: runID, StartedAt: time.Now().UTC()}
	logger.Info("run started",
		slog.Int("population_size", cfg.Settings.PopulationSize),
		slog.Int("max_generations", cfg.Settings.MaxGenerations),
		slog.Int("seed_genomes", len(seeds)),
		slog.Int64("seed", cfg.Seed),
	)

	if err := manager.Initialize(); err != nil {
		return RunResult{}, r.fail(span, fmt.Errorf("initialize population: %w", err))
	}
	result.SeededCount = manager.SeededCount()
	r.observe(manager.Snapshot(), &result, opts)

	var ticker *time.Ticker
	if cfg.Interval > 0 {
		ticker = time.NewTicker(cfg.Interval)
		defer ticker.Stop()
	}

	paused := false
	result.StopReason = StopReasonMaxGenerations
	for {
		if manager.HasPerfectSolution() {
			result.StopReason = StopReasonSolved
			break
		}
		if manager.Generation() >= cfg.Settings.MaxGenerations {
			break
		}
		reason, stop := r.awaitTurn(ctx, control, ticker, &paused, logger)
		if stop {
			result.StopReason = reason
			break
		}
		if err := r.advance(ctx, manager); err != nil {
			return RunResult{}, r.fail(span, err)
		}
		r.observe(manager.Snapshot(), &result, opts)
	}

	result.Generations = manager.Generation()
	result.Top = topIndividuals(manager.Population(), cfg.TopN)
	if best, ok := manager.Best(); ok {
		result.Best = best
	}
	result.Solved = manager.HasPerfectSolution()
	if result.Solved {
		result.GenerationFound = manager.Generation()
		r.metrics.SolutionsTotal.Inc()
	}

	if r.store != nil && (result.Solved || cfg.SaveBest) && result.Best.Program != "" {
		genome := storage.NewStoredGenome(result.Best, train, test, manager.Generation())
		if err := r.store.SaveGenome(ctx, genome); err != nil {
			return RunResult{}, r.fail(span, fmt.Errorf("save best genome: %w", err))
		}
		result.SavedGenomeID = genome.ID
		r.metrics.StoredGenomesTotal.Inc()
		logger.Info("genome stored", slog.String("genome_id", genome.ID), slog.String("task_key", genome.TaskKey))
	}

	result.FinishedAt = time.Now().UTC()
	r.metrics.RunsTotal.WithLabelValues(string(result.StopReason)).Inc()
	span.SetAttributes(
		attribute.Bool("solved", result.Solved),
		attribute.Int("generations", result.Generations),
		attribute.String("stop_reason", string(result.StopReason)),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("run finished",
		slog.String("stop_reason", string(result.StopReason)),
		slog.Bool("solved", result.Solved),
		slog.Int("generations", result.Generations),
		slog.String("best_program", result.Best.Program),
		slog.Float64("best_fitness", result.Best.Fitness),
		slog.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)),
	)
	return result, nil
}

// collectSeeds gathers explicit seed genomes, then repository programs for
// this exact task, then programs from similar tasks. Duplicates are removed
// by the manager.
func (r *Runner) collectSeeds(ctx context.Context, cfg config.RunConfig, train, test []model.TestCase, logger *slog.Logger) ([]string, error) {
	seeds := append([]string(nil), cfg.SeedGenomes...)
	r.metrics.SeedsLoadedTotal.WithLabelValues("explicit").Add(float64(len(cfg.SeedGenomes)))
	if !cfg.SeedFromStore || r.store == nil {
		return seeds, nil
	}

	ctx, span := r.tracer.Start(ctx, "platform.Runner.collectSeeds")
	defer span.End()

	best, err := r.store.ListBestForTask(ctx, train, test, cfg.SeedLimit)
	if err != nil {
		return nil, fmt.Errorf("load seeds for task: %w", err)
	}
	similar, err := r.store.ListSimilarTasks(ctx, train, test, cfg.SeedLimit)
	if err != nil {
		return nil, fmt.Errorf("load seeds from similar tasks: %w", err)
	}
	for _, genome := range best {
		seeds = append(seeds, genome.Program)
	}
	for _, genome := range similar {
		seeds = append(seeds, genome.Program)
	}
	r.metrics.SeedsLoadedTotal.WithLabelValues("task").Add(float64(len(best)))
	r.metrics.SeedsLoadedTotal.WithLabelValues("similar").Add(float64(len(similar)))
	span.SetAttributes(attribute.Int("task_seeds", len(best)), attribute.Int("similar_seeds", len(similar)))
	logger.Debug("seeds loaded from store", slog.Int("task", len(best)), slog.Int("similar", len(similar)))
	return seeds, nil
}

// awaitTurn applies pending commands, honours pause, and waits for the next
// tick. It reports whether the run must stop and why.
func (r *Runner) awaitTurn(ctx context.Context, control chan Command, ticker *time.Ticker, paused *bool, logger *slog.Logger) (StopReason, bool) {
	for {
		if ctx.Err() != nil {
			return StopReasonCancelled, true
		}
		if *paused {
			select {
			case <-ctx.Done():
				return StopReasonCancelled, true
			case cmd := <-control:
				if r.applyCommand(cmd, paused, logger) {
					return StopReasonStopped, true
				}
			}
			continue
		}
		select {
		case cmd := <-control:
			if r.applyCommand(cmd, paused, logger) {
				return StopReasonStopped, true
			}
			continue
		default:
		}
		if ticker == nil {
			return "", false
		}
		select {
		case <-ctx.Done():
			return StopReasonCancelled, true
		case cmd := <-control:
			if r.applyCommand(cmd, paused, logger) {
				return StopReasonStopped, true
			}
		case <-ticker.C:
			return "", false
		}
	}
}

func (r *Runner) applyCommand(cmd Command, paused *bool, logger *slog.Logger) bool {
	logger.Info("run command", slog.String("command", string(cmd)))
	switch cmd {
	case CommandPause:
		*paused = true
	case CommandContinue:
		*paused = false
	case CommandStop:
		return true
	}
	return false
}

func (r *Runner) advance(ctx context.Context, manager *evo.Manager) error {
	_, span := r.tracer.Start(ctx, "platform.Runner.advance",
		trace.WithAttributes(attribute.Int("generation", manager.Generation()+1)))
	defer span.End()

	start := time.Now()
	if err := manager.Advance(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "advance failed")
		return fmt.Errorf("advance generation %d: %w", manager.Generation()+1, err)
	}
	r.metrics.AdvanceDuration.Observe(time.Since(start).Seconds())
	r.metrics.GenerationsTotal.Inc()
	return nil
}

func (r *Runner) observe(snap model.GenerationSnapshot, result *RunResult, opts RunOptions) {
	result.Snapshots = append(result.Snapshots, snap)
	r.metrics.BestFitness.Set(snap.BestFitness)
	r.metrics.BestAccuracy.Set(snap.BestTrainAccuracy)
	r.metrics.UniquePrograms.Set(float64(snap.UniquePrograms))
	r.logger.Debug("generation",
		slog.String("run_id", result.RunID),
		slog.Int("generation", snap.Generation),
		slog.Float64("best_fitness", snap.BestFitness),
		slog.Float64("average_fitness", snap.AverageFitness),
		slog.String("best_program", snap.BestProgram),
	)
	if opts.OnGeneration != nil {
		opts.OnGeneration(snap)
	}
}

func (r *Runner) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.metrics.RunsTotal.WithLabelValues("error").Inc()
	return err
}

func buildSelector(cfg config.RunConfig) (evo.Selector, error) {
	switch cfg.Selection {
	case "", config.SelectionTournament:
		return evo.TournamentSelector{TournamentSize: cfg.TournamentSize}, nil
	case config.SelectionElite:
		return evo.EliteSelector{Count: cfg.Settings.Elitism}, nil
	default:
		return nil, fmt.Errorf("unsupported selection: %s", cfg.Selection)
	}
}

func topIndividuals(population []model.Individual, n int) []model.Individual {
	if n <= 0 || n > len(population) {
		n = len(population)
	}
	return append([]model.Individual(nil), population[:n]...)
}
