package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"progsynth/internal/config"
	"progsynth/internal/storage"
	"progsynth/pkg/progsynth"
)

func newInitCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the genome store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if err := client.Init(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialized store=%s\n", storeLabel(opts.storeKind))
			return nil
		},
	}
}

func storeLabel(kind string) string {
	if kind == "" {
		return storage.DefaultStoreKind()
	}
	return kind
}

// runFlags hold overrides applied on top of a loaded or default run config.
type runFlags struct {
	configPath     string
	runID          string
	train          []string
	test           []string
	population     int
	generations    int
	mutationRate   float64
	crossoverRate  float64
	elitism        int
	maxLength      int
	seed           int64
	seedGenomes    []string
	seedFromStore  bool
	seedLimit      int
	saveBest       bool
	interval       time.Duration
	maxSteps       int
	selection      string
	tournamentSize int
	topN           int
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "YAML run config")
	flags.StringArrayVar(&f.train, "train", nil, "training case input:expected, repeatable")
	flags.StringArrayVar(&f.test, "test", nil, "held-out case input:expected, repeatable")
	flags.IntVar(&f.population, "population", 0, "population size")
	flags.IntVar(&f.generations, "generations", 0, "max generations")
	flags.Float64Var(&f.mutationRate, "mutation-rate", 0, "mutation rate in [0,1]")
	flags.Float64Var(&f.crossoverRate, "crossover-rate", 0, "crossover rate in [0,1]")
	flags.IntVar(&f.elitism, "elitism", 0, "individuals copied unchanged each generation")
	flags.IntVar(&f.maxLength, "max-length", 0, "max program length")
	flags.Int64Var(&f.seed, "seed", 0, "random seed")
	flags.StringArrayVar(&f.seedGenomes, "seed-genome", nil, "program to inject into the initial population, repeatable")
	flags.BoolVar(&f.seedFromStore, "seed-from-store", false, "seed from stored genomes for this or similar tasks")
	flags.IntVar(&f.seedLimit, "seed-limit", 0, "max genomes loaded per store query")
	flags.BoolVar(&f.saveBest, "save-best", false, "store the best genome even when unsolved")
	flags.DurationVar(&f.interval, "interval", 0, "delay between generations")
	flags.IntVar(&f.maxSteps, "max-steps", 0, "interpreter step limit per case")
	flags.StringVar(&f.selection, "selection", "", "parent selection: tournament|elite")
	flags.IntVar(&f.tournamentSize, "tournament-size", 0, "tournament size")
	flags.IntVar(&f.topN, "top", 0, "individuals kept in top_individuals.json")
}

// build loads the config file, if any, and applies every flag the user set.
func (f *runFlags) build(cmd *cobra.Command) (config.RunConfig, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("run-id") {
		cfg.RunID = f.runID
	}
	if changed("train") {
		specs, err := parseCaseFlags(f.train)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg.Train = specs
	}
	if changed("test") {
		specs, err := parseCaseFlags(f.test)
		if err != nil {
			return config.RunConfig{}, err
		}
		cfg.Test = specs
	}
	if changed("population") {
		cfg.Settings.PopulationSize = f.population
	}
	if changed("generations") {
		cfg.Settings.MaxGenerations = f.generations
	}
	if changed("mutation-rate") {
		cfg.Settings.MutationRate = f.mutationRate
	}
	if changed("crossover-rate") {
		cfg.Settings.CrossoverRate = f.crossoverRate
	}
	if changed("elitism") {
		cfg.Settings.Elitism = f.elitism
	}
	if changed("max-length") {
		cfg.Settings.MaxProgramLength = f.maxLength
	}
	if changed("seed") {
		cfg.Seed = f.seed
	}
	if changed("seed-genome") {
		cfg.SeedGenomes = append(cfg.SeedGenomes, f.seedGenomes...)
	}
	if changed("seed-from-store") {
		cfg.SeedFromStore = f.seedFromStore
	}
	if changed("seed-limit") {
		cfg.SeedLimit = f.seedLimit
	}
	if changed("save-best") {
		cfg.SaveBest = f.saveBest
	}
	if changed("interval") {
		cfg.Interval = f.interval
	}
	if changed("max-steps") {
		cfg.MaxSteps = f.maxSteps
	}
	if changed("selection") {
		cfg.Selection = f.selection
	}
	if changed("tournament-size") {
		cfg.TournamentSize = f.tournamentSize
	}
	if changed("top") {
		cfg.TopN = f.topN
	}
	if err := cfg.Validate(); err != nil {
		return config.RunConfig{}, err
	}
	return cfg, nil
}

func parseCaseFlags(values []string) ([]config.CaseSpec, error) {
	out := make([]config.CaseSpec, 0, len(values))
	for _, value := range values {
		spec, err := config.ParseCaseFlag(value)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		flags   runFlags
		plot    bool
		quiet   bool
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve a program for a set of input/output cases",
		Example: `  progsynthctl run --train 1:2 --train 2:4 --test 3:6 --generations 500
  progsynthctl run --config testdata/configs/double.yaml --plot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.build(cmd)
			if err != nil {
				return err
			}
			client, err := opts.client(cfg.Store.Kind, cfg.Store.Path, cfg.ArtifactsDir, plot)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			out := cmd.OutOrStdout()
			var onGeneration func(progsynth.GenerationSnapshot)
			if !quiet && !jsonOut {
				onGeneration = func(snap progsynth.GenerationSnapshot) {
					fmt.Fprintf(out, "generation=%d best_fitness=%.2f best_accuracy=%.1f avg_fitness=%.2f unique=%d best_program=%q\n",
						snap.Generation, snap.BestFitness, snap.BestTrainAccuracy, snap.AverageFitness, snap.UniquePrograms, snap.BestProgram)
				}
			}

			summary, err := client.Run(cmd.Context(), cfg, onGeneration)
			if err != nil {
				return err
			}
			opts.logger.Debug("run finished", slog.String("run_id", summary.RunID), slog.String("stop_reason", string(summary.Result.StopReason)))
			if jsonOut {
				return writeJSON(out, summary)
			}
			printRunSummary(out, summary)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&flags.runID, "run-id", "", "run id, generated when empty")
	cmd.Flags().BoolVar(&plot, "plot", false, "render fitness.png into the run directory")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-generation lines")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the run summary as JSON")
	return cmd
}

func printRunSummary(out io.Writer, summary progsynth.RunSummary) {
	result := summary.Result
	fmt.Fprintf(out, "run completed run_id=%s solved=%t stop_reason=%s generations=%d seeded=%d\n",
		summary.RunID, result.Solved, result.StopReason, result.Generations, result.SeededCount)
	if result.Solved {
		fmt.Fprintf(out, "generation_found=%d\n", result.GenerationFound)
	}
	fmt.Fprintf(out, "best_program=%q fitness=%.2f train_accuracy=%.1f test_accuracy=%.1f\n",
		result.Best.Program, result.Best.Fitness, result.Best.TrainAccuracy, result.Best.TestAccuracy)
	if result.SavedGenomeID != "" {
		fmt.Fprintf(out, "saved_genome_id=%s\n", result.SavedGenomeID)
	}
	fmt.Fprintf(out, "artifacts_dir=%s\n", summary.ArtifactsDir)
	if summary.PlotPath != "" {
		fmt.Fprintf(out, "plot=%s\n", summary.PlotPath)
	}
}

func newBenchmarkCommand(opts *globalOptions) *cobra.Command {
	var (
		flags   runFlags
		runs    int
		notes   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Repeat a run under consecutive seeds and report the success rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.build(cmd)
			if err != nil {
				return err
			}
			client, err := opts.client(cfg.Store.Kind, cfg.Store.Path, cfg.ArtifactsDir, false)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			summary, err := client.Benchmark(cmd.Context(), progsynth.BenchmarkRequest{Config: cfg, Runs: runs, Notes: notes})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, summary)
			}
			st := summary.Stats
			fmt.Fprintf(out, "benchmark experiment_id=%s runs=%d solved=%d success_rate=%.3f avg_generations=%.2f std_generations=%.2f min_generations=%.0f max_generations=%.0f avg_best_fitness=%.2f\n",
				summary.ExperimentID, st.TotalRuns, st.SolvedRuns, st.SuccessRate, st.AvgGenerations, st.StdGenerations,
				st.MinGenerations, st.MaxGenerations, st.AvgBestFitness)
			fmt.Fprintf(out, "report_dir=%s\n", summary.ReportDir)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&runs, "runs", 5, "number of runs")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes stored with the experiment")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit the benchmark summary as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
