package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"progsynth/internal/model"
	"progsynth/internal/storage"
	"progsynth/pkg/progsynth"
)

func newGenomesCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genomes",
		Short: "Browse the genome repository",
	}
	cmd.AddCommand(
		newGenomesListCommand(opts),
		newGenomesTaskCommand(opts, "best", "Best stored genomes for exactly these cases"),
		newGenomesTaskCommand(opts, "similar", "Stored genomes for tasks that share cases with these"),
		newGenomesShowCommand(opts),
		newGenomesDeleteCommand(opts),
	)
	return cmd
}

// storeClient opens a client for commands that only touch the store and
// artifacts, so no run config is involved.
func storeClient(opts *globalOptions) (*progsynth.Client, error) {
	return opts.client(storage.DefaultStoreKind(), "", "", false)
}

func newGenomesListCommand(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored genomes in rank order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			genomes, err := client.ListGenomes(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printGenomes(cmd.OutOrStdout(), genomes, jsonOut)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max genomes to list, 0 for all")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit genomes as JSON")
	return cmd
}

func newGenomesTaskCommand(opts *globalOptions, use, short string) *cobra.Command {
	var (
		train   []string
		test    []string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			trainCases, err := caseFlagsToTestCases(train)
			if err != nil {
				return err
			}
			if len(trainCases) == 0 {
				return errors.New("at least one --train case is required")
			}
			testCases, err := caseFlagsToTestCases(test)
			if err != nil {
				return err
			}

			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			var genomes []progsynth.StoredGenome
			if use == "best" {
				genomes, err = client.BestForTask(cmd.Context(), trainCases, testCases, limit)
			} else {
				genomes, err = client.SimilarTasks(cmd.Context(), trainCases, testCases, limit)
			}
			if err != nil {
				return err
			}
			return printGenomes(cmd.OutOrStdout(), genomes, jsonOut)
		},
	}
	cmd.Flags().StringArrayVar(&train, "train", nil, "training case input:expected, repeatable")
	cmd.Flags().StringArrayVar(&test, "test", nil, "held-out case input:expected, repeatable")
	cmd.Flags().IntVar(&limit, "limit", 10, "max genomes to list, 0 for all")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit genomes as JSON")
	return cmd
}

func caseFlagsToTestCases(values []string) ([]model.TestCase, error) {
	specs, err := parseCaseFlags(values)
	if err != nil {
		return nil, err
	}
	out := make([]model.TestCase, 0, len(specs))
	for _, spec := range specs {
		tc, err := spec.TestCase()
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, nil
}

func newGenomesShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one stored genome as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			genome, ok, err := client.GetGenome(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("genome not found: %s", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), genome)
		},
	}
}

func newGenomesDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a stored genome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			if err := client.DeleteGenome(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted genome_id=%s\n", args[0])
			return nil
		},
	}
}

func printGenomes(out io.Writer, genomes []progsynth.StoredGenome, jsonOut bool) error {
	if jsonOut {
		return writeJSON(out, genomes)
	}
	if len(genomes) == 0 {
		fmt.Fprintln(out, "no genomes")
		return nil
	}
	for _, g := range genomes {
		fmt.Fprintf(out, "genome_id=%s accuracy=%.1f test_accuracy=%.1f fitness=%.2f length=%d generation=%d program=%q task=%s\n",
			g.ID, g.Accuracy, g.TestAccuracy, g.Fitness, len(g.Program), g.GenerationFound, g.Program, g.TaskKey)
	}
	return nil
}

func newTasksCommand(opts *globalOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Summarize stored genomes per task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			tasks, err := client.TaskStatistics(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, tasks)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no tasks")
				return nil
			}
			for _, task := range tasks {
				fmt.Fprintf(out, "task=%s genomes=%d best_accuracy=%.1f\n", task.TaskKey, task.Count, task.BestAccuracy)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit task statistics as JSON")
	return cmd
}

func newRunsCommand(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			runs, err := client.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "run_id=%s created_at=%s seed=%d pop=%d gens=%d solved=%t best_fitness=%.2f best_program=%q\n",
					r.RunID, r.CreatedAtUTC, r.Seed, r.Population, r.Generations, r.Solved, r.BestFitness, r.BestProgram)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	return cmd
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var (
		runID  string
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts into the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := storeClient(opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()
			summary, err := client.Export(cmd.Context(), progsynth.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s dir=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run id to export")
	cmd.Flags().BoolVar(&latest, "latest", false, "export the most recent run")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory, defaults to --exports-dir")
	return cmd
}
