package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const benchmarkExperimentsDir = "experiments"

// BenchmarkExperiment groups repeated runs of one configuration under
// different seeds.
type BenchmarkExperiment struct {
	ID             string   `json:"id"`
	Notes          string   `json:"notes,omitempty"`
	TaskKey        string   `json:"task_key"`
	TotalRuns      int      `json:"total_runs"`
	StartedAtUTC   string   `json:"started_at_utc,omitempty"`
	CompletedAtUTC string   `json:"completed_at_utc,omitempty"`
	RunIDs         []string `json:"run_ids,omitempty"`
}

type BenchmarkRun struct {
	RunID       string  `json:"run_id"`
	Solved      bool    `json:"solved"`
	Generations int     `json:"generations"`
	BestFitness float64 `json:"best_fitness"`
	BestProgram string  `json:"best_program"`
}

// BenchmarkStats summarizes an experiment. Generation statistics cover
// solved runs only.
type BenchmarkStats struct {
	TotalRuns      int            `json:"total_runs"`
	SolvedRuns     int            `json:"solved_runs"`
	SuccessRate    float64        `json:"success_rate"`
	AvgGenerations float64        `json:"avg_generations"`
	StdGenerations float64        `json:"std_generations"`
	MinGenerations float64        `json:"min_generations"`
	MaxGenerations float64        `json:"max_generations"`
	AvgBestFitness float64        `json:"avg_best_fitness"`
	Runs           []BenchmarkRun `json:"runs"`
}

type BenchmarkReport struct {
	ExperimentID string              `json:"experiment_id"`
	GeneratedAt  string              `json:"generated_at_utc"`
	Experiment   BenchmarkExperiment `json:"experiment"`
	Stats        BenchmarkStats      `json:"stats"`
}

func BuildBenchmarkStats(summaries []RunSummary) BenchmarkStats {
	result := BenchmarkStats{
		TotalRuns: len(summaries),
		Runs:      make([]BenchmarkRun, 0, len(summaries)),
	}
	solvedGenerations := make([]float64, 0, len(summaries))
	bestFitness := make([]float64, 0, len(summaries))
	for _, summary := range summaries {
		result.Runs = append(result.Runs, BenchmarkRun{
			RunID:       summary.RunID,
			Solved:      summary.Solved,
			Generations: summary.Generations,
			BestFitness: summary.Best.Fitness,
			BestProgram: summary.Best.Program,
		})
		bestFitness = append(bestFitness, summary.Best.Fitness)
		if summary.Solved {
			result.SolvedRuns++
			solvedGenerations = append(solvedGenerations, float64(summary.GenerationFound))
		}
	}
	if result.TotalRuns > 0 {
		result.SuccessRate = float64(result.SolvedRuns) / float64(result.TotalRuns)
		result.AvgBestFitness = stat.Mean(bestFitness, nil)
	}
	if len(solvedGenerations) > 0 {
		result.AvgGenerations = stat.Mean(solvedGenerations, nil)
		if len(solvedGenerations) > 1 {
			result.StdGenerations = stat.StdDev(solvedGenerations, nil)
		}
		sort.Float64s(solvedGenerations)
		result.MinGenerations = solvedGenerations[0]
		result.MaxGenerations = solvedGenerations[len(solvedGenerations)-1]
	}
	return result
}

// BuildBenchmarkReport reads the summary of every run in exp.
func BuildBenchmarkReport(baseDir string, exp BenchmarkExperiment) (BenchmarkReport, error) {
	summaries := make([]RunSummary, 0, len(exp.RunIDs))
	for _, runID := range exp.RunIDs {
		summary, ok, err := ReadRunSummary(baseDir, runID)
		if err != nil {
			return BenchmarkReport{}, err
		}
		if !ok {
			return BenchmarkReport{}, fmt.Errorf("run summary not found for run id: %s", runID)
		}
		summaries = append(summaries, summary)
	}
	return BenchmarkReport{
		ExperimentID: exp.ID,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Experiment:   exp,
		Stats:        BuildBenchmarkStats(summaries),
	}, nil
}

func WriteBenchmarkReport(baseDir string, report BenchmarkReport) (string, error) {
	if report.ExperimentID == "" {
		return "", fmt.Errorf("report experiment id is required")
	}
	reportDir := filepath.Join(baseDir, benchmarkExperimentsDir, report.ExperimentID)
	if err := os.MkdirAll(reportDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(reportDir, "report.json"), report); err != nil {
		return "", err
	}
	return reportDir, nil
}

func WriteBenchmarkExperiment(baseDir string, exp BenchmarkExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	path := benchmarkExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, exp)
}

func ReadBenchmarkExperiment(baseDir, id string) (BenchmarkExperiment, bool, error) {
	if id == "" {
		return BenchmarkExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	var exp BenchmarkExperiment
	ok, err := readJSON(benchmarkExperimentPath(baseDir, id), &exp)
	return exp, ok, err
}

// ListBenchmarkExperiments returns experiments newest first; undated ones
// sort last.
func ListBenchmarkExperiments(baseDir string) ([]BenchmarkExperiment, error) {
	root := filepath.Join(baseDir, benchmarkExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []BenchmarkExperiment{}, nil
		}
		return nil, err
	}

	exps := make([]BenchmarkExperiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadBenchmarkExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}

func benchmarkExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, benchmarkExperimentsDir, id, "experiment.json")
}
