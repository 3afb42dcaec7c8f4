// Package stats writes run artifacts to disk and reads them back for
// listing, export and benchmark reports.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"progsynth/internal/config"
	"progsynth/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	configFile         = "config.json"
	summaryFile        = "summary.json"
	snapshotsFile      = "snapshots.json"
	topIndividualsFile = "top_individuals.json"
	fitnessSeriesFile  = "fitness_series.csv"
)

// RunSummary is the outcome of one run without its per-generation detail.
type RunSummary struct {
	RunID           string           `json:"run_id"`
	Solved          bool             `json:"solved"`
	StopReason      string           `json:"stop_reason"`
	Generations     int              `json:"generations"`
	GenerationFound int              `json:"generation_found"`
	SeededCount     int              `json:"seeded_count"`
	SavedGenomeID   string           `json:"saved_genome_id,omitempty"`
	Best            model.Individual `json:"best"`
	StartedAtUTC    string           `json:"started_at_utc"`
	FinishedAtUTC   string           `json:"finished_at_utc"`
}

type TopIndividual struct {
	Rank       int              `json:"rank"`
	Individual model.Individual `json:"individual"`
}

type RunArtifacts struct {
	Config    config.RunConfig           `json:"config"`
	Summary   RunSummary                 `json:"summary"`
	Snapshots []model.GenerationSnapshot `json:"snapshots"`
	Top       []TopIndividual            `json:"top"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	TaskKey        string  `json:"task_key"`
	PopulationSize int     `json:"population_size"`
	MaxGenerations int     `json:"max_generations"`
	Seed           int64   `json:"seed"`
	Solved         bool    `json:"solved"`
	Generations    int     `json:"generations"`
	BestProgram    string  `json:"best_program"`
	BestFitness    float64 `json:"best_fitness"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

// RankTop numbers a fitness-sorted population from 1.
func RankTop(population []model.Individual) []TopIndividual {
	top := make([]TopIndividual, len(population))
	for i, ind := range population {
		top[i] = TopIndividual{Rank: i + 1, Individual: ind}
	}
	return top
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	runID := artifacts.Summary.RunID
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	if artifacts.Config.RunID == "" {
		artifacts.Config.RunID = runID
	}
	if artifacts.Config.RunID != runID {
		return "", fmt.Errorf("run config run id mismatch: got=%s want=%s", artifacts.Config.RunID, runID)
	}

	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, snapshotsFile), artifacts.Snapshots); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, topIndividualsFile), artifacts.Top); err != nil {
		return "", err
	}
	if err := WriteFitnessSeries(runDir, artifacts.Snapshots); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns entries newest first. Later appends win ties.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory into outDir/<runID>.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, summaryFile, snapshotsFile, topIndividualsFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	seriesPath := filepath.Join(src, fitnessSeriesFile)
	if _, err := os.Stat(seriesPath); err == nil {
		if err := copyFile(seriesPath, filepath.Join(dst, fitnessSeriesFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (config.RunConfig, bool, error) {
	var cfg config.RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	return cfg, ok, err
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	var summary RunSummary
	ok, err := readJSON(filepath.Join(baseDir, runID, summaryFile), &summary)
	return summary, ok, err
}

func ReadSnapshots(baseDir, runID string) ([]model.GenerationSnapshot, bool, error) {
	var snapshots []model.GenerationSnapshot
	ok, err := readJSON(filepath.Join(baseDir, runID, snapshotsFile), &snapshots)
	return snapshots, ok, err
}

func ReadTopIndividuals(baseDir, runID string) ([]TopIndividual, bool, error) {
	var top []TopIndividual
	ok, err := readJSON(filepath.Join(baseDir, runID, topIndividualsFile), &top)
	return top, ok, err
}

// WriteFitnessSeries writes one CSV row per generation.
func WriteFitnessSeries(runDir string, snapshots []model.GenerationSnapshot) error {
	file, err := os.Create(filepath.Join(runDir, fitnessSeriesFile))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "best_fitness", "average_fitness", "best_accuracy", "unique_programs"}); err != nil {
		return err
	}
	for _, snap := range snapshots {
		if err := writer.Write([]string{
			strconv.Itoa(snap.Generation),
			strconv.FormatFloat(snap.BestFitness, 'f', -1, 64),
			strconv.FormatFloat(snap.AverageFitness, 'f', -1, 64),
			strconv.FormatFloat(snap.BestAccuracy, 'f', -1, 64),
			strconv.Itoa(snap.UniquePrograms),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadFitnessSeries returns the best fitness column of a run's series.
func ReadFitnessSeries(baseDir, runID string) ([]float64, bool, error) {
	file, err := os.Open(filepath.Join(baseDir, runID, fitnessSeriesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 || strings.TrimSpace(header[1]) != "best_fitness" {
		return nil, false, fmt.Errorf("fitness series header must start with generation,best_fitness")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
