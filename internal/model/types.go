package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// FaultOutput marks a case whose execution faulted instead of producing output.
const FaultOutput = "<fault>"

var ErrInvalidSettings = errors.New("invalid settings")

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// TestCase pairs one input byte with the one byte a program must print for it.
type TestCase struct {
	Input    byte `json:"input" yaml:"input"`
	Expected byte `json:"expected" yaml:"expected"`
}

// Individual is a program together with its cached evaluation. Accuracy,
// Results and Outputs mirror the train split for display purposes.
type Individual struct {
	Program  string   `json:"program"`
	Fitness  float64  `json:"fitness"`
	Accuracy float64  `json:"accuracy"`
	Results  []bool   `json:"results"`
	Outputs  []string `json:"outputs"`

	TrainAccuracy float64  `json:"train_accuracy"`
	TrainResults  []bool   `json:"train_results"`
	TrainOutputs  []string `json:"train_outputs"`
	TestAccuracy  float64  `json:"test_accuracy"`
	TestResults   []bool   `json:"test_results"`
	TestOutputs   []string `json:"test_outputs"`
}

// Settings drives the genetic algorithm.
type Settings struct {
	PopulationSize   int     `json:"population_size" yaml:"population_size" validate:"min=1"`
	MutationRate     float64 `json:"mutation_rate" yaml:"mutation_rate" validate:"gte=0,lte=1"`
	CrossoverRate    float64 `json:"crossover_rate" yaml:"crossover_rate" validate:"gte=0,lte=1"`
	Elitism          int     `json:"elitism" yaml:"elitism" validate:"gte=0,ltefield=PopulationSize"`
	MaxGenerations   int     `json:"max_generations" yaml:"max_generations" validate:"min=1"`
	MaxProgramLength int     `json:"max_program_length" yaml:"max_program_length" validate:"min=1"`
}

func DefaultSettings() Settings {
	return Settings{
		PopulationSize:   100,
		MutationRate:     0.1,
		CrossoverRate:    0.7,
		Elitism:          2,
		MaxGenerations:   1000,
		MaxProgramLength: 100,
	}
}

var settingsValidate = validator.New()

// Validate reports settings that would break population invariants. The
// returned error wraps ErrInvalidSettings.
func (s Settings) Validate() error {
	if err := settingsValidate.Struct(s); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s fails %s=%s (got %v)", ErrInvalidSettings, fe.Field(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// GenerationSnapshot is the per-generation summary handed to presentation code.
type GenerationSnapshot struct {
	Generation        int     `json:"generation"`
	BestFitness       float64 `json:"best_fitness"`
	AverageFitness    float64 `json:"average_fitness"`
	BestAccuracy      float64 `json:"best_accuracy"`
	AverageAccuracy   float64 `json:"average_accuracy"`
	BestProgram       string  `json:"best_program"`
	BestTrainAccuracy float64 `json:"best_train_accuracy"`
	BestTestAccuracy  float64 `json:"best_test_accuracy"`
	UniquePrograms    int     `json:"unique_programs"`
	RandomFill        int     `json:"random_fill"`
}

// StoredGenome is the persisted form of a solution found for a task.
type StoredGenome struct {
	VersionedRecord
	ID              string     `json:"id"`
	TaskKey         string     `json:"task_key"`
	Program         string     `json:"program"`
	Fitness         float64    `json:"fitness"`
	Accuracy        float64    `json:"accuracy"`
	TrainAccuracy   float64    `json:"train_accuracy"`
	TestAccuracy    float64    `json:"test_accuracy"`
	TrainCases      []TestCase `json:"train_cases"`
	TestCases       []TestCase `json:"test_cases"`
	GenerationFound int        `json:"generation_found"`
	CreatedAt       time.Time  `json:"created_at"`
}

// TaskStats aggregates stored genomes that share a task key.
type TaskStats struct {
	TaskKey      string  `json:"task_key"`
	Count        int     `json:"count"`
	BestAccuracy float64 `json:"best_accuracy"`
}
