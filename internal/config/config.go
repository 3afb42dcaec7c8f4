// Package config loads and validates run configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"progsynth/internal/interp"
	"progsynth/internal/model"
)

const (
	SelectionTournament = "tournament"
	SelectionElite      = "elite"
)

var ErrInvalidConfig = errors.New("invalid run config")

// CaseSpec is one test case as written by users: each side is a list of
// comma-separated decimal bytes. Only single-byte sides are accepted.
type CaseSpec struct {
	Input    string `json:"input" yaml:"input"`
	Expected string `json:"expected" yaml:"expected"`
}

type StoreConfig struct {
	Kind string `json:"kind" yaml:"kind" validate:"oneof=memory sqlite badger"`
	Path string `json:"path" yaml:"path"`
}

// RunConfig describes one evolution run.
type RunConfig struct {
	RunID          string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Settings       model.Settings `json:"settings" yaml:"settings"`
	Train          []CaseSpec     `json:"train" yaml:"train" validate:"min=1"`
	Test           []CaseSpec     `json:"test,omitempty" yaml:"test"`
	Seed           int64          `json:"seed" yaml:"seed"`
	SeedGenomes    []string       `json:"seed_genomes,omitempty" yaml:"seed_genomes"`
	SeedFromStore  bool           `json:"seed_from_store" yaml:"seed_from_store"`
	SeedLimit      int            `json:"seed_limit" yaml:"seed_limit" validate:"gte=0"`
	SaveBest       bool           `json:"save_best" yaml:"save_best"`
	Interval       time.Duration  `json:"interval" yaml:"interval" validate:"gte=0"`
	MaxSteps       int            `json:"max_steps" yaml:"max_steps" validate:"min=1"`
	Selection      string         `json:"selection" yaml:"selection" validate:"oneof=tournament elite"`
	TournamentSize int            `json:"tournament_size" yaml:"tournament_size" validate:"min=1"`
	TopN           int            `json:"top_n" yaml:"top_n" validate:"gte=0"`
	Store          StoreConfig    `json:"store" yaml:"store"`
	ArtifactsDir   string         `json:"artifacts_dir,omitempty" yaml:"artifacts_dir"`
}

func Default() RunConfig {
	return RunConfig{
		Settings:       model.DefaultSettings(),
		Seed:           1,
		SeedLimit:      10,
		MaxSteps:       interp.DefaultMaxSteps,
		Selection:      SelectionTournament,
		TournamentSize: 3,
		TopN:           10,
		Store:          StoreConfig{Kind: "sqlite", Path: "progsynth.db"},
		ArtifactsDir:   "runs",
	}
}

var configValidate = validator.New()

// Load reads a YAML run config over the defaults and validates it.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("read run config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (RunConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return RunConfig{}, err
	}
	return cfg, nil
}

// Validate checks the settings, the scalar fields and every case.
func (c RunConfig) Validate() error {
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if err := configValidate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%w: %s fails %s=%s (got %v)", ErrInvalidConfig, fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Selection == SelectionElite && c.Settings.Elitism < 1 {
		return fmt.Errorf("%w: elite selection needs elitism >= 1", ErrInvalidConfig)
	}
	if _, err := c.TrainCases(); err != nil {
		return err
	}
	if _, err := c.TestCases(); err != nil {
		return err
	}
	return nil
}

func (c RunConfig) TrainCases() ([]model.TestCase, error) {
	return toTestCases("train", c.Train)
}

func (c RunConfig) TestCases() ([]model.TestCase, error) {
	return toTestCases("test", c.Test)
}

func toTestCases(split string, specs []CaseSpec) ([]model.TestCase, error) {
	out := make([]model.TestCase, 0, len(specs))
	for i, spec := range specs {
		tc, err := spec.TestCase()
		if err != nil {
			return nil, fmt.Errorf("%w: %s case %d: %v", ErrInvalidConfig, split, i, err)
		}
		out = append(out, tc)
	}
	return out, nil
}

func (s CaseSpec) TestCase() (model.TestCase, error) {
	input, err := parseSingleByte(s.Input)
	if err != nil {
		return model.TestCase{}, fmt.Errorf("input: %w", err)
	}
	expected, err := parseSingleByte(s.Expected)
	if err != nil {
		return model.TestCase{}, fmt.Errorf("expected: %w", err)
	}
	return model.TestCase{Input: input, Expected: expected}, nil
}

func parseSingleByte(text string) (byte, error) {
	values, err := ParseByteList(text)
	if err != nil {
		return 0, err
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("want exactly one byte, got %d", len(values))
	}
	return values[0], nil
}

// ParseByteList parses "72, 105" into bytes. Values must lie in 0..255.
func ParseByteList(text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty byte list")
	}
	parts := strings.Split(text, ",")
	out := make([]byte, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q: must be an integer in 0..255", strings.TrimSpace(part))
		}
		out = append(out, byte(value))
	}
	return out, nil
}

// ParseCaseFlag parses the command-line form "input:expected", e.g. "3:6".
func ParseCaseFlag(text string) (CaseSpec, error) {
	input, expected, ok := strings.Cut(text, ":")
	if !ok {
		return CaseSpec{}, fmt.Errorf("case %q must look like input:expected", text)
	}
	spec := CaseSpec{Input: strings.TrimSpace(input), Expected: strings.TrimSpace(expected)}
	if _, err := spec.TestCase(); err != nil {
		return CaseSpec{}, fmt.Errorf("case %q: %w", text, err)
	}
	return spec, nil
}

// SpecsFromCases is the inverse of TrainCases for writing configs back out.
func SpecsFromCases(cases []model.TestCase) []CaseSpec {
	out := make([]CaseSpec, len(cases))
	for i, tc := range cases {
		out[i] = CaseSpec{Input: strconv.Itoa(int(tc.Input)), Expected: strconv.Itoa(int(tc.Expected))}
	}
	return out
}
