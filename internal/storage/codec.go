package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"progsynth/internal/interp"
	"progsynth/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// DecodeError reports which field of a stored genome failed validation.
type DecodeError struct {
	ID    string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("decode genome: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("decode genome %s: %s: %v", e.ID, e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func EncodeGenome(g model.StoredGenome) ([]byte, error) {
	if err := validateGenome(g); err != nil {
		return nil, err
	}
	return json.Marshal(g)
}

// DecodeGenome parses a payload and validates it against the current schema.
// Any failure is a *DecodeError.
func DecodeGenome(data []byte) (model.StoredGenome, error) {
	var genome model.StoredGenome
	if err := json.Unmarshal(data, &genome); err != nil {
		return model.StoredGenome{}, &DecodeError{Field: "payload", Err: err}
	}
	if err := validateGenome(genome); err != nil {
		return model.StoredGenome{}, err
	}
	return genome, nil
}

func validateGenome(g model.StoredGenome) error {
	fail := func(field string, err error) error {
		return &DecodeError{ID: g.ID, Field: field, Err: err}
	}
	if err := checkVersion(g.VersionedRecord); err != nil {
		return fail("version", err)
	}
	if g.ID == "" {
		return fail("id", errors.New("id is required"))
	}
	if g.Program == "" {
		return fail("program", errors.New("program is required"))
	}
	for i := 0; i < len(g.Program); i++ {
		if !interp.IsSymbol(g.Program[i]) {
			return fail("program", fmt.Errorf("invalid symbol %q at %d", g.Program[i], i))
		}
	}
	for _, pct := range []struct {
		field string
		value float64
	}{
		{"fitness", g.Fitness},
		{"accuracy", g.Accuracy},
		{"train_accuracy", g.TrainAccuracy},
		{"test_accuracy", g.TestAccuracy},
	} {
		if pct.value < 0 || pct.value > 100 {
			return fail(pct.field, fmt.Errorf("%v outside [0, 100]", pct.value))
		}
	}
	if g.GenerationFound < 0 {
		return fail("generation_found", fmt.Errorf("negative generation %d", g.GenerationFound))
	}
	if want := TaskKey(g.TrainCases, g.TestCases); g.TaskKey != want {
		return fail("task_key", fmt.Errorf("got %q, cases imply %q", g.TaskKey, want))
	}
	return nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
