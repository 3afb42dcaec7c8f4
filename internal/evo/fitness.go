package evo

import (
	"math"

	"progsynth/internal/interp"
	"progsynth/internal/model"
)

const (
	lengthPenaltyPerSymbol = 0.1
	maxLengthPenalty       = 5.0
)

// ExecuteFunc runs one program against one input. Tests substitute it to
// exercise fault handling.
type ExecuteFunc func(program string, input []byte, maxSteps int) string

// Evaluator scores programs against fixed train and test splits.
type Evaluator struct {
	Train    []model.TestCase
	Test     []model.TestCase
	MaxSteps int
	Execute  ExecuteFunc
}

// Evaluate runs program once per case and derives accuracy and fitness.
// Fitness is the train accuracy minus a length penalty capped at five points.
func (e Evaluator) Evaluate(program string) model.Individual {
	trainAcc, trainResults, trainOutputs := e.runSplit(program, e.Train)
	testAcc, testResults, testOutputs := e.runSplit(program, e.Test)

	penalty := math.Min(float64(len(program))*lengthPenaltyPerSymbol, maxLengthPenalty)
	return model.Individual{
		Program:       program,
		Fitness:       math.Max(0, trainAcc-penalty),
		Accuracy:      trainAcc,
		Results:       trainResults,
		Outputs:       trainOutputs,
		TrainAccuracy: trainAcc,
		TrainResults:  trainResults,
		TrainOutputs:  trainOutputs,
		TestAccuracy:  testAcc,
		TestResults:   testResults,
		TestOutputs:   testOutputs,
	}
}

func (e Evaluator) runSplit(program string, cases []model.TestCase) (float64, []bool, []string) {
	results := make([]bool, len(cases))
	outputs := make([]string, len(cases))
	passed := 0
	for i, tc := range cases {
		out, ok := e.runCase(program, tc)
		outputs[i] = out
		results[i] = ok
		if ok {
			passed++
		}
	}
	if len(cases) == 0 {
		return 0, results, outputs
	}
	return 100 * float64(passed) / float64(len(cases)), results, outputs
}

// runCase passes when the program prints exactly the expected byte. A panic
// during execution fails the case with FaultOutput.
func (e Evaluator) runCase(program string, tc model.TestCase) (out string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			out, ok = model.FaultOutput, false
		}
	}()
	exec := e.Execute
	if exec == nil {
		exec = interp.Execute
	}
	maxSteps := e.MaxSteps
	if maxSteps <= 0 {
		maxSteps = interp.DefaultMaxSteps
	}
	out = exec(program, []byte{tc.Input}, maxSteps)
	return out, len(out) == 1 && out[0] == tc.Expected
}
